package storage

import (
	"errors"
	"fmt"
)

var (
	ErrFileNotFound       = errors.New("object not found")
	ErrFileAlreadyExists  = errors.New("object already exists")
	ErrInvalidKey         = errors.New("invalid object key")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrPermissionDenied   = errors.New("permission denied")
	ErrTimeout            = errors.New("operation timeout")
)

// StorageError records the failed operation and key with the cause
type StorageError struct {
	Op        string
	Key       string
	Err       error
	Retryable bool
}

func (e *StorageError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("storage %s failed for key '%s': %v", e.Op, e.Key, e.Err)
	}
	return fmt.Sprintf("storage %s failed: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// NewStorageError creates a new StorageError
func NewStorageError(op, key string, err error, retryable bool) *StorageError {
	return &StorageError{Op: op, Key: key, Err: err, Retryable: retryable}
}

// IsNotFound reports whether err means the object does not exist
func IsNotFound(err error) bool {
	return errors.Is(err, ErrFileNotFound)
}

// IsAlreadyExists reports whether err means the key is taken
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrFileAlreadyExists)
}

// IsRetryable reports whether the operation behind err may succeed on retry
func IsRetryable(err error) bool {
	var storageErr *StorageError
	if errors.As(err, &storageErr) {
		return storageErr.Retryable
	}
	return errors.Is(err, ErrStorageUnavailable) || errors.Is(err, ErrTimeout)
}

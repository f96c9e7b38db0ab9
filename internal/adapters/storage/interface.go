package storage

import (
	"context"
	"time"
)

// FileMetadata represents metadata about a stored file
type FileMetadata struct {
	Key             string            `json:"key"`
	Size            int64             `json:"size"`
	ContentType     string            `json:"content_type"`
	CacheControl    string            `json:"cache_control,omitempty"`
	ContentEncoding string            `json:"content_encoding,omitempty"`
	LastModified    time.Time         `json:"last_modified"`
	ETag            string            `json:"etag,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// ListOptions provides options for listing files. A MaxResults of zero
// lists everything under the prefix.
type ListOptions struct {
	Prefix     string `json:"prefix,omitempty"`
	MaxResults int    `json:"max_results,omitempty"`
	Marker     string `json:"marker,omitempty"`
}

// ListResult represents the result of a list operation
type ListResult struct {
	Files       []FileMetadata `json:"files"`
	NextMarker  string         `json:"next_marker,omitempty"`
	IsTruncated bool           `json:"is_truncated"`
}

// StoreOptions carries the HTTP-facing attributes of an object. Backends
// that serve objects directly (S3) apply them as object headers.
type StoreOptions struct {
	ContentType     string            `json:"content_type,omitempty"`
	CacheControl    string            `json:"cache_control,omitempty"`
	ContentEncoding string            `json:"content_encoding,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	Overwrite       bool              `json:"overwrite,omitempty"`
}

// FileStorage is the object store behind build output, asset uploads and
// the preview server. Keys are slash separated and relative.
type FileStorage interface {
	// Store saves data under key
	Store(ctx context.Context, key string, data []byte, opts *StoreOptions) error

	// Retrieve gets a file by its storage key
	Retrieve(ctx context.Context, key string) ([]byte, error)

	// Delete removes a file by its storage key
	Delete(ctx context.Context, key string) error

	// Exists checks if a file exists at the given key
	Exists(ctx context.Context, key string) (bool, error)

	// GetMetadata returns metadata for a file
	GetMetadata(ctx context.Context, key string) (*FileMetadata, error)

	// List returns files matching the given options in key order
	List(ctx context.Context, opts *ListOptions) (*ListResult, error)

	// Copy copies a file from one key to another
	Copy(ctx context.Context, srcKey, destKey string) error

	Close() error
}

// StorageConfig represents configuration for storage providers
type StorageConfig struct {
	Type     string            `json:"type" yaml:"type"`           // "local", "s3", "mock"
	BasePath string            `json:"base_path" yaml:"base_path"` // local root, or key prefix for s3
	Bucket   string            `json:"bucket" yaml:"bucket"`
	Region   string            `json:"region" yaml:"region"`
	Options  map[string]string `json:"options" yaml:"options"`
}

// ListAll pages through List until every key under prefix is collected
func ListAll(ctx context.Context, fs FileStorage, prefix string) ([]FileMetadata, error) {
	var (
		files  []FileMetadata
		marker string
	)
	for {
		res, err := fs.List(ctx, &ListOptions{Prefix: prefix, Marker: marker})
		if err != nil {
			return nil, err
		}
		files = append(files, res.Files...)
		if !res.IsTruncated || res.NextMarker == "" {
			return files, nil
		}
		marker = res.NextMarker
	}
}

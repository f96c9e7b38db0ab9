package storage

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"github.com/sirupsen/logrus"
)

// RetryConfig is the backoff policy applied to storage calls. Uploads to S3
// are the main user: throttling and 5xx answers are marked retryable by the
// S3 store and retried here.
type RetryConfig struct {
	MaxAttempts   int           `json:"max_attempts" yaml:"max_attempts"`
	InitialDelay  time.Duration `json:"initial_delay" yaml:"initial_delay"`
	MaxDelay      time.Duration `json:"max_delay" yaml:"max_delay"`
	BackoffFactor float64       `json:"backoff_factor" yaml:"backoff_factor"`
	JitterEnabled bool          `json:"jitter_enabled" yaml:"jitter_enabled"`
}

// DefaultRetryConfig returns the retry policy used for uploads
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:   4,
		InitialDelay:  200 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
		JitterEnabled: true,
	}
}

// RetryableOperation represents an operation that can be retried
type RetryableOperation func(ctx context.Context) error

// WithRetry runs op until it succeeds, returns a non-retryable error, or
// runs out of attempts.
func WithRetry(ctx context.Context, config *RetryConfig, op RetryableOperation) error {
	_, err := retry(ctx, config, "", "", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// retry is WithRetry for calls returning a value. The zero value is returned
// with the last error.
func retry[T any](ctx context.Context, config *RetryConfig, op, key string, fn func(context.Context) (T, error)) (T, error) {
	if config == nil {
		config = DefaultRetryConfig()
	}

	var (
		zero     T
		lastErr  error
		attempts = max(config.MaxAttempts, 1)
	)
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err

		if !IsRetryable(err) {
			return zero, err
		}
		if attempt == attempts {
			break
		}

		delay := config.calculateDelay(attempt)
		logrus.WithFields(logrus.Fields{
			"op":      op,
			"key":     key,
			"attempt": attempt,
			"delay":   delay.String(),
		}).WithError(err).Debug("Retrying storage operation")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}

	logrus.WithFields(logrus.Fields{
		"op":       op,
		"key":      key,
		"attempts": attempts,
	}).WithError(lastErr).Warn("Storage operation failed after retries")
	return zero, lastErr
}

// calculateDelay is initial * factor^(attempt-1), capped, plus up to 10% jitter
func (c *RetryConfig) calculateDelay(attempt int) time.Duration {
	delay := math.Min(
		float64(c.InitialDelay)*math.Pow(c.BackoffFactor, float64(attempt-1)),
		float64(c.MaxDelay),
	)
	if c.JitterEnabled {
		delay += rand.Float64() * 0.1 * delay
	}
	return time.Duration(delay)
}

// RetryableFileStorage retries the retryable failures of another store
type RetryableFileStorage struct {
	storage FileStorage
	config  *RetryConfig
}

// NewRetryableFileStorage wraps storage. A nil config uses DefaultRetryConfig.
func NewRetryableFileStorage(storage FileStorage, config *RetryConfig) *RetryableFileStorage {
	if config == nil {
		config = DefaultRetryConfig()
	}
	return &RetryableFileStorage{storage: storage, config: config}
}

// Unwrap returns the wrapped storage
func (r *RetryableFileStorage) Unwrap() FileStorage {
	return r.storage
}

func (r *RetryableFileStorage) Store(ctx context.Context, key string, data []byte, opts *StoreOptions) error {
	_, err := retry(ctx, r.config, "Store", key, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, r.storage.Store(ctx, key, data, opts)
	})
	return err
}

func (r *RetryableFileStorage) Retrieve(ctx context.Context, key string) ([]byte, error) {
	return retry(ctx, r.config, "Retrieve", key, func(ctx context.Context) ([]byte, error) {
		return r.storage.Retrieve(ctx, key)
	})
}

func (r *RetryableFileStorage) Delete(ctx context.Context, key string) error {
	_, err := retry(ctx, r.config, "Delete", key, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, r.storage.Delete(ctx, key)
	})
	return err
}

func (r *RetryableFileStorage) Exists(ctx context.Context, key string) (bool, error) {
	return retry(ctx, r.config, "Exists", key, func(ctx context.Context) (bool, error) {
		return r.storage.Exists(ctx, key)
	})
}

func (r *RetryableFileStorage) GetMetadata(ctx context.Context, key string) (*FileMetadata, error) {
	return retry(ctx, r.config, "GetMetadata", key, func(ctx context.Context) (*FileMetadata, error) {
		return r.storage.GetMetadata(ctx, key)
	})
}

func (r *RetryableFileStorage) List(ctx context.Context, opts *ListOptions) (*ListResult, error) {
	prefix := ""
	if opts != nil {
		prefix = opts.Prefix
	}
	return retry(ctx, r.config, "List", prefix, func(ctx context.Context) (*ListResult, error) {
		return r.storage.List(ctx, opts)
	})
}

func (r *RetryableFileStorage) Copy(ctx context.Context, srcKey, destKey string) error {
	_, err := retry(ctx, r.config, "Copy", srcKey, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, r.storage.Copy(ctx, srcKey, destKey)
	})
	return err
}

func (r *RetryableFileStorage) Close() error {
	return r.storage.Close()
}

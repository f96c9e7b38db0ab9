package storage

import (
	"context"
	"testing"
)

func TestFactory(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		config  *StorageConfig
		retry   *RetryConfig
		wantErr bool
		check   func(t *testing.T, fs FileStorage)
	}{
		{
			name:   "local",
			config: &StorageConfig{Type: "local", BasePath: t.TempDir()},
			check: func(t *testing.T, fs FileStorage) {
				if _, ok := fs.(*LocalFileStorage); !ok {
					t.Errorf("Expected LocalFileStorage, got %T", fs)
				}
			},
		},
		{
			name:    "local without path",
			config:  &StorageConfig{Type: "local"},
			wantErr: true,
		},
		{
			name:   "mock wrapped with retry",
			config: &StorageConfig{Type: "MOCK"},
			retry:  DefaultRetryConfig(),
			check: func(t *testing.T, fs FileStorage) {
				r, ok := fs.(*RetryableFileStorage)
				if !ok {
					t.Fatalf("Expected RetryableFileStorage, got %T", fs)
				}
				if _, ok := r.Unwrap().(*MockFileStorage); !ok {
					t.Errorf("Expected MockFileStorage inside, got %T", r.Unwrap())
				}
			},
		},
		{
			name:    "unsupported",
			config:  &StorageConfig{Type: "gcs"},
			wantErr: true,
		},
		{
			name:    "nil config",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs, err := NewFactory(tt.retry).Create(ctx, tt.config)
			if tt.wantErr {
				if err == nil {
					t.Fatal("Expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Create failed: %v", err)
			}
			tt.check(t, fs)
		})
	}
}

package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// MockFileStorage is an in-memory FileStorage that keeps every StoreOptions
// field so tests can assert the headers an upload would carry. FailNext
// injects errors for the following calls.
type MockFileStorage struct {
	mu       sync.RWMutex
	files    map[string]*mockFile
	failures []error
	calls    map[string]int
}

type mockFile struct {
	data         []byte
	opts         StoreOptions
	lastModified time.Time
}

// NewMockFileStorage creates an empty store
func NewMockFileStorage() *MockFileStorage {
	return &MockFileStorage{
		files: make(map[string]*mockFile),
		calls: make(map[string]int),
	}
}

// FailNext makes the next len(errs) operations return errs in order
func (m *MockFileStorage) FailNext(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, errs...)
}

// Calls returns how many times op was invoked
func (m *MockFileStorage) Calls(op string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls[op]
}

// begin records the call and pops an injected failure. Callers hold m.mu.
func (m *MockFileStorage) begin(op string) error {
	m.calls[op]++
	if len(m.failures) == 0 {
		return nil
	}
	err := m.failures[0]
	m.failures = m.failures[1:]
	return err
}

// Store implements FileStorage.Store
func (m *MockFileStorage) Store(ctx context.Context, key string, data []byte, opts *StoreOptions) error {
	if err := validateKey(key); err != nil {
		return NewStorageError("Store", key, err, false)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.begin("Store"); err != nil {
		return err
	}

	if opts != nil && !opts.Overwrite {
		if _, exists := m.files[key]; exists {
			return NewStorageError("Store", key, ErrFileAlreadyExists, false)
		}
	}

	var stored StoreOptions
	if opts != nil {
		stored = *opts
		if opts.Metadata != nil {
			stored.Metadata = make(map[string]string, len(opts.Metadata))
			for k, v := range opts.Metadata {
				stored.Metadata[k] = v
			}
		}
	}
	if stored.ContentType == "" {
		stored.ContentType = ContentTypeFor(key)
	}

	m.files[key] = &mockFile{
		data:         append([]byte(nil), data...),
		opts:         stored,
		lastModified: time.Now(),
	}
	return nil
}

// Retrieve implements FileStorage.Retrieve
func (m *MockFileStorage) Retrieve(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.begin("Retrieve"); err != nil {
		return nil, err
	}
	file, ok := m.files[key]
	if !ok {
		return nil, NewStorageError("Retrieve", key, ErrFileNotFound, false)
	}
	return append([]byte(nil), file.data...), nil
}

// Delete implements FileStorage.Delete
func (m *MockFileStorage) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.begin("Delete"); err != nil {
		return err
	}
	if _, ok := m.files[key]; !ok {
		return NewStorageError("Delete", key, ErrFileNotFound, false)
	}
	delete(m.files, key)
	return nil
}

// Exists implements FileStorage.Exists
func (m *MockFileStorage) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.begin("Exists"); err != nil {
		return false, err
	}
	_, ok := m.files[key]
	return ok, nil
}

// GetMetadata implements FileStorage.GetMetadata
func (m *MockFileStorage) GetMetadata(ctx context.Context, key string) (*FileMetadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.begin("GetMetadata"); err != nil {
		return nil, err
	}
	file, ok := m.files[key]
	if !ok {
		return nil, NewStorageError("GetMetadata", key, ErrFileNotFound, false)
	}
	meta := file.metadata(key)
	return &meta, nil
}

// List implements FileStorage.List
func (m *MockFileStorage) List(ctx context.Context, opts *ListOptions) (*ListResult, error) {
	if opts == nil {
		opts = &ListOptions{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.begin("List"); err != nil {
		return nil, err
	}

	var files []FileMetadata
	for key, file := range m.files {
		if opts.Prefix != "" && !strings.HasPrefix(key, opts.Prefix) {
			continue
		}
		if opts.Marker != "" && key <= opts.Marker {
			continue
		}
		files = append(files, file.metadata(key))
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Key < files[j].Key })
	return paginate(files, opts.MaxResults), nil
}

// Copy implements FileStorage.Copy
func (m *MockFileStorage) Copy(ctx context.Context, srcKey, destKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.begin("Copy"); err != nil {
		return err
	}
	src, ok := m.files[srcKey]
	if !ok {
		return NewStorageError("Copy", srcKey, ErrFileNotFound, false)
	}
	m.files[destKey] = &mockFile{
		data:         append([]byte(nil), src.data...),
		opts:         src.opts,
		lastModified: time.Now(),
	}
	return nil
}

// Close implements FileStorage.Close
func (m *MockFileStorage) Close() error {
	return nil
}

// Options returns the options an object was stored with
func (m *MockFileStorage) Options(key string) (StoreOptions, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	file, ok := m.files[key]
	if !ok {
		return StoreOptions{}, false
	}
	return file.opts, true
}

// Keys returns every stored key in order
func (m *MockFileStorage) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.files))
	for key := range m.files {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func (f *mockFile) metadata(key string) FileMetadata {
	return FileMetadata{
		Key:             key,
		Size:            int64(len(f.data)),
		ContentType:     f.opts.ContentType,
		CacheControl:    f.opts.CacheControl,
		ContentEncoding: f.opts.ContentEncoding,
		LastModified:    f.lastModified,
		ETag:            fmt.Sprintf("%d-%d", len(f.data), f.lastModified.UnixNano()),
		Metadata:        f.opts.Metadata,
	}
}

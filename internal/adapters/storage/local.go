package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
)

// LocalFileStorage implements FileStorage over a directory tree. Object
// headers are derived from the file extension; the tree holds nothing but
// the stored files so it can be served or uploaded as-is.
type LocalFileStorage struct {
	basePath string
}

// NewLocalFileStorage creates the base directory if needed
func NewLocalFileStorage(basePath string) (*LocalFileStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, NewStorageError("NewLocalFileStorage", "", err, false)
	}

	absPath, err := filepath.Abs(basePath)
	if err != nil {
		return nil, NewStorageError("NewLocalFileStorage", "", err, false)
	}

	return &LocalFileStorage{basePath: absPath}, nil
}

// BasePath returns the absolute root of the tree
func (l *LocalFileStorage) BasePath() string {
	return l.basePath
}

// Store implements FileStorage.Store
func (l *LocalFileStorage) Store(ctx context.Context, key string, data []byte, opts *StoreOptions) error {
	if err := validateKey(key); err != nil {
		return NewStorageError("Store", key, err, false)
	}
	if err := ctx.Err(); err != nil {
		return NewStorageError("Store", key, err, false)
	}

	filePath := l.path(key)

	if opts != nil && !opts.Overwrite {
		if _, err := os.Stat(filePath); err == nil {
			return NewStorageError("Store", key, ErrFileAlreadyExists, false)
		}
	}

	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return NewStorageError("Store", key, err, true)
	}

	// Write to a sibling and rename so readers never see a partial file.
	tempPath := filePath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return NewStorageError("Store", key, err, true)
	}
	if err := os.Rename(tempPath, filePath); err != nil {
		os.Remove(tempPath)
		return NewStorageError("Store", key, err, true)
	}

	return nil
}

// Retrieve implements FileStorage.Retrieve
func (l *LocalFileStorage) Retrieve(ctx context.Context, key string) ([]byte, error) {
	if err := validateKey(key); err != nil {
		return nil, NewStorageError("Retrieve", key, err, false)
	}

	data, err := os.ReadFile(l.path(key))
	if err != nil {
		return nil, l.wrap("Retrieve", key, err)
	}
	return data, nil
}

// Delete implements FileStorage.Delete
func (l *LocalFileStorage) Delete(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return NewStorageError("Delete", key, err, false)
	}

	if err := os.Remove(l.path(key)); err != nil {
		return l.wrap("Delete", key, err)
	}
	return nil
}

// Exists implements FileStorage.Exists
func (l *LocalFileStorage) Exists(ctx context.Context, key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, NewStorageError("Exists", key, err, false)
	}

	info, err := os.Stat(l.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, NewStorageError("Exists", key, err, true)
	}
	return !info.IsDir(), nil
}

// GetMetadata implements FileStorage.GetMetadata
func (l *LocalFileStorage) GetMetadata(ctx context.Context, key string) (*FileMetadata, error) {
	if err := validateKey(key); err != nil {
		return nil, NewStorageError("GetMetadata", key, err, false)
	}

	info, err := os.Stat(l.path(key))
	if err != nil {
		return nil, l.wrap("GetMetadata", key, err)
	}
	if info.IsDir() {
		return nil, NewStorageError("GetMetadata", key, ErrFileNotFound, false)
	}

	meta := fileMetadata(key, info)
	return &meta, nil
}

// List implements FileStorage.List
func (l *LocalFileStorage) List(ctx context.Context, opts *ListOptions) (*ListResult, error) {
	if opts == nil {
		opts = &ListOptions{}
	}

	var files []FileMetadata
	err := filepath.WalkDir(l.basePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasSuffix(path, ".tmp") {
			return nil
		}

		rel, err := filepath.Rel(l.basePath, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)

		if opts.Prefix != "" && !strings.HasPrefix(key, opts.Prefix) {
			return nil
		}
		if opts.Marker != "" && key <= opts.Marker {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		files = append(files, fileMetadata(key, info))
		return nil
	})
	if err != nil {
		return nil, NewStorageError("List", opts.Prefix, err, true)
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Key < files[j].Key })
	return paginate(files, opts.MaxResults), nil
}

// Copy implements FileStorage.Copy
func (l *LocalFileStorage) Copy(ctx context.Context, srcKey, destKey string) error {
	if err := validateKey(destKey); err != nil {
		return NewStorageError("Copy", destKey, err, false)
	}

	data, err := l.Retrieve(ctx, srcKey)
	if err != nil {
		return err
	}
	return l.Store(ctx, destKey, data, &StoreOptions{Overwrite: true})
}

// Close implements FileStorage.Close
func (l *LocalFileStorage) Close() error {
	return nil
}

func (l *LocalFileStorage) path(key string) string {
	return filepath.Join(l.basePath, filepath.FromSlash(key))
}

// wrap maps missing files, and keys naming a directory or passing through a
// file, to ErrFileNotFound as an object store would.
func (l *LocalFileStorage) wrap(op, key string, err error) error {
	if os.IsNotExist(err) || errors.Is(err, syscall.EISDIR) || errors.Is(err, syscall.ENOTDIR) {
		return NewStorageError(op, key, ErrFileNotFound, false)
	}
	return NewStorageError(op, key, err, true)
}

func fileMetadata(key string, info fs.FileInfo) FileMetadata {
	return FileMetadata{
		Key:          key,
		Size:         info.Size(),
		ContentType:  ContentTypeFor(key),
		LastModified: info.ModTime(),
		ETag:         fmt.Sprintf("%d-%d", info.Size(), info.ModTime().Unix()),
	}
}

// ContentTypeFor guesses a MIME type from the key's extension
func ContentTypeFor(key string) string {
	if ct := mime.TypeByExtension(filepath.Ext(key)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// validateKey rejects empty, absolute and parent-relative keys
func validateKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") {
		return ErrInvalidKey
	}
	for _, segment := range strings.Split(key, "/") {
		if segment == ".." {
			return ErrInvalidKey
		}
	}
	return nil
}

func paginate(files []FileMetadata, max int) *ListResult {
	if files == nil {
		files = []FileMetadata{}
	}
	if max <= 0 || len(files) <= max {
		return &ListResult{Files: files}
	}
	page := files[:max]
	return &ListResult{
		Files:       page,
		NextMarker:  page[len(page)-1].Key,
		IsTruncated: true,
	}
}

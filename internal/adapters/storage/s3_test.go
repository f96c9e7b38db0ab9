package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// fakeS3 keeps put requests in memory and serves the read side from them
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string]*s3.PutObjectInput
	bodies  map[string][]byte
	copies  []string
	pageLen int
	putErr  error
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string]*s3.PutObjectInput{}, bodies: map[string][]byte{}}
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	data, _ := io.ReadAll(in.Body)
	f.mu.Lock()
	defer f.mu.Unlock()
	key := aws.ToString(in.Key)
	f.objects[key] = in
	f.bodies[key] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.bodies[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	put, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{
		ContentLength: put.ContentLength,
		ContentType:   put.ContentType,
		CacheControl:  put.CacheControl,
		ETag:          aws.String(`"abc"`),
	}, nil
}

func (f *fakeS3) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(in.Key))
	delete(f.bodies, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var keys []string
	for key := range f.bodies {
		if strings.HasPrefix(key, aws.ToString(in.Prefix)) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	start := 0
	if token := aws.ToString(in.ContinuationToken); token != "" {
		for start < len(keys) && keys[start] <= token {
			start++
		}
	}
	end := len(keys)
	if f.pageLen > 0 && start+f.pageLen < end {
		end = start + f.pageLen
	}

	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(end < len(keys))}
	for _, key := range keys[start:end] {
		out.Contents = append(out.Contents, types.Object{
			Key:  aws.String(key),
			Size: aws.Int64(int64(len(f.bodies[key]))),
		})
	}
	if end < len(keys) {
		out.NextContinuationToken = aws.String(keys[end-1])
	}
	return out, nil
}

func (f *fakeS3) CopyObject(ctx context.Context, in *s3.CopyObjectInput, _ ...func(*s3.Options)) (*s3.CopyObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.copies = append(f.copies, aws.ToString(in.CopySource))
	return &s3.CopyObjectOutput{}, nil
}

type statusError struct{ code int }

func (e statusError) Error() string       { return "http error" }
func (e statusError) HTTPStatusCode() int { return e.code }

func TestS3FileStorage_StoreAppliesHeaders(t *testing.T) {
	client := newFakeS3()
	storage, err := NewS3FileStorage(client, "assets", "/site/")
	if err != nil {
		t.Fatalf("NewS3FileStorage failed: %v", err)
	}
	ctx := context.Background()

	err = storage.Store(ctx, "_app/start.js", []byte("js"), &StoreOptions{
		Overwrite:    true,
		CacheControl: "public, max-age=172800, s-maxage=172800, immutable",
	})
	if err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	put := client.objects["site/_app/start.js"]
	if put == nil {
		t.Fatalf("Expected object under prefix, got %v", client.objects)
	}
	if aws.ToString(put.Bucket) != "assets" {
		t.Errorf("Expected bucket assets, got %s", aws.ToString(put.Bucket))
	}
	if aws.ToString(put.CacheControl) != "public, max-age=172800, s-maxage=172800, immutable" {
		t.Errorf("Unexpected cache control %s", aws.ToString(put.CacheControl))
	}
	if aws.ToString(put.ContentType) == "" {
		t.Error("Expected a content type from the extension")
	}
	if aws.ToInt64(put.ContentLength) != 2 {
		t.Errorf("Expected content length 2, got %d", aws.ToInt64(put.ContentLength))
	}

	meta, err := storage.GetMetadata(ctx, "_app/start.js")
	if err != nil {
		t.Fatalf("GetMetadata failed: %v", err)
	}
	if meta.ETag != "abc" || meta.Size != 2 {
		t.Errorf("Unexpected metadata %+v", meta)
	}
}

func TestS3FileStorage_NotFoundAndOverwrite(t *testing.T) {
	client := newFakeS3()
	storage, _ := NewS3FileStorage(client, "b", "")
	ctx := context.Background()

	if _, err := storage.Retrieve(ctx, "nope"); !IsNotFound(err) {
		t.Errorf("Expected not found, got %v", err)
	}
	if exists, err := storage.Exists(ctx, "nope"); err != nil || exists {
		t.Errorf("Expected missing object, got %v, %v", exists, err)
	}

	storage.Store(ctx, "a.txt", []byte("1"), nil)
	if err := storage.Store(ctx, "a.txt", []byte("2"), &StoreOptions{}); !IsAlreadyExists(err) {
		t.Errorf("Expected already exists, got %v", err)
	}
	data, err := storage.Retrieve(ctx, "a.txt")
	if err != nil || string(data) != "1" {
		t.Errorf("Expected original data, got %q, %v", data, err)
	}
}

func TestS3FileStorage_ErrorMapping(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
		sentinel  error
	}{
		{name: "throttled", err: statusError{code: 503}, retryable: true},
		{name: "too many requests", err: statusError{code: 429}, retryable: true},
		{name: "forbidden", err: statusError{code: 403}, sentinel: ErrPermissionDenied},
		{name: "no bucket", err: &types.NoSuchBucket{}, sentinel: ErrStorageUnavailable},
		{name: "deadline", err: context.DeadlineExceeded, retryable: true, sentinel: ErrTimeout},
		{name: "other", err: errors.New("bad request")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newFakeS3()
			client.putErr = tt.err
			storage, _ := NewS3FileStorage(client, "b", "")

			err := storage.Store(context.Background(), "k", []byte("x"), nil)
			if IsRetryable(err) != tt.retryable {
				t.Errorf("Expected retryable %v, got %v (%v)", tt.retryable, IsRetryable(err), err)
			}
			if tt.sentinel != nil && !errors.Is(err, tt.sentinel) {
				t.Errorf("Expected %v, got %v", tt.sentinel, err)
			}
		})
	}
}

func TestS3FileStorage_ListFollowsContinuation(t *testing.T) {
	client := newFakeS3()
	client.pageLen = 2
	storage, _ := NewS3FileStorage(client, "b", "p")
	ctx := context.Background()

	for _, key := range []string{"a", "b", "c", "d", "e"} {
		storage.Store(ctx, key, []byte(key), nil)
	}

	res, err := storage.List(ctx, nil)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(res.Files) != 5 || res.IsTruncated {
		t.Fatalf("Expected 5 files in one result, got %d (truncated %v)", len(res.Files), res.IsTruncated)
	}
	if res.Files[0].Key != "a" {
		t.Errorf("Expected keys relative to prefix, got %s", res.Files[0].Key)
	}
}

func TestS3FileStorage_CopyEscapesSource(t *testing.T) {
	client := newFakeS3()
	storage, _ := NewS3FileStorage(client, "b", "")

	if err := storage.Copy(context.Background(), "dir/a b.txt", "dir/c.txt"); err != nil {
		t.Fatalf("Copy failed: %v", err)
	}
	if client.copies[0] != "b/dir/a%20b.txt" {
		t.Errorf("Unexpected copy source %s", client.copies[0])
	}
}

func TestNewS3FileStorage_RequiresBucket(t *testing.T) {
	if _, err := NewS3FileStorage(newFakeS3(), "", ""); err == nil {
		t.Error("Expected error for missing bucket")
	}
}

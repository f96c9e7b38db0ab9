package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3API is the subset of the S3 client used by S3FileStorage
type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	CopyObject(ctx context.Context, in *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
}

// S3FileStorage implements FileStorage on an S3 bucket. Keys are placed
// under an optional prefix and StoreOptions become object headers.
type S3FileStorage struct {
	client S3API
	bucket string
	prefix string
}

// NewS3FileStorage creates a store over an existing client
func NewS3FileStorage(client S3API, bucket, prefix string) (*S3FileStorage, error) {
	if client == nil || bucket == "" {
		return nil, NewStorageError("NewS3FileStorage", "", ErrStorageUnavailable, false)
	}
	prefix = strings.Trim(prefix, "/")
	return &S3FileStorage{client: client, bucket: bucket, prefix: prefix}, nil
}

// NewS3FileStorageFromConfig loads AWS credentials from the default chain.
// The "endpoint" option points the client at an S3-compatible service.
func NewS3FileStorageFromConfig(ctx context.Context, config *StorageConfig) (*S3FileStorage, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if config.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(config.Region))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, NewStorageError("NewS3FileStorage", "", err, false)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint := config.Options["endpoint"]; endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})

	return NewS3FileStorage(client, config.Bucket, config.BasePath)
}

// Bucket returns the target bucket name
func (s *S3FileStorage) Bucket() string {
	return s.bucket
}

// Store implements FileStorage.Store
func (s *S3FileStorage) Store(ctx context.Context, key string, data []byte, opts *StoreOptions) error {
	if err := validateKey(key); err != nil {
		return NewStorageError("Store", key, err, false)
	}

	if opts != nil && !opts.Overwrite {
		exists, err := s.Exists(ctx, key)
		if err != nil {
			return err
		}
		if exists {
			return NewStorageError("Store", key, ErrFileAlreadyExists, false)
		}
	}

	in := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.objectKey(key)),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(ContentTypeFor(key)),
	}
	if opts != nil {
		if opts.ContentType != "" {
			in.ContentType = aws.String(opts.ContentType)
		}
		if opts.CacheControl != "" {
			in.CacheControl = aws.String(opts.CacheControl)
		}
		if opts.ContentEncoding != "" {
			in.ContentEncoding = aws.String(opts.ContentEncoding)
		}
		in.Metadata = opts.Metadata
	}

	if _, err := s.client.PutObject(ctx, in); err != nil {
		return s.wrap("Store", key, err)
	}
	return nil
}

// Retrieve implements FileStorage.Retrieve
func (s *S3FileStorage) Retrieve(ctx context.Context, key string) ([]byte, error) {
	if err := validateKey(key); err != nil {
		return nil, NewStorageError("Retrieve", key, err, false)
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		return nil, s.wrap("Retrieve", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, NewStorageError("Retrieve", key, err, true)
	}
	return data, nil
}

// Delete implements FileStorage.Delete
func (s *S3FileStorage) Delete(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return NewStorageError("Delete", key, err, false)
	}

	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		return s.wrap("Delete", key, err)
	}
	return nil
}

// Exists implements FileStorage.Exists
func (s *S3FileStorage) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.GetMetadata(ctx, key)
	if err == nil {
		return true, nil
	}
	if IsNotFound(err) {
		return false, nil
	}
	return false, err
}

// GetMetadata implements FileStorage.GetMetadata
func (s *S3FileStorage) GetMetadata(ctx context.Context, key string) (*FileMetadata, error) {
	if err := validateKey(key); err != nil {
		return nil, NewStorageError("GetMetadata", key, err, false)
	}

	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		return nil, s.wrap("GetMetadata", key, err)
	}

	return &FileMetadata{
		Key:             key,
		Size:            aws.ToInt64(out.ContentLength),
		ContentType:     aws.ToString(out.ContentType),
		CacheControl:    aws.ToString(out.CacheControl),
		ContentEncoding: aws.ToString(out.ContentEncoding),
		LastModified:    aws.ToTime(out.LastModified),
		ETag:            strings.Trim(aws.ToString(out.ETag), `"`),
		Metadata:        out.Metadata,
	}, nil
}

// List implements FileStorage.List
func (s *S3FileStorage) List(ctx context.Context, opts *ListOptions) (*ListResult, error) {
	if opts == nil {
		opts = &ListOptions{}
	}

	in := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.objectKey(opts.Prefix)),
	}
	if opts.Marker != "" {
		in.StartAfter = aws.String(s.objectKey(opts.Marker))
	}
	if opts.MaxResults > 0 {
		in.MaxKeys = aws.Int32(int32(opts.MaxResults))
	}

	var files []FileMetadata
	for {
		out, err := s.client.ListObjectsV2(ctx, in)
		if err != nil {
			return nil, s.wrap("List", opts.Prefix, err)
		}
		for _, obj := range out.Contents {
			files = append(files, FileMetadata{
				Key:          s.relativeKey(aws.ToString(obj.Key)),
				Size:         aws.ToInt64(obj.Size),
				ContentType:  ContentTypeFor(aws.ToString(obj.Key)),
				LastModified: aws.ToTime(obj.LastModified),
				ETag:         strings.Trim(aws.ToString(obj.ETag), `"`),
			})
		}

		truncated := aws.ToBool(out.IsTruncated)
		if opts.MaxResults > 0 || !truncated {
			result := paginate(files, 0)
			if truncated && len(files) > 0 {
				result.IsTruncated = true
				result.NextMarker = files[len(files)-1].Key
			}
			return result, nil
		}
		in.ContinuationToken = out.NextContinuationToken
	}
}

// Copy implements FileStorage.Copy
func (s *S3FileStorage) Copy(ctx context.Context, srcKey, destKey string) error {
	if err := validateKey(destKey); err != nil {
		return NewStorageError("Copy", destKey, err, false)
	}

	segments := strings.Split(path.Join(s.bucket, s.objectKey(srcKey)), "/")
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	_, err := s.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(s.bucket),
		Key:        aws.String(s.objectKey(destKey)),
		CopySource: aws.String(strings.Join(segments, "/")),
	})
	if err != nil {
		return s.wrap("Copy", srcKey, err)
	}
	return nil
}

// Close implements FileStorage.Close
func (s *S3FileStorage) Close() error {
	return nil
}

func (s *S3FileStorage) objectKey(key string) string {
	if s.prefix == "" {
		return key
	}
	return s.prefix + "/" + key
}

func (s *S3FileStorage) relativeKey(key string) string {
	if s.prefix == "" {
		return key
	}
	return strings.TrimPrefix(key, s.prefix+"/")
}

// wrap maps SDK errors onto the storage sentinels. Throttling and server
// side failures are retryable.
func (s *S3FileStorage) wrap(op, key string, err error) error {
	var noKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noKey) || errors.As(err, &notFound) {
		return NewStorageError(op, key, ErrFileNotFound, false)
	}

	var noBucket *types.NoSuchBucket
	if errors.As(err, &noBucket) {
		return NewStorageError(op, key, ErrStorageUnavailable, false)
	}

	var status interface{ HTTPStatusCode() int }
	if errors.As(err, &status) {
		code := status.HTTPStatusCode()
		switch {
		case code == 403:
			return NewStorageError(op, key, ErrPermissionDenied, false)
		case code == 429 || code >= 500:
			return NewStorageError(op, key, err, true)
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return NewStorageError(op, key, ErrTimeout, true)
	}
	return NewStorageError(op, key, err, false)
}

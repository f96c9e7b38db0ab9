// Package deploy uploads packaged output to the buckets created by the
// assembled stack.
package deploy

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync/atomic"

	"kit-adapter-aws/internal/adapters/storage"
	"kit-adapter-aws/internal/config"
	"kit-adapter-aws/internal/infra"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Targets are the stores each output tree is uploaded to
type Targets struct {
	Client      storage.FileStorage
	Prerendered storage.FileStorage
	Artifacts   storage.FileStorage
}

// Options tunes the upload
type Options struct {
	Concurrency   int
	RatePerSecond float64
	// ArtifactKey names the uploaded server package. Empty means the
	// content-addressed key, server-<hash>.zip.
	ArtifactKey string
}

// Report summarizes an upload
type Report struct {
	Files       int64
	Bytes       int64
	ArtifactKey string
}

// Uploader copies client assets, prerendered pages and the server package
type Uploader struct {
	targets Targets
	opts    Options
	limiter *rate.Limiter
	logger  *logrus.Entry
}

// NewUploader creates an uploader. A zero rate means unlimited.
func NewUploader(targets Targets, opts Options) *Uploader {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}

	limit := rate.Inf
	if opts.RatePerSecond > 0 {
		limit = rate.Limit(opts.RatePerSecond)
	}

	return &Uploader{
		targets: targets,
		opts:    opts,
		limiter: rate.NewLimiter(limit, opts.Concurrency),
		logger:  logrus.WithField("component", "deploy"),
	}
}

// NewS3Targets opens the configured buckets through the retrying S3 store
func NewS3Targets(ctx context.Context, deploy config.DeployConfig, stack config.StackConfig) (Targets, error) {
	open := func(bucket string) (storage.FileStorage, error) {
		if bucket == "" {
			return nil, nil
		}
		return storage.CreateFromConfig(ctx, &storage.StorageConfig{
			Type:   string(storage.StorageTypeS3),
			Bucket: bucket,
			Region: deploy.Region,
		})
	}

	var (
		targets Targets
		err     error
	)
	if targets.Client, err = open(deploy.ClientBucket); err != nil {
		return targets, fmt.Errorf("client bucket: %w", err)
	}
	if targets.Prerendered, err = open(deploy.PrerenderedBucket); err != nil {
		return targets, fmt.Errorf("prerendered bucket: %w", err)
	}
	if targets.Artifacts, err = open(stack.ArtifactBucket); err != nil {
		return targets, fmt.Errorf("artifact bucket: %w", err)
	}
	return targets, nil
}

// Upload copies the packaged output in dir. Missing targets are skipped.
func (u *Uploader) Upload(ctx context.Context, dir string) (*Report, error) {
	report := &Report{}

	if u.targets.Client != nil {
		if err := u.uploadTree(ctx, filepath.Join(dir, "client"), u.targets.Client, infra.ClientCacheControl, false, report); err != nil {
			return report, fmt.Errorf("upload client: %w", err)
		}
	}
	if u.targets.Prerendered != nil {
		if err := u.uploadTree(ctx, filepath.Join(dir, "prerendered"), u.targets.Prerendered, infra.PrerenderedCacheControl, true, report); err != nil {
			return report, fmt.Errorf("upload prerendered: %w", err)
		}
	}
	if u.targets.Artifacts != nil {
		if err := u.uploadArtifact(ctx, filepath.Join(dir, "server.zip"), report); err != nil {
			return report, fmt.Errorf("upload server package: %w", err)
		}
	}

	u.logger.WithFields(logrus.Fields{
		"files": report.Files,
		"bytes": humanize.Bytes(uint64(report.Bytes)),
	}).Info("Upload complete")
	return report, nil
}

// uploadTree stores every file under root. With pages set, each .html page
// is also stored without its extension so the website endpoint answers the
// extensionless path.
func (u *Uploader) uploadTree(ctx context.Context, root string, dest storage.FileStorage, cacheControl string, pages bool, report *Report) error {
	if _, err := os.Stat(root); os.IsNotExist(err) {
		u.logger.WithField("dir", root).Warn("Nothing to upload")
		return nil
	}

	src, err := storage.NewLocalFileStorage(root)
	if err != nil {
		return err
	}
	files, err := storage.ListAll(ctx, src, "")
	if err != nil {
		return err
	}

	var uploaded, bytes atomic.Int64
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(u.opts.Concurrency)

	for _, file := range files {
		key := file.Key
		g.Go(func() error {
			data, err := src.Retrieve(ctx, key)
			if err != nil {
				return err
			}

			keys := []string{key}
			if pages && path.Ext(key) == ".html" && path.Base(key) != "index.html" {
				keys = append(keys, strings.TrimSuffix(key, ".html"))
			}

			opts := ObjectOptions(key, cacheControl)
			for _, k := range keys {
				if err := u.limiter.Wait(ctx); err != nil {
					return err
				}
				if err := dest.Store(ctx, k, data, &opts); err != nil {
					return err
				}
				uploaded.Add(1)
				bytes.Add(int64(len(data)))
			}
			return nil
		})
	}

	err = g.Wait()
	report.Files += uploaded.Load()
	report.Bytes += bytes.Load()

	u.logger.WithFields(logrus.Fields{
		"dir":   root,
		"files": uploaded.Load(),
	}).Debug("Tree uploaded")
	return err
}

func (u *Uploader) uploadArtifact(ctx context.Context, file string, report *Report) error {
	data, err := os.ReadFile(file)
	if err != nil {
		return err
	}
	key := u.opts.ArtifactKey
	if key == "" {
		key = infra.NewArtifact(data).Key
	}
	if err := u.limiter.Wait(ctx); err != nil {
		return err
	}
	err = u.targets.Artifacts.Store(ctx, key, data, &storage.StoreOptions{
		ContentType: "application/zip",
		Overwrite:   true,
	})
	if err != nil {
		return err
	}
	report.Files++
	report.Bytes += int64(len(data))
	report.ArtifactKey = key
	return nil
}

// ObjectOptions returns the object headers for an uploaded key. Precompressed
// variants keep the content type of the file they encode.
func ObjectOptions(key, cacheControl string) storage.StoreOptions {
	opts := storage.StoreOptions{
		CacheControl: cacheControl,
		Overwrite:    true,
	}

	switch path.Ext(key) {
	case ".gz":
		opts.ContentEncoding = "gzip"
		key = strings.TrimSuffix(key, ".gz")
	case ".br":
		opts.ContentEncoding = "br"
		key = strings.TrimSuffix(key, ".br")
	}
	opts.ContentType = storage.ContentTypeFor(key)
	return opts
}

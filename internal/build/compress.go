package build

import (
	"bytes"
	"context"
	"path"
	"runtime"
	"strings"
	"sync/atomic"

	"kit-adapter-aws/internal/adapters/storage"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"golang.org/x/sync/errgroup"
)

var compressible = map[string]bool{
	".html": true,
	".js":   true,
	".mjs":  true,
	".json": true,
	".css":  true,
	".svg":  true,
	".xml":  true,
	".wasm": true,
	".txt":  true,
}

// Compressible reports whether a file gets precompressed variants
func Compressible(key string) bool {
	return compressible[strings.ToLower(path.Ext(key))]
}

// Compress writes .gz and .br siblings for every compressible object in fs
// and returns how many variants were written.
func Compress(ctx context.Context, fs storage.FileStorage) (int, error) {
	files, err := storage.ListAll(ctx, fs, "")
	if err != nil {
		return 0, err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())

	var written atomic.Int64
	for _, file := range files {
		key := file.Key
		if !Compressible(key) {
			continue
		}
		g.Go(func() error {
			data, err := fs.Retrieve(ctx, key)
			if err != nil {
				return err
			}

			gz, err := gzipBytes(data)
			if err != nil {
				return err
			}
			if err := fs.Store(ctx, key+".gz", gz, &storage.StoreOptions{Overwrite: true, ContentEncoding: "gzip"}); err != nil {
				return err
			}

			br, err := brotliBytes(data)
			if err != nil {
				return err
			}
			if err := fs.Store(ctx, key+".br", br, &storage.StoreOptions{Overwrite: true, ContentEncoding: "br"}); err != nil {
				return err
			}

			written.Add(2)
			return nil
		})
	}

	err = g.Wait()
	return int(written.Load()), err
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func brotliBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := brotli.NewWriterLevel(&buf, brotli.BestCompression)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

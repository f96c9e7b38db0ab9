// Package build turns a framework build directory into the deployable
// layout consumed by the infrastructure assembler and the deployer.
package build

import (
	"context"
	"fmt"
	"os"
	"path"
	"strings"

	"kit-adapter-aws/internal/adapters/storage"
	"kit-adapter-aws/pkg/lambda"
)

// KitConfig is the framework configuration the packager needs
type KitConfig struct {
	// BasePath is the URL base without leading or trailing slashes
	BasePath string
	// AppDir holds framework-internal assets under the client root
	AppDir string
}

// Builder is the framework side of the packaging contract
type Builder interface {
	Config() KitConfig

	// WriteClient copies static assets under prefix and returns the written keys
	WriteClient(ctx context.Context, dest storage.FileStorage, prefix string) ([]string, error)

	// WritePrerendered copies prerendered pages under prefix
	WritePrerendered(ctx context.Context, dest storage.FileStorage, prefix string) ([]string, error)

	// WriteServer copies the compute bundle under prefix
	WriteServer(ctx context.Context, dest storage.FileStorage, prefix string) ([]string, error)

	// GenerateManifest lists static assets and prerendered paths
	GenerateManifest(ctx context.Context) (*lambda.Manifest, error)
}

const (
	clientDir      = "client"
	prerenderedDir = "prerendered"
	serverDir      = "server"
)

// DirBuilder implements Builder over a framework output directory holding
// client/, prerendered/ and server/ trees.
type DirBuilder struct {
	config KitConfig
	source storage.FileStorage
}

// NewDirBuilder opens root, which must already exist
func NewDirBuilder(root string, config KitConfig) (*DirBuilder, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("open build directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("build directory %s is not a directory", root)
	}

	source, err := storage.NewLocalFileStorage(root)
	if err != nil {
		return nil, err
	}
	return NewBuilder(source, config), nil
}

// NewBuilder reads the framework output from any FileStorage
func NewBuilder(source storage.FileStorage, config KitConfig) *DirBuilder {
	config.BasePath = strings.Trim(config.BasePath, "/")
	config.AppDir = strings.Trim(config.AppDir, "/")
	if config.AppDir == "" {
		config.AppDir = "_app"
	}
	return &DirBuilder{config: config, source: source}
}

func (b *DirBuilder) Config() KitConfig {
	return b.config
}

func (b *DirBuilder) WriteClient(ctx context.Context, dest storage.FileStorage, prefix string) ([]string, error) {
	return copyTree(ctx, b.source, clientDir, dest, prefix)
}

func (b *DirBuilder) WritePrerendered(ctx context.Context, dest storage.FileStorage, prefix string) ([]string, error) {
	return copyTree(ctx, b.source, prerenderedDir, dest, prefix)
}

func (b *DirBuilder) WriteServer(ctx context.Context, dest storage.FileStorage, prefix string) ([]string, error) {
	return copyTree(ctx, b.source, serverDir, dest, prefix)
}

// GenerateManifest treats every client file outside the app directory as a
// static asset and maps prerendered files to the paths they answer.
func (b *DirBuilder) GenerateManifest(ctx context.Context) (*lambda.Manifest, error) {
	clientFiles, err := storage.ListAll(ctx, b.source, clientDir+"/")
	if err != nil {
		return nil, fmt.Errorf("list client assets: %w", err)
	}

	var assets []string
	for _, file := range clientFiles {
		rel := strings.TrimPrefix(file.Key, clientDir+"/")
		if rel == b.config.AppDir || strings.HasPrefix(rel, b.config.AppDir+"/") {
			continue
		}
		assets = append(assets, rel)
	}

	pages, err := storage.ListAll(ctx, b.source, prerenderedDir+"/")
	if err != nil {
		return nil, fmt.Errorf("list prerendered pages: %w", err)
	}

	var prerendered []string
	for _, file := range pages {
		prerendered = append(prerendered, RouteFor(strings.TrimPrefix(file.Key, prerenderedDir+"/"), b.config.BasePath))
	}

	return lambda.NewManifest(assets, prerendered), nil
}

// RouteFor maps a prerendered file to the request path it answers:
// "index.html" is "/", "blog/index.html" is "/blog/", "about.html" is
// "/about" and other files keep their name.
func RouteFor(file, base string) string {
	route := file
	switch {
	case route == "index.html":
		route = ""
	case strings.HasSuffix(route, "/index.html"):
		route = strings.TrimSuffix(route, "index.html")
	case path.Ext(route) == ".html":
		route = strings.TrimSuffix(route, ".html")
	}

	if base != "" {
		return "/" + path.Join(base, route) + trailingSlash(route)
	}
	return "/" + route
}

func trailingSlash(route string) string {
	if route == "" || strings.HasSuffix(route, "/") {
		return "/"
	}
	return ""
}

// copyTree copies every object under srcPrefix/ to dest, rooted at destPrefix
func copyTree(ctx context.Context, src storage.FileStorage, srcPrefix string, dest storage.FileStorage, destPrefix string) ([]string, error) {
	files, err := storage.ListAll(ctx, src, srcPrefix+"/")
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", srcPrefix, err)
	}

	written := make([]string, 0, len(files))
	for _, file := range files {
		data, err := src.Retrieve(ctx, file.Key)
		if err != nil {
			return written, err
		}

		key := strings.TrimPrefix(file.Key, srcPrefix+"/")
		if destPrefix != "" {
			key = path.Join(destPrefix, key)
		}
		if err := dest.Store(ctx, key, data, &storage.StoreOptions{Overwrite: true}); err != nil {
			return written, err
		}
		written = append(written, key)
	}
	return written, nil
}

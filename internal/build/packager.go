package build

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"kit-adapter-aws/internal/adapters/storage"
	"kit-adapter-aws/pkg/lambda"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// AdapterModule is the import path stamped into generated bootstraps
const AdapterModule = "kit-adapter-aws"

const (
	manifestName = "manifest.json"
	archiveName  = "server.zip"
	indexName    = "index.json"
	mainName     = "main.go"
)

// Options configures a packaging run
type Options struct {
	Out           string
	TmpDir        string
	Precompress   bool
	EnvPrefix     string
	ServerPackage string
}

// Result summarizes a packaging run
type Result struct {
	Manifest         *lambda.Manifest
	ClientFiles      int
	PrerenderedFiles int
	ServerFiles      int
	Compressed       int
	ArchivePath      string
	ArchiveBytes     int64
}

// Packager lays the builder's output out for deployment:
//
//	out/client/<base>/...       static assets
//	out/prerendered/<base>/...  prerendered pages
//	out/server/...              compute bundle, manifest.json, main.go
//	out/server.zip              Lambda deployment package
//	out/index.json              layout descriptor for the assembler
type Packager struct {
	builder Builder
	opts    Options
	logger  *logrus.Entry
}

// NewPackager creates a packager
func NewPackager(builder Builder, opts Options) *Packager {
	if opts.Out == "" {
		opts.Out = "./dist"
	}
	if opts.TmpDir == "" {
		opts.TmpDir = filepath.Join(os.TempDir(), "kit-adapter-aws")
	}
	return &Packager{
		builder: builder,
		opts:    opts,
		logger:  logrus.WithField("component", "packager"),
	}
}

// Adapt runs the packaging steps in order. The output and tmp directories
// are cleared first.
func (p *Packager) Adapt(ctx context.Context) (*Result, error) {
	cfg := p.builder.Config()
	result := &Result{}

	for _, dir := range []string{p.opts.Out, p.opts.TmpDir} {
		if err := os.RemoveAll(dir); err != nil {
			return nil, fmt.Errorf("clean %s: %w", dir, err)
		}
	}

	client, err := storage.NewLocalFileStorage(filepath.Join(p.opts.Out, clientDir))
	if err != nil {
		return nil, err
	}
	prerendered, err := storage.NewLocalFileStorage(filepath.Join(p.opts.Out, prerenderedDir))
	if err != nil {
		return nil, err
	}

	p.logger.Info("Copying assets")
	written, err := p.builder.WriteClient(ctx, client, cfg.BasePath)
	if err != nil {
		return nil, fmt.Errorf("write client: %w", err)
	}
	result.ClientFiles = len(written)

	written, err = p.builder.WritePrerendered(ctx, prerendered, cfg.BasePath)
	if err != nil {
		return nil, fmt.Errorf("write prerendered: %w", err)
	}
	result.PrerenderedFiles = len(written)

	if p.opts.Precompress {
		p.logger.Info("Compressing assets")
		counts := make([]int, 2)
		g, gctx := errgroup.WithContext(ctx)
		for i, fs := range []storage.FileStorage{client, prerendered} {
			g.Go(func() error {
				n, err := Compress(gctx, fs)
				counts[i] = n
				return err
			})
		}
		if err := g.Wait(); err != nil {
			return nil, fmt.Errorf("compress assets: %w", err)
		}
		result.Compressed = counts[0] + counts[1]
	}

	p.logger.Info("Building server")
	if err := p.writeServer(ctx, result); err != nil {
		return nil, err
	}

	p.logger.WithFields(logrus.Fields{
		"client":      result.ClientFiles,
		"prerendered": result.PrerenderedFiles,
		"compressed":  result.Compressed,
		"assets":      len(result.Manifest.Assets),
		"archive":     humanize.Bytes(uint64(result.ArchiveBytes)),
	}).Info("Adapter output written")

	return result, nil
}

// writeServer stages the bundle in tmp, then writes the manifest, the
// stamped bootstrap, the archive and the layout descriptor.
func (p *Packager) writeServer(ctx context.Context, result *Result) error {
	tmp, err := storage.NewLocalFileStorage(filepath.Join(p.opts.TmpDir, serverDir))
	if err != nil {
		return err
	}
	if _, err := p.builder.WriteServer(ctx, tmp, ""); err != nil {
		return fmt.Errorf("write server: %w", err)
	}

	server, err := storage.NewLocalFileStorage(filepath.Join(p.opts.Out, serverDir))
	if err != nil {
		return err
	}
	staged, err := storage.ListAll(ctx, tmp, "")
	if err != nil {
		return err
	}
	for _, file := range staged {
		data, err := tmp.Retrieve(ctx, file.Key)
		if err != nil {
			return err
		}
		if err := server.Store(ctx, file.Key, data, &storage.StoreOptions{Overwrite: true}); err != nil {
			return err
		}
	}
	result.ServerFiles = len(staged)

	manifest, err := p.builder.GenerateManifest(ctx)
	if err != nil {
		return fmt.Errorf("generate manifest: %w", err)
	}
	result.Manifest = manifest

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return err
	}
	if err := server.Store(ctx, manifestName, data, &storage.StoreOptions{Overwrite: true}); err != nil {
		return err
	}

	if p.opts.ServerPackage != "" {
		bootstrap, err := Stamp("bootstrap.go.tmpl", Placeholders{
			ServerPackage: p.opts.ServerPackage,
			AdapterModule: AdapterModule,
			ManifestPath:  manifestName,
			EnvPrefix:     p.opts.EnvPrefix,
		})
		if err != nil {
			return err
		}
		if err := server.Store(ctx, mainName, bootstrap, &storage.StoreOptions{Overwrite: true}); err != nil {
			return err
		}
	}

	if ok, _ := server.Exists(ctx, BootstrapName); !ok {
		p.logger.Warn("Server bundle has no bootstrap executable; build one before deploying")
	}

	result.ArchivePath = filepath.Join(p.opts.Out, archiveName)
	f, err := os.Create(result.ArchivePath)
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}
	if _, err := WriteArchive(ctx, server, f); err != nil {
		f.Close()
		return fmt.Errorf("write archive: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	if info, err := os.Stat(result.ArchivePath); err == nil {
		result.ArchiveBytes = info.Size()
	}

	index, err := Stamp("index.json.tmpl", Placeholders{
		ManifestPath: serverDir + "/" + manifestName,
		ArtifactPath: archiveName,
	})
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(p.opts.Out, indexName), index, 0644)
}

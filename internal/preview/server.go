// Package preview serves packaged output locally the way the deployed
// distribution routes it: static assets and prerendered pages from the
// output trees, everything else from the server origin.
package preview

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"kit-adapter-aws/internal/adapters/storage"
	"kit-adapter-aws/internal/infra"
	"kit-adapter-aws/internal/middleware"
	"kit-adapter-aws/pkg/lambda"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Options configures a preview server
type Options struct {
	// Dir is the packager output directory
	Dir      string
	AppDir   string
	BasePath string
	// Origin serves requests no static rule matches
	Origin http.Handler
}

// Server emulates the distribution in front of a packaged application
type Server struct {
	client      storage.FileStorage
	prerendered storage.FileStorage
	origin      http.Handler
	rules       []infra.Rule
	metrics     *middleware.Metrics
	router      *gin.Engine
}

// New opens the output trees and builds the routing table from the
// packaged manifest
func New(opts Options) (*Server, error) {
	if opts.Origin == nil {
		return nil, errors.New("preview: origin is required")
	}

	manifest, err := lambda.LoadManifest(filepath.Join(opts.Dir, "server", "manifest.json"))
	if err != nil {
		logrus.WithError(err).Warn("No manifest found, only the app directory is served statically")
		manifest = lambda.NewManifest(nil, nil)
	}

	s := &Server{
		origin:  opts.Origin,
		rules:   infra.RoutingRules(manifest, opts.AppDir, opts.BasePath),
		metrics: middleware.NewMetrics("preview"),
	}
	if s.client, err = openTree(filepath.Join(opts.Dir, "client")); err != nil {
		return nil, err
	}
	if s.prerendered, err = openTree(filepath.Join(opts.Dir, "prerendered")); err != nil {
		return nil, err
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.AccessLog())
	router.Use(s.metrics.Middleware())
	router.Use(middleware.ErrorHandler())
	router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	router.NoRoute(s.route)
	s.router = router

	return s, nil
}

func openTree(dir string) (storage.FileStorage, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return storage.NewLocalFileStorage(dir)
}

// Handler returns the HTTP handler of the preview
func (s *Server) Handler() http.Handler {
	return s.router
}

// Metrics returns the request metrics of the preview
func (s *Server) Metrics() *middleware.Metrics {
	return s.metrics
}

// Run serves on addr until ctx is done, then shuts down gracefully
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	logrus.WithField("addr", addr).Info("Preview server started")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logrus.Info("Shutting down preview server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) route(c *gin.Context) {
	pattern := strings.TrimPrefix(c.Request.URL.Path, "/")

	for _, rule := range s.rules {
		if !MatchPattern(rule.PathPattern, pattern) {
			continue
		}
		switch rule.Origin {
		case infra.OriginClient:
			s.serveStatic(c, s.client, pattern, infra.ClientCacheControl, rule.Origin)
		case infra.OriginPrerendered:
			s.serveStatic(c, s.prerendered, pattern, infra.PrerenderedCacheControl, rule.Origin)
		}
		return
	}

	c.Set(middleware.OriginKey, infra.OriginServer)
	s.origin.ServeHTTP(c.Writer, c.Request)
}

// serveStatic answers from a bucket tree the way the website endpoint does:
// the key itself, then the key as a page, then its index document.
func (s *Server) serveStatic(c *gin.Context, fs storage.FileStorage, key, cacheControl, origin string) {
	c.Set(middleware.OriginKey, origin)

	if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
		c.Header("Allow", "GET, HEAD")
		c.Status(http.StatusMethodNotAllowed)
		return
	}

	ctx := c.Request.Context()
	for _, candidate := range candidates(key) {
		data, err := fs.Retrieve(ctx, candidate)
		if storage.IsNotFound(err) {
			continue
		}
		if err != nil {
			_ = c.Error(err)
			return
		}

		contentType := storage.ContentTypeFor(candidate)
		if encoding, variant, ok := s.precompressed(c, fs, candidate); ok {
			c.Header("Content-Encoding", encoding)
			c.Header("Vary", "Accept-Encoding")
			data = variant
		}
		c.Header("Cache-Control", cacheControl)
		c.Data(http.StatusOK, contentType, data)
		return
	}

	c.String(http.StatusNotFound, "Not Found")
}

func candidates(key string) []string {
	if key == "" || strings.HasSuffix(key, "/") {
		return []string{key + "index.html"}
	}
	out := []string{key}
	if path.Ext(key) == "" {
		out = append(out, key+".html", key+"/index.html")
	}
	return out
}

// precompressed returns a .br or .gz sibling the client accepts
func (s *Server) precompressed(c *gin.Context, fs storage.FileStorage, key string) (string, []byte, bool) {
	accept := c.GetHeader("Accept-Encoding")
	for _, enc := range []struct{ name, ext string }{{"br", ".br"}, {"gzip", ".gz"}} {
		if !strings.Contains(accept, enc.name) {
			continue
		}
		if data, err := fs.Retrieve(c.Request.Context(), key+enc.ext); err == nil {
			return enc.name, data, true
		}
	}
	return "", nil, false
}

// MatchPattern reports whether a CloudFront path pattern matches p. A '*'
// matches any run of characters including '/', a '?' exactly one.
func MatchPattern(pattern, p string) bool {
	for len(pattern) > 0 {
		switch pattern[0] {
		case '*':
			pattern = strings.TrimLeft(pattern, "*")
			if pattern == "" {
				return true
			}
			for i := 0; i <= len(p); i++ {
				if MatchPattern(pattern, p[i:]) {
					return true
				}
			}
			return false
		case '?':
			if p == "" {
				return false
			}
		default:
			if p == "" || p[0] != pattern[0] {
				return false
			}
		}
		pattern = pattern[1:]
		p = p[1:]
	}
	return p == ""
}

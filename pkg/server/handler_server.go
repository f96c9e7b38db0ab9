package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"

	"kit-adapter-aws/pkg/lambda"
	"kit-adapter-aws/pkg/stream"

	"github.com/sirupsen/logrus"
)

type platformKey struct{}

// PlatformFrom returns the invocation platform attached to a request context
func PlatformFrom(ctx context.Context) (lambda.Platform, bool) {
	p, ok := ctx.Value(platformKey{}).(lambda.Platform)
	return p, ok
}

// InitFunc receives the bound environment once, before the first request
type InitFunc func(ctx context.Context, env map[string]string) error

// Option configures a HandlerServer
type Option func(*HandlerServer)

// WithInit registers a hook run by Init
func WithInit(fn InitFunc) Option {
	return func(s *HandlerServer) {
		s.init = fn
	}
}

// WithChunkSize sets the size of body chunks handed to the streamer
func WithChunkSize(size int) Option {
	return func(s *HandlerServer) {
		if size > 0 {
			s.chunkSize = size
		}
	}
}

// WithLogger sets the logger used for handler panics
func WithLogger(logger *logrus.Logger) Option {
	return func(s *HandlerServer) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// HandlerServer adapts a standard http.Handler to the lambda.Server contract.
// Response headers are committed on the handler's first Write, WriteHeader or
// Flush, or when it returns; the body is streamed as it is written.
type HandlerServer struct {
	handler   http.Handler
	init      InitFunc
	chunkSize int
	logger    *logrus.Logger

	mu  sync.RWMutex
	env map[string]string
}

// NewHandlerServer wraps an http.Handler
func NewHandlerServer(handler http.Handler, opts ...Option) *HandlerServer {
	s := &HandlerServer{
		handler:   handler,
		chunkSize: stream.DefaultChunkSize,
		logger:    logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Init stores the environment and chunk size and runs the init hook if one
// is set
func (s *HandlerServer) Init(ctx context.Context, opts lambda.InitOptions) error {
	if s.init != nil {
		if err := s.init(ctx, opts.Env); err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.env = opts.Env
	if opts.ChunkSize > 0 {
		s.chunkSize = opts.ChunkSize
	}
	s.mu.Unlock()
	return nil
}

// Env returns the environment bound by Init
func (s *HandlerServer) Env() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.env
}

// Respond runs the handler in its own goroutine and returns once the
// response headers are committed.
func (s *HandlerServer) Respond(ctx context.Context, req *http.Request, platform lambda.Platform) (*stream.Response, error) {
	ctx = context.WithValue(ctx, platformKey{}, platform)
	req = req.WithContext(ctx)

	pr, pw := io.Pipe()
	w := newResponseWriter(pw)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.WithFields(logrus.Fields{
					"method": req.Method,
					"path":   req.URL.Path,
					"panic":  r,
				}).Error("Handler panicked")

				if w.commitPanic() {
					pw.Close()
					return
				}
				pw.CloseWithError(fmt.Errorf("handler panic: %v", r))
				return
			}
			w.commit(http.StatusOK)
			pw.Close()
		}()
		s.handler.ServeHTTP(w, req)
	}()

	s.mu.RLock()
	chunkSize := s.chunkSize
	s.mu.RUnlock()

	select {
	case <-w.committed:
		return &stream.Response{
			StatusCode: w.status,
			Header:     w.snapshot,
			Body:       stream.NewBodyWithChunkSize(pr, chunkSize),
		}, nil
	case <-ctx.Done():
		pr.CloseWithError(ctx.Err())
		return nil, ctx.Err()
	}
}

// responseWriter is the http.ResponseWriter handed to wrapped handlers
type responseWriter struct {
	header http.Header
	pw     *io.PipeWriter

	once      sync.Once
	committed chan struct{}
	status    int
	snapshot  http.Header
}

func newResponseWriter(pw *io.PipeWriter) *responseWriter {
	return &responseWriter{
		header:    http.Header{},
		pw:        pw,
		committed: make(chan struct{}),
	}
}

func (w *responseWriter) Header() http.Header {
	return w.header
}

func (w *responseWriter) WriteHeader(code int) {
	// Informational responses are not forwarded.
	if code >= 100 && code < 200 {
		return
	}
	w.commit(code)
}

func (w *responseWriter) Write(b []byte) (int, error) {
	w.commit(http.StatusOK)
	if len(b) == 0 {
		return 0, nil
	}
	return w.pw.Write(b)
}

func (w *responseWriter) Flush() {
	w.commit(http.StatusOK)
}

func (w *responseWriter) commit(code int) {
	w.once.Do(func() {
		w.status = code
		w.snapshot = w.header.Clone()
		close(w.committed)
	})
}

// commitPanic commits a bare 500 if nothing was committed yet and reports
// whether it did so.
func (w *responseWriter) commitPanic() bool {
	won := false
	w.once.Do(func() {
		won = true
		w.status = http.StatusInternalServerError
		w.snapshot = http.Header{"Content-Type": {"text/plain; charset=utf-8"}}
		close(w.committed)
	})
	return won
}

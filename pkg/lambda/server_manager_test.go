package lambda

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"kit-adapter-aws/pkg/stream"
)

// fakeServer counts Init calls and fails the first failFirst of them
type fakeServer struct {
	inits     atomic.Int32
	failFirst int32
	delay     time.Duration
	env       map[string]string
	mu        sync.Mutex

	respond func(req *http.Request, platform Platform) (*stream.Response, error)
}

func (f *fakeServer) Init(ctx context.Context, opts InitOptions) error {
	n := f.inits.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if n <= f.failFirst {
		return errors.New("boom")
	}
	f.mu.Lock()
	f.env = opts.Env
	f.mu.Unlock()
	return nil
}

func (f *fakeServer) Respond(ctx context.Context, req *http.Request, platform Platform) (*stream.Response, error) {
	if f.respond != nil {
		return f.respond(req, platform)
	}
	return &stream.Response{StatusCode: http.StatusOK}, nil
}

func TestServerManager_ConcurrentInitOnce(t *testing.T) {
	srv := &fakeServer{delay: 20 * time.Millisecond}
	m, err := NewServerManager(srv, func() InitOptions {
		return InitOptions{Env: map[string]string{"FOO": "bar"}}
	})
	if err != nil {
		t.Fatalf("NewServerManager failed: %v", err)
	}

	const callers = 50
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.Server(context.Background()); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("Unexpected error: %v", err)
	}
	if got := srv.inits.Load(); got != 1 {
		t.Errorf("Expected 1 init, got %d", got)
	}
	if m.State() != StateReady {
		t.Errorf("Expected state ready, got %s", m.State())
	}
	if srv.env["FOO"] != "bar" {
		t.Errorf("Expected bound env to reach Init, got %v", srv.env)
	}

	// Later calls take the fast path.
	if _, err := m.Server(context.Background()); err != nil {
		t.Fatalf("Server failed: %v", err)
	}
	if got := srv.inits.Load(); got != 1 {
		t.Errorf("Expected init to stay at 1, got %d", got)
	}
}

func TestServerManager_RetryAfterFailure(t *testing.T) {
	srv := &fakeServer{failFirst: 1}
	m, err := NewServerManager(srv, nil)
	if err != nil {
		t.Fatalf("NewServerManager failed: %v", err)
	}

	_, err = m.Server(context.Background())
	var initErr *InitError
	if !errors.As(err, &initErr) {
		t.Fatalf("Expected InitError, got %v", err)
	}
	if initErr.Attempt != 1 {
		t.Errorf("Expected attempt 1, got %d", initErr.Attempt)
	}
	if m.State() != StateUninitialized {
		t.Errorf("Expected state uninitialized after failure, got %s", m.State())
	}

	if _, err := m.Server(context.Background()); err != nil {
		t.Fatalf("Expected retry to succeed, got %v", err)
	}
	if m.Attempts() != 2 {
		t.Errorf("Expected 2 attempts, got %d", m.Attempts())
	}
	if m.State() != StateReady {
		t.Errorf("Expected state ready, got %s", m.State())
	}
}

func TestNewEagerServerManager(t *testing.T) {
	srv := &fakeServer{}
	m, err := NewEagerServerManager(context.Background(), srv, nil)
	if err != nil {
		t.Fatalf("NewEagerServerManager failed: %v", err)
	}
	if m.State() != StateReady {
		t.Errorf("Expected state ready, got %s", m.State())
	}
	if srv.inits.Load() != 1 {
		t.Errorf("Expected 1 init, got %d", srv.inits.Load())
	}

	failing := &fakeServer{failFirst: 1}
	if _, err := NewEagerServerManager(context.Background(), failing, nil); err == nil {
		t.Error("Expected eager init failure to be returned")
	}
}

func TestNewServerManager_NilServer(t *testing.T) {
	if _, err := NewServerManager(nil, nil); !errors.Is(err, ErrNoServer) {
		t.Errorf("Expected ErrNoServer, got %v", err)
	}
}

func TestServerManager_CanceledCaller(t *testing.T) {
	srv := &fakeServer{delay: 50 * time.Millisecond}
	m, _ := NewServerManager(srv, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := m.Server(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}

	// The in-flight init is not tied to the canceled caller.
	if _, err := m.Server(context.Background()); err != nil {
		t.Fatalf("Server failed: %v", err)
	}
	if srv.inits.Load() != 1 {
		t.Errorf("Expected 1 init, got %d", srv.inits.Load())
	}
}

func TestState_String(t *testing.T) {
	tests := map[State]string{
		StateUninitialized: "uninitialized",
		StateInitializing:  "initializing",
		StateReady:         "ready",
		State(9):           "unknown",
	}
	for state, want := range tests {
		if state.String() != want {
			t.Errorf("Expected %s, got %s", want, state.String())
		}
	}
}

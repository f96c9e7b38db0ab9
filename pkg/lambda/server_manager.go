package lambda

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// State is the lifecycle state of the shared server instance
type State int32

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

// ErrNoServer is returned when a manager is built without a server
var ErrNoServer = errors.New("lambda: server is required")

// InitError reports a failed server initialization
type InitError struct {
	Attempt int64
	Err     error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("server init attempt %d failed: %v", e.Attempt, e.Err)
}

func (e *InitError) Unwrap() error {
	return e.Err
}

// ServerManager owns the single server instance of the process and
// initializes it exactly once. A failed initialization leaves the manager
// uninitialized so that a later invocation retries.
type ServerManager struct {
	server   Server
	options  func() InitOptions
	state    atomic.Int32
	attempts atomic.Int64
	group    singleflight.Group
}

// NewServerManager creates a manager that initializes on first use. options
// is evaluated at each initialization attempt.
func NewServerManager(server Server, options func() InitOptions) (*ServerManager, error) {
	if server == nil {
		return nil, ErrNoServer
	}
	if options == nil {
		options = func() InitOptions { return InitOptions{Env: map[string]string{}} }
	}
	return &ServerManager{server: server, options: options}, nil
}

// NewEagerServerManager creates a manager and initializes the server before
// returning, so that every invocation observes a ready server.
func NewEagerServerManager(ctx context.Context, server Server, options func() InitOptions) (*ServerManager, error) {
	m, err := NewServerManager(server, options)
	if err != nil {
		return nil, err
	}
	if _, err := m.Server(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

// State returns the current lifecycle state
func (m *ServerManager) State() State {
	return State(m.state.Load())
}

// Attempts returns how many initializations have been started
func (m *ServerManager) Attempts() int64 {
	return m.attempts.Load()
}

// Server returns the ready server, initializing it if needed. Concurrent
// callers share a single in-flight initialization.
func (m *ServerManager) Server(ctx context.Context) (Server, error) {
	if m.State() == StateReady {
		return m.server, nil
	}

	ch := m.group.DoChan("init", func() (interface{}, error) {
		// A caller may arrive after a successful flight has finished.
		if m.State() == StateReady {
			return nil, nil
		}
		return nil, m.initialize(context.WithoutCancel(ctx))
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return m.server, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *ServerManager) initialize(ctx context.Context) error {
	attempt := m.attempts.Add(1)
	m.state.Store(int32(StateInitializing))

	logger := logrus.WithField("attempt", attempt)
	logger.Debug("Initializing server")

	if err := m.server.Init(ctx, m.options()); err != nil {
		m.state.Store(int32(StateUninitialized))
		logger.WithError(err).Error("Server initialization failed")
		return &InitError{Attempt: attempt, Err: err}
	}

	m.state.Store(int32(StateReady))
	logger.Info("Server initialized")
	return nil
}

package server

import (
	"context"
	"fmt"

	"kit-adapter-aws/internal/config"
	"kit-adapter-aws/pkg/lambda"

	"github.com/sirupsen/logrus"
)

// Container holds the runtime dependencies of one Lambda process
type Container struct {
	Config  *config.Config
	Server  lambda.Server
	Manager *lambda.ServerManager
	Handler *lambda.Handler
}

// NewContainer wires a server into a manager and handler. In eager mode the
// server is initialized before NewContainer returns and an init failure is
// returned to the caller; in deferred mode the first invocation initializes it.
// The manifest may be nil when the server does not need it.
func NewContainer(ctx context.Context, cfg *config.Config, srv lambda.Server, manifest *lambda.Manifest) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("container: config is required")
	}

	options := func() lambda.InitOptions {
		return lambda.InitOptions{
			Env:       config.BindEnv(cfg.Adapter.EnvPrefix),
			Manifest:  manifest,
			ChunkSize: cfg.Runtime.ChunkSize,
		}
	}

	var (
		manager *lambda.ServerManager
		err     error
	)
	switch cfg.Runtime.InitMode {
	case config.InitModeDeferred:
		manager, err = lambda.NewServerManager(srv, options)
	default:
		manager, err = lambda.NewEagerServerManager(ctx, srv, options)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create server manager: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"init_mode": cfg.Runtime.InitMode,
		"state":     manager.State().String(),
	}).Debug("Runtime container ready")

	return &Container{
		Config:  cfg,
		Server:  srv,
		Manager: manager,
		Handler: lambda.NewHandler(manager, logrus.StandardLogger()),
	}, nil
}

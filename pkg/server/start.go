package server

import (
	"context"

	"kit-adapter-aws/internal/config"
	"kit-adapter-aws/internal/logging"
	"kit-adapter-aws/pkg/lambda"

	awslambda "github.com/aws/aws-lambda-go/lambda"
	"github.com/sirupsen/logrus"
)

// StartOptions carries the values stamped into a generated bootstrap
type StartOptions struct {
	// EnvPrefix overrides the configured environment prefix when set
	EnvPrefix string

	// ManifestPath points at the packager's manifest.json
	ManifestPath string
}

// Start loads configuration, wires srv into the runtime container and hands
// the streaming handler to the Lambda runtime. It does not return.
func Start(srv lambda.Server, opts StartOptions) {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	if opts.EnvPrefix != "" {
		cfg.Adapter.EnvPrefix = opts.EnvPrefix
	}
	logging.Setup(cfg)

	var manifest *lambda.Manifest
	if opts.ManifestPath != "" {
		manifest, err = lambda.LoadManifest(opts.ManifestPath)
		if err != nil {
			logrus.WithError(err).Fatal("Failed to load manifest")
		}
	}

	container, err := NewContainer(context.Background(), cfg, srv, manifest)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to initialize container")
	}

	env := config.Lambda()
	logrus.WithFields(logrus.Fields{
		"function":  env.FunctionName,
		"version":   env.Version,
		"memory_mb": env.MemoryMB,
		"init_type": env.InitType,
		"init_mode": cfg.Runtime.InitMode,
	}).Info("Starting Lambda runtime")
	if env.Provisioned() && cfg.Runtime.InitMode == config.InitModeDeferred {
		logrus.Warn("Deferred init in a pre-initialized environment moves server init onto the first request")
	}

	awslambda.Start(container.Handler.Invoke)
}

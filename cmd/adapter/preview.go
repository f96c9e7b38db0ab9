package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os/signal"
	"path/filepath"
	"syscall"

	"kit-adapter-aws/internal/app"
	"kit-adapter-aws/internal/config"
	"kit-adapter-aws/internal/edge"
	"kit-adapter-aws/internal/preview"
	"kit-adapter-aws/pkg/lambda"
	"kit-adapter-aws/pkg/server"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var previewKeys = map[string]string{
	"preview.port":       "port",
	"preview.remote":     "remote",
	"preview.sign":       "sign",
	"adapter.env_prefix": "env-prefix",
}

func newPreviewCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Serve the packaged output locally",
		Long: `Preview routes requests the way the distribution does. Static assets and
prerendered pages come from the output trees; everything else goes to the
demo application in process, or to a deployed function URL with --remote.

Examples:
    adapter preview --port 4173
    adapter preview --remote https://abc.lambda-url.eu-west-1.on.aws --sign`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load(v, cmd.Flags(), previewKeys)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			origin, err := previewOrigin(ctx, cfg)
			if err != nil {
				return err
			}

			s, err := preview.New(preview.Options{
				Dir:      cfg.Adapter.Out,
				AppDir:   cfg.Adapter.AppDir,
				BasePath: cfg.Adapter.BasePath,
				Origin:   origin,
			})
			if err != nil {
				return err
			}
			return s.Run(ctx, net.JoinHostPort("", cfg.Preview.Port))
		},
	}

	flags := cmd.Flags()
	flags.String("port", "4173", "listen port")
	flags.String("remote", "", "deployed function URL serving dynamic requests")
	flags.Bool("sign", false, "sign remote requests with the default AWS credentials")
	flags.String("env-prefix", "", "prefix of the environment variables bound into the server")

	return cmd
}

func previewOrigin(ctx context.Context, cfg *config.Config) (http.Handler, error) {
	if cfg.Preview.Remote != "" {
		target, err := url.Parse(cfg.Preview.Remote)
		if err != nil {
			return nil, fmt.Errorf("invalid remote: %w", err)
		}
		if !cfg.Preview.Sign {
			return preview.RemoteOrigin(target, nil), nil
		}

		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		return preview.RemoteOrigin(target, edge.NewSigner(awsCfg.Credentials, cfg.Deploy.Region)), nil
	}

	manifest, err := lambda.LoadManifest(filepath.Join(cfg.Adapter.Out, "server", "manifest.json"))
	if err != nil {
		logrus.WithError(err).Warn("Starting the application without a manifest")
	}
	container, err := server.NewContainer(ctx, cfg, app.New(), manifest)
	if err != nil {
		return nil, err
	}
	return preview.LambdaOrigin(container.Handler), nil
}

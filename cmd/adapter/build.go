package main

import (
	"strings"

	"kit-adapter-aws/internal/build"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var buildKeys = map[string]string{
	"adapter.source":         "source",
	"adapter.precompress":    "precompress",
	"adapter.env_prefix":     "env-prefix",
	"adapter.server_package": "server-package",
}

func newBuildCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Package the framework build output",
		Long: `Build copies static assets and prerendered pages into their own trees,
stamps the Lambda bootstrap and writes the deployment archive.

Examples:
    adapter build --source ./build --out ./dist
    adapter build --precompress --env-prefix APP_`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load(v, cmd.Flags(), buildKeys)
			if err != nil {
				return err
			}

			builder, err := build.NewDirBuilder(cfg.Adapter.Source, build.KitConfig{
				BasePath: strings.Trim(cfg.Adapter.BasePath, "/"),
				AppDir:   cfg.Adapter.AppDir,
			})
			if err != nil {
				return err
			}

			result, err := build.NewPackager(builder, build.Options{
				Out:           cfg.Adapter.Out,
				TmpDir:        cfg.Adapter.TmpDir,
				Precompress:   cfg.Adapter.Precompress,
				EnvPrefix:     cfg.Adapter.EnvPrefix,
				ServerPackage: cfg.Adapter.ServerPackage,
			}).Adapt(cmd.Context())
			if err != nil {
				return err
			}

			logrus.WithFields(logrus.Fields{
				"client":      result.ClientFiles,
				"prerendered": result.PrerenderedFiles,
				"server":      result.ServerFiles,
				"compressed":  result.Compressed,
				"archive":     humanize.Bytes(uint64(result.ArchiveBytes)),
			}).Infof("Packaged into %s", cfg.Adapter.Out)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.String("source", "./build", "framework build output")
	flags.Bool("precompress", false, "write gzip and brotli variants of static files")
	flags.String("env-prefix", "", "prefix of the environment variables bound into the server")
	flags.String("server-package", "", "import path of the server package")

	return cmd
}

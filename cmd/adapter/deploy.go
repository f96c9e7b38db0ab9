package main

import (
	"kit-adapter-aws/internal/deploy"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var deployKeys = map[string]string{
	"deploy.client_bucket":      "client-bucket",
	"deploy.prerendered_bucket": "prerendered-bucket",
	"stack.artifact_bucket":     "artifact-bucket",
	"stack.artifact_key":        "artifact-key",
	"deploy.region":             "region",
	"deploy.concurrency":        "concurrency",
	"deploy.rate_per_second":    "rate",
}

func newDeployCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Upload assets and the server package",
		Long: `Deploy uploads the client and prerendered trees to their buckets and the
server package to the artifact bucket. Buckets left empty are skipped.

Examples:
    adapter deploy --client-bucket site-client --prerendered-bucket site-pages
    adapter deploy --artifact-bucket my-artifacts --concurrency 16`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load(v, cmd.Flags(), deployKeys)
			if err != nil {
				return err
			}

			targets, err := deploy.NewS3Targets(cmd.Context(), cfg.Deploy, cfg.Stack)
			if err != nil {
				return err
			}

			report, err := deploy.NewUploader(targets, deploy.Options{
				Concurrency:   cfg.Deploy.Concurrency,
				RatePerSecond: cfg.Deploy.RatePerSecond,
				ArtifactKey:   cfg.Stack.ArtifactKey,
			}).Upload(cmd.Context(), cfg.Adapter.Out)
			if err != nil {
				return err
			}

			logrus.WithField("artifact_key", report.ArtifactKey).Infof("Uploaded %s files (%s)", humanize.Comma(report.Files), humanize.Bytes(uint64(report.Bytes)))
			return nil
		},
	}

	flags := cmd.Flags()
	flags.String("client-bucket", "", "bucket for static assets")
	flags.String("prerendered-bucket", "", "bucket for prerendered pages")
	flags.String("artifact-bucket", "", "bucket for the server package")
	flags.String("artifact-key", "", "key of the server package, server-<hash>.zip when empty")
	flags.String("region", "", "AWS region")
	flags.Int("concurrency", 8, "parallel uploads")
	flags.Float64("rate", 0, "uploads per second, 0 for unlimited")

	return cmd
}

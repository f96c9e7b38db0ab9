package main

import (
	"fmt"
	"os"
	"path/filepath"

	"kit-adapter-aws/internal/infra"
	"kit-adapter-aws/pkg/lambda"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var synthKeys = map[string]string{
	"stack.name":            "stack-name",
	"stack.format":          "format",
	"stack.artifact_bucket": "artifact-bucket",
	"stack.artifact_key":    "artifact-key",
	"stack.domain_names":    "domain",
	"stack.certificate_arn": "certificate-arn",
	"stack.signed":          "signed",
}

func newSynthCmd(v *viper.Viper) *cobra.Command {
	var (
		output string
		env    map[string]string
	)

	cmd := &cobra.Command{
		Use:   "synth",
		Short: "Write the CloudFormation template",
		Long: `Synth reads the packaged manifest and writes a template with the
function, its URL, the asset buckets and the distribution in front of them.

Examples:
    adapter synth --artifact-bucket my-artifacts > template.json
    adapter synth --format yaml --signed -o template.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load(v, cmd.Flags(), synthKeys)
			if err != nil {
				return err
			}

			manifest, err := lambda.LoadManifest(filepath.Join(cfg.Adapter.Out, "server", "manifest.json"))
			if err != nil {
				return fmt.Errorf("run build first: %w", err)
			}

			key, sha, err := artifactFor(filepath.Join(cfg.Adapter.Out, "server.zip"), cfg.Stack.ArtifactKey)
			if err != nil {
				return err
			}

			tmpl, err := infra.Assemble(infra.StackOptions{
				Name:                   cfg.Stack.Name,
				MemorySize:             cfg.Stack.MemorySize,
				Timeout:                cfg.Stack.Timeout,
				Architecture:           cfg.Stack.Architecture,
				ProvisionedConcurrency: cfg.Stack.ProvisionedConcurrency,
				ArtifactBucket:         cfg.Stack.ArtifactBucket,
				ArtifactKey:            key,
				ArtifactSha256:         sha,
				AppDir:                 cfg.Adapter.AppDir,
				BasePath:               cfg.Adapter.BasePath,
				DomainNames:            cfg.Stack.DomainNames,
				CertificateArn:         cfg.Stack.CertificateArn,
				Environment:            env,
				Signed:                 cfg.Stack.Signed,
			}, manifest)
			if err != nil {
				return err
			}

			data, err := tmpl.Encode(cfg.Stack.Format)
			if err != nil {
				return err
			}

			if output == "" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			if err := os.WriteFile(output, data, 0644); err != nil {
				return err
			}
			logrus.WithFields(logrus.Fields{
				"resources": len(tmpl.Resources),
				"file":      output,
			}).Info("Template written")
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&output, "output", "o", "", "write the template to a file instead of stdout")
	flags.StringToStringVar(&env, "env", nil, "function environment variables as KEY=VALUE")
	flags.String("stack-name", "SvelteKit", "stack name")
	flags.String("format", "json", "template format: json or yaml")
	flags.String("artifact-bucket", "", "default bucket holding the server package")
	flags.String("artifact-key", "", "default key of the server package, server-<hash>.zip when empty")
	flags.StringSlice("domain", nil, "custom domain names of the distribution")
	flags.String("certificate-arn", "", "ACM certificate for the custom domains")
	flags.Bool("signed", false, "protect the function URL with IAM and sign origin requests")

	return cmd
}

// artifactFor resolves the package key and hash for the template. Without an
// explicit key the package must exist so its content-addressed key is known.
func artifactFor(file, key string) (string, string, error) {
	artifact, err := infra.ReadArtifact(file)
	switch {
	case err == nil && key == "":
		return artifact.Key, artifact.Sha256, nil
	case err == nil:
		return key, artifact.Sha256, nil
	case key == "":
		return "", "", fmt.Errorf("run build first or pass --artifact-key: %w", err)
	default:
		logrus.WithError(err).Warn("Server package not found, the version carries no code hash")
		return key, "", nil
	}
}

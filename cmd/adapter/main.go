// Command adapter packages a framework build for AWS, synthesizes its
// CloudFormation template, uploads the assets and previews the result.
//
// Usage:
//
//	adapter build      Package ./build into ./dist
//	adapter synth      Write the CloudFormation template
//	adapter deploy     Upload assets and the server package
//	adapter preview    Serve the packaged output locally
package main

import (
	"fmt"
	"os"

	"kit-adapter-aws/internal/config"
	"kit-adapter-aws/internal/logging"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

func main() {
	v := viper.New()

	rootCmd := &cobra.Command{
		Use:           "adapter",
		Short:         "Deploy a framework build to Lambda and CloudFront",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	flags := rootCmd.PersistentFlags()
	flags.String("log-level", "info", "log level")
	flags.String("out", "./dist", "packaged output directory")

	rootCmd.AddCommand(
		newBuildCmd(v),
		newSynthCmd(v),
		newDeployCmd(v),
		newPreviewCmd(v),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootKeys = map[string]string{
	"log_level":   "log-level",
	"adapter.out": "out",
}

// load binds the command's flags, reads configuration and sets up logging.
// Only the running command's flags are bound.
func load(v *viper.Viper, flags *pflag.FlagSet, keys map[string]string) (*config.Config, error) {
	if err := bindFlags(v, flags, rootKeys); err != nil {
		return nil, err
	}
	if err := bindFlags(v, flags, keys); err != nil {
		return nil, err
	}

	cfg, err := config.LoadWith(v)
	if err != nil {
		return nil, err
	}
	logging.Setup(cfg)
	return cfg, nil
}

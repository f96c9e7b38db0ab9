package logging

import (
	"io"
	"os"

	"kit-adapter-aws/internal/config"

	"github.com/sirupsen/logrus"
)

// Setup configures the standard logrus logger from configuration.
// Lambda environments and LOG_FORMAT=json get the JSON formatter so that
// CloudWatch can index the fields.
func Setup(cfg *config.Config) {
	Configure(logrus.StandardLogger(), cfg, os.Stderr)
}

// Configure applies level, format and output to logger
func Configure(logger *logrus.Logger, cfg *config.Config, out io.Writer) {
	logger.SetOutput(out)

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.LogFormat == "json" || (cfg.LogFormat == "" && config.IsServerlessMode()) {
		logger.SetFormatter(&logrus.JSONFormatter{
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyMsg: "message",
			},
		})
		return
	}

	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
}

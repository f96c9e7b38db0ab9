package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Init modes for the server lifecycle
const (
	InitModeEager    = "eager"
	InitModeDeferred = "deferred"
)

// Config holds all configuration for the adapter and its runtime
type Config struct {
	Environment string `validate:"required"`
	LogLevel    string `validate:"required,oneof=trace debug info warn warning error fatal panic"`
	LogFormat   string `validate:"omitempty,oneof=text json"`
	Adapter     AdapterConfig
	Runtime     RuntimeConfig
	Deploy      DeployConfig
	Stack       StackConfig
	Preview     PreviewConfig
}

// AdapterConfig holds the build packaging options
type AdapterConfig struct {
	Out           string `validate:"required"`
	Precompress   bool
	EnvPrefix     string
	Source        string `validate:"required"`
	BasePath      string `validate:"omitempty,startswith=/"`
	AppDir        string `validate:"required"`
	TmpDir        string `validate:"required"`
	ServerPackage string
}

// RuntimeConfig holds options for the Lambda runtime shim
type RuntimeConfig struct {
	InitMode  string `validate:"required,oneof=eager deferred"`
	ChunkSize int    `validate:"gte=0"`
}

// DeployConfig holds asset upload configuration
type DeployConfig struct {
	ClientBucket      string
	PrerenderedBucket string
	Region            string
	Concurrency       int     `validate:"gte=1"`
	RatePerSecond     float64 `validate:"gte=0"`
}

// StackConfig holds infrastructure template options
type StackConfig struct {
	Name                   string `validate:"required"`
	DomainNames            []string
	CertificateArn         string
	MemorySize             int    `validate:"gte=128,lte=10240"`
	Timeout                int    `validate:"gte=1,lte=900"`
	ProvisionedConcurrency int    `validate:"gte=0"`
	Architecture           string `validate:"oneof=arm64 x86_64"`
	ArtifactBucket         string
	ArtifactKey            string
	Signed                 bool
	Format                 string `validate:"oneof=json yaml"`
}

// PreviewConfig holds the local preview server configuration
type PreviewConfig struct {
	Port string `validate:"required"`
	// Remote is a deployed function URL to forward server requests to
	// instead of running the application in process
	Remote string `validate:"omitempty,url"`
	Sign   bool
}

// SetDefaults registers every default on v
func SetDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "")

	v.SetDefault("adapter.out", "./dist")
	v.SetDefault("adapter.precompress", false)
	v.SetDefault("adapter.env_prefix", "")
	v.SetDefault("adapter.source", "./build")
	v.SetDefault("adapter.base_path", "")
	v.SetDefault("adapter.app_dir", "_app")
	v.SetDefault("adapter.tmp_dir", "./.adapter-aws")
	v.SetDefault("adapter.server_package", "")

	v.SetDefault("runtime.init_mode", InitModeEager)
	v.SetDefault("runtime.chunk_size", 0)

	v.SetDefault("deploy.concurrency", 8)
	v.SetDefault("deploy.rate_per_second", 0)

	v.SetDefault("stack.name", "SvelteKit")
	v.SetDefault("stack.memory_size", 1024)
	v.SetDefault("stack.timeout", 30)
	v.SetDefault("stack.provisioned_concurrency", 0)
	v.SetDefault("stack.architecture", "arm64")
	v.SetDefault("stack.artifact_key", "")
	v.SetDefault("stack.signed", false)
	v.SetDefault("stack.format", "json")

	v.SetDefault("preview.port", "4173")
	v.SetDefault("preview.remote", "")
	v.SetDefault("preview.sign", false)
}

// Load loads configuration from .env, adapter.yaml and environment variables
func Load() (*Config, error) {
	return LoadWith(viper.New())
}

// LoadWith loads configuration through v, which may already carry bound flags
func LoadWith(v *viper.Viper) (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	SetDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("adapter")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	config := &Config{
		Environment: v.GetString("environment"),
		LogLevel:    strings.ToLower(v.GetString("log_level")),
		LogFormat:   strings.ToLower(v.GetString("log_format")),
		Adapter: AdapterConfig{
			Out:           v.GetString("adapter.out"),
			Precompress:   v.GetBool("adapter.precompress"),
			EnvPrefix:     v.GetString("adapter.env_prefix"),
			Source:        v.GetString("adapter.source"),
			BasePath:      strings.TrimSuffix(v.GetString("adapter.base_path"), "/"),
			AppDir:        strings.Trim(v.GetString("adapter.app_dir"), "/"),
			TmpDir:        v.GetString("adapter.tmp_dir"),
			ServerPackage: v.GetString("adapter.server_package"),
		},
		Runtime: RuntimeConfig{
			InitMode:  strings.ToLower(v.GetString("runtime.init_mode")),
			ChunkSize: v.GetInt("runtime.chunk_size"),
		},
		Deploy: DeployConfig{
			ClientBucket:      v.GetString("deploy.client_bucket"),
			PrerenderedBucket: v.GetString("deploy.prerendered_bucket"),
			Region:            v.GetString("deploy.region"),
			Concurrency:       v.GetInt("deploy.concurrency"),
			RatePerSecond:     v.GetFloat64("deploy.rate_per_second"),
		},
		Stack: StackConfig{
			Name:                   v.GetString("stack.name"),
			DomainNames:            v.GetStringSlice("stack.domain_names"),
			CertificateArn:         v.GetString("stack.certificate_arn"),
			MemorySize:             v.GetInt("stack.memory_size"),
			Timeout:                v.GetInt("stack.timeout"),
			ProvisionedConcurrency: v.GetInt("stack.provisioned_concurrency"),
			Architecture:           v.GetString("stack.architecture"),
			ArtifactBucket:         v.GetString("stack.artifact_bucket"),
			ArtifactKey:            v.GetString("stack.artifact_key"),
			Signed:                 v.GetBool("stack.signed"),
			Format:                 strings.ToLower(v.GetString("stack.format")),
		},
		Preview: PreviewConfig{
			Port:   v.GetString("preview.port"),
			Remote: v.GetString("preview.remote"),
			Sign:   v.GetBool("preview.sign"),
		},
	}

	if err := Validate(config); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks the struct constraints of a configuration
func Validate(config *Config) error {
	if err := validator.New().Struct(config); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// GetEnv gets an environment variable with a fallback value
func GetEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// GetEnvAsInt gets an environment variable as integer with a fallback value
func GetEnvAsInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

// GetEnvAsBool gets an environment variable as boolean with a fallback value
func GetEnvAsBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return fallback
}

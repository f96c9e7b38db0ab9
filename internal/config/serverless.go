package config

import (
	"os"
	"strconv"
	"strings"
	"sync"
)

// LambdaEnvironment describes the Lambda execution environment the process
// runs in, read from the variables the runtime sets
type LambdaEnvironment struct {
	FunctionName string
	Version      string
	Region       string
	MemoryMB     int
	// InitType is on-demand, provisioned-concurrency or snap-start
	InitType string
}

// Detected reports whether the process runs inside Lambda
func (e LambdaEnvironment) Detected() bool {
	return e.FunctionName != ""
}

// Provisioned reports whether the environment is initialized ahead of traffic
func (e LambdaEnvironment) Provisioned() bool {
	return e.InitType == "provisioned-concurrency" || e.InitType == "snap-start"
}

var (
	lambdaEnv  LambdaEnvironment
	lambdaOnce sync.Once
)

// Lambda returns the execution environment, read once per process
func Lambda() LambdaEnvironment {
	lambdaOnce.Do(func() {
		lambdaEnv = lambdaFrom(os.Getenv)
	})
	return lambdaEnv
}

func lambdaFrom(getenv func(string) string) LambdaEnvironment {
	memory, _ := strconv.Atoi(getenv("AWS_LAMBDA_FUNCTION_MEMORY_SIZE"))
	region := getenv("AWS_REGION")
	if region == "" {
		region = getenv("AWS_DEFAULT_REGION")
	}
	return LambdaEnvironment{
		FunctionName: getenv("AWS_LAMBDA_FUNCTION_NAME"),
		Version:      getenv("AWS_LAMBDA_FUNCTION_VERSION"),
		Region:       region,
		MemoryMB:     memory,
		InitType:     getenv("AWS_LAMBDA_INITIALIZATION_TYPE"),
	}
}

// IsServerlessMode returns true if running in Lambda
func IsServerlessMode() bool {
	return Lambda().Detected()
}

// BindEnv snapshots the process environment for server initialization.
// Variables carrying prefix are also exposed without it and take precedence
// over an unprefixed variable of the same name.
func BindEnv(prefix string) map[string]string {
	return bindEnv(os.Environ(), prefix)
}

func bindEnv(environ []string, prefix string) map[string]string {
	env := make(map[string]string, len(environ))
	prefixed := make(map[string]string)

	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			continue
		}
		env[key] = value
		if prefix != "" && strings.HasPrefix(key, prefix) && len(key) > len(prefix) {
			prefixed[strings.TrimPrefix(key, prefix)] = value
		}
	}

	for key, value := range prefixed {
		env[key] = value
	}

	return env
}

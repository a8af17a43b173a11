package cli

import (
	"os"
	"strconv"
	"strings"

	envparse "github.com/caarlos0/env/v11"

	"github.com/aast-innovation/mlopsctl/internal/logging"
)

// baseEnv defines root CLI defaults sourced from MLOPSCTL_* env vars.
type baseEnv struct {
	// ConfigPath is the platform.yaml path from MLOPSCTL_CONFIG.
	ConfigPath string `env:"MLOPSCTL_CONFIG"`
	// Env is the environment name from MLOPSCTL_ENV.
	Env string `env:"MLOPSCTL_ENV"`
	// LogLevel is the logging level from MLOPSCTL_LOG_LEVEL.
	LogLevel string `env:"MLOPSCTL_LOG_LEVEL"`
	// LogFormat is the handler format from MLOPSCTL_LOG_FORMAT.
	LogFormat string `env:"MLOPSCTL_LOG_FORMAT"`
}

// apply copies non-empty values into opts.
func (b baseEnv) apply(opts *Options) {
	if v := strings.TrimSpace(b.ConfigPath); v != "" {
		opts.ConfigPath = v
	}
	if v := strings.TrimSpace(b.Env); v != "" {
		opts.Env = v
	}
	if strings.TrimSpace(b.LogLevel) != "" {
		opts.LogLevel = logging.ParseLevel(b.LogLevel)
	}
	if strings.TrimSpace(b.LogFormat) != "" {
		opts.LogFormat = logging.ParseFormat(b.LogFormat)
	}
}

// varsEnv describes inline vars and var files passed via env.
type varsEnv struct {
	// Vars is a k=v,k2=v2 list from MLOPSCTL_VARS.
	Vars string `env:"MLOPSCTL_VARS"`
	// VarFile is a YAML/ENV path from MLOPSCTL_VAR_FILE.
	VarFile string `env:"MLOPSCTL_VAR_FILE"`
}

// stackEnv captures stack selection and confirmation inputs for CI runs.
type stackEnv struct {
	// Only filters stacks from MLOPSCTL_ONLY_STACKS.
	Only string `env:"MLOPSCTL_ONLY_STACKS"`
	// Skip filters stacks from MLOPSCTL_SKIP_STACKS.
	Skip string `env:"MLOPSCTL_SKIP_STACKS"`
	// Yes confirms destructive operations from MLOPSCTL_YES.
	Yes string `env:"MLOPSCTL_YES"`
	// Timeout bounds stack operations from MLOPSCTL_TIMEOUT.
	Timeout string `env:"MLOPSCTL_TIMEOUT"`
}

// parseEnv fills target from MLOPSCTL_* env vars via caarlos0/env.
func parseEnv(target interface{}) error {
	return envparse.Parse(target)
}

// envPresent reports whether a non-empty env var exists.
func envPresent(key string) bool {
	val, ok := os.LookupEnv(key)
	if !ok {
		return false
	}
	return strings.TrimSpace(val) != ""
}

// parseEnvBool parses a boolean string and reports if it was present and valid.
func parseEnvBool(value string) (bool, bool) {
	if strings.TrimSpace(value) == "" {
		return false, false
	}
	parsed, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return false, false
	}
	return parsed, true
}

package config

import (
	"os"
	"runtime"
	"strconv"
	"strings"

	"lmerkit/internal/errors"
)

// Config represents the complete application configuration
type Config struct {
	LogLevel string
	Fit      FitConfig
	FDR      FDRConfig
	Output   OutputConfig
	Database DatabaseConfig
}

// FitConfig selects and tunes the grid fitting backend
type FitConfig struct {
	Backend     string // "ols" or "rscript"
	RscriptPath string
	Parallel    bool
	NCores      int
}

// FDRConfig holds the defaults for false discovery rate control
type FDRConfig struct {
	Alpha  float64
	Method string
}

// OutputConfig holds file system paths for plots and reports
type OutputConfig struct {
	Dir string
}

// DatabaseConfig holds the optional SQL sink DSN
type DatabaseConfig struct {
	URL string
}

// Backends understood by LMER_BACKEND
const (
	BackendOLS     = "ols"
	BackendRscript = "rscript"
)

// Load reads configuration from environment variables and validates it
func Load() (*Config, error) {
	config := &Config{
		LogLevel: getEnvOrDefault("LOG_LEVEL", "INFO"),
		Fit:      *loadFitConfig(),
		FDR:      *loadFDRConfig(),
		Output: OutputConfig{
			Dir: getEnvOrDefault("OUTPUT_DIR", "./lmer_out"),
		},
		Database: DatabaseConfig{
			URL: getEnvOrDefault("DATABASE_URL", ""),
		},
	}

	if err := validateConfig(config); err != nil {
		return nil, errors.Wrap(err, "configuration validation failed")
	}

	return config, nil
}

func loadFitConfig() *FitConfig {
	return &FitConfig{
		Backend:     strings.ToLower(getEnvOrDefault("LMER_BACKEND", BackendOLS)),
		RscriptPath: getEnvOrDefault("RSCRIPT_PATH", "Rscript"),
		Parallel:    getEnvBoolOrDefault("LMER_PARALLEL", true),
		NCores:      getEnvIntOrDefault("LMER_N_CORES", min(4, runtime.NumCPU())),
	}
}

func loadFDRConfig() *FDRConfig {
	return &FDRConfig{
		Alpha:  getEnvFloatOrDefault("FDR_ALPHA", 0.05),
		Method: strings.ToUpper(getEnvOrDefault("FDR_METHOD", "BY")),
	}
}

func validateConfig(config *Config) error {
	switch config.Fit.Backend {
	case BackendOLS, BackendRscript:
	default:
		return errors.ConfigInvalid("LMER_BACKEND must be ols or rscript, got " + config.Fit.Backend)
	}
	if config.Fit.NCores < 1 {
		return errors.ConfigInvalid("LMER_N_CORES must be at least 1")
	}
	if config.FDR.Alpha <= 0 || config.FDR.Alpha > 1 {
		return errors.ConfigInvalid("FDR_ALPHA must be in (0, 1]")
	}
	if config.FDR.Method != "BH" && config.FDR.Method != "BY" {
		return errors.ConfigInvalid("FDR_METHOD must be BH or BY")
	}
	if config.Output.Dir == "" {
		return errors.ConfigInvalid("OUTPUT_DIR is required")
	}
	return nil
}

// Helper functions for environment variable parsing
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

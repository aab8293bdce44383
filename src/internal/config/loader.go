package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"dealflow/src/internal/core"

	lconfig "github.com/lixenwraith/config"
)

const envPrefix = "DEALFLOW_"

func defaults() *Config {
	return &Config{
		Logging: DefaultLogConfig(),
		Pipeline: PipelineConfig{
			MinLevel:        "info",
			BatchSize:       core.DefaultBatchSize,
			FlushIntervalMS: core.DefaultFlushInterval.Milliseconds(),
			SinkTimeoutMS:   core.DefaultSinkTimeout.Milliseconds(),
			MaxRetryDelayMS: core.DefaultMaxRetryDelay.Milliseconds(),
			MaxAttempts:     0,
			Source:          core.SourceBackend,
			Mirror:          true,
		},
		Backend: BackendConfig{
			LogsTable: core.LogsTable,
			TimeoutMS: 10000,
		},
		FileSink: FileSinkConfig{
			Enabled:        false,
			Directory:      "./data",
			Name:           core.LogsTable,
			MaxSizeMB:      100,
			MaxTotalSizeMB: 1000,
			RetentionHours: 168,
		},
		Server: ServerConfig{
			Enabled:            true,
			Host:               "0.0.0.0",
			Port:               8080,
			ReadTimeoutMS:      10000,
			WriteTimeoutMS:     10000,
			MaxRequestBodySize: 1 * 1024 * 1024,
		},
		Ingest: IngestConfig{
			DefaultSource: core.SourceFrontend,
			HTTP:          IngestHTTPConfig{Enabled: true},
			TCP: IngestTCPConfig{
				Enabled:       false,
				Host:          "127.0.0.1",
				Port:          9090,
				MaxLineLength: 1 * 1024 * 1024,
			},
		},
		Identity: IdentityConfig{
			Audience: "authenticated",
		},
		RateLimit: RateLimitConfig{
			Enabled:           false,
			RequestsPerSecond: 10,
			Burst:             20,
			CleanupIntervalS:  60,
		},
	}
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return defaults()
}

// Load builds the configuration from, in order of precedence, CLI
// arguments ("--section.key=value"), DEALFLOW_* environment variables, the
// TOML file from GetConfigPath, and the defaults. A missing file is not an
// error.
func Load(cliArgs []string) (*Config, error) {
	configPath := GetConfigPath()

	cfg, err := lconfig.NewBuilder().
		WithDefaults(defaults()).
		WithEnvPrefix(envPrefix).
		WithFile(configPath).
		WithArgs(cliArgs).
		WithEnvTransform(customEnvTransform).
		WithSources(
			lconfig.SourceCLI,
			lconfig.SourceEnv,
			lconfig.SourceFile,
			lconfig.SourceDefault,
		).
		Build()

	if err != nil {
		if !strings.Contains(err.Error(), "not found") {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}

	finalConfig := &Config{}
	if err := cfg.Scan(finalConfig, ""); err != nil {
		return nil, fmt.Errorf("failed to scan config: %w", err)
	}

	return finalConfig, ValidateConfig(finalConfig)
}

// customEnvTransform maps "backend.api_key" to DEALFLOW_BACKEND_API_KEY.
func customEnvTransform(path string) string {
	env := strings.ReplaceAll(path, ".", "_")
	env = strings.ToUpper(env)
	return envPrefix + env
}

// GetConfigPath resolves the config file location from DEALFLOW_CONFIG_FILE
// and DEALFLOW_CONFIG_DIR, falling back to ~/.config/dealflow.toml.
func GetConfigPath() string {
	if configFile := os.Getenv(envPrefix + "CONFIG_FILE"); configFile != "" {
		if filepath.IsAbs(configFile) {
			return configFile
		}
		if configDir := os.Getenv(envPrefix + "CONFIG_DIR"); configDir != "" {
			return filepath.Join(configDir, configFile)
		}
		return configFile
	}

	if configDir := os.Getenv(envPrefix + "CONFIG_DIR"); configDir != "" {
		return filepath.Join(configDir, "dealflow.toml")
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(homeDir, ".config", "dealflow.toml")
	}

	return "dealflow.toml"
}

// Package config loads containust's runtime configuration the way ORCA's
// pkg/config did: viper-backed, environment-overridable, with sane
// defaults and directory creation baked into validation. The sections
// themselves are containust's own (spec.md §5 "Configuration").
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Config holds the full engine configuration (spec.md §5).
type Config struct {
	Engine  EngineConfig  `mapstructure:"engine"`
	Storage StorageConfig `mapstructure:"storage"`
	Logging LoggingConfig `mapstructure:"logging"`
	Status  StatusConfig  `mapstructure:"status"`
}

// EngineConfig controls runtime engine behavior.
type EngineConfig struct {
	// Offline disables any network image fetch, requiring file://
	// sources or a pre-populated local store (spec.md §4.3 "Offline
	// mode").
	Offline bool `mapstructure:"offline"`
	// SecretsDir is the fallback lookup directory for
	// runtime.resolveSecret when a secret isn't set as an environment
	// variable (spec.md §4.5 "Secrets").
	SecretsDir string `mapstructure:"secrets_dir"`
}

// StorageConfig controls where state and image data live on disk.
type StorageConfig struct {
	DataDir   string `mapstructure:"data_dir"`
	StateFile string `mapstructure:"state_file"`
}

// LoggingConfig controls logrus formatting (spec.md's ambient stack).
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// StatusConfig controls the optional read-only status HTTP API
// (SPEC_FULL.md's supplemented "status API" component).
type StatusConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

// DefaultConfig returns containust's out-of-the-box configuration.
func DefaultConfig() *Config {
	return &Config{
		Engine: EngineConfig{
			Offline:    false,
			SecretsDir: "/etc/containust/secrets",
		},
		Storage: StorageConfig{
			DataDir:   "/var/lib/containust",
			StateFile: "/var/lib/containust/state.json",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Status: StatusConfig{
			Enabled: false,
			Listen:  "127.0.0.1:7780",
		},
	}
}

// Load loads configuration from configPath (or the default search path)
// and CONTAINUST_-prefixed environment variables, falling back to
// DefaultConfig for anything unset.
func Load(configPath string) (*Config, error) {
	config := DefaultConfig()

	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.SetConfigName("containust")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/containust")
		viper.AddConfigPath("$HOME/.containust")
	}

	viper.SetEnvPrefix("CONTAINUST")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// CONTAINUST_OFFLINE, CONTAINUST_STATE_FILE and CONTAINUST_DATA_DIR
	// are named explicitly in spec.md §5 and take precedence over
	// whatever AutomaticEnv's nested-key guessing produces for them.
	if v := os.Getenv("CONTAINUST_OFFLINE"); v != "" {
		config.Engine.Offline = v == "1" || v == "true"
	}
	if v := os.Getenv("CONTAINUST_STATE_FILE"); v != "" {
		config.Storage.StateFile = v
	}
	if v := os.Getenv("CONTAINUST_DATA_DIR"); v != "" {
		config.Storage.DataDir = v
	}
	if v := os.Getenv("CONTAINUST_LOG"); v != "" {
		config.Logging.Level = v
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return config, nil
}

// validateConfig checks field values and creates the directories the
// engine expects to exist.
func validateConfig(config *Config) error {
	if err := os.MkdirAll(config.Storage.DataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(config.Storage.StateFile), 0o755); err != nil {
		return fmt.Errorf("failed to create state file directory: %w", err)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true, "fatal": true, "panic": true}
	if !validLevels[config.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", config.Logging.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[config.Logging.Format] {
		return fmt.Errorf("invalid log format: %s", config.Logging.Format)
	}

	return nil
}

// GetConfigDir returns containust's per-user configuration directory.
func GetConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".containust"), nil
}

// SaveConfig writes config to configPath, or to the default per-user
// location when configPath is empty.
func SaveConfig(config *Config, configPath string) error {
	viper.Set("engine", config.Engine)
	viper.Set("storage", config.Storage)
	viper.Set("logging", config.Logging)
	viper.Set("status", config.Status)

	if configPath == "" {
		configDir, err := GetConfigDir()
		if err != nil {
			return fmt.Errorf("failed to resolve config directory: %w", err)
		}
		if err := os.MkdirAll(configDir, 0o755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
		configPath = filepath.Join(configDir, "containust.yaml")
	}

	return viper.WriteConfigAs(configPath)
}

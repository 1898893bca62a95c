// Package config handles process configuration for Ensemble. Values load
// from a YAML config file, overridable by ENSEMBLE_* environment variables,
// on top of built-in defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all process configuration.
type Config struct {
	Provider ProviderConfig `mapstructure:"provider"`
	Store    StoreConfig    `mapstructure:"store"`
	Run      RunConfig      `mapstructure:"run"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ProviderConfig selects and parameterizes the inference provider.
type ProviderConfig struct {
	// Name is "anthropic", "openai" or "mock".
	Name   string `mapstructure:"name"`
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

// StoreConfig selects the durable backends.
type StoreConfig struct {
	// Backend is "memory", "sqlite" or "redis" (sessions; memories fall
	// back to sqlite when redis is selected).
	Backend    string `mapstructure:"backend"`
	SQLitePath string `mapstructure:"sqlite_path"`
	RedisURL   string `mapstructure:"redis_url"`
}

// RunConfig bounds request execution.
type RunConfig struct {
	StageTimeout  time.Duration `mapstructure:"stage_timeout"`
	MaxModelCalls int           `mapstructure:"max_model_calls"`
}

// LoggingConfig controls the process logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration with the following precedence, highest first:
// ENSEMBLE_* environment variables, the config file at path (optional), and
// built-in defaults. An empty path skips file loading entirely.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("ENSEMBLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if !os.IsNotExist(err) {
				if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
					return nil, fmt.Errorf("reading config file: %w", err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// DefaultDataDir returns the platform data directory for Ensemble state.
func DefaultDataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "ensemble")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "ensemble-data"
	}
	return filepath.Join(home, ".local", "share", "ensemble")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("provider.name", "anthropic")
	v.SetDefault("provider.model", "")
	v.SetDefault("store.backend", "memory")
	v.SetDefault("store.sqlite_path", filepath.Join(DefaultDataDir(), "ensemble.db"))
	v.SetDefault("store.redis_url", "redis://localhost:6379/0")
	v.SetDefault("run.stage_timeout", 2*time.Minute)
	v.SetDefault("run.max_model_calls", 25)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

func (c *Config) validate() error {
	switch c.Provider.Name {
	case "anthropic", "openai", "mock":
	default:
		return fmt.Errorf("unknown provider %q", c.Provider.Name)
	}
	switch c.Store.Backend {
	case "memory", "sqlite", "redis":
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	return nil
}

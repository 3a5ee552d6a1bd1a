// Package config handles configuration management for rdev.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Servers map[string]ServerConfig `mapstructure:"servers"`
	Session SessionConfig           `mapstructure:"session"`
	History HistoryConfig           `mapstructure:"history"`
	Logging LoggingConfig           `mapstructure:"logging"`
}

// ServerConfig describes one remote host. A session referencing a server name
// not present in this map falls back to treating the name as an ssh alias.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	User         string `mapstructure:"user"`
	Port         int    `mapstructure:"port"`
	IdentityFile string `mapstructure:"identity_file"`
}

// SessionConfig holds per-session defaults applied when a start request
// leaves the corresponding option unset.
type SessionConfig struct {
	DebounceMS          int      `mapstructure:"debounce_ms"`
	PollIntervalSeconds int      `mapstructure:"poll_interval_seconds"`
	LogLines            int      `mapstructure:"log_lines"`
	FollowSeconds       int      `mapstructure:"follow_seconds"`
	SyncTimeoutSeconds  int      `mapstructure:"sync_timeout_seconds"`
	RunTimeoutSeconds   int      `mapstructure:"run_timeout_seconds"`
	ExcludePatterns     []string `mapstructure:"exclude_patterns"`
}

// HistoryConfig holds cycle history storage configuration.
type HistoryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load loads configuration from files and environment.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set config file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Default search paths, first match wins
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.rdev")
		v.AddConfigPath("/etc/rdev")
	}

	// Environment variable prefix
	v.SetEnvPrefix("RDEV")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Set defaults
	setDefaults(v)

	// Read config file (optional - not an error if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}

	// Post-process configuration
	if err := postProcess(&cfg); err != nil {
		return nil, err
	}

	// Validate configuration
	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Session defaults
	v.SetDefault("session.debounce_ms", 500)
	v.SetDefault("session.poll_interval_seconds", 10)
	v.SetDefault("session.log_lines", 50)
	v.SetDefault("session.follow_seconds", 2)
	v.SetDefault("session.sync_timeout_seconds", 300)
	v.SetDefault("session.run_timeout_seconds", 300)
	v.SetDefault("session.exclude_patterns", DefaultExcludePatterns)

	// History defaults
	v.SetDefault("history.enabled", true)
	v.SetDefault("history.path", "")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
}

// postProcess applies post-processing to configuration.
func postProcess(cfg *Config) error {
	// Expand ~ in identity file paths
	for name, srv := range cfg.Servers {
		expanded, err := expandHome(srv.IdentityFile)
		if err != nil {
			return fmt.Errorf("server %s: %w", name, err)
		}
		srv.IdentityFile = expanded
		cfg.Servers[name] = srv
	}

	// Default history path lives under the config dir
	if cfg.History.Enabled && cfg.History.Path == "" {
		dir, err := GetConfigDir()
		if err != nil {
			return fmt.Errorf("failed to resolve history path: %w", err)
		}
		cfg.History.Path = filepath.Join(dir, "history.db")
	}

	return nil
}

// expandHome replaces a leading ~ with the user home directory.
func expandHome(path string) (string, error) {
	if path == "" || !strings.HasPrefix(path, "~") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

// GetConfigDir returns the user config directory for rdev.
func GetConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".rdev"), nil
}

// EnsureConfigDir ensures the config directory exists.
func EnsureConfigDir() (string, error) {
	dir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	return dir, nil
}

package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/rdevtools/rdev/internal/config"
)

var (
	configInitLocal bool
	configInitForce bool
)

// configCmd displays or manages configuration.
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Display and manage configuration",
	Long: `Display and manage rdev configuration.

Without subcommands, shows the current effective configuration.

Examples:
  rdev config              # Show current config
  rdev config init         # Create config file with defaults
  rdev config path         # Show config file locations`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		return printEffectiveConfig(cfg)
	},
}

// configInitCmd creates a config file with defaults.
var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a config file with default settings",
	Long: `Create a config file with default settings and documentation.

By default, creates ~/.rdev/config.yaml.
Use --local to create ./config.yaml in the current directory.

Examples:
  rdev config init          # Create ~/.rdev/config.yaml
  rdev config init --local  # Create ./config.yaml
  rdev config init --force  # Overwrite existing file`,
	RunE: runConfigInit,
}

// configPathCmd shows config file locations.
var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show config file locations",
	Run:   runConfigPath,
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)

	configInitCmd.Flags().BoolVar(&configInitLocal, "local", false, "create config in current directory instead of ~/.rdev/")
	configInitCmd.Flags().BoolVar(&configInitForce, "force", false, "overwrite existing config file")
}

func printEffectiveConfig(cfg *config.Config) error {
	out := map[string]interface{}{
		"servers": cfg.Servers,
		"session": map[string]interface{}{
			"debounce_ms":           cfg.Session.DebounceMS,
			"poll_interval_seconds": cfg.Session.PollIntervalSeconds,
			"log_lines":             cfg.Session.LogLines,
			"follow_seconds":        cfg.Session.FollowSeconds,
			"sync_timeout_seconds":  cfg.Session.SyncTimeoutSeconds,
			"run_timeout_seconds":   cfg.Session.RunTimeoutSeconds,
			"exclude_patterns":      cfg.Session.ExcludePatterns,
		},
		"history": map[string]interface{}{
			"enabled": cfg.History.Enabled,
			"path":    cfg.History.Path,
		},
		"logging": map[string]interface{}{
			"level":  cfg.Logging.Level,
			"format": cfg.Logging.Format,
		},
	}

	data, err := yaml.Marshal(out)
	if err != nil {
		return err
	}
	fmt.Print(string(data))
	return nil
}

const defaultConfigTemplate = `# rdev configuration
#
# Servers known to rdev. A session's server may also be a plain ssh alias
# from ~/.ssh/config; entries here add explicit connection parameters.
servers:
  # devbox:
  #   host: devbox.example.com
  #   user: dev
  #   port: 22
  #   identity_file: ~/.ssh/id_ed25519

session:
  # Milliseconds to wait after the last file change before syncing.
  debounce_ms: 500
  # Seconds between liveness polls of a long-mode remote process.
  poll_interval_seconds: 10
  # Lines fetched when tailing the remote log.
  log_lines: 50
  # Seconds to follow the remote log per poll (0 = plain tail).
  follow_seconds: 2
  # Per-call timeouts in seconds.
  sync_timeout_seconds: 300
  run_timeout_seconds: 300
  # Patterns never synced or watched.
  # exclude_patterns:
  #   - .git
  #   - node_modules
  #   - "*.pyc"

history:
  # Record every sync cycle in a local SQLite database (rdev history).
  enabled: true
  # path: ~/.rdev/history.db

logging:
  # trace, debug, info, warn, error
  level: info
  # console or json
  format: console
`

func runConfigInit(cmd *cobra.Command, args []string) error {
	var configPath string

	if configInitLocal {
		configPath = "config.yaml"
	} else {
		configDir, err := config.EnsureConfigDir()
		if err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
		configPath = filepath.Join(configDir, "config.yaml")
	}

	if _, err := os.Stat(configPath); err == nil {
		if !configInitForce {
			return fmt.Errorf("config file already exists: %s\nUse --force to overwrite", configPath)
		}
	}

	if err := os.WriteFile(configPath, []byte(defaultConfigTemplate), 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	fmt.Printf("Created %s\n", configPath)
	fmt.Println("Edit this file to add your servers.")
	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) {
	configDir, err := config.GetConfigDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error getting config dir: %v\n", err)
		os.Exit(1)
	}

	locations := []string{
		"./config.yaml",
		filepath.Join(configDir, "config.yaml"),
		"/etc/rdev/config.yaml",
	}

	fmt.Println("Config search paths (in order):")
	for i, loc := range locations {
		exists := "not found"
		if _, err := os.Stat(loc); err == nil {
			exists = "exists"
		}
		fmt.Printf("  %d. %s (%s)\n", i+1, loc, exists)
	}

	fmt.Printf("\nConfig directory: %s\n", configDir)
}

package config

import (
	"fmt"
	"os"
)

// Bounds for session timing options. Applied to configured defaults here and
// to per-session start options before any I/O.
const (
	MinDebounceMS = 0
	MaxDebounceMS = 60000

	MinPollIntervalSeconds = 1
	MaxPollIntervalSeconds = 3600

	MinLogLines = 1
	MaxLogLines = 1000

	MinFollowSeconds = 0
	MaxFollowSeconds = 60

	MinTimeoutSeconds = 1
	MaxTimeoutSeconds = 3600
)

// Validate validates the configuration.
func Validate(cfg *Config) error {
	if err := validateServers(cfg.Servers); err != nil {
		return err
	}

	if err := validateSession(&cfg.Session); err != nil {
		return err
	}

	if err := validateLogging(&cfg.Logging); err != nil {
		return err
	}

	return nil
}

func validateServers(servers map[string]ServerConfig) error {
	for name, srv := range servers {
		if name == "" {
			return fmt.Errorf("servers: server name cannot be empty")
		}
		if srv.Host == "" {
			return fmt.Errorf("servers.%s.host cannot be empty", name)
		}
		if srv.Port != 0 && (srv.Port < 1 || srv.Port > 65535) {
			return fmt.Errorf("servers.%s.port must be between 1 and 65535", name)
		}
		if srv.IdentityFile != "" {
			if err := validateExistingFile(srv.IdentityFile, fmt.Sprintf("servers.%s.identity_file", name)); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateSession(cfg *SessionConfig) error {
	if cfg.DebounceMS < MinDebounceMS || cfg.DebounceMS > MaxDebounceMS {
		return fmt.Errorf("session.debounce_ms must be between %d and %d", MinDebounceMS, MaxDebounceMS)
	}
	if cfg.PollIntervalSeconds < MinPollIntervalSeconds || cfg.PollIntervalSeconds > MaxPollIntervalSeconds {
		return fmt.Errorf("session.poll_interval_seconds must be between %d and %d", MinPollIntervalSeconds, MaxPollIntervalSeconds)
	}
	if cfg.LogLines < MinLogLines || cfg.LogLines > MaxLogLines {
		return fmt.Errorf("session.log_lines must be between %d and %d", MinLogLines, MaxLogLines)
	}
	if cfg.FollowSeconds < MinFollowSeconds || cfg.FollowSeconds > MaxFollowSeconds {
		return fmt.Errorf("session.follow_seconds must be between %d and %d", MinFollowSeconds, MaxFollowSeconds)
	}
	if cfg.SyncTimeoutSeconds < MinTimeoutSeconds || cfg.SyncTimeoutSeconds > MaxTimeoutSeconds {
		return fmt.Errorf("session.sync_timeout_seconds must be between %d and %d", MinTimeoutSeconds, MaxTimeoutSeconds)
	}
	if cfg.RunTimeoutSeconds < MinTimeoutSeconds || cfg.RunTimeoutSeconds > MaxTimeoutSeconds {
		return fmt.Errorf("session.run_timeout_seconds must be between %d and %d", MinTimeoutSeconds, MaxTimeoutSeconds)
	}
	return nil
}

func validateLogging(cfg *LoggingConfig) error {
	switch cfg.Level {
	case "trace", "debug", "info", "warn", "error", "fatal", "panic", "":
	default:
		return fmt.Errorf("logging.level is not a valid level: %s", cfg.Level)
	}
	switch cfg.Format {
	case "console", "json", "":
	default:
		return fmt.Errorf("logging.format must be console or json")
	}
	return nil
}

func validateExistingFile(path, fieldName string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%s does not exist: %s", fieldName, path)
		}
		return fmt.Errorf("unable to access %s (%s): %w", fieldName, path, err)
	}

	if info.IsDir() {
		return fmt.Errorf("%s must be a file, not a directory: %s", fieldName, path)
	}

	return nil
}

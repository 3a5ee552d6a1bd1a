package session

import (
	"regexp"
	"time"

	"github.com/rdevtools/rdev/internal/config"
	"github.com/rdevtools/rdev/internal/domain"
	"github.com/rdevtools/rdev/internal/syncer"
)

// StartOptions are the arguments to Registry.Start. Zero values for the
// timing fields fall back to the configured session defaults.
type StartOptions struct {
	Name          string
	Server        string
	LocalPath     string
	RemotePath    string
	RemoteWorkDir string
	Mode          string
	Command       string
	Excludes      []string
	Method        string
	DeleteExtra   bool

	DebounceMS          int
	PollIntervalSeconds int
	LogLines            int
	FollowSeconds       int
}

// sessionNamePattern restricts names to filesystem- and shell-safe tokens.
var sessionNamePattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// applyDefaults fills unset options from the configured session defaults.
func (o *StartOptions) applyDefaults(defaults config.SessionConfig) {
	if o.Name == "" {
		o.Name = "session"
	}
	if o.Method == "" {
		o.Method = syncer.MethodAuto
	}
	if o.DebounceMS == 0 {
		o.DebounceMS = defaults.DebounceMS
	}
	if o.PollIntervalSeconds == 0 {
		o.PollIntervalSeconds = defaults.PollIntervalSeconds
	}
	if o.LogLines == 0 {
		o.LogLines = defaults.LogLines
	}
	if o.FollowSeconds == 0 {
		o.FollowSeconds = defaults.FollowSeconds
	}
	if len(o.Excludes) == 0 {
		o.Excludes = defaults.ExcludePatterns
	}
}

// validate checks the options before any I/O happens. Returned errors are
// *domain.ValidationError naming the offending field.
func (o *StartOptions) validate() error {
	if !sessionNamePattern.MatchString(o.Name) {
		return domain.NewValidationError("session_name", "must contain only letters, digits, dot, underscore or dash")
	}
	if o.Server == "" {
		return domain.NewValidationError("server", "is required")
	}
	if o.LocalPath == "" {
		return domain.NewValidationError("local_path", "is required")
	}
	if o.RemotePath == "" {
		return domain.NewValidationError("remote_path", "is required")
	}

	switch o.Mode {
	case ModeShort, ModeLong:
	default:
		return domain.NewValidationError("mode", "must be short or long")
	}
	if o.Command == "" {
		return domain.NewValidationError("command", "is required")
	}

	switch o.Method {
	case syncer.MethodAuto, syncer.MethodRsync, syncer.MethodSCP:
	default:
		return domain.NewValidationError("method", "must be auto, rsync or scp")
	}

	if o.DebounceMS < config.MinDebounceMS || o.DebounceMS > config.MaxDebounceMS {
		return domain.NewValidationError("debounce_ms", "out of range")
	}
	if o.PollIntervalSeconds < config.MinPollIntervalSeconds || o.PollIntervalSeconds > config.MaxPollIntervalSeconds {
		return domain.NewValidationError("poll_interval_seconds", "out of range")
	}
	if o.LogLines < config.MinLogLines || o.LogLines > config.MaxLogLines {
		return domain.NewValidationError("log_lines", "out of range")
	}
	if o.FollowSeconds < config.MinFollowSeconds || o.FollowSeconds > config.MaxFollowSeconds {
		return domain.NewValidationError("follow_seconds", "out of range")
	}

	return nil
}

func (o *StartOptions) debounce() time.Duration {
	return time.Duration(o.DebounceMS) * time.Millisecond
}

func (o *StartOptions) pollInterval() time.Duration {
	return time.Duration(o.PollIntervalSeconds) * time.Second
}

func (o *StartOptions) followWindow() time.Duration {
	return time.Duration(o.FollowSeconds) * time.Second
}

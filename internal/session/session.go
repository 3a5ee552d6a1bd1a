// Package session implements the watch-sync-run session registry and its
// cycle orchestration.
package session

import (
	"sort"
	"sync"
	"time"

	"github.com/rdevtools/rdev/internal/executil"
	"github.com/rdevtools/rdev/internal/remote"
	"github.com/rdevtools/rdev/internal/syncer"
	"github.com/rdevtools/rdev/internal/watcher"
)

// Status represents the current state of a session.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusSyncing   Status = "syncing"
	StatusExecuting Status = "executing"
	StatusError     Status = "error"
	StatusStopped   Status = "stopped"
)

// Run modes.
const (
	ModeShort = "short"
	ModeLong  = "long"
)

// maxSnapshotPaths caps the pending path list exposed on a snapshot.
const maxSnapshotPaths = 200

// Session is a persistent watch-sync-run unit bound to one local path, one
// remote target and one run mode. All mutable state is guarded by mu; the
// registry owns the watcher and timers and tears them down exactly once.
type Session struct {
	mu sync.Mutex

	// Immutable after creation
	ID            string
	Name          string
	Server        string
	LocalPath     string
	RemotePath    string
	RemoteWorkDir string
	Excludes      []string
	Method        string
	DeleteExtra   bool
	Mode          string
	Command       string

	Debounce     time.Duration
	PollInterval time.Duration
	LogLines     int
	FollowWindow time.Duration
	SyncTimeout  time.Duration
	RunTimeout   time.Duration

	transport *remote.Transport
	startedAt time.Time

	// Cycle state
	status        Status
	lastOperation string
	lastError     string
	cycleRunning  bool
	pending       bool
	stopped       bool
	pendingPaths  map[string]struct{}

	syncCount  int
	runCount   int
	lastSyncAt time.Time
	lastRunAt  time.Time

	lastSync *syncer.Result
	lastRun  *executil.Result

	// Long mode state
	remotePID       string
	logFile         string
	processRunning  bool
	lastProcessInfo string
	lastLogTail     string
	lastLogErr      string

	// Owned handles
	debounceTimer *time.Timer
	watch         *watcher.Watcher
	pollStop      chan struct{}
}

// Snapshot is the serializable view of a session returned by the registry
// operations. Status is coarse (running, stopped or error); State carries
// the fine-grained label.
type Snapshot struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Status        string    `json:"status"`
	State         Status    `json:"state"`
	Mode          string    `json:"mode"`
	Server        string    `json:"server"`
	LocalPath     string    `json:"local_path"`
	RemotePath    string    `json:"remote_path"`
	RemoteWorkDir string    `json:"remote_working_dir,omitempty"`
	StartedAt     time.Time `json:"started_at"`

	SyncCount  int        `json:"sync_count"`
	RunCount   int        `json:"run_count"`
	LastSyncAt *time.Time `json:"last_sync_at,omitempty"`
	LastRunAt  *time.Time `json:"last_run_at,omitempty"`

	PendingPaths  []string `json:"pending_paths,omitempty"`
	LastOperation string   `json:"last_operation,omitempty"`
	LastError     string   `json:"last_error,omitempty"`

	PID            string `json:"pid,omitempty"`
	LogFile        string `json:"log_file,omitempty"`
	ProcessRunning bool   `json:"is_process_running"`
	ProcessInfo    string `json:"process_info,omitempty"`
	LogTail        string `json:"log_tail,omitempty"`
	LogTailError   string `json:"log_tail_error,omitempty"`

	LastSync *syncer.Result   `json:"last_sync,omitempty"`
	LastRun  *executil.Result `json:"last_run,omitempty"`
}

// Snapshot returns a point-in-time copy of the session's state.
func (s *Session) Snapshot() *Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := &Snapshot{
		ID:             s.ID,
		Name:           s.Name,
		Status:         coarseStatus(s.status),
		State:          s.status,
		Mode:           s.Mode,
		Server:         s.Server,
		LocalPath:      s.LocalPath,
		RemotePath:     s.RemotePath,
		RemoteWorkDir:  s.RemoteWorkDir,
		StartedAt:      s.startedAt,
		SyncCount:      s.syncCount,
		RunCount:       s.runCount,
		LastOperation:  s.lastOperation,
		LastError:      s.lastError,
		PID:            s.remotePID,
		LogFile:        s.logFile,
		ProcessRunning: s.processRunning,
		ProcessInfo:    s.lastProcessInfo,
		LogTail:        s.lastLogTail,
		LogTailError:   s.lastLogErr,
		LastSync:       s.lastSync,
		LastRun:        s.lastRun,
	}

	if !s.lastSyncAt.IsZero() {
		t := s.lastSyncAt
		snap.LastSyncAt = &t
	}
	if !s.lastRunAt.IsZero() {
		t := s.lastRunAt
		snap.LastRunAt = &t
	}

	paths := make([]string, 0, len(s.pendingPaths))
	for p := range s.pendingPaths {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	if len(paths) > maxSnapshotPaths {
		paths = paths[:maxSnapshotPaths]
	}
	snap.PendingPaths = paths

	return snap
}

// coarseStatus reduces the internal state set to the external status triple.
func coarseStatus(status Status) string {
	switch status {
	case StatusStopped:
		return "stopped"
	case StatusError:
		return "error"
	default:
		return "running"
	}
}

// recordChange adds a path to the changed set and reschedules the debounce
// timer. A stopped session ignores changes entirely. The empty path, raised
// by events without a usable name, still arms the timer.
func (s *Session) recordChange(relPath string, trigger func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}

	if relPath != "" {
		s.pendingPaths[relPath] = struct{}{}
	}

	if s.debounceTimer != nil {
		s.debounceTimer.Stop()
	}
	s.debounceTimer = time.AfterFunc(s.Debounce, trigger)
}

// Stopped reports whether stop has been requested.
func (s *Session) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// workDir returns the directory remote commands run in.
func (s *Session) workDir() string {
	if s.RemoteWorkDir != "" {
		return s.RemoteWorkDir
	}
	return s.RemotePath
}

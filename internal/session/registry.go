package session

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/rdevtools/rdev/internal/config"
	"github.com/rdevtools/rdev/internal/domain"
	"github.com/rdevtools/rdev/internal/domain/events"
	"github.com/rdevtools/rdev/internal/domain/ports"
	"github.com/rdevtools/rdev/internal/executil"
	"github.com/rdevtools/rdev/internal/remote"
	"github.com/rdevtools/rdev/internal/syncer"
	"github.com/rdevtools/rdev/internal/watcher"
)

// CycleRecord summarizes one completed sync cycle for diagnostic history.
type CycleRecord struct {
	SessionID    string
	Name         string
	Server       string
	Method       string
	FallbackUsed bool
	ExitCode     int
	Success      bool
	Error        string
	StartedAt    time.Time
	FinishedAt   time.Time
}

// Recorder receives a record after every sync cycle. Recording is
// best-effort; implementations must not block for long.
type Recorder interface {
	Record(rec CycleRecord)
}

// Registry holds all live sessions by identifier and owns their watchers
// and timers.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	cfg      *config.Config
	hub      ports.EventHub
	engine   *syncer.Engine
	run      syncer.Runner
	recorder Recorder

	ctx    context.Context
	cancel context.CancelFunc
}

// NewRegistry creates a registry backed by real subprocess execution.
func NewRegistry(cfg *config.Config, hub ports.EventHub) *Registry {
	return NewRegistryWithRunner(cfg, hub, executil.Run)
}

// NewRegistryWithRunner creates a registry with a custom subprocess runner.
// Tests use this to script remote call outcomes.
func NewRegistryWithRunner(cfg *config.Config, hub ports.EventHub, run syncer.Runner) *Registry {
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		sessions: make(map[string]*Session),
		cfg:      cfg,
		hub:      hub,
		engine:   syncer.NewWithRunner(run),
		run:      run,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// SetRecorder installs a cycle history recorder.
func (r *Registry) SetRecorder(rec Recorder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recorder = rec
}

// Start validates the options, creates a session, begins watching and runs
// the initial cycle before returning its snapshot.
func (r *Registry) Start(opts StartOptions) (*Snapshot, error) {
	opts.applyDefaults(r.cfg.Session)
	if err := opts.validate(); err != nil {
		return nil, err
	}

	info, err := os.Stat(opts.LocalPath)
	if err != nil {
		return nil, domain.NewValidationError("local_path", fmt.Sprintf("cannot access: %v", err))
	}
	if !info.IsDir() {
		return nil, domain.NewValidationError("local_path", "must be a directory")
	}

	id := fmt.Sprintf("%s-%s-%s",
		opts.Name,
		time.Now().UTC().Format("20060102150405"),
		uuid.New().String()[:8],
	)

	sess := &Session{
		ID:            id,
		Name:          opts.Name,
		Server:        opts.Server,
		LocalPath:     opts.LocalPath,
		RemotePath:    opts.RemotePath,
		RemoteWorkDir: opts.RemoteWorkDir,
		Excludes:      opts.Excludes,
		Method:        opts.Method,
		DeleteExtra:   opts.DeleteExtra,
		Mode:          opts.Mode,
		Command:       opts.Command,
		Debounce:      opts.debounce(),
		PollInterval:  opts.pollInterval(),
		LogLines:      opts.LogLines,
		FollowWindow:  opts.followWindow(),
		SyncTimeout:   time.Duration(r.cfg.Session.SyncTimeoutSeconds) * time.Second,
		RunTimeout:    time.Duration(r.cfg.Session.RunTimeoutSeconds) * time.Second,
		transport:     remote.Resolve(opts.Server, r.cfg.Servers),
		startedAt:     time.Now().UTC(),
		status:        StatusIdle,
		pendingPaths:  make(map[string]struct{}),
		pollStop:      make(chan struct{}),
	}

	sess.watch = watcher.New(opts.LocalPath, opts.Excludes, func(relPath string) {
		r.hub.Publish(events.NewFileChangedEvent(sess.ID, relPath))
		sess.recordChange(relPath, func() { r.trigger(sess) })
	})
	if err := sess.watch.Start(r.ctx); err != nil {
		return nil, fmt.Errorf("failed to start watcher: %w", err)
	}

	r.mu.Lock()
	r.sessions[id] = sess
	r.mu.Unlock()

	if sess.Mode == ModeLong {
		go r.pollLoop(sess)
	}

	r.hub.Publish(events.NewSessionStartedEvent(id, sess.Name, sess.Server, sess.Mode))

	log.Info().
		Str("session_id", id).
		Str("server", sess.Server).
		Str("mode", sess.Mode).
		Str("local_path", sess.LocalPath).
		Str("remote_path", sess.RemotePath).
		Msg("session started")

	// Initial cycle
	r.trigger(sess)

	return sess.Snapshot(), nil
}

// Status returns a session's snapshot, optionally forcing one cycle first.
func (r *Registry) Status(id string, triggerNow bool) (*Snapshot, error) {
	sess, err := r.get(id)
	if err != nil {
		return nil, err
	}

	if triggerNow && !sess.Stopped() {
		r.trigger(sess)
	}

	return sess.Snapshot(), nil
}

// validSignal restricts kill signal names to safe tokens.
var validSignal = regexp.MustCompile(`^[A-Z0-9]+$`)

// Stop halts a session: the debounce timer, the poll loop and the watcher
// are torn down before this call returns, and no new cycles are scheduled.
// An in-flight cycle finishes naturally. With stopRemote the recorded
// background process is signalled and the kill result returned; an invalid
// signal name fails validation before any teardown happens. The record
// stays queryable after stop.
func (r *Registry) Stop(id string, stopRemote bool, signal string) (*Snapshot, *executil.Result, error) {
	sess, err := r.get(id)
	if err != nil {
		return nil, nil, err
	}

	sig := strings.ToUpper(strings.TrimPrefix(signal, "SIG"))
	if sig == "" {
		sig = "TERM"
	}
	if stopRemote && !validSignal.MatchString(sig) {
		return nil, nil, domain.NewValidationError("signal", "is not a valid signal name")
	}

	sess.mu.Lock()
	alreadyStopped := sess.stopped
	if !alreadyStopped {
		sess.stopped = true
		sess.status = StatusStopped
		if sess.debounceTimer != nil {
			sess.debounceTimer.Stop()
			sess.debounceTimer = nil
		}
		close(sess.pollStop)
	}
	pid := sess.remotePID
	sess.mu.Unlock()

	if !alreadyStopped {
		if sess.watch != nil {
			_ = sess.watch.Stop()
		}
		r.hub.Publish(events.NewSessionStoppedEvent(id, sess.Name, sess.Server, sess.Mode))
		log.Info().Str("session_id", id).Msg("session stopped")
	}

	var killResult *executil.Result
	if stopRemote && pid != "" {
		killResult = r.run(r.ctx, executil.Spec{
			Program: "ssh",
			Args:    sess.transport.SSHArgs(fmt.Sprintf("kill -%s %s", sig, remote.Quote(pid))),
			Timeout: 30 * time.Second,
		})
		log.Info().
			Str("session_id", id).
			Str("pid", pid).
			Str("signal", sig).
			Int("exit_code", killResult.ExitCode).
			Msg("remote process signalled")
	}

	return sess.Snapshot(), killResult, nil
}

// List returns snapshots for every session, stopped ones included.
func (r *Registry) List() []*Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*Snapshot, 0, len(r.sessions))
	for _, sess := range r.sessions {
		result = append(result, sess.Snapshot())
	}
	return result
}

// StopAll stops every live session. Used on daemon shutdown.
func (r *Registry) StopAll() {
	r.mu.RLock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	for _, id := range ids {
		_, _, _ = r.Stop(id, false, "")
	}
	r.cancel()
}

// get looks up a session by ID.
func (r *Registry) get(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sess, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, id)
	}
	return sess, nil
}

// record hands a cycle record to the recorder if one is installed.
func (r *Registry) record(rec CycleRecord) {
	r.mu.RLock()
	recorder := r.recorder
	r.mu.RUnlock()
	if recorder != nil {
		recorder.Record(rec)
	}
}

package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rdevtools/rdev/internal/domain"
	"github.com/rdevtools/rdev/internal/domain/events"
	"github.com/rdevtools/rdev/internal/executil"
	"github.com/rdevtools/rdev/internal/remote"
	"github.com/rdevtools/rdev/internal/syncer"
)

// pidMarker tags the PID echoed by the detached start command so it can be
// picked out of arbitrary shell output.
const pidMarker = "__RDEV_PID__"

// trigger runs sync cycles for a session under the single-flight rule: at
// most one cycle runs at a time, and changes arriving during a cycle
// coalesce into exactly one follow-up cycle. Callers that lose the race set
// the pending flag and return immediately.
func (r *Registry) trigger(sess *Session) {
	sess.mu.Lock()
	if sess.stopped {
		sess.mu.Unlock()
		return
	}
	if sess.cycleRunning {
		sess.pending = true
		sess.mu.Unlock()
		return
	}
	sess.cycleRunning = true
	sess.pending = false
	sess.mu.Unlock()

	defer func() {
		if rec := recover(); rec != nil {
			log.Error().
				Str("session_id", sess.ID).
				Interface("panic", rec).
				Msg("cycle panicked")
			sess.mu.Lock()
			sess.cycleRunning = false
			sess.pending = false
			if !sess.stopped {
				sess.status = StatusError
				sess.lastError = fmt.Sprintf("internal error: %v", rec)
			}
			sess.mu.Unlock()
		}
	}()

	for {
		r.runCycle(sess)

		sess.mu.Lock()
		if sess.pending && !sess.stopped {
			sess.pending = false
			sess.mu.Unlock()
			continue
		}
		sess.cycleRunning = false
		sess.mu.Unlock()
		return
	}
}

// runCycle performs one sync followed by the mode-specific run step.
func (r *Registry) runCycle(sess *Session) {
	startedAt := time.Now().UTC()

	sess.mu.Lock()
	sess.setState(StatusSyncing)
	sess.lastOperation = "sync"
	sess.lastError = ""
	synced := make([]string, 0, len(sess.pendingPaths))
	for p := range sess.pendingPaths {
		synced = append(synced, p)
	}
	sess.mu.Unlock()

	res := r.engine.Sync(r.ctx, syncer.Request{
		Transport:   sess.transport,
		LocalPath:   sess.LocalPath,
		RemotePath:  sess.RemotePath,
		Excludes:    sess.Excludes,
		Method:      sess.Method,
		DeleteExtra: sess.DeleteExtra,
		Timeout:     sess.SyncTimeout,
	})

	rec := CycleRecord{
		SessionID:    sess.ID,
		Name:         sess.Name,
		Server:       sess.Server,
		Method:       res.Method,
		FallbackUsed: res.FallbackUsed,
		ExitCode:     res.ExitCode,
		Success:      res.Success,
		StartedAt:    startedAt,
	}

	sess.mu.Lock()
	sess.lastSync = res
	if !res.Success {
		err := domain.NewSyncError(res.Method, res.ExitCode, res.Output)
		sess.setState(StatusError)
		sess.lastError = err.Error()
		sess.mu.Unlock()

		log.Warn().
			Str("session_id", sess.ID).
			Str("method", res.Method).
			Int("exit_code", res.ExitCode).
			Msg("sync failed")
		r.hub.Publish(events.NewSyncCompletedEvent(sess.ID, res.Method, res.FallbackUsed, res.ExitCode, false))
		r.hub.Publish(events.NewSessionErrorEvent(sess.ID, sess.Name, err))

		rec.Error = err.Error()
		rec.FinishedAt = time.Now().UTC()
		r.record(rec)
		return
	}

	sess.syncCount++
	sess.lastSyncAt = time.Now().UTC()
	for _, p := range synced {
		delete(sess.pendingPaths, p)
	}
	sess.mu.Unlock()

	log.Debug().
		Str("session_id", sess.ID).
		Str("method", res.Method).
		Bool("fallback", res.FallbackUsed).
		Msg("sync completed")
	r.hub.Publish(events.NewSyncCompletedEvent(sess.ID, res.Method, res.FallbackUsed, res.ExitCode, true))

	switch sess.Mode {
	case ModeShort:
		r.runShort(sess)
	case ModeLong:
		r.ensureTask(sess)
	}

	sess.mu.Lock()
	if sess.status != StatusError {
		sess.setState(StatusIdle)
	}
	if rec.Error == "" {
		rec.Error = sess.lastError
	}
	sess.mu.Unlock()

	rec.FinishedAt = time.Now().UTC()
	r.record(rec)
}

// runShort executes the session command once on the remote host. A nonzero
// exit is a diagnostic, not a session failure.
func (r *Registry) runShort(sess *Session) {
	sess.mu.Lock()
	sess.setState(StatusExecuting)
	sess.lastOperation = "run"
	sess.mu.Unlock()

	res := r.run(r.ctx, executil.Spec{
		Program: "ssh",
		Args:    sess.transport.SSHArgs(remote.CD(sess.workDir(), sess.Command)),
		Timeout: sess.RunTimeout,
	})

	sess.mu.Lock()
	sess.lastRun = res
	sess.runCount++
	sess.lastRunAt = time.Now().UTC()
	sess.mu.Unlock()

	if res.ExitCode != 0 {
		log.Warn().
			Str("session_id", sess.ID).
			Int("exit_code", res.ExitCode).
			Str("stderr", res.Stderr).
			Msg("remote command exited nonzero")
	}
	r.hub.Publish(events.NewRunCompletedEvent(sess.ID, sess.Command, res.ExitCode))
}

// ensureTask makes sure the long-mode background process is running,
// starting a detached instance when the recorded PID is gone. It never
// restarts a process it believes to be alive.
func (r *Registry) ensureTask(sess *Session) {
	sess.mu.Lock()
	sess.setState(StatusExecuting)
	sess.lastOperation = "run"
	pid := sess.remotePID
	sess.mu.Unlock()

	if pid != "" && r.processAlive(sess, pid) {
		return
	}

	logFile := fmt.Sprintf("/tmp/rdev-%s.log", sess.ID)
	start := fmt.Sprintf("cd %s && nohup sh -c %s > %s 2>&1 < /dev/null & echo %s$!",
		remote.Quote(sess.workDir()),
		remote.Quote(sess.Command),
		remote.Quote(logFile),
		pidMarker,
	)

	res := r.run(r.ctx, executil.Spec{
		Program: "ssh",
		Args:    sess.transport.SSHArgs(start),
		Timeout: sess.RunTimeout,
	})

	sess.mu.Lock()
	sess.lastRun = res
	sess.mu.Unlock()

	if res.ExitCode != 0 {
		sess.mu.Lock()
		sess.setState(StatusError)
		sess.lastError = fmt.Sprintf("failed to start remote process: exit %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr))
		sess.mu.Unlock()
		r.hub.Publish(events.NewSessionErrorEvent(sess.ID, sess.Name, fmt.Errorf("remote start failed with exit %d", res.ExitCode)))
		return
	}

	newPID, err := parsePID(res.Stdout)
	if err != nil {
		sess.mu.Lock()
		sess.setState(StatusError)
		sess.lastError = err.Error()
		sess.logFile = logFile
		sess.mu.Unlock()
		log.Warn().Str("session_id", sess.ID).Msg("started remote process but could not determine its pid")
		r.hub.Publish(events.NewSessionErrorEvent(sess.ID, sess.Name, err))
		return
	}

	sess.mu.Lock()
	sess.remotePID = newPID
	sess.logFile = logFile
	sess.processRunning = true
	sess.runCount++
	sess.lastRunAt = time.Now().UTC()
	sess.mu.Unlock()

	log.Info().
		Str("session_id", sess.ID).
		Str("pid", newPID).
		Str("log_file", logFile).
		Msg("remote process started")
	r.hub.Publish(events.NewTaskStartedEvent(sess.ID, newPID, logFile))
}

// processAlive checks the remote PID with ps. Empty output means the
// process is gone; a failed ssh call is treated as alive so a transient
// connection error does not spawn a duplicate.
func (r *Registry) processAlive(sess *Session, pid string) bool {
	res := r.run(r.ctx, executil.Spec{
		Program: "ssh",
		Args:    sess.transport.SSHArgs(fmt.Sprintf("ps -p %s -o pid=,etime=,cmd=", remote.Quote(pid))),
		Timeout: 30 * time.Second,
	})

	if res.ExitCode != 0 && strings.TrimSpace(res.Stdout) == "" {
		// ps exits 1 when the pid does not exist; other transports may
		// fail for unrelated reasons, so only a clean empty answer counts.
		if res.ExitCode == 1 {
			sess.mu.Lock()
			sess.processRunning = false
			sess.lastProcessInfo = ""
			sess.mu.Unlock()
			return false
		}
		return true
	}

	alive := strings.TrimSpace(res.Stdout) != ""
	sess.mu.Lock()
	sess.processRunning = alive
	sess.lastProcessInfo = strings.TrimSpace(res.Stdout)
	sess.mu.Unlock()
	return alive
}

// parsePID extracts the remote PID from the detached start output. The
// tagged marker line wins; without one the last line of pure digits is
// taken. Anything else is an error because later liveness checks and kills
// need a trustworthy PID.
func parsePID(output string) (string, error) {
	lines := strings.Split(output, "\n")

	for _, line := range lines {
		line = strings.TrimSpace(line)
		if rest, ok := strings.CutPrefix(line, pidMarker); ok {
			rest = strings.TrimSpace(rest)
			if isDigits(rest) {
				return rest, nil
			}
		}
	}

	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line != "" && isDigits(line) {
			return line, nil
		}
	}

	return "", domain.ErrNoProcessID
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// setState updates the fine-grained status without resurrecting a stopped
// session. Callers hold s.mu.
func (s *Session) setState(st Status) {
	if s.stopped {
		return
	}
	s.status = st
}

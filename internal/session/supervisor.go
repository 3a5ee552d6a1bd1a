package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rdevtools/rdev/internal/domain/events"
	"github.com/rdevtools/rdev/internal/executil"
	"github.com/rdevtools/rdev/internal/remote"
)

// pollLoop periodically inspects a long-mode session's remote process and
// log file until the session is stopped. It detects a dead process and
// reports it; restarting is left to the next sync cycle.
func (r *Registry) pollLoop(sess *Session) {
	ticker := time.NewTicker(sess.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sess.pollStop:
			return
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.pollOnce(sess)
		}
	}
}

// pollOnce runs one supervision pass: a ps liveness check when a PID is
// recorded, then a log tail when a log file is known.
func (r *Registry) pollOnce(sess *Session) {
	sess.mu.Lock()
	pid := sess.remotePID
	logFile := sess.logFile
	wasRunning := sess.processRunning
	sess.mu.Unlock()

	if sess.Stopped() {
		return
	}

	if pid != "" {
		res := r.run(r.ctx, executil.Spec{
			Program: "ssh",
			Args:    sess.transport.SSHArgs(fmt.Sprintf("ps -p %s -o pid=,etime=,cmd=", remote.Quote(pid))),
			Timeout: 30 * time.Second,
		})

		info := strings.TrimSpace(res.Stdout)
		alive := info != ""
		if res.ExitCode != 0 && res.ExitCode != 1 {
			// Connection trouble; keep the previous verdict.
			alive = wasRunning
			info = ""
		}

		sess.mu.Lock()
		sess.processRunning = alive
		if info != "" || alive != wasRunning {
			sess.lastProcessInfo = info
		}
		sess.mu.Unlock()

		if wasRunning && !alive {
			log.Warn().
				Str("session_id", sess.ID).
				Str("pid", pid).
				Msg("remote process exited")
		}
		r.hub.Publish(events.NewTaskStatusEvent(sess.ID, pid, alive))
	}

	if logFile != "" {
		r.tailLog(sess, logFile)
	}
}

// tailLog fetches the last lines of the remote log file. When a follow
// window is configured the remote tail blocks for that long collecting new
// output, so the local timeout gets a margin on top.
func (r *Registry) tailLog(sess *Session, logFile string) {
	var command string
	timeout := 30 * time.Second

	if sess.FollowWindow > 0 {
		secs := int(sess.FollowWindow / time.Second)
		command = fmt.Sprintf("timeout %d tail -n %d -f %s", secs, sess.LogLines, remote.Quote(logFile))
		timeout = sess.FollowWindow + 15*time.Second
	} else {
		command = fmt.Sprintf("tail -n %d %s", sess.LogLines, remote.Quote(logFile))
	}

	res := r.run(r.ctx, executil.Spec{
		Program: "ssh",
		Args:    sess.transport.SSHArgs(command),
		Timeout: timeout,
	})

	sess.mu.Lock()
	defer sess.mu.Unlock()

	// timeout(1) exits 124 after a clean follow window.
	if res.ExitCode == 0 || (sess.FollowWindow > 0 && res.ExitCode == 124) {
		sess.lastLogTail = res.Stdout
		sess.lastLogErr = ""
		return
	}
	sess.lastLogErr = fmt.Sprintf("tail exited %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr))
}

// Package syncer pushes a local path to a remote host, preferring rsync and
// falling back to scp when rsync is missing on the remote side.
package syncer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rdevtools/rdev/internal/executil"
	"github.com/rdevtools/rdev/internal/remote"
)

// Transfer methods.
const (
	MethodAuto  = "auto"
	MethodRsync = "rsync"
	MethodSCP   = "scp"
)

// Runner abstracts subprocess execution so tests can script outcomes.
type Runner func(ctx context.Context, spec executil.Spec) *executil.Result

// Request describes one synchronization call.
type Request struct {
	Transport   *remote.Transport
	LocalPath   string
	RemotePath  string
	Excludes    []string
	Method      string // auto, rsync or scp
	DeleteExtra bool
	Timeout     time.Duration
}

// Result is the outcome of a synchronization call. Method names the tool
// that actually transferred the files. RsyncError preserves rsync's combined
// output when the scp fallback was taken.
type Result struct {
	Success      bool
	Method       string
	ExitCode     int
	Output       string
	Stderr       string
	FallbackUsed bool
	RsyncError   string
}

// Engine synchronizes local paths to remote hosts.
type Engine struct {
	run Runner
}

// New creates an Engine backed by real subprocess execution.
func New() *Engine {
	return &Engine{run: executil.Run}
}

// NewWithRunner creates an Engine with a custom runner.
func NewWithRunner(run Runner) *Engine {
	return &Engine{run: run}
}

// Sync pushes req.LocalPath to req.RemotePath on the request's transport.
// With method auto it tries rsync first and falls back to scp only when the
// failure looks like rsync being absent on the remote host. Forced methods
// never fall back.
func (e *Engine) Sync(ctx context.Context, req Request) *Result {
	if req.Method == MethodSCP {
		return e.syncSCP(ctx, req, false, "")
	}

	res := e.runRsync(ctx, req)
	if res.ExitCode == 0 {
		return &Result{
			Success:  true,
			Method:   MethodRsync,
			ExitCode: 0,
			Output:   res.Stdout,
			Stderr:   res.Stderr,
		}
	}

	combined := res.Stdout + res.Stderr
	if req.Method == MethodAuto && rsyncUnavailable(res.ExitCode, combined) {
		log.Debug().
			Int("exit_code", res.ExitCode).
			Msg("rsync unavailable on remote, falling back to scp")
		return e.syncSCP(ctx, req, true, combined)
	}

	return &Result{
		Success:  false,
		Method:   MethodRsync,
		ExitCode: res.ExitCode,
		Output:   res.Stdout,
		Stderr:   res.Stderr,
	}
}

// runRsync invokes rsync once with the request's options.
func (e *Engine) runRsync(ctx context.Context, req Request) *executil.Result {
	args := []string{"-az", "--partial"}
	if req.Timeout > 0 {
		args = append(args, fmt.Sprintf("--timeout=%d", int(req.Timeout.Seconds())))
	}
	args = append(args, "-e", req.Transport.RsyncSSHCommand())
	for _, pattern := range req.Excludes {
		args = append(args, "--exclude", pattern)
	}
	if req.DeleteExtra {
		args = append(args, "--delete")
	}

	// Trailing separator mirrors the directory's contents instead of
	// nesting the directory itself under the remote path.
	source := req.LocalPath
	if info, err := os.Stat(source); err == nil && info.IsDir() {
		source = strings.TrimRight(source, "/") + "/"
	}

	args = append(args, source, fmt.Sprintf("%s:%s", req.Transport.Dest(), req.RemotePath))

	return e.run(ctx, executil.Spec{
		Program: "rsync",
		Args:    args,
		Timeout: callTimeout(req.Timeout),
	})
}

// syncSCP uploads the local path with scp after ensuring the remote
// directory exists. fallback and rsyncOutput carry context from a failed
// rsync attempt when this path was reached via auto fallback.
func (e *Engine) syncSCP(ctx context.Context, req Request, fallback bool, rsyncOutput string) *Result {
	result := &Result{
		Method:       MethodSCP,
		FallbackUsed: fallback,
		RsyncError:   rsyncOutput,
	}

	mkdir := e.run(ctx, executil.Spec{
		Program: "ssh",
		Args:    req.Transport.SSHArgs("mkdir -p " + remote.Quote(req.RemotePath)),
		Timeout: callTimeout(req.Timeout),
	})
	if mkdir.ExitCode != 0 {
		result.ExitCode = mkdir.ExitCode
		result.Output = mkdir.Stdout
		result.Stderr = mkdir.Stderr
		return result
	}

	sources, err := localSources(req.LocalPath)
	if err != nil {
		result.ExitCode = -1
		result.Stderr = err.Error()
		return result
	}
	if len(sources) == 0 {
		// Nothing to upload is a successful no-op, not an scp error.
		result.Success = true
		return result
	}

	scp := e.run(ctx, executil.Spec{
		Program: "scp",
		Args:    req.Transport.SCPArgs(sources, req.RemotePath),
		Timeout: callTimeout(req.Timeout),
	})

	result.Success = scp.ExitCode == 0
	result.ExitCode = scp.ExitCode
	result.Output = scp.Stdout
	result.Stderr = scp.Stderr
	return result
}

// localSources lists what scp should upload. A directory contributes its
// immediate children individually so the remote side does not gain an extra
// nesting level; a plain file contributes itself.
func localSources(localPath string) ([]string, error) {
	info, err := os.Stat(localPath)
	if err != nil {
		return nil, fmt.Errorf("cannot stat local path: %w", err)
	}
	if !info.IsDir() {
		return []string{localPath}, nil
	}

	entries, err := os.ReadDir(localPath)
	if err != nil {
		return nil, fmt.Errorf("cannot list local path: %w", err)
	}
	sources := make([]string, 0, len(entries))
	for _, entry := range entries {
		sources = append(sources, filepath.Join(localPath, entry.Name()))
	}
	return sources, nil
}

// rsyncUnavailable classifies an rsync failure as "tool missing on the
// remote host". Exit 127 is the shell's command-not-found code; some shells
// report it only in text.
func rsyncUnavailable(exitCode int, output string) bool {
	if exitCode == 127 {
		return true
	}
	lower := strings.ToLower(output)
	return strings.Contains(lower, "command not found") ||
		strings.Contains(lower, "rsync: not found") ||
		strings.Contains(lower, "rsync: command not found")
}

// callTimeout pads the transfer timeout so the subprocess deadline does not
// race rsync's own --timeout.
func callTimeout(timeout time.Duration) time.Duration {
	if timeout <= 0 {
		return 0
	}
	return timeout + 10*time.Second
}

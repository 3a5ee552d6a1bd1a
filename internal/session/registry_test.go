package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rdevtools/rdev/internal/config"
	"github.com/rdevtools/rdev/internal/domain"
	"github.com/rdevtools/rdev/internal/executil"
	"github.com/rdevtools/rdev/internal/testutil"
)

// fakeRunner records every subprocess invocation and answers from an
// optional handler. Without a handler every call succeeds with exit 0.
type fakeRunner struct {
	mu      sync.Mutex
	calls   []executil.Spec
	handler func(spec executil.Spec) *executil.Result
}

func (f *fakeRunner) Run(ctx context.Context, spec executil.Spec) *executil.Result {
	f.mu.Lock()
	f.calls = append(f.calls, spec)
	h := f.handler
	f.mu.Unlock()

	if h != nil {
		if res := h(spec); res != nil {
			return res
		}
	}
	return &executil.Result{ExitCode: 0}
}

func (f *fakeRunner) callsTo(program string) []executil.Spec {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []executil.Spec
	for _, c := range f.calls {
		if c.Program == program {
			out = append(out, c)
		}
	}
	return out
}

// sshCommands returns the remote command string of every ssh invocation.
func (f *fakeRunner) sshCommands() []string {
	var out []string
	for _, c := range f.callsTo("ssh") {
		if len(c.Args) > 0 {
			out = append(out, c.Args[len(c.Args)-1])
		}
	}
	return out
}

func testConfig() *config.Config {
	return &config.Config{
		Servers: map[string]config.ServerConfig{},
		Session: config.SessionConfig{
			DebounceMS:          50,
			PollIntervalSeconds: 1,
			LogLines:            50,
			FollowSeconds:       0,
			SyncTimeoutSeconds:  30,
			RunTimeoutSeconds:   30,
			ExcludePatterns:     []string{".git"},
		},
		Logging: config.LoggingConfig{Level: "info", Format: "console"},
	}
}

func seedDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "main.go"), []byte("package main\n"), 0644); err != nil {
		t.Fatalf("failed to seed dir: %v", err)
	}
	return dir
}

func shortOptions(dir string) StartOptions {
	return StartOptions{
		Name:       "web",
		Server:     "devbox",
		LocalPath:  dir,
		RemotePath: "/srv/app",
		Mode:       ModeShort,
		Command:    "echo hi",
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

func TestStartRunsInitialCycle(t *testing.T) {
	runner := &fakeRunner{}
	reg := NewRegistryWithRunner(testConfig(), testutil.NewMockEventHub(), runner.Run)
	defer reg.StopAll()

	snap, err := reg.Start(shortOptions(seedDir(t)))
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if snap.SyncCount != 1 {
		t.Errorf("expected sync count 1, got %d", snap.SyncCount)
	}
	if snap.RunCount != 1 {
		t.Errorf("expected run count 1, got %d", snap.RunCount)
	}
	if snap.Status != "running" {
		t.Errorf("expected status running, got %s", snap.Status)
	}
	if snap.State != StatusIdle {
		t.Errorf("expected state idle, got %s", snap.State)
	}
	if snap.LastRun == nil || snap.LastRun.ExitCode != 0 {
		t.Errorf("expected successful last run, got %+v", snap.LastRun)
	}

	if got := len(runner.callsTo("rsync")); got != 1 {
		t.Errorf("expected 1 rsync call, got %d", got)
	}
	cmds := runner.sshCommands()
	if len(cmds) != 1 || !strings.Contains(cmds[0], "echo hi") {
		t.Errorf("expected one remote run of the command, got %v", cmds)
	}
	if !strings.Contains(cmds[0], "cd '/srv/app'") {
		t.Errorf("expected run to cd into the remote path, got %q", cmds[0])
	}
}

func TestInvalidNameFailsBeforeIO(t *testing.T) {
	runner := &fakeRunner{}
	reg := NewRegistryWithRunner(testConfig(), testutil.NewMockEventHub(), runner.Run)
	defer reg.StopAll()

	opts := shortOptions(seedDir(t))
	opts.Name = "bad name"

	_, err := reg.Start(opts)
	var verr *domain.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if verr.Field != "session_name" {
		t.Errorf("expected session_name field, got %s", verr.Field)
	}
	if len(runner.calls) != 0 {
		t.Errorf("expected no subprocess calls, got %d", len(runner.calls))
	}
	if len(reg.List()) != 0 {
		t.Errorf("expected no registered sessions")
	}
}

func TestDebouncedChangesCoalesceIntoOneCycle(t *testing.T) {
	runner := &fakeRunner{}
	reg := NewRegistryWithRunner(testConfig(), testutil.NewMockEventHub(), runner.Run)
	defer reg.StopAll()

	dir := seedDir(t)
	opts := shortOptions(dir)
	opts.DebounceMS = 100

	snap, err := reg.Start(opts)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	for i := 0; i < 5; i++ {
		name := filepath.Join(dir, "file"+string(rune('a'+i))+".txt")
		if err := os.WriteFile(name, []byte("x"), 0644); err != nil {
			t.Fatalf("write failed: %v", err)
		}
	}

	// One burst of writes inside the debounce window produces exactly one
	// additional cycle on top of the initial one.
	if !waitFor(t, 3*time.Second, func() bool {
		return len(runner.callsTo("rsync")) == 2
	}) {
		t.Fatalf("expected 2 rsync calls, got %d", len(runner.callsTo("rsync")))
	}

	// Let any stray timer fire, then confirm it settled at two.
	time.Sleep(300 * time.Millisecond)
	if got := len(runner.callsTo("rsync")); got != 2 {
		t.Errorf("expected cycle count to settle at 2, got %d", got)
	}

	status, err := reg.Status(snap.ID, false)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if status.SyncCount != 2 {
		t.Errorf("expected sync count 2, got %d", status.SyncCount)
	}
}

func TestChangesDuringCycleCoalesceIntoOneFollowUp(t *testing.T) {
	gate := make(chan struct{})
	started := make(chan struct{}, 16)

	runner := &fakeRunner{}
	runner.handler = func(spec executil.Spec) *executil.Result {
		if spec.Program == "rsync" {
			started <- struct{}{}
			<-gate
		}
		return &executil.Result{ExitCode: 0}
	}

	reg := NewRegistryWithRunner(testConfig(), testutil.NewMockEventHub(), runner.Run)
	defer reg.StopAll()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := reg.Start(shortOptions(seedDir(t))); err != nil {
			t.Errorf("Start failed: %v", err)
		}
	}()

	<-started // initial cycle is now blocked inside rsync

	// Registry map is populated before the initial cycle runs.
	var blocked *Session
	if !waitFor(t, 2*time.Second, func() bool {
		reg.mu.RLock()
		defer reg.mu.RUnlock()
		for _, s := range reg.sessions {
			blocked = s
		}
		return blocked != nil
	}) {
		t.Fatal("session never registered")
	}

	// Multiple triggers while a cycle is in flight coalesce into exactly
	// one follow-up cycle.
	reg.trigger(blocked)
	reg.trigger(blocked)
	reg.trigger(blocked)

	close(gate)
	<-done

	if !waitFor(t, 2*time.Second, func() bool {
		return len(runner.callsTo("rsync")) == 2
	}) {
		t.Fatalf("expected 2 rsync calls, got %d", len(runner.callsTo("rsync")))
	}
	time.Sleep(100 * time.Millisecond)
	if got := len(runner.callsTo("rsync")); got != 2 {
		t.Errorf("expected cycle count to settle at 2, got %d", got)
	}
}

func TestStopPreventsFurtherCycles(t *testing.T) {
	runner := &fakeRunner{}
	reg := NewRegistryWithRunner(testConfig(), testutil.NewMockEventHub(), runner.Run)

	dir := seedDir(t)
	snap, err := reg.Start(shortOptions(dir))
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	stopped, killRes, err := reg.Stop(snap.ID, false, "")
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if killRes != nil {
		t.Errorf("expected no kill result without stop_remote")
	}
	if stopped.Status != "stopped" || stopped.State != StatusStopped {
		t.Errorf("expected stopped status, got %s/%s", stopped.Status, stopped.State)
	}

	before := len(runner.callsTo("rsync"))

	// Filesystem changes and explicit triggers after stop do nothing.
	if err := os.WriteFile(filepath.Join(dir, "after.txt"), []byte("x"), 0644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	sess, err := reg.get(snap.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	reg.trigger(sess)
	time.Sleep(300 * time.Millisecond)

	if got := len(runner.callsTo("rsync")); got != before {
		t.Errorf("expected no cycles after stop, got %d extra", got-before)
	}

	// The record stays queryable.
	again, err := reg.Status(snap.ID, true)
	if err != nil {
		t.Fatalf("Status after stop failed: %v", err)
	}
	if again.State != StatusStopped {
		t.Errorf("expected stopped state to persist, got %s", again.State)
	}
	if got := len(runner.callsTo("rsync")); got != before {
		t.Errorf("expected triggerNow on a stopped session to be ignored")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	runner := &fakeRunner{}
	reg := NewRegistryWithRunner(testConfig(), testutil.NewMockEventHub(), runner.Run)

	snap, err := reg.Start(shortOptions(seedDir(t)))
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if _, _, err := reg.Stop(snap.ID, false, ""); err != nil {
		t.Fatalf("first Stop failed: %v", err)
	}
	if _, _, err := reg.Stop(snap.ID, false, ""); err != nil {
		t.Fatalf("second Stop failed: %v", err)
	}
}

func TestStopUnknownSession(t *testing.T) {
	reg := NewRegistryWithRunner(testConfig(), testutil.NewMockEventHub(), (&fakeRunner{}).Run)

	_, _, err := reg.Stop("nope", false, "")
	if !errors.Is(err, domain.ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func longOptions(dir string) StartOptions {
	opts := shortOptions(dir)
	opts.Name = "api"
	opts.Mode = ModeLong
	opts.Command = "npm run dev"
	return opts
}

func TestLongModeStartsDetachedProcess(t *testing.T) {
	runner := &fakeRunner{}
	runner.handler = func(spec executil.Spec) *executil.Result {
		if spec.Program == "ssh" && strings.Contains(lastArg(spec), "nohup") {
			return &executil.Result{Stdout: "Welcome to devbox\n__RDEV_PID__4821\n", ExitCode: 0}
		}
		return &executil.Result{ExitCode: 0}
	}

	reg := NewRegistryWithRunner(testConfig(), testutil.NewMockEventHub(), runner.Run)
	defer reg.StopAll()

	snap, err := reg.Start(longOptions(seedDir(t)))
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if snap.PID != "4821" {
		t.Errorf("expected pid 4821, got %q", snap.PID)
	}
	if snap.LogFile == "" || !strings.HasPrefix(snap.LogFile, "/tmp/rdev-") {
		t.Errorf("unexpected log file %q", snap.LogFile)
	}
	if !snap.ProcessRunning {
		t.Error("expected process marked running")
	}
	if snap.RunCount != 1 {
		t.Errorf("expected run count 1, got %d", snap.RunCount)
	}

	var start string
	for _, cmd := range runner.sshCommands() {
		if strings.Contains(cmd, "nohup") {
			start = cmd
		}
	}
	if start == "" {
		t.Fatal("no detached start command issued")
	}
	if !strings.Contains(start, "nohup sh -c 'npm run dev'") {
		t.Errorf("command not quoted into sh -c: %q", start)
	}
	if !strings.Contains(start, "& echo __RDEV_PID__$!") {
		t.Errorf("missing pid marker echo: %q", start)
	}
	if !strings.Contains(start, "< /dev/null") {
		t.Errorf("stdin not detached: %q", start)
	}
}

func TestLongModeDoesNotRestartLiveProcess(t *testing.T) {
	runner := &fakeRunner{}
	runner.handler = func(spec executil.Spec) *executil.Result {
		cmd := lastArg(spec)
		switch {
		case strings.Contains(cmd, "nohup"):
			return &executil.Result{Stdout: "__RDEV_PID__4821\n", ExitCode: 0}
		case strings.Contains(cmd, "ps -p"):
			return &executil.Result{Stdout: " 4821  01:02 npm run dev\n", ExitCode: 0}
		}
		return &executil.Result{ExitCode: 0}
	}

	reg := NewRegistryWithRunner(testConfig(), testutil.NewMockEventHub(), runner.Run)
	defer reg.StopAll()

	snap, err := reg.Start(longOptions(seedDir(t)))
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	sess, err := reg.get(snap.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	reg.trigger(sess)

	starts := 0
	for _, cmd := range runner.sshCommands() {
		if strings.Contains(cmd, "nohup") {
			starts++
		}
	}
	if starts != 1 {
		t.Errorf("expected exactly one detached start, got %d", starts)
	}

	status, _ := reg.Status(snap.ID, false)
	if status.RunCount != 1 {
		t.Errorf("expected run count to stay 1, got %d", status.RunCount)
	}
}

func TestLongModeRestartsDeadProcess(t *testing.T) {
	pids := []string{"4821", "5100"}
	runner := &fakeRunner{}
	runner.handler = func(spec executil.Spec) *executil.Result {
		cmd := lastArg(spec)
		switch {
		case strings.Contains(cmd, "nohup"):
			pid := pids[0]
			if len(pids) > 1 {
				pids = pids[1:]
			}
			return &executil.Result{Stdout: "__RDEV_PID__" + pid + "\n", ExitCode: 0}
		case strings.Contains(cmd, "ps -p"):
			// Empty output means the process is gone.
			return &executil.Result{Stdout: "", ExitCode: 1}
		}
		return &executil.Result{ExitCode: 0}
	}

	reg := NewRegistryWithRunner(testConfig(), testutil.NewMockEventHub(), runner.Run)
	defer reg.StopAll()

	snap, err := reg.Start(longOptions(seedDir(t)))
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	sess, err := reg.get(snap.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	reg.trigger(sess)

	status, _ := reg.Status(snap.ID, false)
	if status.PID != "5100" {
		t.Errorf("expected restarted pid 5100, got %q", status.PID)
	}
	if status.RunCount != 2 {
		t.Errorf("expected run count 2 after restart, got %d", status.RunCount)
	}
}

func TestStopRemoteSignalsProcess(t *testing.T) {
	runner := &fakeRunner{}
	runner.handler = func(spec executil.Spec) *executil.Result {
		if strings.Contains(lastArg(spec), "nohup") {
			return &executil.Result{Stdout: "__RDEV_PID__4821\n", ExitCode: 0}
		}
		return &executil.Result{ExitCode: 0}
	}

	reg := NewRegistryWithRunner(testConfig(), testutil.NewMockEventHub(), runner.Run)

	snap, err := reg.Start(longOptions(seedDir(t)))
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	_, killRes, err := reg.Stop(snap.ID, true, "TERM")
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if killRes == nil || killRes.ExitCode != 0 {
		t.Fatalf("expected kill result, got %+v", killRes)
	}

	var kill string
	for _, cmd := range runner.sshCommands() {
		if strings.Contains(cmd, "kill ") {
			kill = cmd
		}
	}
	if kill != "kill -TERM '4821'" {
		t.Errorf("unexpected kill command %q", kill)
	}
}

func TestStopRejectsInvalidSignalBeforeTeardown(t *testing.T) {
	runner := &fakeRunner{}
	runner.handler = func(spec executil.Spec) *executil.Result {
		if strings.Contains(lastArg(spec), "nohup") {
			return &executil.Result{Stdout: "__RDEV_PID__4821\n", ExitCode: 0}
		}
		return &executil.Result{ExitCode: 0}
	}

	reg := NewRegistryWithRunner(testConfig(), testutil.NewMockEventHub(), runner.Run)

	dir := seedDir(t)
	snap, err := reg.Start(longOptions(dir))
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	_, _, err = reg.Stop(snap.ID, true, "TERM; rm -rf /")
	var verr *domain.ValidationError
	if !errors.As(err, &verr) || verr.Field != "signal" {
		t.Fatalf("expected signal validation error, got %v", err)
	}

	// The rejected stop must leave the session fully alive.
	alive, err := reg.Status(snap.ID, false)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if alive.State == StatusStopped {
		t.Fatal("session stopped despite signal validation failure")
	}

	before := len(runner.callsTo("rsync"))
	if err := os.WriteFile(filepath.Join(dir, "after.txt"), []byte("x"), 0644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if !waitFor(t, 2*time.Second, func() bool {
		return len(runner.callsTo("rsync")) > before
	}) {
		t.Fatal("expected the session to keep cycling after the rejected stop")
	}

	// A well-formed stop still works afterwards.
	stopped, killRes, err := reg.Stop(snap.ID, true, "TERM")
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if stopped.State != StatusStopped {
		t.Errorf("expected stopped state, got %s", stopped.State)
	}
	if killRes == nil {
		t.Error("expected kill result from valid stop")
	}
}

func TestStopWithoutRemoteKillIssuesNoKill(t *testing.T) {
	runner := &fakeRunner{}
	runner.handler = func(spec executil.Spec) *executil.Result {
		if strings.Contains(lastArg(spec), "nohup") {
			return &executil.Result{Stdout: "__RDEV_PID__4821\n", ExitCode: 0}
		}
		return &executil.Result{ExitCode: 0}
	}

	reg := NewRegistryWithRunner(testConfig(), testutil.NewMockEventHub(), runner.Run)

	snap, err := reg.Start(longOptions(seedDir(t)))
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	_, killRes, err := reg.Stop(snap.ID, false, "")
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if killRes != nil {
		t.Errorf("expected no kill result")
	}
	for _, cmd := range runner.sshCommands() {
		if strings.Contains(cmd, "kill ") {
			t.Errorf("unexpected kill command %q", cmd)
		}
	}
}

func TestSyncFailureSetsErrorState(t *testing.T) {
	runner := &fakeRunner{}
	runner.handler = func(spec executil.Spec) *executil.Result {
		if spec.Program == "rsync" {
			return &executil.Result{Stderr: "rsync error: some files could not be transferred", ExitCode: 23}
		}
		return &executil.Result{ExitCode: 0}
	}

	reg := NewRegistryWithRunner(testConfig(), testutil.NewMockEventHub(), runner.Run)
	defer reg.StopAll()

	opts := shortOptions(seedDir(t))
	opts.Method = "rsync"

	snap, err := reg.Start(opts)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if snap.Status != "error" || snap.State != StatusError {
		t.Errorf("expected error status, got %s/%s", snap.Status, snap.State)
	}
	if !strings.Contains(snap.LastError, "exit code 23") {
		t.Errorf("expected exit code in last error, got %q", snap.LastError)
	}
	if snap.RunCount != 0 {
		t.Errorf("run must not happen after a failed sync, got run count %d", snap.RunCount)
	}
}

func TestNonZeroShortRunIsDiagnosticOnly(t *testing.T) {
	runner := &fakeRunner{}
	runner.handler = func(spec executil.Spec) *executil.Result {
		if spec.Program == "ssh" {
			return &executil.Result{Stderr: "make: *** [all] Error 2", ExitCode: 2}
		}
		return &executil.Result{ExitCode: 0}
	}

	reg := NewRegistryWithRunner(testConfig(), testutil.NewMockEventHub(), runner.Run)
	defer reg.StopAll()

	snap, err := reg.Start(shortOptions(seedDir(t)))
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if snap.Status != "running" || snap.State != StatusIdle {
		t.Errorf("expected session to stay healthy, got %s/%s", snap.Status, snap.State)
	}
	if snap.RunCount != 1 {
		t.Errorf("expected run count 1, got %d", snap.RunCount)
	}
	if snap.LastRun == nil || snap.LastRun.ExitCode != 2 {
		t.Errorf("expected last run exit 2, got %+v", snap.LastRun)
	}
}

func TestRecorderReceivesCycleRecords(t *testing.T) {
	runner := &fakeRunner{}
	reg := NewRegistryWithRunner(testConfig(), testutil.NewMockEventHub(), runner.Run)
	defer reg.StopAll()

	rec := &captureRecorder{}
	reg.SetRecorder(rec)

	snap, err := reg.Start(shortOptions(seedDir(t)))
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	records := rec.records()
	if len(records) != 1 {
		t.Fatalf("expected 1 cycle record, got %d", len(records))
	}
	if records[0].SessionID != snap.ID || !records[0].Success {
		t.Errorf("unexpected record %+v", records[0])
	}
	if records[0].FinishedAt.Before(records[0].StartedAt) {
		t.Errorf("finished before started: %+v", records[0])
	}
}

type captureRecorder struct {
	mu   sync.Mutex
	recs []CycleRecord
}

func (c *captureRecorder) Record(rec CycleRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recs = append(c.recs, rec)
}

func (c *captureRecorder) records() []CycleRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]CycleRecord(nil), c.recs...)
}

func lastArg(spec executil.Spec) string {
	if len(spec.Args) == 0 {
		return ""
	}
	return spec.Args[len(spec.Args)-1]
}

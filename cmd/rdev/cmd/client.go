package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rdevtools/rdev/internal/session"
)

// controlAddr points the client commands at a running daemon.
var controlAddr string

func controlURL(path string) string {
	addr := controlAddr
	if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
		addr = "http://" + addr
	}
	return strings.TrimRight(addr, "/") + path
}

func controlRequest(method, path string, out interface{}) error {
	client := &http.Client{Timeout: 30 * time.Second}

	req, err := http.NewRequest(method, controlURL(path), nil)
	if err != nil {
		return err
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("cannot reach rdev daemon at %s (is 'rdev start' running?): %w", controlAddr, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		var errBody struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &errBody) == nil && errBody.Error != "" {
			return fmt.Errorf("%s", errBody.Error)
		}
		return fmt.Errorf("daemon returned %s", resp.Status)
	}

	if out != nil {
		return json.Unmarshal(body, out)
	}
	return nil
}

func printSnapshot(snap *session.Snapshot) {
	fmt.Printf("Session:     %s\n", snap.ID)
	fmt.Printf("  Name:      %s\n", snap.Name)
	fmt.Printf("  Status:    %s (%s)\n", snap.Status, snap.State)
	fmt.Printf("  Mode:      %s\n", snap.Mode)
	fmt.Printf("  Server:    %s\n", snap.Server)
	fmt.Printf("  Paths:     %s -> %s\n", snap.LocalPath, snap.RemotePath)
	if snap.RemoteWorkDir != "" {
		fmt.Printf("  Workdir:   %s\n", snap.RemoteWorkDir)
	}
	fmt.Printf("  Started:   %s\n", snap.StartedAt.Local().Format(time.RFC3339))
	fmt.Printf("  Syncs:     %d", snap.SyncCount)
	if snap.LastSyncAt != nil {
		fmt.Printf(" (last %s)", snap.LastSyncAt.Local().Format(time.RFC3339))
	}
	fmt.Println()
	fmt.Printf("  Runs:      %d", snap.RunCount)
	if snap.LastRunAt != nil {
		fmt.Printf(" (last %s)", snap.LastRunAt.Local().Format(time.RFC3339))
	}
	fmt.Println()

	if len(snap.PendingPaths) > 0 {
		fmt.Printf("  Pending:   %d path(s)\n", len(snap.PendingPaths))
		for i, p := range snap.PendingPaths {
			if i >= 10 {
				fmt.Printf("    ... and %d more\n", len(snap.PendingPaths)-i)
				break
			}
			fmt.Printf("    %s\n", p)
		}
	}
	if snap.LastError != "" {
		fmt.Printf("  Error:     %s\n", snap.LastError)
	}
	if snap.PID != "" {
		running := "dead"
		if snap.ProcessRunning {
			running = "running"
		}
		fmt.Printf("  Process:   pid %s (%s), log %s\n", snap.PID, running, snap.LogFile)
		if snap.ProcessInfo != "" {
			fmt.Printf("  Info:      %s\n", snap.ProcessInfo)
		}
	}
	if snap.LastRun != nil && snap.Mode == "short" {
		fmt.Printf("  Last run:  exit %d\n", snap.LastRun.ExitCode)
		if out := strings.TrimSpace(snap.LastRun.Stdout); out != "" {
			fmt.Printf("---\n%s\n", out)
		}
		if errOut := strings.TrimSpace(snap.LastRun.Stderr); errOut != "" {
			fmt.Printf("--- stderr ---\n%s\n", errOut)
		}
	}
	if snap.LogTail != "" {
		fmt.Printf("--- log tail ---\n%s\n", strings.TrimRight(snap.LogTail, "\n"))
	}
	if snap.LogTailError != "" {
		fmt.Printf("  Log error: %s\n", snap.LogTailError)
	}
}

// followEvents attaches to the daemon's event stream and prints one line
// per event until the connection closes or the process is interrupted.
// With a session ID the stream is filtered to that session; global events
// still come through.
func followEvents(sessionID string) error {
	u, err := url.Parse(controlURL("/ws"))
	if err != nil {
		return err
	}
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	if sessionID != "" {
		q := u.Query()
		q.Set("session_id", sessionID)
		u.RawQuery = q.Encode()
	}

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return fmt.Errorf("cannot reach rdev daemon at %s (is 'rdev start' running?): %w", controlAddr, err)
	}
	defer conn.Close()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("event stream closed: %w", err)
		}

		var ev struct {
			Event     string          `json:"event"`
			Timestamp time.Time       `json:"timestamp"`
			SessionID string          `json:"session_id"`
			Payload   json.RawMessage `json:"payload"`
		}
		if err := json.Unmarshal(data, &ev); err != nil {
			continue
		}

		payload := strings.TrimSpace(string(ev.Payload))
		if payload == "null" {
			payload = ""
		}
		fmt.Printf("%s  %-16s %s\n", ev.Timestamp.Local().Format("15:04:05"), ev.Event, payload)
	}
}

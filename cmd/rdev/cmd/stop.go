package cmd

import (
	"fmt"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/rdevtools/rdev/internal/executil"
	"github.com/rdevtools/rdev/internal/session"
)

var (
	stopRemoteProcess bool
	stopSignal        string
)

// stopCmd stops a session on a running daemon.
var stopCmd = &cobra.Command{
	Use:   "stop <session-id>",
	Short: "Stop a session",
	Long: `Stop a session: its watcher, debounce timer and poll loop are torn down
and no further cycles run. The session record remains queryable.

By default the remote background process (long mode) is left running.
Pass --stop-remote to signal it as part of the stop.

Examples:
  rdev stop api-20260826120000-1a2b3c4d
  rdev stop api-20260826120000-1a2b3c4d --stop-remote
  rdev stop api-20260826120000-1a2b3c4d --stop-remote --signal KILL`,
	Args: cobra.ExactArgs(1),
	RunE: runStop,
}

func init() {
	stopCmd.Flags().StringVar(&controlAddr, "addr", "127.0.0.1:7433", "daemon control API address")
	stopCmd.Flags().BoolVar(&stopRemoteProcess, "stop-remote", false, "signal the remote background process")
	stopCmd.Flags().StringVar(&stopSignal, "signal", "TERM", "signal to send with --stop-remote")
}

func runStop(cmd *cobra.Command, args []string) error {
	query := url.Values{}
	if stopRemoteProcess {
		query.Set("stop_remote", "true")
		query.Set("signal", stopSignal)
	}
	path := "/api/sessions/" + url.PathEscape(args[0])
	if len(query) > 0 {
		path += "?" + query.Encode()
	}

	var resp struct {
		Session    session.Snapshot `json:"session"`
		KillResult *executil.Result `json:"kill_result"`
	}
	if err := controlRequest("DELETE", path, &resp); err != nil {
		return err
	}

	fmt.Printf("Session %s stopped\n", resp.Session.ID)
	if resp.KillResult != nil {
		if resp.KillResult.Success() {
			fmt.Printf("Remote process signalled with SIG%s\n", stopSignal)
		} else {
			fmt.Printf("Remote kill exited %d: %s\n", resp.KillResult.ExitCode, resp.KillResult.Stderr)
		}
	}
	return nil
}

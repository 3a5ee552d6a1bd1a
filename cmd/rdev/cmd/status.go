package cmd

import (
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/rdevtools/rdev/internal/session"
)

var (
	statusRefresh bool
	statusJSON    bool
	statusFollow  bool
)

// statusCmd queries one session from a running daemon.
var statusCmd = &cobra.Command{
	Use:   "status <session-id>",
	Short: "Show the status of a session",
	Long: `Show a session's status snapshot from the running daemon.

With --refresh a sync cycle is triggered before the snapshot is taken, so
the output reflects the remote side right now rather than the last cycle.

With --follow the command stays attached after printing the snapshot and
streams the session's events (file changes, sync and run results, task
status) until interrupted with Ctrl-C.

Examples:
  rdev status web-20260826120000-1a2b3c4d
  rdev status web-20260826120000-1a2b3c4d --refresh
  rdev status web-20260826120000-1a2b3c4d --follow`,
	Args: cobra.ExactArgs(1),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&controlAddr, "addr", "127.0.0.1:7433", "daemon control API address")
	statusCmd.Flags().BoolVar(&statusRefresh, "refresh", false, "trigger a sync cycle before reporting")
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "output machine-readable JSON")
	statusCmd.Flags().BoolVar(&statusFollow, "follow", false, "stream the session's events until interrupted")
}

func runStatus(cmd *cobra.Command, args []string) error {
	path := "/api/sessions/" + url.PathEscape(args[0])
	if statusRefresh {
		path += "?refresh=true"
	}

	var snap session.Snapshot
	if err := controlRequest("GET", path, &snap); err != nil {
		return err
	}

	if statusJSON {
		data, err := json.MarshalIndent(snap, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
	} else {
		printSnapshot(&snap)
	}

	if statusFollow {
		if !statusJSON {
			fmt.Println()
			fmt.Println("Following events (Ctrl-C to stop):")
		}
		return followEvents(snap.ID)
	}
	return nil
}

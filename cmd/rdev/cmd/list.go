package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/rdevtools/rdev/internal/session"
)

var listJSON bool

// listCmd lists all sessions on a running daemon.
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all sessions",
	Long: `List every session known to the running daemon, stopped ones included.

Examples:
  rdev list
  rdev list --json`,
	RunE: runList,
}

func init() {
	listCmd.Flags().StringVar(&controlAddr, "addr", "127.0.0.1:7433", "daemon control API address")
	listCmd.Flags().BoolVar(&listJSON, "json", false, "output machine-readable JSON")
}

func runList(cmd *cobra.Command, args []string) error {
	var resp struct {
		Sessions []session.Snapshot `json:"sessions"`
	}
	if err := controlRequest("GET", "/api/sessions", &resp); err != nil {
		return err
	}

	sort.Slice(resp.Sessions, func(i, j int) bool {
		return resp.Sessions[i].StartedAt.Before(resp.Sessions[j].StartedAt)
	})

	if listJSON {
		data, err := json.MarshalIndent(resp.Sessions, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	if len(resp.Sessions) == 0 {
		fmt.Println("No sessions")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSTATUS\tMODE\tSERVER\tSYNCS\tRUNS\tSTARTED")
	for _, s := range resp.Sessions {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
			s.ID, s.Name, s.Status, s.Mode, s.Server,
			s.SyncCount, s.RunCount,
			s.StartedAt.Local().Format(time.RFC3339))
	}
	return w.Flush()
}

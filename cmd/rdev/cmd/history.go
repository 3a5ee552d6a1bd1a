package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/rdevtools/rdev/internal/history"
)

var (
	historySession string
	historyLimit   int
	historyJSON    bool
)

// historyCmd lists recent sync cycles from the local history database.
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent sync cycles",
	Long: `Show recent sync cycles recorded in the local history database.

History is written by the daemon after every cycle; this command reads the
database directly and works whether or not a daemon is running.

Examples:
  rdev history
  rdev history --limit 50
  rdev history --session web-20260826120000-1a2b3c4d`,
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().StringVar(&historySession, "session", "", "only cycles of this session")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "maximum entries to show")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "output machine-readable JSON")
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if !cfg.History.Enabled {
		return fmt.Errorf("cycle history is disabled in the configuration")
	}

	store, err := history.Open(cfg.History.Path)
	if err != nil {
		return fmt.Errorf("failed to open history database: %w", err)
	}
	defer store.Close()

	var entries []history.Entry
	if historySession != "" {
		entries, err = store.BySession(historySession, historyLimit)
	} else {
		entries, err = store.Recent(historyLimit)
	}
	if err != nil {
		return err
	}

	if historyJSON {
		data, err := json.MarshalIndent(entries, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	if len(entries) == 0 {
		fmt.Println("No recorded cycles")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "FINISHED\tSESSION\tSERVER\tMETHOD\tRESULT\tDETAIL")
	for _, e := range entries {
		result := "ok"
		detail := ""
		if !e.Success {
			result = fmt.Sprintf("exit %d", e.ExitCode)
			detail = e.Error
		} else if e.FallbackUsed {
			detail = "scp fallback"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			e.FinishedAt.Local().Format(time.RFC3339),
			e.SessionID, e.Server, e.Method, result, detail)
	}
	return w.Flush()
}

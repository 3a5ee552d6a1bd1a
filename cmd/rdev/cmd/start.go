package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/rdevtools/rdev/internal/domain/events"
	"github.com/rdevtools/rdev/internal/history"
	"github.com/rdevtools/rdev/internal/hub"
	"github.com/rdevtools/rdev/internal/server"
	"github.com/rdevtools/rdev/internal/session"
)

var (
	startListen        string
	startName          string
	startServer        string
	startLocalPath     string
	startRemotePath    string
	startRemoteWorkDir string
	startMode          string
	startCommand       string
	startExcludes      []string
	startMethod        string
	startDeleteExtra   bool
	startDebounceMS    int
	startPollInterval  int
	startLogLines      int
	startFollowSecs    int
)

// startCmd represents the start command.
var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the rdev daemon with an initial session",
	Long: `Start the rdev daemon. It watches the local path, syncs changes to the
remote host and runs (or supervises) the given command there, until
interrupted with Ctrl-C.

The daemon also serves a local control API so further sessions can be
started and inspected from other terminals with the status, stop and
list commands.

Examples:
  rdev start --server devbox --local . --remote /srv/app \
      --mode short --command "make test"

  rdev start --server devbox --local . --remote /srv/app \
      --mode long --command "npm run dev" --method auto

  rdev start --listen 127.0.0.1:7433    # control API only, no session`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().StringVar(&startListen, "listen", "127.0.0.1:7433", "control API listen address")
	startCmd.Flags().StringVar(&startName, "name", "", "session display name")
	startCmd.Flags().StringVar(&startServer, "server", "", "target server (config entry or ssh alias)")
	startCmd.Flags().StringVar(&startLocalPath, "local", "", "local directory to watch and sync")
	startCmd.Flags().StringVar(&startRemotePath, "remote", "", "remote directory to sync into")
	startCmd.Flags().StringVar(&startRemoteWorkDir, "remote-workdir", "", "remote working directory for the command (default: remote path)")
	startCmd.Flags().StringVar(&startMode, "mode", "short", "run mode: short (run per cycle) or long (supervise)")
	startCmd.Flags().StringVar(&startCommand, "command", "", "command to run (short) or background (long) on the remote host")
	startCmd.Flags().StringSliceVar(&startExcludes, "exclude", nil, "exclude patterns (repeatable)")
	startCmd.Flags().StringVar(&startMethod, "method", "", "sync method: auto, rsync or scp")
	startCmd.Flags().BoolVar(&startDeleteExtra, "delete", false, "delete remote files absent locally")
	startCmd.Flags().IntVar(&startDebounceMS, "debounce-ms", 0, "debounce window in milliseconds")
	startCmd.Flags().IntVar(&startPollInterval, "poll-interval", 0, "long-mode poll interval in seconds")
	startCmd.Flags().IntVar(&startLogLines, "log-lines", 0, "log tail line count")
	startCmd.Flags().IntVar(&startFollowSecs, "follow-seconds", 0, "log follow window in seconds")
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	setupLogging(cfg)

	log.Info().
		Str("version", version).
		Str("listen", startListen).
		Msg("starting rdev")

	eventHub := hub.New()
	if err := eventHub.Start(); err != nil {
		return fmt.Errorf("failed to start event hub: %w", err)
	}
	defer func() { _ = eventHub.Stop() }()

	// Mirror every hub event into the daemon log.
	eventHub.Subscribe(hub.NewLogSubscriber("daemon-log", func(e events.Event) {
		log.Debug().
			Str("event", string(e.Type())).
			Str("session_id", e.GetSessionID()).
			Msg("hub event")
	}))

	registry := session.NewRegistry(cfg, eventHub)

	var store *history.Store
	if cfg.History.Enabled {
		store, err = history.Open(cfg.History.Path)
		if err != nil {
			log.Warn().Err(err).Str("path", cfg.History.Path).Msg("cycle history disabled")
		} else {
			registry.SetRecorder(store)
			defer func() { _ = store.Close() }()
		}
	}

	controlServer := server.New(startListen, registry, eventHub)
	if err := controlServer.Start(); err != nil {
		return fmt.Errorf("failed to start control server: %w", err)
	}

	if startServer != "" || startLocalPath != "" || startRemotePath != "" || startCommand != "" {
		snap, err := registry.Start(session.StartOptions{
			Name:                startName,
			Server:              startServer,
			LocalPath:           startLocalPath,
			RemotePath:          startRemotePath,
			RemoteWorkDir:       startRemoteWorkDir,
			Mode:                startMode,
			Command:             startCommand,
			Excludes:            startExcludes,
			Method:              startMethod,
			DeleteExtra:         startDeleteExtra,
			DebounceMS:          startDebounceMS,
			PollIntervalSeconds: startPollInterval,
			LogLines:            startLogLines,
			FollowSeconds:       startFollowSecs,
		})
		if err != nil {
			_ = controlServer.Stop()
			return fmt.Errorf("failed to start session: %w", err)
		}
		fmt.Printf("Session %s started (%s → %s:%s)\n", snap.ID, snap.LocalPath, snap.Server, snap.RemotePath)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	registry.StopAll()
	if err := controlServer.Stop(); err != nil {
		log.Warn().Err(err).Msg("control server shutdown error")
	}

	log.Info().Msg("rdev stopped")
	return nil
}

package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/ssh"

	"github.com/rdevtools/rdev/internal/executil"
	"github.com/rdevtools/rdev/internal/remote"
)

var (
	doctorCheckServers bool
	doctorTimeout      int
)

// doctorCmd runs local diagnostics.
var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run local diagnostics",
	Long: `Check the local rdev setup: configuration validity, required binaries
(ssh, rsync, scp), identity file parseability, and optionally server
reachability.

Examples:
  rdev doctor
  rdev doctor --check-servers
  rdev doctor --check-servers --timeout 5`,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)

	doctorCmd.Flags().BoolVar(&doctorCheckServers, "check-servers", false, "try to reach each configured server over ssh")
	doctorCmd.Flags().IntVar(&doctorTimeout, "timeout", 10, "per-server reachability timeout in seconds")
}

func runDoctor(cmd *cobra.Command, args []string) error {
	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      slog.LevelDebug,
		TimeFormat: time.Kitchen,
	}))

	failures := 0

	cfg, err := loadConfig()
	if err != nil {
		logger.Error("configuration failed to load", "error", err)
		return fmt.Errorf("doctor found a failing configuration")
	}
	logger.Info("configuration loaded", "servers", len(cfg.Servers))

	for _, bin := range []string{"ssh", "rsync", "scp"} {
		path, err := exec.LookPath(bin)
		if err != nil {
			if bin == "rsync" {
				logger.Warn("binary not found on PATH, sessions will fall back to scp", "binary", bin)
			} else {
				logger.Error("binary not found on PATH", "binary", bin)
				failures++
			}
			continue
		}
		logger.Info("binary found", "binary", bin, "path", path)
	}

	for name, srv := range cfg.Servers {
		if srv.IdentityFile == "" {
			continue
		}
		data, err := os.ReadFile(srv.IdentityFile)
		if err != nil {
			logger.Error("identity file unreadable", "server", name, "path", srv.IdentityFile, "error", err)
			failures++
			continue
		}
		if _, err := ssh.ParsePrivateKey(data); err != nil {
			if _, ok := err.(*ssh.PassphraseMissingError); ok {
				logger.Info("identity file is passphrase-protected", "server", name, "path", srv.IdentityFile)
				continue
			}
			logger.Error("identity file is not a valid private key", "server", name, "path", srv.IdentityFile, "error", err)
			failures++
			continue
		}
		logger.Info("identity file parses", "server", name, "path", srv.IdentityFile)
	}

	if doctorCheckServers {
		for name := range cfg.Servers {
			transport := remote.Resolve(name, cfg.Servers)
			res := executil.Run(cmd.Context(), executil.Spec{
				Program: "ssh",
				Args:    transport.SSHArgs("true"),
				Timeout: time.Duration(doctorTimeout) * time.Second,
			})
			if res.Success() {
				logger.Info("server reachable", "server", name, "target", transport.Dest())
			} else {
				logger.Error("server unreachable", "server", name, "target", transport.Dest(),
					"exit_code", res.ExitCode, "stderr", res.Stderr)
				failures++
			}
		}
	}

	if failures > 0 {
		return fmt.Errorf("doctor found %d failing check(s)", failures)
	}
	logger.Info("all checks passed")
	return nil
}

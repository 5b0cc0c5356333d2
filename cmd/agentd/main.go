// Package main provides the CLI entry point for agentd, a single-user AI
// assistant runtime daemon: one Turn Controller dispatching owner commands,
// scheduled jobs, and untrusted events across a shared workspace, model
// client, and tool registry.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/agentd-run/agentd/internal/config"
)

// Build information, populated by ldflags during build:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// Global flags shared by every subcommand.
var (
	configPath string
	agentID    string
	verbose    bool
	supervised bool
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with every subcommand attached.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "agentd",
		Short: "agentd - single-user AI assistant runtime daemon",
		Long: `agentd runs one agent against one workspace: it ingests owner commands,
scheduled jobs, and trust-tagged events from several channels, dispatches
them through a shared session store and tool registry, and replies on
whichever channel they arrived from.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "path to the agentd config file")
	rootCmd.PersistentFlags().StringVar(&agentID, "agent", "default", "agent id; selects the per-agent state directory")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug-level logging")
	rootCmd.PersistentFlags().BoolVar(&supervised, "supervised", false, "wrap serve in a restart-on-crash supervisor loop")

	rootCmd.AddCommand(
		buildServeCmd(),
		buildStartCmd(),
		buildStopCmd(),
		buildRestartCmd(),
		buildStatusCmd(),
		buildHeartbeatCmd(),
		buildChatCmd(),
		buildAskCmd(),
		buildMemoryCmd(),
		buildConfigCmd(),
	)

	return rootCmd
}

func defaultConfigPath() string {
	if v := os.Getenv("AGENTD_CONFIG"); v != "" {
		return v
	}
	return "agentd.yaml"
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// loadConfig loads path and, when --agent names a non-default agent,
// rewrites its state directory to a per-agent subdirectory so multiple
// agents can share one config file without colliding on session/lock/
// memory-index state.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if agentID != "" && agentID != "default" {
		cfg.Workspace.StateDir = filepath.Join(cfg.Workspace.StateDir, "agents", agentID)
		cfg.Lock.Path = filepath.Join(cfg.Workspace.StateDir, "agentd.lock")
	}
	return cfg, nil
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentd-run/agentd/internal/config"
)

func buildServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the agentd daemon in the foreground",
		Long: `serve loads the config, wires every component, and runs the Turn
Controller until interrupted. It installs a local CLI channel on stdin/stdout
alongside any enabled remote ingress channels (httpapi, webhook, telegram,
openai_proxy).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if supervised {
				return runSupervised(cmd.Context())
			}
			return runServe(cmd.Context(), configPath)
		},
	}
}

func runServe(ctx context.Context, path string) error {
	logger := newLogger()
	logger.Info("starting agentd", "version", version, "commit", commit, "config", path)

	cfg, err := loadConfig(path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if pid, alive := diagnoseDaemon(cfg); alive {
		return fmt.Errorf("agentd already appears to be running (pid %d)", pid)
	}
	if err := writeDaemonPidFile(cfg, os.Getpid()); err != nil {
		return fmt.Errorf("record daemon pid: %w", err)
	}
	defer removeDaemonPidFile(cfg)

	d, err := NewDaemon(cfg, logger, os.Stdin, os.Stdout, "")
	if err != nil {
		return fmt.Errorf("build daemon: %w", err)
	}
	defer d.Close()

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("agentd started")
	err = d.Serve(ctx)
	logger.Info("agentd stopped")
	return err
}

// runSupervised re-execs the current binary's "serve" subcommand, restarting
// it whenever it exits non-zero, until the parent process itself is
// interrupted. Grounded on the --supervised flag's documented purpose: a
// restart-on-crash wrapper for environments with no external process
// supervisor.
func runSupervised(ctx context.Context) error {
	logger := newLogger()
	for {
		cmd := exec.CommandContext(ctx, os.Args[0], "serve", "--config", configPath, "--agent", agentID)
		cmd.Stdin = os.Stdin
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		logger.Info("supervisor: launching agentd")
		err := cmd.Run()
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			return nil
		}
		logger.Error("supervisor: agentd exited, restarting", "error", err)
		time.Sleep(2 * time.Second)
	}
}

func buildStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start agentd as a detached background process",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(cmd.Context())
		},
	}
}

func runStart(ctx context.Context) error {
	logger := newLogger()
	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if pid, alive := diagnoseDaemon(cfg); alive {
		return fmt.Errorf("agentd already running (pid %d)", pid)
	}

	logPath := cfg.Workspace.StateDir + "/agentd.log"
	if err := os.MkdirAll(cfg.Workspace.StateDir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open daemon log: %w", err)
	}
	defer logFile.Close()

	cmd := exec.Command(os.Args[0], "serve", "--config", configPath, "--agent", agentID)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.Stdin = nil
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("spawn daemon: %w", err)
	}

	logger.Info("agentd started in background", "pid", cmd.Process.Pid, "log", logPath)
	fmt.Printf("agentd started (pid %d), logging to %s\n", cmd.Process.Pid, logPath)
	return nil
}

func buildStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop a running agentd daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStop()
		},
	}
}

func runStop() error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	pid, alive := diagnoseDaemon(cfg)
	if !alive {
		fmt.Println("agentd is not running")
		return nil
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("find process %d: %w", pid, err)
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("signal process %d: %w", pid, err)
	}

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if _, alive := diagnoseDaemon(cfg); !alive {
			fmt.Printf("agentd (pid %d) stopped\n", pid)
			return nil
		}
		time.Sleep(200 * time.Millisecond)
	}

	if err := proc.Signal(syscall.SIGKILL); err != nil {
		return fmt.Errorf("force-kill process %d: %w", pid, err)
	}
	fmt.Printf("agentd (pid %d) force-killed after graceful shutdown timed out\n", pid)
	return nil
}

func buildRestartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restart",
		Short: "Stop then start the agentd daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := runStop(); err != nil {
				return err
			}
			return runStart(cmd.Context())
		},
	}
}

func buildStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report whether the agentd daemon is running",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			pid, alive := diagnoseDaemon(cfg)
			if pid == 0 {
				fmt.Println("agentd is not running (no pid record found)")
				return nil
			}
			if alive {
				fmt.Printf("agentd is running (pid %d)\n", pid)
			} else {
				fmt.Printf("agentd is not running (stale pid record for pid %d)\n", pid)
			}
			return nil
		},
	}
}

func buildHeartbeatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "one-heartbeat",
		Short: "Run a single heartbeat turn synchronously, then exit",
		Long: `one-heartbeat constructs the full daemon runtime, runs one owner turn
sourced from the workspace's HEARTBEAT.md (or a fixed fallback prompt if
absent), prints the reply, and exits. Intended for external schedulers
(cron, systemd timers) that would rather own the timing than rely on the
built-in Scheduler.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			cfg, err := loadConfig(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			d, err := NewDaemon(cfg, logger, nil, os.Stdout, "")
			if err != nil {
				return fmt.Errorf("build daemon: %w", err)
			}
			defer d.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
			defer cancel()
			reply, err := d.Heartbeat(ctx)
			if err != nil {
				return fmt.Errorf("heartbeat turn failed: %w", err)
			}
			fmt.Println(reply)
			return nil
		},
	}
}

// daemonPidRecord is the JSON shape written to <state_dir>/agentd.daemon.pid,
// a daemon-lifetime liveness record kept separate from the Workspace Lock's
// own per-turn PID file (lock.Lock's sibling file only exists while a turn
// is actively being processed, so it can't answer "is the daemon running?").
type daemonPidRecord struct {
	PID int `json:"pid"`
}

func daemonPidPath(cfg *config.Config) string {
	return cfg.Workspace.StateDir + "/agentd.daemon.pid"
}

func writeDaemonPidFile(cfg *config.Config, pid int) error {
	if err := os.MkdirAll(cfg.Workspace.StateDir, 0o755); err != nil {
		return err
	}
	data, _ := json.Marshal(daemonPidRecord{PID: pid})
	return os.WriteFile(daemonPidPath(cfg), data, 0o644)
}

func removeDaemonPidFile(cfg *config.Config) {
	_ = os.Remove(daemonPidPath(cfg))
}

// diagnoseDaemon reports the daemon's recorded pid and whether that process
// still appears to be alive, sending signal 0 to the recorded pid to check
// liveness without delivering a real signal.
func diagnoseDaemon(cfg *config.Config) (pid int, alive bool) {
	data, err := os.ReadFile(daemonPidPath(cfg))
	if err != nil {
		return 0, false
	}
	var rec daemonPidRecord
	if err := json.Unmarshal(data, &rec); err != nil || rec.PID <= 0 {
		return 0, false
	}
	proc, err := os.FindProcess(rec.PID)
	if err != nil {
		return rec.PID, false
	}
	if err := proc.Signal(syscall.Signal(0)); err != nil {
		return rec.PID, false
	}
	return rec.PID, true
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

func buildChatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session against the local workspace",
		Long: `chat builds the full runtime (model client, tool registry, sessions)
and drives it from this terminal: every line typed becomes an owner turn,
and "approve"/"deny" answers a pending tool approval instead of starting a
new one. Scheduled jobs and any enabled remote ingress channels also run
for the session's lifetime.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd.Context())
		},
	}
}

func runChat(ctx context.Context) error {
	logger := newLogger()
	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	d, err := NewDaemon(cfg, logger, os.Stdin, os.Stdout, "agentd> ")
	if err != nil {
		return fmt.Errorf("build daemon: %w", err)
	}
	defer d.Close()

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return d.Serve(ctx)
}

func buildAskCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ask [prompt]",
		Short: "Run a single owner turn and print the reply",
		Long: `ask builds the full runtime, sends args (joined by spaces) as one
OwnerCommand turn, prints the reply, and exits. Useful for scripting or a
quick one-off question without starting the daemon.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsk(cmd.Context(), strings.Join(args, " "))
		},
	}
}

func runAsk(ctx context.Context, text string) error {
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

	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	reply, err := d.Ask(ctx, "ask:owner", text)
	if err != nil {
		return fmt.Errorf("ask: %w", err)
	}
	fmt.Println(reply)
	return nil
}

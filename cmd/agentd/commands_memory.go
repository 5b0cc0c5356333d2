package main

import (
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/agentd-run/agentd/internal/config"
	"github.com/agentd-run/agentd/internal/memindex"
	"github.com/agentd-run/agentd/internal/workspace"
)

func buildMemoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Inspect and maintain the durable memory index",
	}
	cmd.AddCommand(buildMemorySearchCmd(), buildMemoryReindexCmd(), buildMemoryStatsCmd())
	return cmd
}

func openMemoryIndex() (*config.Config, *memindex.Index, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	idx, err := memindex.Open(filepath.Join(cfg.Workspace.StateDir, "memindex.db"))
	if err != nil {
		return nil, nil, fmt.Errorf("open memory index: %w", err)
	}
	return cfg, idx, nil
}

func buildMemorySearchCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the durable memory index",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, idx, err := openMemoryIndex()
			if err != nil {
				return err
			}
			defer idx.Close()

			query := args[0]
			for _, a := range args[1:] {
				query += " " + a
			}
			results, err := idx.Search(query, limit)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}
			if len(results) == 0 {
				fmt.Println("no matches")
				return nil
			}
			for _, r := range results {
				fmt.Printf("%s\n  %s\n\n", r.Path, r.Snippet)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "maximum number of results")
	return cmd
}

func buildMemoryReindexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild the durable memory index from the workspace's well-known files",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, idx, err := openMemoryIndex()
			if err != nil {
				return err
			}
			defer idx.Close()

			strategy := workspace.StrategyOverlay
			if cfg.Workspace.Strategy == "mount" {
				strategy = workspace.StrategyMount
			}
			ws := workspace.New(cfg.Workspace.Path, cfg.Workspace.Project, strategy)

			count, err := idx.Reindex(ws)
			if err != nil {
				return fmt.Errorf("reindex: %w", err)
			}
			fmt.Println(strconv.Itoa(count) + " documents indexed")
			return nil
		},
	}
}

func buildMemoryStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show durable memory index statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, idx, err := openMemoryIndex()
			if err != nil {
				return err
			}
			defer idx.Close()

			stats, err := idx.Stats()
			if err != nil {
				return fmt.Errorf("stats: %w", err)
			}
			fmt.Printf("documents: %d\nlast indexed: %s\n", stats.DocumentCount, stats.LastIndexedAt)
			return nil
		},
	}
}

package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/tidwall/sjson"
	"gopkg.in/yaml.v3"
)

func buildConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and validate the agentd config file",
	}
	cmd.AddCommand(buildConfigValidateCmd(), buildConfigShowCmd())
	return cmd
}

func buildConfigValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load the config file and report any validation errors",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := loadConfig(configPath); err != nil {
				return err
			}
			fmt.Printf("%s is valid\n", configPath)
			return nil
		},
	}
}

func buildConfigShowCmd() *cobra.Command {
	var overrides []string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Load the config file (with defaults applied) and print it as YAML",
		Long: `show prints the effective config after defaulting and (optionally)
scratch overrides applied with --set path=value, e.g. --set
Chat.MaxToolIterations=5 (the path follows the Go struct field names, since
overrides are patched onto the JSON form of the config with sjson's
dotted-path syntax before being re-rendered as YAML). Never written back to
the config file on disk.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}

			raw, err := json.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("marshal config: %w", err)
			}
			for _, o := range overrides {
				path, value, ok := strings.Cut(o, "=")
				if !ok {
					return fmt.Errorf("invalid --set %q: expected path=value", o)
				}
				raw, err = sjson.SetBytes(raw, path, value)
				if err != nil {
					return fmt.Errorf("apply override %q: %w", path, err)
				}
			}

			var asMap map[string]any
			if err := json.Unmarshal(raw, &asMap); err != nil {
				return fmt.Errorf("decode patched config: %w", err)
			}
			out, err := yaml.Marshal(asMap)
			if err != nil {
				return fmt.Errorf("render config as yaml: %w", err)
			}
			fmt.Print(string(out))
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&overrides, "set", nil, "preview override in dotted-path form, e.g. --set Chat.MaxToolIterations=5 (not persisted)")
	return cmd
}

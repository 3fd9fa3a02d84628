package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-hub/internal/automation"
	"github.com/nerrad567/gray-logic-hub/internal/scene"
)

func newCheckConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check-config",
		Short: "Validate config.yaml, automations.yaml and scenes.yaml",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, path, err := loadConfig(cmd)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: ok\n", path)

			if cfg.Automation.File != "" {
				raw, err := automation.NewFileStore(cfg.Automation.File).Load()
				if err != nil {
					return fmt.Errorf("%s: %w", cfg.Automation.File, err)
				}
				configs, err := automation.DecodeAll(raw)
				if err != nil {
					return fmt.Errorf("%s: %w", cfg.Automation.File, err)
				}
				fmt.Fprintf(out, "%s: %d automations\n", cfg.Automation.File, len(configs))
			}

			if cfg.Scenes.File != "" {
				scenes, err := scene.LoadFile(cfg.Scenes.File)
				if err != nil {
					return fmt.Errorf("%s: %w", cfg.Scenes.File, err)
				}
				fmt.Fprintf(out, "%s: %d scenes\n", cfg.Scenes.File, len(scenes))
			}
			return nil
		},
	}
}

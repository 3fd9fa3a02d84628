package main

import (
	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/config"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "grayhub",
		Short:         "Gray Logic Hub, a Home Assistant compatible automation core",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringP("config", "c", getConfigPath(), "path to config.yaml")

	root.AddCommand(
		newServeCmd(),
		newCheckConfigCmd(),
		newDBCmd(),
		newTokenCmd(),
		newVersionCmd(),
	)
	return root
}

func loadConfig(cmd *cobra.Command) (*config.Config, string, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, "", err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, err
	}
	return cfg, path, nil
}

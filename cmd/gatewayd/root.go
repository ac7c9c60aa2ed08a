package main

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

const (
	flagHome   = "home"
	flagConfig = "config"
)

func defaultHome() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".gateway"
	}
	return filepath.Join(home, ".gateway")
}

func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "gatewayd",
		Short:         "Interaction gateway daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().String(flagHome, defaultHome(), "directory holding config/gateway_config.json")
	rootCmd.PersistentFlags().String(flagConfig, "", "explicit config file path (overrides --home)")

	InitRootCmd(rootCmd) // add subcommands like `start` and `version`

	return rootCmd
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/pushchain/interaction-gateway/gateway/config"
	"github.com/pushchain/interaction-gateway/gateway/core"
	"github.com/pushchain/interaction-gateway/gateway/logger"
)

// Set with -ldflags at build time.
var (
	Version = "dev"
	Commit  = ""
)

func InitRootCmd(rootCmd *cobra.Command) {
	rootCmd.AddCommand(startCmd())
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(rankPeersCmd())
	rootCmd.AddCommand(versionCmd())
}

// loadConfig resolves --config, then <home>/config/gateway_config.json if it
// exists, then the built-in defaults.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path := flagValue(cmd, flagConfig)
	if path == "" {
		if candidate := config.FilePath(flagValue(cmd, flagHome)); fileExists(candidate) {
			path = candidate
		}
	}
	return config.Load(path)
}

// flagValue reads a local or inherited flag.
func flagValue(cmd *cobra.Command, name string) string {
	if f := cmd.Flag(name); f != nil {
		return f.Value.String()
	}
	return ""
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func startCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the interaction gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			log := logger.Init(cfg)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			gw, err := core.New(ctx, cfg, log)
			if err != nil {
				return err
			}
			return gw.Run(ctx)
		},
	}
}

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default configuration under --home",
		RunE: func(cmd *cobra.Command, args []string) error {
			home := flagValue(cmd, flagHome)
			target := config.FilePath(home)
			if fileExists(target) && !force {
				return fmt.Errorf("config already exists at %s (use --force to overwrite)", target)
			}

			cfg, err := config.LoadDefaultConfig()
			if err != nil {
				return err
			}
			if err := config.Save(cfg, home); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", target)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")
	return cmd
}

func rankPeersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rank-peers",
		Short: "Run one peer ranking cycle and print the best peers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			log := logger.Init(cfg)

			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
			defer cancel()

			cfg.QueryServerPort = 0
			gw, err := core.New(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer gw.Stop()

			summary, err := gw.RankPeers(ctx)
			if err != nil {
				return err
			}
			ranked, err := gw.RankedPeers(ctx, 10)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "live=%d removed=%d active=%d blacklisted=%d\n",
				summary.Live, summary.Removed, summary.Active, summary.Blacklisted)
			for i, p := range ranked {
				fmt.Fprintf(out, "%2d. %-28s blocks=%d/%d rtt=%dms\n", i+1, p.Address, p.BlocksStored, p.ReportedHeight, p.ResponseTimeMs)
			}
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print gatewayd version info",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Name:       %s\n", "gatewayd")
			fmt.Fprintf(out, "Version:    %s\n", Version)
			fmt.Fprintf(out, "Commit:     %s\n", Commit)
		},
	}
}

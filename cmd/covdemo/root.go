package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/normalframework/bacnet-cov-demo/internal/infrastructure/config"
	"github.com/normalframework/bacnet-cov-demo/internal/infrastructure/logging"
)

var (
	cfgFile  string
	logLevel string

	// cfg and logger are set by PersistentPreRunE for every subcommand.
	cfg    *config.Config
	logger *logging.Logger
)

var rootCmd = &cobra.Command{
	Use:   "covdemo",
	Short: "BACnet change-of-value demo for the Normal Framework gateway",
	Long: `covdemo creates test points on a Normal Framework gateway through its
Configuration API, keeps their values changing, and subscribes to them over
BACnet/IP to print every change-of-value notification.

Settings come from environment variables (TARGET_DEVICE_ID, GRPC_HOST, ...)
and optionally a YAML file given with --config.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to config file (YAML)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error); overrides LOG_LEVEL")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		if cmd.Flags().Changed("log-level") {
			cfg.Logging.Level = logLevel
		}
		logger = logging.New(cfg.Logging, "covdemo", version)
		slog.SetDefault(logger.Logger)
		return nil
	}

	rootCmd.AddCommand(subscribeCmd)
	rootCmd.AddCommand(pointsCmd)
	rootCmd.AddCommand(discoverCmd)
	rootCmd.AddCommand(probeCmd)
}

// Execute is the entry point called by main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

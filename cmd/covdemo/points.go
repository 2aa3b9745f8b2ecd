package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/normalframework/bacnet-cov-demo/internal/pointapi"
	"github.com/normalframework/bacnet-cov-demo/internal/points"
)

var pointsCmd = &cobra.Command{
	Use:   "points",
	Short: "Create the test points on the gateway and keep their values changing",
	Long: `Delete every local object on the gateway at GRPC_HOST:GRPC_PORT, create
one analog and binary input, output and value, then advance their
present-values every UPDATE_INTERVAL until interrupted.`,
	RunE: runPoints,
}

func runPoints(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	catalog, err := points.LoadCatalog(cfg.Points.File)
	if err != nil {
		return err
	}

	api, err := pointapi.Dial(cfg.Points.Target(), logger.Component("pointapi").Logger)
	if err != nil {
		return fmt.Errorf("connecting to point API: %w", err)
	}
	defer api.Close()

	logger.Info("managing local points", "target", cfg.Points.Target(),
		"points", len(catalog.Points), "interval", cfg.Points.UpdateInterval)
	mgr := points.NewManager(api, catalog, logger.Component("points").Logger)
	return mgr.Run(ctx, cfg.Points.UpdateInterval)
}

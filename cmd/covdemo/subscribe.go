package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/normalframework/bacnet-cov-demo/internal/covclient"
	"github.com/normalframework/bacnet-cov-demo/internal/notify"
	"github.com/normalframework/bacnet-cov-demo/internal/status"
)

var subscribeCmd = &cobra.Command{
	Use:   "subscribe",
	Short: "Subscribe to change-of-value on every object of the target device",
	Long: `Find TARGET_DEVICE_ID with a ranged Who-Is, read its object list and
subscribe to change-of-value on every object except the device. Each
notification is printed and forwarded to the configured sinks.

Active subscriptions are cancelled on SIGINT or SIGTERM.`,
	RunE: runSubscribe,
}

func runSubscribe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := newBACnetClient(cfg.BACnet, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	set := buildSinks(ctx, cfg.Sinks, logger)
	fanout := notify.NewFanout(logger.Component("notify").Logger, 0, set.sinks...)
	defer func() {
		if err := fanout.Close(); err != nil {
			logger.Warn("closing sinks", "error", err)
		}
	}()

	sub := covclient.New(client, fanout, covclient.Options{
		TargetDeviceID:  cfg.BACnet.TargetDeviceID,
		Confirmed:       cfg.BACnet.SubscribeConfirmed,
		PropertyRequest: cfg.BACnet.SubscribePropertyRequest,
		Lifetime:        cfg.BACnet.SubscriptionLifetime,
		Interval:        cfg.BACnet.TaskInterval,
		Out:             os.Stdout,
		Logger:          logger.Component("covclient").Logger,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return fanout.Run(gctx) })
	g.Go(func() error { return sub.Run(gctx) })

	if cfg.Status.Addr != "" {
		var hist status.HistorySource
		if set.history != nil {
			hist = set.history
		}
		router := status.NewRouter(logger.Component("status").Logger, sub, fanout, hist).
			WithReadiness(set.probes()...)
		if set.cache != nil {
			router.WithLatest(set.cache)
		}
		g.Go(func() error { return router.Serve(gctx, cfg.Status.Addr) })
	}

	err = g.Wait()
	logger.Info("subscriber stopped")
	return err
}

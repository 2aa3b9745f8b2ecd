package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/normalframework/bacnet-cov-demo/internal/infrastructure/mqtt"
	"github.com/normalframework/bacnet-cov-demo/internal/infrastructure/rediscache"
	"github.com/normalframework/bacnet-cov-demo/internal/pointapi"
	"github.com/normalframework/bacnet-cov-demo/internal/probe"
)

var (
	probeTimeout  time.Duration
	probeSkipPAPI bool
	probeSkipDev  bool
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Check that the demo's dependencies are reachable",
	Long: `Probe the point API (GetLocalObjects), the BACnet target device (ranged
Who-Is) and, when configured, Redis and the MQTT broker. The results are
printed as JSON; the command exits non-zero when any probe fails, so it can
be used as a compose healthcheck.`,
	RunE: runProbe,
}

func init() {
	probeCmd.Flags().DurationVar(&probeTimeout, "timeout", 10*time.Second, "overall probe timeout")
	probeCmd.Flags().BoolVar(&probeSkipPAPI, "skip-pointapi", false, "do not probe the point API")
	probeCmd.Flags().BoolVar(&probeSkipDev, "skip-device", false, "do not probe the BACnet device")
}

func runProbe(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()

	var probes []*probe.Probe

	if !probeSkipPAPI {
		api, err := pointapi.Dial(cfg.Points.Target(), logger.Component("pointapi").Logger)
		if err != nil {
			return fmt.Errorf("connecting to point API: %w", err)
		}
		defer api.Close()
		// one attempt is enough for a readiness check
		api.SetRetryPolicy(pointapi.RetryPolicy{Attempts: 1, InitialDelay: time.Second, Factor: 2})
		probes = append(probes, probe.PointAPI(api))
	}

	if !probeSkipDev {
		client, err := newBACnetClient(cfg.BACnet, logger)
		if err != nil {
			return err
		}
		defer client.Close()
		probes = append(probes, probe.Device(client, cfg.BACnet.TargetDeviceID))
	}

	if cfg.Sinks.Redis.Addr != "" {
		cache := rediscache.New(cfg.Sinks.Redis)
		defer cache.Close()
		probes = append(probes, probe.Redis(cache))
	}

	if cfg.Sinks.MQTT.Broker != "" {
		client, err := mqtt.Connect(cfg.Sinks.MQTT)
		if err != nil {
			probes = append(probes, probe.New("mqtt", func(context.Context) error { return err }))
		} else {
			defer client.Close()
			probes = append(probes, probe.Health("mqtt", client))
		}
	}

	results := probe.RunAll(ctx, probes...)

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(results); err != nil {
		return fmt.Errorf("encoding results: %w", err)
	}
	return probe.Check(results)
}

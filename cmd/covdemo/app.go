package main

import (
	"context"
	"fmt"
	"net"
	"os"

	bacnet "github.com/normalframework/bacnet-cov-demo"
	"github.com/normalframework/bacnet-cov-demo/internal/infrastructure/config"
	"github.com/normalframework/bacnet-cov-demo/internal/infrastructure/history"
	"github.com/normalframework/bacnet-cov-demo/internal/infrastructure/influxdb"
	"github.com/normalframework/bacnet-cov-demo/internal/infrastructure/logging"
	"github.com/normalframework/bacnet-cov-demo/internal/infrastructure/mqtt"
	"github.com/normalframework/bacnet-cov-demo/internal/infrastructure/natsbus"
	"github.com/normalframework/bacnet-cov-demo/internal/infrastructure/rediscache"
	"github.com/normalframework/bacnet-cov-demo/internal/notify"
	"github.com/normalframework/bacnet-cov-demo/internal/probe"
)

// newBACnetClient binds the BACnet port on all interfaces and sends
// broadcasts to the directed broadcast address of the local subnet.
func newBACnetClient(c config.BACnetConfig, log *logging.Logger) (*bacnet.BACnetClient, error) {
	var ip net.IP
	if c.InterfaceIP != "" {
		ip = net.ParseIP(c.InterfaceIP)
	} else {
		var err error
		if ip, err = bacnet.LocalIPv4(c.Interface); err != nil {
			return nil, fmt.Errorf("finding local address: %w", err)
		}
	}
	broadcast, err := bacnet.BroadcastAddress(ip, c.SubnetBits)
	if err != nil {
		return nil, fmt.Errorf("computing broadcast address: %w", err)
	}

	log.Info("starting BACnet client", "address", ip.String(), "port", c.Port,
		"broadcast", broadcast.String(), "device_id", c.LocalDeviceID)
	return bacnet.NewClient(bacnet.ClientOptions{
		LocalAddr:     &net.UDPAddr{IP: net.IPv4zero, Port: c.Port},
		BroadcastAddr: &net.UDPAddr{IP: broadcast, Port: c.Port},
		Timeout:       c.Timeout,
		DeviceID:      c.LocalDeviceID,
		Logger:        log.Component("bacnet").Logger,
	})
}

// sinkSet is the outcome of buildSinks. history, cache and mqtt are the
// connected backends also served by the status API; each may be nil.
type sinkSet struct {
	sinks   []notify.Sink
	history *history.Store
	cache   *rediscache.Cache
	mqtt    *mqtt.Client
}

// names lists the sinks in fan-out order.
func (s sinkSet) names() []string {
	names := make([]string, len(s.sinks))
	for i, sink := range s.sinks {
		names[i] = sink.Name()
	}
	return names
}

// probes returns a readiness probe per connected backend.
func (s sinkSet) probes() []*probe.Probe {
	var probes []*probe.Probe
	if s.cache != nil {
		probes = append(probes, probe.Redis(s.cache))
	}
	if s.mqtt != nil {
		probes = append(probes, probe.Health("mqtt", s.mqtt))
	}
	return probes
}

// buildSinks returns the console sink plus every configured sink that could
// be reached. A sink that fails to connect is logged and left out.
func buildSinks(ctx context.Context, c config.SinksConfig, log *logging.Logger) sinkSet {
	set := sinkSet{sinks: []notify.Sink{notify.NewConsole(os.Stdout)}}
	log = log.Component("sinks")

	if c.MQTT.Broker != "" {
		client, err := mqtt.Connect(c.MQTT)
		if err != nil {
			log.Warn("MQTT sink disabled", "broker", c.MQTT.Broker, "error", err)
		} else {
			set.mqtt = client
			set.sinks = append(set.sinks, mqtt.NewSink(client, c.MQTT))
		}
	}
	if c.NATS.URL != "" {
		sink, err := natsbus.Connect(c.NATS)
		if err != nil {
			log.Warn("NATS sink disabled", "url", c.NATS.URL, "error", err)
		} else {
			set.sinks = append(set.sinks, sink)
		}
	}
	if c.Redis.Addr != "" {
		set.cache = rediscache.New(c.Redis)
		set.sinks = append(set.sinks, set.cache)
	}
	if c.Influx.URL != "" {
		sink, err := influxdb.Connect(ctx, c.Influx)
		if err != nil {
			log.Warn("InfluxDB sink disabled", "url", c.Influx.URL, "error", err)
		} else {
			set.sinks = append(set.sinks, sink)
		}
	}
	if c.History.Path != "" {
		store, err := history.Open(c.History.Path, log.Component("history").Logger)
		if err != nil {
			log.Warn("history sink disabled", "path", c.History.Path, "error", err)
		} else {
			set.history = store
			set.sinks = append(set.sinks, store)
		}
	}

	log.Info("notification sinks", "sinks", set.names())
	return set
}

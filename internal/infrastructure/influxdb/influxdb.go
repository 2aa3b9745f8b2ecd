// Package influxdb records the numeric values of CoV notifications as
// InfluxDB points in the "cov" measurement, tagged by device and object.
package influxdb

import (
	"context"
	"errors"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/normalframework/bacnet-cov-demo/internal/infrastructure/config"
	"github.com/normalframework/bacnet-cov-demo/internal/notify"
)

// Sentinel errors for InfluxDB operations.
var (
	// ErrConnectionFailed indicates the initial ping failed.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrWriteFailed indicates a write operation failed.
	ErrWriteFailed = errors.New("influxdb: write failed")
)

const (
	measurement        = "cov"
	defaultPingTimeout = 5 * time.Second
)

// pointWriter is satisfied by api.WriteAPIBlocking.
type pointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

// Sink writes notifications synchronously so failures surface in the
// fan-out log instead of a background error channel.
type Sink struct {
	client influxdb2.Client
	writer pointWriter
}

// Connect creates a client for cfg and verifies the server answers a ping.
func Connect(ctx context.Context, cfg config.InfluxConfig) (*Sink, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	pctx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()
	healthy, err := client.Ping(pctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping failed: %w", ErrConnectionFailed, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: server not healthy", ErrConnectionFailed)
	}

	return &Sink{client: client, writer: client.WriteAPIBlocking(cfg.Org, cfg.Bucket)}, nil
}

func (s *Sink) Name() string { return "influxdb" }

// Point converts ev into a point holding its numeric values. ok is false
// when ev carries nothing numeric.
func Point(ev notify.Event) (p *write.Point, ok bool) {
	fields := make(map[string]interface{})
	for _, v := range ev.Values {
		if f, isNum := notify.Numeric(v.Value); isNum {
			fields[v.Property] = f
		}
	}
	if len(fields) == 0 {
		return nil, false
	}
	tags := map[string]string{
		"device":      ev.Device,
		"object":      ev.Object,
		"object_type": ev.ObjectType,
	}
	return write.NewPoint(measurement, tags, fields, ev.Time), true
}

func (s *Sink) Publish(ctx context.Context, ev notify.Event) error {
	p, ok := Point(ev)
	if !ok {
		return nil
	}
	if err := s.writer.WritePoint(ctx, p); err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	return nil
}

func (s *Sink) Close() error {
	if s.client != nil {
		s.client.Close()
	}
	return nil
}

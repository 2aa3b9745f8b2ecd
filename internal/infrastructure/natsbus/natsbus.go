// Package natsbus publishes accepted CoV notifications on NATS subjects of
// the form <prefix>.<device instance>.<object type>.<instance>.
package natsbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/normalframework/bacnet-cov-demo/internal/infrastructure/config"
	"github.com/normalframework/bacnet-cov-demo/internal/notify"
)

// ErrNotConnected is returned when publishing on a closed connection.
var ErrNotConnected = errors.New("natsbus: not connected")

const connectTimeout = 5 * time.Second

// conn is the subset of *nats.Conn used by the sink, so tests can inject a
// double without a live server.
type conn interface {
	Publish(subject string, data []byte) error
	IsConnected() bool
	Drain() error
}

// Sink publishes events as JSON messages.
type Sink struct {
	nc     conn
	prefix string
}

// Connect dials cfg.URL and returns a Sink publishing under cfg.SubjectPrefix.
func Connect(cfg config.NATSConfig) (*Sink, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.Name("covdemo"),
		nats.Timeout(connectTimeout),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect %s: %w", cfg.URL, err)
	}
	return newSink(nc, cfg.SubjectPrefix), nil
}

func newSink(nc conn, prefix string) *Sink {
	return &Sink{nc: nc, prefix: strings.TrimSuffix(prefix, ".")}
}

func (s *Sink) Name() string { return "nats" }

// Subject returns the subject an event is published on.
func (s *Sink) Subject(ev notify.Event) string {
	return fmt.Sprintf("%s.%d.%s.%d", s.prefix, ev.DeviceInstance, ev.ObjectType, ev.Instance)
}

func (s *Sink) Publish(ctx context.Context, ev notify.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !s.nc.IsConnected() {
		return ErrNotConnected
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}
	if err := s.nc.Publish(s.Subject(ev), data); err != nil {
		return fmt.Errorf("nats publish: %w", err)
	}
	return nil
}

// Close drains pending messages and closes the connection.
func (s *Sink) Close() error {
	return s.nc.Drain()
}

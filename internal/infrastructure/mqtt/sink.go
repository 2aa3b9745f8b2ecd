package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/normalframework/bacnet-cov-demo/internal/infrastructure/config"
	"github.com/normalframework/bacnet-cov-demo/internal/notify"
)

type publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// Sink adapts a Client to notify.Sink.
type Sink struct {
	pub    publisher
	prefix string
	qos    byte
}

// NewSink publishes through client using the prefix and QoS of cfg.
func NewSink(client *Client, cfg config.MQTTConfig) *Sink {
	return newSink(client, cfg)
}

func newSink(pub publisher, cfg config.MQTTConfig) *Sink {
	return &Sink{pub: pub, prefix: strings.TrimSuffix(cfg.TopicPrefix, "/"), qos: cfg.QoS}
}

func (s *Sink) Name() string { return "mqtt" }

// Topic returns the topic an event is published on.
func (s *Sink) Topic(ev notify.Event) string {
	return fmt.Sprintf("%s/%d/%s/%d", s.prefix, ev.DeviceInstance, ev.ObjectType, ev.Instance)
}

func (s *Sink) Publish(ctx context.Context, ev notify.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}
	return s.pub.Publish(s.Topic(ev), payload, s.qos, true)
}

// Close disconnects the underlying client when the sink owns one.
func (s *Sink) Close() error {
	if c, ok := s.pub.(*Client); ok {
		return c.Close()
	}
	return nil
}

package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// ErrQueueFull is returned by Fanout.Submit when the dispatch queue is full.
var ErrQueueFull = errors.New("notify: queue full")

// Sink receives accepted notifications.
type Sink interface {
	Name() string
	Publish(ctx context.Context, ev Event) error
}

// Console prints notifications in the demo's plain text format.
type Console struct {
	mu sync.Mutex
	w  io.Writer
}

// NewConsole returns a Console writing to w.
func NewConsole(w io.Writer) *Console {
	return &Console{w: w}
}

func (c *Console) Name() string { return "console" }

func (c *Console) Publish(_ context.Context, ev Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := io.WriteString(c.w, Format(ev))
	return err
}

// Format renders
//
//	device:10 analogValue:1 changed
//	    presentValue = 71.5,
//	    statusFlags = [0, 0, 0, 0]
func Format(ev Event) string {
	lines := make([]string, 0, len(ev.Values))
	for _, v := range ev.Values {
		lines = append(lines, fmt.Sprintf("%s = %s", v.Property, v.Text))
	}
	return fmt.Sprintf("%s %s changed\n    %s\n", ev.Device, ev.Object, strings.Join(lines, ",\n    "))
}

const (
	defaultQueueSize      = 256
	defaultPublishTimeout = 5 * time.Second
)

// Fanout delivers events to every sink from a single goroutine so the
// BACnet receive loop never waits on a sink. Sink errors are logged and
// otherwise ignored.
type Fanout struct {
	sinks []Sink
	queue chan Event
	log   *slog.Logger

	mu     sync.Mutex
	errors map[string]int
}

// NewFanout creates a Fanout with room for queueSize pending events.
func NewFanout(log *slog.Logger, queueSize int, sinks ...Sink) *Fanout {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	if log == nil {
		log = slog.Default()
	}
	return &Fanout{
		sinks:  sinks,
		queue:  make(chan Event, queueSize),
		log:    log,
		errors: make(map[string]int),
	}
}

// Sinks returns the names of the configured sinks.
func (f *Fanout) Sinks() []string {
	names := make([]string, 0, len(f.sinks))
	for _, s := range f.sinks {
		names = append(names, s.Name())
	}
	return names
}

// Submit queues ev without blocking.
func (f *Fanout) Submit(ev Event) error {
	select {
	case f.queue <- ev:
		return nil
	default:
		f.log.Warn("dropping notification", "object", ev.Object, "error", ErrQueueFull)
		return ErrQueueFull
	}
}

// Run delivers queued events until ctx is cancelled, then drains what is
// already queued.
func (f *Fanout) Run(ctx context.Context) error {
	for {
		select {
		case ev := <-f.queue:
			f.deliver(ctx, ev)
		case <-ctx.Done():
			f.drain()
			return nil
		}
	}
}

func (f *Fanout) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), defaultPublishTimeout)
	defer cancel()
	for {
		select {
		case ev := <-f.queue:
			f.deliver(ctx, ev)
		default:
			return
		}
	}
}

func (f *Fanout) deliver(ctx context.Context, ev Event) {
	for _, s := range f.sinks {
		pctx, cancel := context.WithTimeout(ctx, defaultPublishTimeout)
		err := s.Publish(pctx, ev)
		cancel()
		if err != nil {
			f.mu.Lock()
			f.errors[s.Name()]++
			f.mu.Unlock()
			f.log.Warn("sink publish failed", "sink", s.Name(), "object", ev.Object, "error", err)
		}
	}
}

// Errors returns the number of failed publishes per sink.
func (f *Fanout) Errors() map[string]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]int, len(f.errors))
	for k, v := range f.errors {
		out[k] = v
	}
	return out
}

// Close closes every sink that implements io.Closer.
func (f *Fanout) Close() error {
	var errs []error
	for _, s := range f.sinks {
		if c, ok := s.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("closing %s: %w", s.Name(), err))
			}
		}
	}
	return errors.Join(errs...)
}

// Package probe runs readiness checks against the demo's dependencies. Each
// dependency gets its own circuit breaker, so a dependency that keeps failing
// is reported as "circuit open" without being contacted again until the
// breaker lets a trial request through.
package probe

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"

	bacnet "github.com/normalframework/bacnet-cov-demo"
	"github.com/normalframework/bacnet-cov-demo/internal/breaker"
	"github.com/normalframework/bacnet-cov-demo/internal/pointapi"
)

// Result is the outcome of one probe.
type Result struct {
	Name      string `json:"name"`
	OK        bool   `json:"ok"`
	LatencyMs int64  `json:"latencyMs"`
	Error     string `json:"error,omitempty"`
}

// Probe checks one dependency through a circuit breaker.
type Probe struct {
	name  string
	cb    *gobreaker.CircuitBreaker
	check func(ctx context.Context) error
}

// New wraps check in a breaker named name.
func New(name string, check func(ctx context.Context) error) *Probe {
	return &Probe{name: name, cb: breaker.New("probe-"+name, nil), check: check}
}

func (p *Probe) Name() string { return p.name }

// Run executes the check and reports how long it took.
func (p *Probe) Run(ctx context.Context) Result {
	start := time.Now()
	_, err := p.cb.Execute(func() (any, error) {
		return nil, p.check(ctx)
	})
	latency := time.Since(start).Milliseconds()

	if err != nil {
		msg := err.Error()
		if breaker.IsOpen(err) {
			msg = "circuit open"
		}
		return Result{Name: p.name, OK: false, LatencyMs: latency, Error: msg}
	}
	return Result{Name: p.name, OK: true, LatencyMs: latency}
}

// Pinger is implemented by rediscache.Cache.
type Pinger interface {
	PingResult(ctx context.Context) (string, error)
}

// Redis pings Redis and expects PONG.
func Redis(p Pinger) *Probe {
	return New("redis", func(ctx context.Context) error {
		val, err := p.PingResult(ctx)
		if err != nil {
			return fmt.Errorf("ping: %w", err)
		}
		if val != "PONG" {
			return fmt.Errorf("unexpected PING response: %q", val)
		}
		return nil
	})
}

// ObjectLister is the part of the point API the probe calls.
type ObjectLister interface {
	GetLocalObjects(ctx context.Context, in *pointapi.GetLocalObjectsRequest) (*pointapi.GetLocalObjectsReply, error)
}

// PointAPI lists the local objects on the point server.
func PointAPI(api ObjectLister) *Probe {
	return New("pointapi", func(ctx context.Context) error {
		if _, err := api.GetLocalObjects(ctx, &pointapi.GetLocalObjectsRequest{}); err != nil {
			return fmt.Errorf("get local objects: %w", err)
		}
		return nil
	})
}

// DeviceFinder is implemented by *bacnet.BACnetClient.
type DeviceFinder interface {
	FindDevice(ctx context.Context, deviceID uint32) (bacnet.DeviceInfo, error)
}

// Device sends a ranged Who-Is for deviceID.
func Device(f DeviceFinder, deviceID uint32) *Probe {
	return New("bacnet", func(ctx context.Context) error {
		_, err := f.FindDevice(ctx, deviceID)
		return err
	})
}

// HealthChecker is implemented by the MQTT client.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Health wraps any HealthChecker.
func Health(name string, h HealthChecker) *Probe {
	return New(name, h.HealthCheck)
}

// RunAll runs the probes concurrently and returns their results by name.
func RunAll(ctx context.Context, probes ...*Probe) map[string]Result {
	results := make(map[string]Result, len(probes))
	var mu sync.Mutex
	var g errgroup.Group
	for _, p := range probes {
		g.Go(func() error {
			r := p.Run(ctx)
			mu.Lock()
			results[p.name] = r
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// ErrUnhealthy is returned by Check when a probe failed.
var ErrUnhealthy = errors.New("probe: dependency unhealthy")

// Check returns ErrUnhealthy naming the first failed probe, in name order.
func Check(results map[string]Result) error {
	var failed []string
	for name, r := range results {
		if !r.OK {
			failed = append(failed, name)
		}
	}
	if len(failed) == 0 {
		return nil
	}
	sort.Strings(failed)
	return fmt.Errorf("%w: %s: %s", ErrUnhealthy, failed[0], results[failed[0]].Error)
}

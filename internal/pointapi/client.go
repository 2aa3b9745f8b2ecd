package pointapi

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/normalframework/bacnet-cov-demo/internal/breaker"
)

// RetryPolicy controls how calls are retried while the server is unavailable.
type RetryPolicy struct {
	Attempts     int
	InitialDelay time.Duration
	Factor       int
}

// DefaultRetryPolicy makes 5 attempts, waiting 1s, 2s, 4s and 8s between them.
var DefaultRetryPolicy = RetryPolicy{Attempts: 5, InitialDelay: time.Second, Factor: 2}

// Client calls the Configuration service. Every call is retried on
// codes.Unavailable and runs through a circuit breaker that opens after
// three calls in a row exhaust their retries.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Client struct {
	cc    grpc.ClientConnInterface
	conn  *grpc.ClientConn
	cb    *gobreaker.CircuitBreaker
	retry RetryPolicy
	log   *slog.Logger

	// sleep waits between attempts; tests replace it.
	sleep func(ctx context.Context, d time.Duration) error
}

var _ ConfigurationClient = (*Client)(nil)

// Dial creates a client for target (host:port) over an insecure channel.
// The connection is established lazily on the first call.
func Dial(target string, log *slog.Logger, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(CallOption()),
	}, opts...)
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating gRPC client for %s: %w", target, err)
	}
	c := NewClient(conn, log)
	c.conn = conn
	return c, nil
}

// NewClient wraps an existing connection.
func NewClient(cc grpc.ClientConnInterface, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		cc:    cc,
		cb:    breaker.New("point-api", isBreakerSuccess),
		retry: DefaultRetryPolicy,
		log:   log,
		sleep: sleepContext,
	}
}

// SetRetryPolicy replaces the retry policy.
func (c *Client) SetRetryPolicy(p RetryPolicy) {
	if p.Attempts < 1 {
		p.Attempts = 1
	}
	if p.Factor < 1 {
		p.Factor = 1
	}
	c.retry = p
}

// Close closes the connection created by Dial.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// isBreakerSuccess keeps the breaker closed for errors other than
// unavailability: the server answered.
func isBreakerSuccess(err error) bool {
	return err == nil || status.Code(err) != codes.Unavailable
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) invoke(ctx context.Context, method string, in, out message) error {
	_, err := c.cb.Execute(func() (any, error) {
		return nil, c.withRetry(ctx, method, func() error {
			return c.cc.Invoke(ctx, fullMethod(method), in, out, CallOption())
		})
	})
	if breaker.IsOpen(err) {
		return fmt.Errorf("%s: %w", method, ErrCircuitOpen)
	}
	return err
}

// withRetry runs call up to Attempts times while it fails with
// codes.Unavailable, doubling the delay after each failure.
func (c *Client) withRetry(ctx context.Context, method string, call func() error) error {
	delay := c.retry.InitialDelay
	var err error
	for attempt := 1; attempt <= c.retry.Attempts; attempt++ {
		c.log.Debug("calling point API", "method", method, "attempt", attempt, "of", c.retry.Attempts)
		err = call()
		if err == nil {
			return nil
		}
		if status.Code(err) != codes.Unavailable {
			return err
		}
		if attempt == c.retry.Attempts {
			break
		}
		c.log.Warn("point API unavailable, retrying", "method", method, "attempt", attempt, "delay", delay, "error", err)
		if serr := c.sleep(ctx, delay); serr != nil {
			return serr
		}
		delay *= time.Duration(c.retry.Factor)
	}
	return err
}

func (c *Client) GetLocalObjects(ctx context.Context, in *GetLocalObjectsRequest) (*GetLocalObjectsReply, error) {
	out := new(GetLocalObjectsReply)
	if err := c.invoke(ctx, methodGetLocalObjects, in, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CreateLocalObject(ctx context.Context, in *CreateLocalObjectRequest) (*Empty, error) {
	out := new(Empty)
	if err := c.invoke(ctx, methodCreateLocalObject, in, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) DeleteLocalObject(ctx context.Context, in *DeleteLocalObjectRequest) (*Empty, error) {
	out := new(Empty)
	if err := c.invoke(ctx, methodDeleteLocalObject, in, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) UpdateLocalObject(ctx context.Context, in *UpdateLocalObjectRequest) (*Empty, error) {
	out := new(Empty)
	if err := c.invoke(ctx, methodUpdateLocalObject, in, out); err != nil {
		return nil, err
	}
	return out, nil
}

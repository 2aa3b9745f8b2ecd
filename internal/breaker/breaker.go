// Package breaker builds the circuit breakers shared by the point API client
// and the readiness probes.
package breaker

import (
	"errors"
	"time"

	"github.com/sony/gobreaker"
)

// openTimeout is how long a tripped breaker stays open before letting a
// trial request through.
const openTimeout = 30 * time.Second

// New returns a gobreaker configured to trip after 3 consecutive failures and
// reset after 30 seconds in the open state. isSuccessful may be nil, in which
// case every non-nil error counts as a failure.
func New(name string, isSuccessful func(error) bool) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		IsSuccessful: isSuccessful,
	})
}

// IsOpen reports whether err was returned because the breaker is open or
// saturated in the half-open state.
func IsOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

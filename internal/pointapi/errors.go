package pointapi

import "errors"

var (
	// ErrMalformed is returned when a message cannot be decoded.
	ErrMalformed = errors.New("pointapi: malformed message")

	// ErrCircuitOpen is returned while the breaker rejects calls after
	// repeated unavailability.
	ErrCircuitOpen = errors.New("pointapi: circuit open")
)

package breaker

import (
	"errors"
	"fmt"
	"testing"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
)

var errBoom = errors.New("boom")

func TestNew_OpensAfterThreeFailures(t *testing.T) {
	t.Parallel()

	cb := New("test-open", nil)
	for i := 0; i < 3; i++ {
		_, err := cb.Execute(func() (any, error) { return nil, errBoom })
		assert.ErrorIs(t, err, errBoom)
	}
	assert.Equal(t, gobreaker.StateOpen, cb.State())

	called := false
	_, err := cb.Execute(func() (any, error) {
		called = true
		return nil, nil
	})
	assert.False(t, called)
	assert.True(t, IsOpen(err))
	assert.True(t, IsOpen(fmt.Errorf("wrapped: %w", err)))
}

func TestNew_IsSuccessfulFilter(t *testing.T) {
	t.Parallel()

	ignored := errors.New("not found")
	cb := New("test-filter", func(err error) bool { return err == nil || errors.Is(err, ignored) })
	for i := 0; i < 5; i++ {
		_, err := cb.Execute(func() (any, error) { return nil, ignored })
		assert.ErrorIs(t, err, ignored)
	}
	assert.Equal(t, gobreaker.StateClosed, cb.State())
	assert.False(t, IsOpen(ignored))
}

// Package status serves the CoV client's state over HTTP.
package status

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/normalframework/bacnet-cov-demo/internal/probe"
)

const shutdownTimeout = 5 * time.Second

// Router wraps a configured gin engine.
type Router struct {
	engine  *gin.Engine
	log     *slog.Logger
	handler *Handler
}

// NewRouter registers the routes. sinks and history may be nil; /history is
// only served when history is set.
func NewRouter(log *slog.Logger, state StateSource, sinks SinkStats, history HistorySource) *Router {
	if log == nil {
		log = slog.Default()
	}
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(Recovery(log))
	engine.Use(RequestLogger(log))

	h := &Handler{state: state, sinks: sinks, history: history}
	engine.GET("/healthz", h.Health)
	engine.GET("/subscriptions", h.Subscriptions)
	engine.GET("/values", h.Values)
	engine.GET("/values/:object", h.ObjectValues)
	if history != nil {
		engine.GET("/history", h.History)
	}

	return &Router{engine: engine, log: log, handler: h}
}

// WithLatest makes /values/:object fall back to latest for objects the
// subscriber holds no values for, such as after a restart.
func (r *Router) WithLatest(latest LatestSource) *Router {
	r.handler.latest = latest
	return r
}

// WithReadiness serves GET /readyz, running probes on every request. The
// probes keep their circuit breakers between requests, so a dependency that
// keeps failing is reported as "circuit open" without being contacted.
func (r *Router) WithReadiness(probes ...*probe.Probe) *Router {
	r.handler.probes = probes
	r.engine.GET("/readyz", r.handler.Ready)
	return r
}

// Handler returns the underlying http.Handler.
func (r *Router) Handler() http.Handler {
	return r.engine
}

// Serve listens on addr until ctx is cancelled, then shuts down gracefully.
func (r *Router) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           r.engine,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		r.log.Info("status API listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("status API: %w", err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("status API shutdown: %w", err)
	}
	return nil
}

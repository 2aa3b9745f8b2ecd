package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/normalframework/bacnet-cov-demo/internal/infrastructure/config"
)

// Logger wraps slog.Logger with per-component level control.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Logger struct {
	*slog.Logger

	// base carries service and version but no component.
	base      slog.Handler
	component string
	level     slog.Level
	debug     map[string]bool
}

// New creates a Logger from cfg. service and version are attached to every entry.
func New(cfg config.LoggingConfig, service, version string) *Logger {
	var output io.Writer
	switch strings.ToLower(cfg.Output) {
	case "stdout":
		output = os.Stdout
	default:
		output = os.Stderr
	}
	return NewWithWriter(cfg, service, version, output)
}

// NewWithWriter is New with an explicit destination.
func NewWithWriter(cfg config.LoggingConfig, service, version string, output io.Writer) *Logger {
	// The base handler passes everything; levelHandler does the filtering so
	// components can be lowered independently.
	opts := &slog.HandlerOptions{Level: slog.LevelDebug}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	handler = handler.WithAttrs([]slog.Attr{
		slog.String("service", service),
		slog.String("version", version),
	})

	level := parseLevel(cfg.Level)
	return &Logger{
		Logger: slog.New(&levelHandler{Handler: handler, min: level}),
		base:   handler,
		level:  level,
		debug:  parseDebug(cfg.Debug),
	}
}

// parseLevel converts a string log level to slog.Level.
//
// Supported levels: debug, info, warn, error
// Defaults to info if unrecognised.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func parseDebug(list string) map[string]bool {
	debug := make(map[string]bool)
	for _, name := range strings.Split(list, ",") {
		name = strings.ToLower(strings.TrimSpace(name))
		if name != "" {
			debug[name] = true
		}
	}
	return debug
}

// DebugEnabled reports whether the component was listed in DEBUG.
func (l *Logger) DebugEnabled(component string) bool {
	return l.debug["all"] || l.debug[strings.ToLower(component)]
}

// Component returns a logger tagged with component=name. Nested components
// are joined with dots, so Component("sinks").Component("history") logs
// component=sinks.history. The logger runs at debug level when either the
// full path or name is listed in DEBUG.
func (l *Logger) Component(name string) *Logger {
	path := name
	if l.component != "" {
		path = l.component + "." + name
	}
	level := l.level
	if l.DebugEnabled(path) || l.DebugEnabled(name) {
		level = slog.LevelDebug
	}
	handler := l.base.WithAttrs([]slog.Attr{slog.String("component", path)})
	return &Logger{
		Logger:    slog.New(&levelHandler{Handler: handler, min: level}),
		base:      l.base,
		component: path,
		level:     level,
		debug:     l.debug,
	}
}

// levelHandler drops records below min.
type levelHandler struct {
	slog.Handler
	min slog.Level
}

func (h *levelHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.min && h.Handler.Enabled(ctx, level)
}

func (h *levelHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &levelHandler{Handler: h.Handler.WithAttrs(attrs), min: h.min}
}

func (h *levelHandler) WithGroup(name string) slog.Handler {
	return &levelHandler{Handler: h.Handler.WithGroup(name), min: h.min}
}

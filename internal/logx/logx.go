// Package logx builds the daemon's structured logger: a tee of a
// human-readable stdout sink and a rotating JSON file sink.
package logx

import (
	"context"
	"io"
	"log/slog"
	"os"

	slogmulti "github.com/samber/slog-multi"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config controls where and how verbosely the logger writes.
type Config struct {
	// Dir is the directory log files are rotated into. Empty disables the
	// file sink (stdout only).
	Dir string
	// Level is the minimum level emitted by either sink.
	Level slog.Level
	// MaxSizeMB is the rotation threshold for the file sink.
	MaxSizeMB int
	// MaxBackups is the number of rotated files kept.
	MaxBackups int
	// Tail, if set, receives every record so the control server can
	// serve GET /api/logs without a persistent log store.
	Tail *TailBuffer
}

func (c Config) withDefaults() Config {
	if c.MaxSizeMB == 0 {
		c.MaxSizeMB = 20
	}
	if c.MaxBackups == 0 {
		c.MaxBackups = 5
	}
	return c
}

// New builds the tee'd logger described by cfg. The returned logger is
// safe for concurrent use by every component in the daemon.
func New(cfg Config) *slog.Logger {
	cfg = cfg.withDefaults()
	opts := &slog.HandlerOptions{Level: cfg.Level}

	handlers := []slog.Handler{slog.NewTextHandler(os.Stdout, opts)}
	if cfg.Dir != "" {
		var w io.Writer = &lumberjack.Logger{
			Filename:   cfg.Dir + "/daemon.log",
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			Compress:   true,
		}
		handlers = append(handlers, slog.NewJSONHandler(w, opts))
	}
	if cfg.Tail != nil {
		handlers = append(handlers, cfg.Tail.Handler())
	}

	return slog.New(slogmulti.Fanout(handlers...))
}

type componentKey struct{}

// With returns a logger tagged with the given component name, the way
// each daemon subsystem (watcher, queue, cluster, ...) identifies its own
// log lines.
func With(l *slog.Logger, component string) *slog.Logger {
	return l.With("component", component)
}

// IntoContext stores a logger on ctx for handlers and background loops
// that only carry a context.Context.
func IntoContext(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, componentKey{}, l)
}

// FromContext retrieves the logger stored by IntoContext, falling back to
// slog.Default() if none was stored.
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(componentKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return slog.Default()
}

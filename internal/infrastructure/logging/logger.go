package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nerrad567/hublink/internal/infrastructure/config"
)

// serviceName is attached to every log entry.
const serviceName = "hublink"

// Logger is the agent's structured logger.
//
// Every entry carries the service name and build version. Child loggers
// from Component and ForIdentity add their own attributes. A *Logger
// satisfies the narrow Logger interfaces declared by the transport,
// reactor, deviceio and mqtt packages.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Logger struct {
	*slog.Logger
}

// New builds the logger described by the logging section of config.yaml.
//
// Parameters:
//   - cfg: level, format ("json" or "text") and output ("stdout" or "stderr")
//   - version: build version, attached to every entry
//
// Returns:
//   - *Logger: ready for use
func New(cfg config.LoggingConfig, version string) *Logger {
	out := io.Writer(os.Stdout)
	if strings.EqualFold(cfg.Output, "stderr") {
		out = os.Stderr
	}
	return NewWithWriter(cfg, version, out)
}

// NewWithWriter creates a Logger that writes to w, ignoring cfg.Output.
func NewWithWriter(cfg config.LoggingConfig, version string, w io.Writer) *Logger {
	opts := &slog.HandlerOptions{Level: levelOf(cfg.Level)}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	return &Logger{
		Logger: slog.New(handler.WithAttrs([]slog.Attr{
			slog.String("service", serviceName),
			slog.String("version", version),
		})),
	}
}

// levelOf maps a configured level name to a slog level. Unknown names
// log at info.
func levelOf(name string) slog.Level {
	switch strings.ToLower(name) {
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

// With returns a child Logger carrying the extra attributes.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// Component returns a child logger tagged with the component name.
//
//	log.Component("ledger").Info("pruned", "rows", n) // component=ledger
func (l *Logger) Component(name string) *Logger {
	return l.With("component", name)
}

// ForIdentity returns a child logger tagged with the device identity.
// The module id is only attached when set.
func (l *Logger) ForIdentity(deviceID, moduleID string) *Logger {
	if moduleID == "" {
		return l.With("device_id", deviceID)
	}
	return l.With("device_id", deviceID, "module_id", moduleID)
}

// Default is the JSON, info-level stdout logger used until the
// configuration has been loaded.
func Default() *Logger {
	return New(config.LoggingConfig{Level: "info", Format: "json", Output: "stdout"}, "dev")
}

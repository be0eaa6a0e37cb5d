package mailclass

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger to provide structured logging for mailclass
// operations.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new logger with the given slog handler.
func NewLogger(handler slog.Handler) *Logger {
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a logger that outputs JSON to stderr.
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})

	return NewLogger(handler)
}

// NewTextLogger creates a logger that outputs human-readable text to stderr.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})

	return NewLogger(handler)
}

// NoopLogger creates a logger that discards all log output.
func NoopLogger() *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.Level(1000), // Level higher than any log call
	})

	return NewLogger(handler)
}

// WithComponent returns a logger with a component attribute.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		Logger: l.Logger.With(slog.String("component", component)),
	}
}

// WithNFeatures returns a logger with a feature count attribute.
func (l *Logger) WithNFeatures(n int) *Logger {
	return &Logger{
		Logger: l.Logger.With(slog.Int("nFeatures", n)),
	}
}

// WithPath returns a logger with a path attribute.
func (l *Logger) WithPath(path string) *Logger {
	return &Logger{
		Logger: l.Logger.With(slog.String("path", path)),
	}
}

// WithCount returns a logger with a count attribute.
func (l *Logger) WithCount(count int) *Logger {
	return &Logger{
		Logger: l.Logger.With(slog.Int("count", count)),
	}
}

// LogTrain logs a training run.
func (l *Logger) LogTrain(ctx context.Context, examples, epochs int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "training failed",
			"examples", examples,
			"epochs", epochs,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "training completed",
			"examples", examples,
			"epochs", epochs,
		)
	}
}

// LogPredict logs a classification operation.
func (l *Logger) LogPredict(ctx context.Context, count int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "classification failed",
			"count", count,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "classification completed",
			"count", count,
		)
	}
}

// LogSave logs an artifact save operation.
func (l *Logger) LogSave(ctx context.Context, dest string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "model save failed",
			"dest", dest,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "model saved",
			"dest", dest,
		)
	}
}

// LogLoad logs an artifact load operation.
func (l *Logger) LogLoad(ctx context.Context, source string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "model load failed",
			"source", source,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "model loaded",
			"source", source,
		)
	}
}

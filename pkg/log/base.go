package log

import (
	"context"
	"fmt"
	"log/slog"
	"os"
)

// BaseLogger implements Logger on top of slog. Child loggers share the
// sink, so SetLevel on any of them applies to all.
type BaseLogger struct {
	sink *sink
	slog *slog.Logger
}

func (l *BaseLogger) log(level Level, msg string, fields []Field) {
	if !l.Enabled(level) {
		return
	}
	l.slog.LogAttrs(context.Background(), toSlogLevel(level), msg, attrsFromFields(fields)...)
	if level == FatalLevel {
		os.Exit(1)
	}
}

// Debug logs at DebugLevel.
func (l *BaseLogger) Debug(msg string, fields ...Field) { l.log(DebugLevel, msg, fields) }

// Info logs at InfoLevel.
func (l *BaseLogger) Info(msg string, fields ...Field) { l.log(InfoLevel, msg, fields) }

// Warn logs at WarnLevel.
func (l *BaseLogger) Warn(msg string, fields ...Field) { l.log(WarnLevel, msg, fields) }

// Error logs at ErrorLevel.
func (l *BaseLogger) Error(msg string, fields ...Field) { l.log(ErrorLevel, msg, fields) }

// Fatal logs at FatalLevel and exits the process.
func (l *BaseLogger) Fatal(msg string, fields ...Field) { l.log(FatalLevel, msg, fields) }

// With returns a derived logger carrying the given fields.
func (l *BaseLogger) With(fields ...Field) Logger {
	if len(fields) == 0 {
		return l
	}
	return &BaseLogger{sink: l.sink, slog: slog.New(l.slog.Handler().WithAttrs(attrsFromFields(fields)))}
}

// WithContext returns a derived logger carrying the fields stored in ctx.
func (l *BaseLogger) WithContext(ctx context.Context) Logger {
	return l.With(FieldsFromContext(ctx)...)
}

// WithComponent tags the logger with a component name.
func (l *BaseLogger) WithComponent(component string) Logger {
	return l.With(Component(component))
}

// Enabled reports whether entries at level are written.
func (l *BaseLogger) Enabled(level Level) bool { return level >= l.GetLevel() }

// SetLevel sets the minimum level.
func (l *BaseLogger) SetLevel(level Level) { l.sink.level.Store(int32(level)) }

// GetLevel returns the minimum level.
func (l *BaseLogger) GetLevel() Level { return Level(l.sink.level.Load()) }

// String renders the field as key=value.
func (f Field) String() string { return fmt.Sprintf("%s=%v", f.Key, f.Value) }

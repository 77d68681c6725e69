package log

import (
	"context"
	"log/slog"
	"time"
)

// Level is the severity of an entry.
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
	FatalLevel
)

func (l Level) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	case FatalLevel:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// Fields is a set of structured values keyed by name.
type Fields map[string]interface{}

// Well-known field keys.
const (
	ComponentKey = "component"
	InstanceKey  = "instance"
	APIKeyKey    = "api_key"
	MPIDKey      = "mpid"
)

// Entry is one formatted log record.
type Entry struct {
	Level     Level
	Message   string
	Fields    Fields
	Timestamp time.Time
	Caller    string
	Error     error
}

// Logger is the structured logging facade used across mptrack.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	// Fatal logs and exits the process.
	Fatal(msg string, fields ...Field)

	// With returns a child logger carrying fields on every entry.
	With(fields ...Field) Logger
	// WithContext returns a child logger carrying the fields stored in ctx
	// by ContextWithFields.
	WithContext(ctx context.Context) Logger
	WithComponent(component string) Logger

	Enabled(level Level) bool
	SetLevel(level Level)
	GetLevel() Level
}

// Formatter renders an entry.
type Formatter interface {
	Format(entry *Entry) ([]byte, error)
}

// Output receives formatted entries.
type Output interface {
	Write(entry *Entry, formattedEntry []byte) error
	Close() error
}

// LoggerOption configures NewLogger.
type LoggerOption func(*BaseLogger)

type ctxFieldsKey struct{}

// ContextWithFields returns a copy of ctx carrying fields for WithContext.
// Fields already in ctx are kept; later values win.
func ContextWithFields(ctx context.Context, fields ...Field) context.Context {
	if len(fields) == 0 {
		return ctx
	}
	prev := FieldsFromContext(ctx)
	merged := make([]Field, 0, len(prev)+len(fields))
	merged = append(merged, prev...)
	merged = append(merged, fields...)
	return context.WithValue(ctx, ctxFieldsKey{}, merged)
}

// FieldsFromContext returns the fields stored by ContextWithFields.
func FieldsFromContext(ctx context.Context) []Field {
	if ctx == nil {
		return nil
	}
	fs, _ := ctx.Value(ctxFieldsKey{}).([]Field)
	return fs
}

// NewLogger builds a logger. Defaults: InfoLevel, JSON, console output.
func NewLogger(options ...LoggerOption) Logger {
	l := &BaseLogger{sink: &sink{formatter: &JSONFormatter{}}}
	l.sink.level.Store(int32(InfoLevel))
	for _, option := range options {
		option(l)
	}
	if len(l.sink.outputs) == 0 {
		l.sink.outputs = append(l.sink.outputs, NewConsoleOutput())
	}
	l.slog = slog.New(newBridgeHandler(l.sink))
	return l
}

// WithLevel sets the minimum level.
func WithLevel(level Level) LoggerOption {
	return func(l *BaseLogger) { l.sink.level.Store(int32(level)) }
}

// WithFormatter sets the formatter.
func WithFormatter(formatter Formatter) LoggerOption {
	return func(l *BaseLogger) { l.sink.formatter = formatter }
}

// WithOutput adds an output.
func WithOutput(output Output) LoggerOption {
	return func(l *BaseLogger) { l.sink.outputs = append(l.sink.outputs, output) }
}

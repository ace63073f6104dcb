// Package logging provides structured logging for the stream controller.
//
// Two layers live here. Logger is the developer-facing structured logger used
// by transports and sinks. Reporter turns controller lifecycle milestones into
// LogEntry records and hands them to a Sink, which either batches them to a
// remote collector over HTTP or writes them through a Logger.
package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	streamerrors "github.com/chancetop/aistream-go/pkg/errors"
)

// Level represents the severity of a log message
type Level int

const (
	// DebugLevel is for detailed information useful for debugging
	DebugLevel Level = iota - 1
	// InfoLevel is for general informational messages
	InfoLevel
	// WarnLevel is for warning messages
	WarnLevel
	// ErrorLevel is for error messages
	ErrorLevel
	// FatalLevel is for fatal errors that will terminate the program
	FatalLevel
)

// String returns the string representation of a log level
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

// ParseLevel converts a level name such as "debug" or "WARN" into a Level.
func ParseLevel(name string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return DebugLevel, nil
	case "", "info":
		return InfoLevel, nil
	case "warn", "warning":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	case "fatal":
		return FatalLevel, nil
	default:
		return InfoLevel, fmt.Errorf("unknown log level %q", name)
	}
}

// Field represents a key-value pair for structured logging
type Field struct {
	Key   string
	Value interface{}
}

// String creates a string field
func String(key, value string) Field {
	return Field{Key: key, Value: value}
}

// Int creates an integer field
func Int(key string, value int) Field {
	return Field{Key: key, Value: value}
}

// Bool creates a boolean field
func Bool(key string, value bool) Field {
	return Field{Key: key, Value: value}
}

// ErrorField creates an error field
func ErrorField(err error) Field {
	return Field{Key: "error", Value: err}
}

// Duration creates a duration field
func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value}
}

// Time creates a time field
func Time(key string, value time.Time) Field {
	return Field{Key: key, Value: value}
}

// Any creates a field with any value
func Any(key string, value interface{}) Field {
	return Field{Key: key, Value: value}
}

// Logger is the interface for structured logging
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	// Fatal logs a fatal message with fields and exits
	Fatal(msg string, fields ...Field)

	// WithFields returns a new logger with additional fields
	WithFields(fields ...Field) Logger
	// WithContext returns a new logger carrying the trace id stored in ctx
	WithContext(ctx context.Context) Logger
	// WithError returns a new logger with error context
	WithError(err error) Logger

	SetLevel(level Level)
	GetLevel() Level
}

// Entry represents a log entry
type Entry struct {
	Level     Level
	Message   string
	Fields    map[string]interface{}
	Timestamp time.Time
	TraceID   string
	Component string
	Action    string
}

// Formatter formats log entries
type Formatter interface {
	Format(entry *Entry) ([]byte, error)
}

type baseLogger struct {
	mu        sync.RWMutex
	level     Level
	output    io.Writer
	formatter Formatter
	fields    map[string]interface{}
}

// New creates a new structured logger. A nil output writes to stderr and a
// nil formatter selects the text formatter.
func New(output io.Writer, formatter Formatter) Logger {
	if output == nil {
		output = os.Stderr
	}
	if formatter == nil {
		formatter = NewTextFormatter()
	}

	return &baseLogger{
		level:     InfoLevel,
		output:    output,
		formatter: formatter,
		fields:    make(map[string]interface{}),
	}
}

// Nop returns a logger that discards everything.
func Nop() Logger {
	l := New(io.Discard, NewTextFormatter())
	l.SetLevel(FatalLevel + 1)
	return l
}

func (l *baseLogger) Debug(msg string, fields ...Field) {
	l.log(DebugLevel, msg, fields...)
}

func (l *baseLogger) Info(msg string, fields ...Field) {
	l.log(InfoLevel, msg, fields...)
}

func (l *baseLogger) Warn(msg string, fields ...Field) {
	l.log(WarnLevel, msg, fields...)
}

func (l *baseLogger) Error(msg string, fields ...Field) {
	l.log(ErrorLevel, msg, fields...)
}

func (l *baseLogger) Fatal(msg string, fields ...Field) {
	l.log(FatalLevel, msg, fields...)
	os.Exit(1)
}

func (l *baseLogger) WithFields(fields ...Field) Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()

	newFields := make(map[string]interface{}, len(l.fields)+len(fields))
	for k, v := range l.fields {
		newFields[k] = v
	}
	for _, field := range fields {
		newFields[field.Key] = field.Value
	}

	return &baseLogger{
		level:     l.level,
		output:    l.output,
		formatter: l.formatter,
		fields:    newFields,
	}
}

func (l *baseLogger) WithContext(ctx context.Context) Logger {
	if traceID := TraceIDFromContext(ctx); traceID != "" {
		return l.WithFields(String(TraceIDKey, traceID))
	}
	return l.WithFields()
}

// WithError attaches err and, for classified failures, its code, category
// and severity.
func (l *baseLogger) WithError(err error) Logger {
	fields := []Field{ErrorField(err)}

	if streamErr, ok := streamerrors.AsStreamError(err); ok {
		fields = append(fields,
			String("error_code", streamErr.Code()),
			String("error_category", string(streamErr.Category())),
			String("error_severity", string(streamErr.Severity())),
		)
		if ctx := streamErr.Context(); ctx != nil {
			if ctx.TraceID != "" {
				fields = append(fields, String(TraceIDKey, ctx.TraceID))
			}
			if ctx.Component != "" {
				fields = append(fields, String("component", ctx.Component))
			}
		}
	} else if exc, ok := streamerrors.AsException(err); ok {
		fields = append(fields,
			String("error_code", exc.Code()),
			String("error_category", string(exc.Category())),
			String("error_severity", string(exc.Severity())),
		)
	}

	return l.WithFields(fields...)
}

func (l *baseLogger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

func (l *baseLogger) GetLevel() Level {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.level
}

func (l *baseLogger) log(level Level, msg string, fields ...Field) {
	l.mu.RLock()
	if level < l.level {
		l.mu.RUnlock()
		return
	}

	entry := &Entry{
		Level:     level,
		Message:   msg,
		Fields:    make(map[string]interface{}, len(l.fields)+len(fields)),
		Timestamp: time.Now(),
	}
	for k, v := range l.fields {
		entry.Fields[k] = v
	}
	l.mu.RUnlock()

	for _, field := range fields {
		entry.Fields[field.Key] = field.Value
	}

	if traceID, ok := entry.Fields[TraceIDKey].(string); ok {
		entry.TraceID = traceID
	}
	if component, ok := entry.Fields["component"].(string); ok {
		entry.Component = component
	}
	if action, ok := entry.Fields["action"].(string); ok {
		entry.Action = action
	}

	data, err := l.formatter.Format(entry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to format log entry: %v\n", err)
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.output.Write(data); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write log entry: %v\n", err)
	}
}

// TraceIDKey is the field name under which trace ids are logged.
const TraceIDKey = "trace_id"

type contextKey string

const traceIDContextKey contextKey = "trace_id"

// ContextWithTraceID returns a context carrying a lifecycle trace id
func ContextWithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDContextKey, traceID)
}

// TraceIDFromContext extracts the trace id from a context
func TraceIDFromContext(ctx context.Context) string {
	if traceID, ok := ctx.Value(traceIDContextKey).(string); ok {
		return traceID
	}
	return ""
}

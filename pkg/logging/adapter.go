package logging

import (
	"context"
	"os"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// zapLogger adapts a *zap.Logger to the Logger interface.
type zapLogger struct {
	z     *zap.Logger
	level *atomic.Int32
}

// NewZapLogger wraps z. Level filtering happens both here and in z's core.
func NewZapLogger(z *zap.Logger) Logger {
	if z == nil {
		z = zap.NewNop()
	}
	level := &atomic.Int32{}
	level.Store(int32(DebugLevel))
	return &zapLogger{z: z, level: level}
}

// NewZap builds a zap logger writing to stderr in JSON or console format,
// following the usual production encoder settings.
func NewZap(level Level, format string) *zap.Logger {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "time"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if format == "json" {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	} else {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	}

	core := zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), toZapLevel(level))
	return zap.New(core)
}

func toZapLevel(level Level) zapcore.Level {
	switch level {
	case DebugLevel:
		return zapcore.DebugLevel
	case WarnLevel:
		return zapcore.WarnLevel
	case ErrorLevel:
		return zapcore.ErrorLevel
	case FatalLevel:
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

func zapFields(fields []Field) []zap.Field {
	out := make([]zap.Field, 0, len(fields))
	for _, f := range fields {
		switch v := f.Value.(type) {
		case error:
			out = append(out, zap.NamedError(f.Key, v))
		case string:
			out = append(out, zap.String(f.Key, v))
		case int:
			out = append(out, zap.Int(f.Key, v))
		case bool:
			out = append(out, zap.Bool(f.Key, v))
		case time.Duration:
			out = append(out, zap.Duration(f.Key, v))
		case time.Time:
			out = append(out, zap.Time(f.Key, v))
		default:
			out = append(out, zap.Any(f.Key, v))
		}
	}
	return out
}

func (l *zapLogger) enabled(level Level) bool {
	return level >= Level(l.level.Load())
}

func (l *zapLogger) Debug(msg string, fields ...Field) {
	if l.enabled(DebugLevel) {
		l.z.Debug(msg, zapFields(fields)...)
	}
}

func (l *zapLogger) Info(msg string, fields ...Field) {
	if l.enabled(InfoLevel) {
		l.z.Info(msg, zapFields(fields)...)
	}
}

func (l *zapLogger) Warn(msg string, fields ...Field) {
	if l.enabled(WarnLevel) {
		l.z.Warn(msg, zapFields(fields)...)
	}
}

func (l *zapLogger) Error(msg string, fields ...Field) {
	if l.enabled(ErrorLevel) {
		l.z.Error(msg, zapFields(fields)...)
	}
}

func (l *zapLogger) Fatal(msg string, fields ...Field) {
	l.z.Fatal(msg, zapFields(fields)...)
}

func (l *zapLogger) WithFields(fields ...Field) Logger {
	return &zapLogger{z: l.z.With(zapFields(fields)...), level: l.level}
}

func (l *zapLogger) WithContext(ctx context.Context) Logger {
	if traceID := TraceIDFromContext(ctx); traceID != "" {
		return l.WithFields(String(TraceIDKey, traceID))
	}
	return l
}

func (l *zapLogger) WithError(err error) Logger {
	return l.WithFields(ErrorField(err))
}

func (l *zapLogger) SetLevel(level Level) {
	l.level.Store(int32(level))
}

func (l *zapLogger) GetLevel() Level {
	return Level(l.level.Load())
}

var globalLogger atomic.Value

func init() {
	globalLogger.Store(loggerHolder{New(nil, nil)})
}

type loggerHolder struct{ Logger }

// SetGlobalLogger sets the logger used when a component is given none
func SetGlobalLogger(logger Logger) {
	if logger != nil {
		globalLogger.Store(loggerHolder{logger})
	}
}

// GetGlobalLogger returns the global logger instance
func GetGlobalLogger() Logger {
	return globalLogger.Load().(loggerHolder).Logger
}

package logger

import (
	"os"
	"strings"

	"quote-relay/src/models"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// -----------------------------------------------------------------------------

// Logger provides structured logging functionality
type Logger struct {
	name  string
	base  *zap.Logger
	sugar *zap.SugaredLogger
}

// -----------------------------------------------------------------------------

// NewLogger creates a named logger configured from the application config.
// A nil config yields an info-level console logger.
func NewLogger(config *models.MConfig, name string) *Logger {
	level := "info"
	format := "console"
	if config != nil {
		if config.LogLevel != "" {
			level = config.LogLevel
		}
		if config.LogFormat != "" {
			format = config.LogFormat
		}
	}
	return FromZap(build(level, format), name)
}

// -----------------------------------------------------------------------------

// FromZap wraps an existing zap logger, e.g. zaptest.NewLogger(t) in tests.
func FromZap(z *zap.Logger, name string) *Logger {
	if z == nil {
		z = zap.NewNop()
	}
	named := z.Named(name)
	return &Logger{
		name:  name,
		base:  named,
		sugar: named.Sugar(),
	}
}

// -----------------------------------------------------------------------------

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return FromZap(zap.NewNop(), "")
}

// -----------------------------------------------------------------------------

func build(level, format string) *zap.Logger {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
		lvl = zapcore.InfoLevel
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if format == "json" {
		encoder = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
	}

	core := zapcore.NewCore(encoder, zapcore.Lock(os.Stdout), lvl)
	return zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
}

// -----------------------------------------------------------------------------

// Named derives a child logger for a sub-component.
func (l *Logger) Named(name string) *Logger {
	return &Logger{
		name:  l.name + "." + name,
		base:  l.base.Named(name),
		sugar: l.base.Named(name).Sugar(),
	}
}

// -----------------------------------------------------------------------------

// Zap exposes the underlying logger for middleware that wants it directly.
func (l *Logger) Zap() *zap.Logger {
	return l.base
}

// -----------------------------------------------------------------------------

// Debug logs diagnostic messages
func (l *Logger) Debug(format string, args ...interface{}) {
	l.sugar.Debugf(format, args...)
}

// -----------------------------------------------------------------------------

// Warning logs recoverable problems
func (l *Logger) Warning(format string, args ...interface{}) {
	l.sugar.Warnf(format, args...)
}

// -----------------------------------------------------------------------------

// Info logs informational messages
func (l *Logger) Info(format string, args ...interface{}) {
	l.sugar.Infof(format, args...)
}

// -----------------------------------------------------------------------------

// Error logs error messages
func (l *Logger) Error(format string, args ...interface{}) {
	l.sugar.Errorf(format, args...)
}

// -----------------------------------------------------------------------------

// Critical logs critical errors and exits the application
func (l *Logger) Critical(format string, args ...interface{}) {
	l.sugar.Errorf(format, args...)
	_ = l.base.Sync()
	os.Exit(1)
}

// -----------------------------------------------------------------------------

// Sync flushes buffered entries.
func (l *Logger) Sync() {
	_ = l.base.Sync()
}

package logging

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	// EnvMode selects the "prod" or the development encoder.
	EnvMode = "SHPHTTPD_LOGGING_MODE"
	// EnvLevel overrides the minimum level, like "debug" or "warn".
	EnvLevel = "SHPHTTPD_LOGGING_LEVEL"
)

var (
	// DefaultLogger is the default logger inside the shphttpd server.
	DefaultLogger Logger
	zapLogger     *zap.Logger
)

func init() {
	zapLogger = newZapLogger(os.Getenv(EnvMode), os.Getenv(EnvLevel))
	DefaultLogger = zapLogger.Sugar()
}

// newZapLogger builds the root "shphttpd" logger. Worker processes inherit the
// environment, so they log the same way as their parent.
func newZapLogger(mode, level string) *zap.Logger {
	var cfg zap.Config
	if strings.ToLower(mode) == "prod" {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
	}
	if lvl, ok := parseLevel(level); ok {
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	l, err := cfg.Build()
	if err != nil {
		l = zap.NewNop()
	}
	return l.Named("shphttpd").With(zap.Int("pid", os.Getpid()))
}

func parseLevel(s string) (zapcore.Level, bool) {
	if s == "" {
		return zapcore.InfoLevel, false
	}
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(s))); err != nil {
		return zapcore.InfoLevel, false
	}
	return lvl, true
}

// Cleanup flushes buffered entries. Syncing a terminal stderr fails on Linux,
// that error carries no information and is dropped.
func Cleanup() {
	_ = zapLogger.Sync()
}

// Named returns a logger whose entries carry the given name segment.
func Named(name string) Logger {
	return zapLogger.Named(name).Sugar()
}

// With returns a logger that adds the key-value pairs to every entry.
func With(keysAndValues ...interface{}) Logger {
	return zapLogger.Sugar().With(keysAndValues...)
}

// Logger is used for logging formatted messages.
type Logger interface {
	// Debugf logs messages at DEBUG level.
	Debugf(format string, args ...interface{})
	// Infof logs messages at INFO level.
	Infof(format string, args ...interface{})
	// Warnf logs messages at WARN level.
	Warnf(format string, args ...interface{})
	// Errorf logs messages at ERROR level.
	Errorf(format string, args ...interface{})
	// Fatalf logs messages at FATAL level.
	Fatalf(format string, args ...interface{})
}

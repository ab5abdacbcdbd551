package logging

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	global *zap.Logger
	mu     sync.RWMutex
)

func init() {
	// Until New/SetGlobal runs at boot the package falls back to a
	// production logger so early failures are still visible.
	global, _ = zap.NewProduction()
}

// New builds a JSON logger at the given level ("debug", "info", "warn",
// "error"). An empty level means info.
func New(level string) (*zap.Logger, error) {
	lvl := zapcore.InfoLevel
	if level != "" {
		var err error
		lvl, err = zapcore.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", level, err)
		}
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build(zap.AddCallerSkip(1))
}

// Global returns the process-wide logger.
func Global() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return global
}

// SetGlobal replaces the process-wide logger.
func SetGlobal(l *zap.Logger) {
	mu.Lock()
	global = l
	mu.Unlock()
}

// Debug logs at debug level using the global logger.
func Debug(msg string, fields ...zap.Field) { Global().Debug(msg, fields...) }

// Info logs at info level using the global logger.
func Info(msg string, fields ...zap.Field) { Global().Info(msg, fields...) }

// Warn logs at warn level using the global logger.
func Warn(msg string, fields ...zap.Field) { Global().Warn(msg, fields...) }

// Error logs at error level using the global logger.
func Error(msg string, fields ...zap.Field) { Global().Error(msg, fields...) }

// With returns a child of the global logger carrying extra fields.
func With(fields ...zap.Field) *zap.Logger { return Global().With(fields...) }

// Sync flushes buffered entries on the global logger.
func Sync() { Global().Sync() }

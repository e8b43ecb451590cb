// Package log is the engine's structured logging facade. Output flows
// through zap sugared loggers; each subsystem takes a child logger tagged
// with a module field, and Config can add a rotated file sink next to
// stderr. The process default starts as a console logger at info level and
// is swapped once configuration has been parsed.
package log

import (
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger emits leveled, key-value entries. Construct one with NewWithConfig
// or NewWithCore; the zero value is unusable.
type Logger struct {
	sugar *zap.SugaredLogger
}

// NewWithCore wraps an explicit zapcore.Core. Tests use this to capture
// output in memory.
func NewWithCore(core zapcore.Core) *Logger {
	return &Logger{sugar: zap.New(core).Sugar()}
}

// Module tags a child logger with the name of the subsystem it serves.
func (l *Logger) Module(name string) *Logger {
	return l.With("module", name)
}

// With binds key-value pairs to every entry the child emits.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{sugar: l.sugar.With(args...)}
}

// Debug logs msg with alternating key-value args at debug level.
func (l *Logger) Debug(msg string, args ...any) { l.sugar.Debugw(msg, args...) }

// Info logs at info level.
func (l *Logger) Info(msg string, args ...any) { l.sugar.Infow(msg, args...) }

// Warn logs at warn level.
func (l *Logger) Warn(msg string, args ...any) { l.sugar.Warnw(msg, args...) }

// Error logs at error level.
func (l *Logger) Error(msg string, args ...any) { l.sugar.Errorw(msg, args...) }

// Sync flushes buffered entries. Call once before process exit.
func (l *Logger) Sync() error { return l.sugar.Sync() }

var def atomic.Pointer[Logger]

func init() {
	l, _ := NewWithConfig(DefaultConfig())
	def.Store(l)
}

// Default returns the process-wide logger.
func Default() *Logger { return def.Load() }

// SetDefault installs l as the process-wide logger. Nil leaves the current
// one in place.
func SetDefault(l *Logger) {
	if l != nil {
		def.Store(l)
	}
}

// The package-level helpers log through the current default.

// Debug logs through the default logger.
func Debug(msg string, args ...any) { Default().Debug(msg, args...) }

// Info logs through the default logger.
func Info(msg string, args ...any) { Default().Info(msg, args...) }

// Warn logs through the default logger.
func Warn(msg string, args ...any) { Default().Warn(msg, args...) }

// Error logs through the default logger.
func Error(msg string, args ...any) { Default().Error(msg, args...) }

package log

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config controls where and how log output is written.
type Config struct {
	// Level is the minimum severity to emit: "debug", "info", "warn" or
	// "error". Unrecognised strings mean "info".
	Level string
	// Format selects the encoder: "console" (default), "color" (console
	// with ANSI-colored levels) or "json".
	Format string
	// File, when non-empty, is a path to additionally write rotated log
	// files to. Stderr output is always kept.
	File string
	// MaxSizeMB is the size a log file may reach before rotation. Zero
	// means the lumberjack default (100 MB).
	MaxSizeMB int
	// MaxBackups is how many rotated files to retain. Zero keeps all.
	MaxBackups int
}

// DefaultConfig returns a console logger config at info level.
func DefaultConfig() Config {
	return Config{Level: "info", Format: "console"}
}

// LevelFromString parses a zap level from its string representation. The
// match is case-insensitive. Unrecognised strings return InfoLevel.
func LevelFromString(s string) zapcore.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return zapcore.DebugLevel
	case "INFO":
		return zapcore.InfoLevel
	case "WARN", "WARNING":
		return zapcore.WarnLevel
	case "ERROR":
		return zapcore.ErrorLevel
	case "FATAL":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

// NewWithConfig creates a Logger from a Config. The error is non-nil only
// when the file sink cannot be set up.
func NewWithConfig(cfg Config) (*Logger, error) {
	level := LevelFromString(cfg.Level)

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	var enc zapcore.Encoder
	switch strings.ToLower(cfg.Format) {
	case "json":
		enc = zapcore.NewJSONEncoder(encCfg)
	case "color":
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	default:
		enc = zapcore.NewConsoleEncoder(encCfg)
	}

	sink := zapcore.AddSync(os.Stderr)
	if cfg.File != "" {
		rotated := zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
		})
		sink = zapcore.NewMultiWriteSyncer(sink, rotated)
	}

	core := zapcore.NewCore(enc, sink, level)
	return NewWithCore(core), nil
}

package log

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func captureLogger(buf *bytes.Buffer, level zapcore.Level) *Logger {
	enc := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	return NewWithCore(zapcore.NewCore(enc, zapcore.AddSync(buf), level))
}

func decodeEntry(t *testing.T, line string) map[string]any {
	t.Helper()
	var entry map[string]any
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("bad log line %q: %v", line, err)
	}
	return entry
}

func TestModuleAndWithCompose(t *testing.T) {
	var buf bytes.Buffer
	captureLogger(&buf, zapcore.DebugLevel).
		Module("schedpool").
		With("scheduler", "sch_3").
		Info("session started", "slot", 42)

	entry := decodeEntry(t, strings.TrimSpace(buf.String()))
	if entry["module"] != "schedpool" {
		t.Fatalf("module = %v", entry["module"])
	}
	if entry["scheduler"] != "sch_3" {
		t.Fatalf("scheduler = %v", entry["scheduler"])
	}
	if v, ok := entry["slot"].(float64); !ok || v != 42 {
		t.Fatalf("slot = %v, want 42", entry["slot"])
	}
	if entry["msg"] != "session started" {
		t.Fatalf("msg = %v", entry["msg"])
	}
}

func TestLevelFiltering(t *testing.T) {
	tests := []struct {
		name string
		min  zapcore.Level
		emit func(*Logger)
		want bool
	}{
		{"debug below info", zapcore.InfoLevel, func(l *Logger) { l.Debug("x") }, false},
		{"info at info", zapcore.InfoLevel, func(l *Logger) { l.Info("x") }, true},
		{"info below warn", zapcore.WarnLevel, func(l *Logger) { l.Info("x") }, false},
		{"error above warn", zapcore.WarnLevel, func(l *Logger) { l.Error("x") }, true},
		{"debug at debug", zapcore.DebugLevel, func(l *Logger) { l.Debug("x") }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			tt.emit(captureLogger(&buf, tt.min))
			if got := buf.Len() > 0; got != tt.want {
				t.Fatalf("emitted=%v, want %v (output %q)", got, tt.want, buf.String())
			}
		})
	}
}

func TestLevelFromString(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"INFO", zapcore.InfoLevel},
		{" warn ", zapcore.WarnLevel},
		{"warning", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"FATAL", zapcore.FatalLevel},
		{"nonsense", zapcore.InfoLevel},
		{"", zapcore.InfoLevel},
	}
	for _, tt := range tests {
		if got := LevelFromString(tt.in); got != tt.want {
			t.Errorf("LevelFromString(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewWithConfigFormats(t *testing.T) {
	for _, format := range []string{"console", "color", "json", ""} {
		l, err := NewWithConfig(Config{Level: "debug", Format: format})
		if err != nil {
			t.Fatalf("format %q: %v", format, err)
		}
		if l == nil {
			t.Fatalf("format %q produced nil logger", format)
		}
	}
}

func TestDefaultSwap(t *testing.T) {
	orig := Default()
	defer SetDefault(orig)
	if orig == nil {
		t.Fatal("no default logger installed at init")
	}

	var buf bytes.Buffer
	replacement := captureLogger(&buf, zapcore.DebugLevel)
	SetDefault(replacement)

	Debug("d")
	Info("i")
	Warn("w")
	Error("e")
	out := buf.String()
	for _, msg := range []string{`"d"`, `"i"`, `"w"`, `"e"`} {
		if !strings.Contains(out, msg) {
			t.Errorf("default output missing %s: %s", msg, out)
		}
	}

	SetDefault(nil)
	if Default() != replacement {
		t.Fatal("SetDefault(nil) replaced the logger")
	}
}

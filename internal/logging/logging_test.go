package logging

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/loqalabs/loqa-voice-relay/internal/config"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":      slog.LevelInfo,
		"debug": slog.LevelDebug,
		"WARN":  slog.LevelWarn,
		"error": slog.LevelError,
	}
	for name, want := range cases {
		got, err := ParseLevel(name)
		if err != nil {
			t.Fatalf("ParseLevel(%q): %v", name, err)
		}
		if got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", name, got, want)
		}
	}
	if _, err := ParseLevel("verbose"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestNewWritesRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "relay.log")
	logger, err := New(config.TelemetryConfig{LogLevel: "info", LogFile: path})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	logger.Info("relay started", slog.String("addr", ":3000"))
	logger.Error("runtime exited with error", slog.String("error", errors.New("listen :3000: address in use").Error()))
	if err := logger.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), `"msg":"relay started"`) {
		t.Fatalf("expected JSON log line, got %s", data)
	}
	if !strings.Contains(string(data), `"error":"listen :3000: address in use"`) {
		t.Fatalf("expected error attribute, got %s", data)
	}
}

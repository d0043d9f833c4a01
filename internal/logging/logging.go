// Package logging builds the process slog.Logger from telemetry config.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/loqalabs/loqa-voice-relay/internal/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is a JSON slog logger with an optional rotating file sink.
type Logger struct {
	*slog.Logger
	file *lumberjack.Logger
}

// New returns a JSON logger writing to stdout and, when LogFile is set, to a
// rotating file as well.
func New(cfg config.TelemetryConfig) (*Logger, error) {
	level, err := ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	var (
		output io.Writer = os.Stdout
		file   *lumberjack.Logger
	)
	if cfg.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.LogFile), 0o755); err != nil {
			return nil, fmt.Errorf("create log dir: %w", err)
		}
		file = &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    positiveOr(cfg.LogMaxSizeMB, 64),
			MaxBackups: positiveOr(cfg.LogMaxBackups, 3),
			MaxAge:     positiveOr(cfg.LogMaxAgeDays, 7),
			Compress:   true,
		}
		output = io.MultiWriter(os.Stdout, file)
	}

	handler := slog.NewJSONHandler(output, &slog.HandlerOptions{Level: level})
	return &Logger{Logger: slog.New(handler), file: file}, nil
}

// ParseLevel maps a config level name to a slog level. Empty means info.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unsupported log level: %s", name)
	}
}

// Close flushes and closes the rotating file, if any.
func (l *Logger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Close()
}

func positiveOr(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}

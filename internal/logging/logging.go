// Package logging configures the engine's structured logging. The CLI writes
// to stderr only by default so that stdout stays reserved for command
// output (JSON results, human-formatted tables); --debug additionally turns
// on a rotating file handler.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Config contains logging configuration.
type Config struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string
	// FilePath is the path to the log file. Empty means no file logging.
	FilePath string
	// MaxSizeMB is the maximum size in MB before rotation (default: 10).
	MaxSizeMB int
	// MaxFiles is the maximum number of rotated files to keep (default: 5).
	MaxFiles int
	// WriteToStderr controls whether logs are also written to stderr.
	WriteToStderr bool
}

// DefaultConfig returns a stderr-only logger at info level; no file is
// created unless --debug requests one.
func DefaultConfig() Config {
	return Config{
		Level:         "info",
		WriteToStderr: true,
	}
}

// DebugConfig returns configuration for --debug: file logging at debug
// level, additionally echoed to stderr.
func DebugConfig() Config {
	return Config{
		Level:         "debug",
		FilePath:      DefaultLogPath(),
		MaxSizeMB:     10,
		MaxFiles:      5,
		WriteToStderr: true,
	}
}

// Setup builds a logger from cfg and returns a cleanup function that must
// be called (typically deferred) to flush and close any log file.
func Setup(cfg Config) (*slog.Logger, func(), error) {
	var output io.Writer = os.Stderr
	cleanup := func() {}

	if cfg.FilePath != "" {
		if err := EnsureLogDir(); err != nil {
			return nil, nil, err
		}
		writer, err := NewRotatingWriter(cfg.FilePath, cfg.MaxSizeMB, cfg.MaxFiles)
		if err != nil {
			return nil, nil, err
		}
		if cfg.WriteToStderr {
			output = io.MultiWriter(writer, os.Stderr)
		} else {
			output = writer
		}
		cleanup = func() {
			_ = writer.Sync()
			_ = writer.Close()
		}
	} else if !cfg.WriteToStderr {
		output = io.Discard
	}

	handler := slog.NewJSONHandler(output, &slog.HandlerOptions{
		Level: parseLevel(cfg.Level),
	})

	return slog.New(handler), cleanup, nil
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/drblury/servoflow/internal/runtime/logging"
)

// setupLogger writes to stream and, when path is set, to the end of that
// file. The returned closer releases the file.
func setupLogger(stream io.Writer, level int, format, path string) (*slog.Logger, io.Closer, error) {
	logLevel, err := logging.LevelFromScale(level)
	if err != nil {
		return nil, nil, err
	}

	out := stream
	var closer io.Closer = io.NopCloser(nil)
	if path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		out = io.MultiWriter(stream, f)
		closer = f
	}

	opts := &slog.HandlerOptions{
		Level:       logLevel,
		ReplaceAttr: logging.ReplaceLevelNames,
	}

	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(out, opts)
	default:
		handler = slog.NewTextHandler(out, opts)
	}

	return slog.New(handler).With("service", appName, "pid", os.Getpid()), closer, nil
}

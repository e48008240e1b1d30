// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package reqscript

import (
	"context"
	"log/slog"
)

// ConsoleLine is one line of script console output.
type ConsoleLine struct {
	Kind  ScriptKind
	Level string // log, info, warn, error or debug
	Text  string
}

// OutputSink receives console lines. It may be called from a handle's thread
// and must not block for long.
type OutputSink func(line ConsoleLine)

// LogSink writes console lines to logger, mapping console levels to slog levels.
func LogSink(logger *slog.Logger) OutputSink {
	return func(line ConsoleLine) {
		logger.Log(context.Background(), consoleLevel(line.Level), line.Text,
			"kind", line.Kind.String(),
			"source", "console")
	}
}

func consoleLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

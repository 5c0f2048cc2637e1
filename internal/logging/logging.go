// Package logging sets up the daemon's two log streams: a concise
// operational stream on stdout and a verbose diagnostic stream in the log
// file.
package logging

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
)

// fanout forwards each record to every handler that accepts its level.
type fanout struct {
	handlers []slog.Handler
}

func (f fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range f.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}

	return false
}

func (f fanout) Handle(ctx context.Context, record slog.Record) error {
	for _, handler := range f.handlers {
		if !handler.Enabled(ctx, record.Level) {
			continue
		}

		err := handler.Handle(ctx, record.Clone())
		if err != nil {
			return err
		}
	}

	return nil
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(f.handlers))
	for i, handler := range f.handlers {
		handlers[i] = handler.WithAttrs(attrs)
	}

	return fanout{handlers: handlers}
}

func (f fanout) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(f.handlers))
	for i, handler := range f.handlers {
		handlers[i] = handler.WithGroup(name)
	}

	return fanout{handlers: handlers}
}

// Setup installs the default logger. The console stream logs at Info (Debug
// when debug is set); the log file, if a path is given, always logs at
// Debug. The returned function closes the log file.
func Setup(logPath string, debug bool) (func(), error) {
	consoleLevel := slog.LevelInfo
	if debug {
		consoleLevel = slog.LevelDebug
	}

	handlers := []slog.Handler{
		slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: consoleLevel}),
	}

	closer := func() {}

	if logPath != "" {
		err := os.MkdirAll(filepath.Dir(logPath), 0o755)
		if err != nil {
			return nil, err
		}

		logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640) //nolint:gosec
		if err != nil {
			return nil, err
		}

		handlers = append(handlers, slog.NewTextHandler(logFile, &slog.HandlerOptions{Level: slog.LevelDebug}))
		closer = func() { _ = logFile.Close() }
	}

	slog.SetDefault(slog.New(fanout{handlers: handlers}))

	return closer, nil
}

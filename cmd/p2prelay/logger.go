package main

import (
	"io"
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"

	"github.com/elee1766/p2prelay/src/config"
)

// newLogger builds the process logger from the logging config, with the
// CLI flags taking precedence
func newLogger(w io.Writer, cfg config.LoggingConfig, cli *CLI) *slog.Logger {
	level := cfg.Level
	format := cfg.Format
	if cli != nil {
		if cli.LogLevel != "" {
			level = cli.LogLevel
		}
		if cli.Verbose {
			level = "debug"
		}
		if cli.LogFormat != "" {
			format = cli.LogFormat
		}
	}

	opts := &slog.HandlerOptions{Level: parseLogLevel(level)}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:   opts.Level,
		NoColor: !isTerminal(w),
	}))
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && isatty.IsTerminal(f.Fd())
}

// parseLogLevel converts string log level to slog.Level
func parseLogLevel(levelStr string) slog.Level {
	switch levelStr {
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

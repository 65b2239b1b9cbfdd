package infra

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/Guizzs26/tdee-sync/internal/config"

	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	logFileMu sync.Mutex
	logFile   *lumberjack.Logger
)

// SetupLogger builds the process logger. Output goes to stdout and, when
// cfg.LogFile is set, to a size-rotated file.
func SetupLogger(cfg *config.Config) *slog.Logger {
	return slog.New(newHandler(cfg, logWriter(cfg.LogFile)))
}

// CloseLogger flushes and closes the rotated log file, if any
func CloseLogger() error {
	logFileMu.Lock()
	defer logFileMu.Unlock()
	if logFile == nil {
		return nil
	}
	err := logFile.Close()
	logFile = nil
	return err
}

// ParseLevel maps LOG_LEVEL names to slog levels, defaulting to INFO
func ParseLevel(s string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func newHandler(cfg *config.Config, w io.Writer) slog.Handler {
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.LogLevel)}
	if strings.ToUpper(cfg.LogFormat) == "JSON" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

func logWriter(path string) io.Writer {
	if path == "" {
		return os.Stdout
	}

	logFileMu.Lock()
	defer logFileMu.Unlock()
	if logFile != nil {
		_ = logFile.Close()
	}
	logFile = &lumberjack.Logger{
		Filename:   path,
		MaxSize:    10, // megabytes
		MaxBackups: 5,
		MaxAge:     30, // days
		Compress:   true,
	}
	return io.MultiWriter(os.Stdout, logFile)
}

// Package logging builds the process logger. Components receive a
// *zap.Logger through their constructors and scope it with Named; nothing
// in this module logs through a global.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config mirrors the relevant parts of config.LoggingConfig so this package
// stays a leaf.
type Config struct {
	Level   string    // file core threshold: debug, info, warn, error (default info)
	Dir     string    // log directory; empty means <user-home>/.forge
	Verbose bool      // lowers the console threshold from Info to Debug
	Console io.Writer // console destination; nil means os.Stderr
}

// New builds the process logger: a JSON file core under <dir>/logs plus a
// console core for operator-facing lines. The returned closer flushes
// buffered entries and closes the log file.
func New(cfg Config) (*zap.Logger, func(), error) {
	dir := cfg.Dir
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, nil, fmt.Errorf("resolving log directory: %w", err)
		}
		dir = filepath.Join(home, ".forge")
	}
	logsDir := filepath.Join(dir, "logs")
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("creating log directory: %w", err)
	}

	// Date prefix keeps rotation trivial: a new file per day, old days
	// prunable with a glob.
	name := fmt.Sprintf("forgefix_%s.log", time.Now().Format("2006-01-02"))
	file, err := os.OpenFile(filepath.Join(logsDir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}

	fileCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(fileEncoderConfig()),
		zapcore.AddSync(file),
		parseLevel(cfg.Level),
	)

	console := cfg.Console
	if console == nil {
		console = os.Stderr
	}
	consoleLevel := zapcore.InfoLevel
	if cfg.Verbose {
		consoleLevel = zapcore.DebugLevel
	}
	consoleCore := zapcore.NewCore(
		zapcore.NewConsoleEncoder(consoleEncoderConfig()),
		zapcore.AddSync(console),
		consoleLevel,
	)

	logger := zap.New(zapcore.NewTee(fileCore, consoleCore))
	closer := func() {
		_ = logger.Sync()
		_ = file.Close()
	}
	return logger, closer, nil
}

func fileEncoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "ts"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg
}

func consoleEncoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewDevelopmentEncoderConfig()
	cfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	return cfg
}

func parseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "info", "":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

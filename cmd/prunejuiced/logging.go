package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"

	"prunejuice/internal/config"
	"prunejuice/internal/httpapi"
)

// Rotation settings for --log-file.
const (
	logMaxSizeMB  = 100
	logMaxBackups = 5
	logMaxAgeDays = 30
)

// setupLogging configures the global zerolog logger: a console writer on a
// terminal, JSON otherwise, plus an optional rotating file.
func setupLogging(cfg config.Config) error {
	lvl, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("log level %q: %w", cfg.LogLevel, err)
	}
	zerolog.SetGlobalLevel(lvl)

	var out io.Writer = os.Stderr
	if isTerminal(os.Stderr) {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}
	}
	if cfg.LogFile != "" {
		out = zerolog.MultiLevelWriter(out, &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    logMaxSizeMB,
			MaxBackups: logMaxBackups,
			MaxAge:     logMaxAgeDays,
			Compress:   true,
		})
	}
	log.Logger = zerolog.New(out).With().Timestamp().Logger()
	httpapi.SetLogger(log.Logger.With().Str("component", "http").Logger())
	return nil
}

func isTerminal(f *os.File) bool {
	fi, err := f.Stat()
	return err == nil && fi.Mode()&os.ModeCharDevice != 0
}

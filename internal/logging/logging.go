// Package logging builds the process-wide zerolog logger: structured JSON
// (or pretty console) output to stdout, plus an optional rotating file
// sink.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config bounds the logger's level, console formatting, and file rotation.
type Config struct {
	Level  string // debug, info, warn, error
	Pretty bool   // pretty console output instead of JSON

	// FilePath enables a rotating file sink alongside stdout when non-empty.
	FilePath   string
	MaxSizeMb  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

func (c *Config) setDefaults() {
	if c.MaxSizeMb == 0 {
		c.MaxSizeMb = 100
	}
	if c.MaxBackups == 0 {
		c.MaxBackups = 7
	}
	if c.MaxAgeDays == 0 {
		c.MaxAgeDays = 28
	}
}

// New builds a structured logger writing to stdout and, when FilePath is
// set, to a lumberjack-rotated file, with one line per significant
// decision across every component.
func New(cfg Config) zerolog.Logger {
	cfg.setDefaults()

	level := parseLevel(cfg.Level)
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	var console io.Writer = os.Stdout
	if cfg.Pretty {
		console = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}
	}

	writer := console
	if cfg.FilePath != "" {
		fileSink := &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.MaxSizeMb,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		writer = zerolog.MultiLevelWriter(console, fileSink)
	}

	return zerolog.New(writer).With().Timestamp().Caller().Logger()
}

func parseLevel(name string) zerolog.Level {
	switch name {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// SetGlobal installs l as the package-level zerolog logger so third-party
// libraries that log through the global default pick it up too.
func SetGlobal(l zerolog.Logger) {
	log.Logger = l
}

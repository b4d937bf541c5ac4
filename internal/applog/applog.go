// Package applog configures the structured logger shared by the CLI,
// orchestrator, and control API. It builds on logrus and routes error-level
// output to stderr while everything else goes to stdout, so a container
// runtime or shell pipeline can treat the two streams differently.
package applog

import (
	"bytes"
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

// Level names a minimum log level.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Config controls how New builds a logger.
type Config struct {
	Level     Level
	Format    string // "json" or "text"
	AddCaller bool
}

// DefaultConfig returns the logger configuration used when none is supplied.
func DefaultConfig() Config {
	return Config{Level: LevelInfo, Format: "text"}
}

// New builds a logrus.Logger configured per cfg, with output routed through
// an outputSplitter.
func New(cfg Config) *logrus.Logger {
	logger := logrus.New()

	switch cfg.Level {
	case LevelDebug:
		logger.SetLevel(logrus.DebugLevel)
	case LevelWarn:
		logger.SetLevel(logrus.WarnLevel)
	case LevelError:
		logger.SetLevel(logrus.ErrorLevel)
	default:
		logger.SetLevel(logrus.InfoLevel)
	}

	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339})
	}

	logger.SetReportCaller(cfg.AddCaller)
	logger.SetOutput(&outputSplitter{})

	return logger
}

// outputSplitter routes formatted error-level entries to stderr and
// everything else to stdout, so operators can separate the two streams
// without parsing structured fields themselves.
type outputSplitter struct{}

func (outputSplitter) Write(p []byte) (int, error) {
	if bytes.Contains(p, []byte("level=error")) || bytes.Contains(p, []byte(`"level":"error"`)) {
		return os.Stderr.Write(p)
	}
	return os.Stdout.Write(p)
}

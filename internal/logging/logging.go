// Package logging configures the process logger.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/equilens/equilens/internal/config"
	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Setup applies the logging configuration: level, and rotated file output
// alongside stdout when a file is configured.
func Setup(cfg config.LoggingConfig) {
	level, errParse := log.ParseLevel(strings.TrimSpace(cfg.Level))
	if errParse != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	if strings.TrimSpace(cfg.File) == "" {
		log.SetOutput(os.Stdout)
		return
	}

	rotator := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    valueOr(cfg.MaxSizeMB, 100),
		MaxBackups: valueOr(cfg.MaxBackups, 3),
		MaxAge:     valueOr(cfg.MaxAgeDays, 28),
		Compress:   true,
	}
	log.SetOutput(io.MultiWriter(os.Stdout, rotator))
}

// valueOr substitutes a default for non-positive values.
func valueOr(value, fallback int) int {
	if value <= 0 {
		return fallback
	}
	return value
}

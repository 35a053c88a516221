package logging

import (
	"fmt"
	"io"
	"os"

	"oversounds/internal/config"

	"github.com/sirupsen/logrus"
)

// New builds the process logger from the logging section. The returned
// closer releases the log file when one is configured.
func New(cfg config.LoggingConfig) (*logrus.Logger, func() error, error) {
	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid log level: %w", err)
	}
	logger.SetLevel(level)

	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	closer := func() error { return nil }
	if cfg.File != "" {
		file, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		logger.SetOutput(io.MultiWriter(os.Stderr, file))
		closer = file.Close
	}

	return logger, closer, nil
}

// Discard returns a logger that drops everything below error level.
func Discard() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

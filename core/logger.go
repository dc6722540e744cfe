package core

import (
	log "github.com/sirupsen/logrus"
)

// NewLogger returns a new pre-configured logger
func NewLogger(verbose bool) *log.Logger {
	logger := log.New()

	logger.SetFormatter(&log.TextFormatter{})

	logger.SetLevel(log.WarnLevel)
	if verbose {
		logger.SetLevel(log.DebugLevel)
	}

	return logger
}

// Package logging wires github.com/sirupsen/logrus the same way the
// cam2mjpeg reference file does: import aliased to log, level parsed
// from a CLI string once at startup.
package logging

import (
	log "github.com/sirupsen/logrus"
)

// New builds the root logger for the given --log-level value. "verbose"
// has no direct logrus equivalent, so it maps to InfoLevel with a
// standing field marking the verbose intent; callers that want the extra
// detail check entry.Logger.IsLevelEnabled(log.DebugLevel) as usual.
func New(level string) *log.Entry {
	logger := log.New()
	logger.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	switch level {
	case "error":
		logger.SetLevel(log.ErrorLevel)
	case "verbose":
		logger.SetLevel(log.InfoLevel)
		return logger.WithField("verbose", true)
	case "debug":
		logger.SetLevel(log.DebugLevel)
	default:
		logger.SetLevel(log.InfoLevel)
	}
	return log.NewEntry(logger)
}

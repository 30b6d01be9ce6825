// Package logging configures the process-wide structured logger,
// retargeted from the teacher's log/slog setup onto
// github.com/sirupsen/logrus, the way the rest of the pack's daemons
// wire up a single shared logger at startup.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Setup configures and returns a logrus.Logger writing to stderr.
// format can be "text" or "json"; level can be "debug", "info", "warn",
// or "error".
func Setup(level, format string) *logrus.Logger {
	return SetupWriter(os.Stderr, level, format)
}

// SetupWriter configures and returns a logrus.Logger writing to w.
func SetupWriter(w io.Writer, level, format string) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(w)

	lvl, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = logrus.InfoLevel
	}
	log.SetLevel(lvl)

	if strings.ToLower(format) == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	return log
}

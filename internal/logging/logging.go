// Package logging sets up the process-wide structured logger.
//
// Call sites and severities follow the scheduler daemon's own stdlib
// log.Printf("[TAG] ...") prefix convention, but route through logrus,
// replacing the bracket tag with a structured "component" field, and rotate
// the output file with lumberjack instead of date-based rotation.
package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures the process-wide logger.
type Options struct {
	// Verbosity mirrors the CLI's -l=<int> flag: 0=warn, 1=info, 2=debug, 3+=trace.
	Verbosity int
	// FilePath, if non-empty, additionally writes rotated logs there.
	FilePath string
}

// New builds a logrus.Logger per Options. Component-scoped loggers should be
// derived from it with WithComponent rather than constructing their own.
func New(opts Options) *logrus.Logger {
	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	l.SetLevel(levelForVerbosity(opts.Verbosity))

	var w io.Writer = os.Stderr
	if opts.FilePath != "" {
		w = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   opts.FilePath,
			MaxSize:    64, // megabytes
			MaxBackups: 5,
			MaxAge:     0, // no age-based purge; size-based rotation only
			Compress:   true,
		})
	}
	l.SetOutput(w)
	return l
}

func levelForVerbosity(v int) logrus.Level {
	switch {
	case v <= 0:
		return logrus.WarnLevel
	case v == 1:
		return logrus.InfoLevel
	case v == 2:
		return logrus.DebugLevel
	default:
		return logrus.TraceLevel
	}
}

// WithComponent returns an Entry pre-populated with a component field, the
// unit every package in this module logs through (e.g. "adapter",
// "balancer", "cube-root", "clause-buffer").
func WithComponent(l *logrus.Logger, component string) *logrus.Entry {
	return l.WithField("component", component)
}

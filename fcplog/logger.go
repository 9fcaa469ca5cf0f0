// Package fcplog defines the leveled logging interface used across the
// module and a default implementation backed by logrus, mirroring the
// structured-logging convention the rest of this stack's ecosystem uses.
package fcplog

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Logger is the logging seam every component takes instead of writing to a
// process-global sink. Callers may supply their own implementation; nil
// loggers passed to constructors are replaced with Discard.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// logrusLogger adapts a *logrus.Logger to the Logger interface.
type logrusLogger struct {
	l *logrus.Logger
}

// New returns a Logger backed by a fresh logrus.Logger writing to stderr at
// Info level, the same default posture rclone's backends assume absent an
// explicit -v flag.
func New() Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.InfoLevel)
	return &logrusLogger{l: l}
}

// Wrap adapts an existing *logrus.Logger, letting a host application share
// its own configured instance (formatter, level, hooks) with this module.
func Wrap(l *logrus.Logger) Logger {
	if l == nil {
		return Discard()
	}
	return &logrusLogger{l: l}
}

func (a *logrusLogger) Debugf(format string, args ...interface{}) { a.l.Debugf(format, args...) }
func (a *logrusLogger) Infof(format string, args ...interface{})  { a.l.Infof(format, args...) }
func (a *logrusLogger) Errorf(format string, args ...interface{}) { a.l.Errorf(format, args...) }

type discard struct{}

func (discard) Debugf(string, ...interface{}) {}
func (discard) Infof(string, ...interface{})  {}
func (discard) Errorf(string, ...interface{}) {}

// Discard returns a Logger that drops everything, used when callers pass nil.
func Discard() Logger { return discard{} }

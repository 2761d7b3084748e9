// Package logger is the leveled logger shared by every package. It is a thin
// layer over logrus so that callers use printf-style helpers and the output
// format is chosen once at startup.
package logger

import (
	"io"
	"strings"

	"github.com/sirupsen/logrus"
)

var std = logrus.New()

func init() {
	std.SetLevel(logrus.InfoLevel)
	std.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}

// SetLevel accepts DEBUG, INFO, WARN or ERROR in any case. Unknown names
// leave the level unchanged.
func SetLevel(level string) {
	switch strings.ToUpper(level) {
	case "DEBUG":
		std.SetLevel(logrus.DebugLevel)
	case "INFO":
		std.SetLevel(logrus.InfoLevel)
	case "WARN":
		std.SetLevel(logrus.WarnLevel)
	case "ERROR":
		std.SetLevel(logrus.ErrorLevel)
	}
}

// SetFormat selects "text" or "json" output.
func SetFormat(format string) {
	switch strings.ToLower(format) {
	case "json":
		std.SetFormatter(&logrus.JSONFormatter{})
	case "text":
		std.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}

func SetOutput(w io.Writer) {
	std.SetOutput(w)
}

// WithFields returns an entry carrying structured fields, for messages that
// are about a particular device or mount point.
func WithFields(fields map[string]any) *logrus.Entry {
	return std.WithFields(logrus.Fields(fields))
}

func Debug(format string, v ...any) {
	std.Debugf(format, v...)
}

func Info(format string, v ...any) {
	std.Infof(format, v...)
}

func Warn(format string, v ...any) {
	std.Warnf(format, v...)
}

func Error(format string, v ...any) {
	std.Errorf(format, v...)
}

package log

import (
	"fmt"
	"io"
	"os"
	"path"
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
)

type Fields = logrus.Fields

var std = newStd()

func newStd() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
		CallerPrettyfier: func(f *runtime.Frame) (string, string) {
			filename := path.Base(f.File)
			return fmt.Sprintf("%s()", f.Function), fmt.Sprintf(" %s:%d", filename, f.Line)
		},
	})
	return l
}

// StandardLogger returns the logrus logger behind the package-level functions.
func StandardLogger() *logrus.Logger {
	return std
}

func SetOutput(o io.Writer) {
	std.SetOutput(o)
}

func SetLogFormatter(f logrus.Formatter) {
	std.SetFormatter(f)
}

// SetLevel parses a level name ("debug", "info", "warn", "error"). Unknown
// names leave the current level untouched.
func SetLevel(level string) {
	l, err := logrus.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		return
	}
	std.SetLevel(l)
	std.SetReportCaller(l == logrus.DebugLevel)
}

func IsDebug() bool {
	return std.IsLevelEnabled(logrus.DebugLevel)
}

// Debug logs a message at level Debug on the standard logger.
func Debug(args ...interface{}) {
	std.Debug(args...)
}

// Info logs a message at level Info on the standard logger.
func Info(args ...interface{}) {
	std.Info(args...)
}

// Warn logs a message at level Warn on the standard logger.
func Warn(args ...interface{}) {
	std.Warn(args...)
}

// Error logs a message at level Error on the standard logger.
func Error(args ...interface{}) {
	std.Error(args...)
}

// Fatal logs a message at level Fatal on the standard logger then exits.
func Fatal(args ...interface{}) {
	std.Fatal(args...)
}

// Panic logs a message at level Panic on the standard logger.
func Panic(args ...interface{}) {
	std.Panic(args...)
}

func Debugf(format string, args ...interface{}) {
	std.Debugf(format, args...)
}

func Infof(format string, args ...interface{}) {
	std.Infof(format, args...)
}

func Warnf(format string, args ...interface{}) {
	std.Warnf(format, args...)
}

func Errorf(format string, args ...interface{}) {
	std.Errorf(format, args...)
}

func InfoWithFields(msg string, fields Fields) {
	std.WithFields(fields).Info(msg)
}

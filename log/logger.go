package log

import (
	"fmt"
	"io"
)

type LoggerType int

const (
	Component LoggerType = iota
	SessionId
	TrackId
)

func (l LoggerType) String() string {
	switch l {
	case Component:
		return "component"
	case SessionId:
		return "sessionId"
	case TrackId:
		return "trackId"
	}
	return ""
}

// Logger prefixes every message with its id so lines from the supervisor,
// capture tracks and the UI can be told apart in one file.
type Logger struct {
	id         string
	loggerType LoggerType
}

func NewLogger(id string, loggerType LoggerType) *Logger {
	return &Logger{
		id:         id,
		loggerType: loggerType,
	}
}

func (s *Logger) SetOutput(o io.Writer) {
	SetOutput(o)
}

func (s *Logger) prefix() string {
	return fmt.Sprintf("[%s: %s] ", s.loggerType, s.id)
}

func (s *Logger) Debug(args ...interface{}) {
	std.Debug(append([]interface{}{s.prefix()}, args...)...)
}

func (s *Logger) Info(args ...interface{}) {
	std.Info(append([]interface{}{s.prefix()}, args...)...)
}

func (s *Logger) Warn(args ...interface{}) {
	std.Warn(append([]interface{}{s.prefix()}, args...)...)
}

func (s *Logger) Error(args ...interface{}) {
	std.Error(append([]interface{}{s.prefix()}, args...)...)
}

func (s *Logger) Fatal(args ...interface{}) {
	std.Fatal(append([]interface{}{s.prefix()}, args...)...)
}

func (s *Logger) Debugf(format string, args ...interface{}) {
	std.Debug(s.prefix() + fmt.Sprintf(format, args...))
}

func (s *Logger) Infof(format string, args ...interface{}) {
	std.Info(s.prefix() + fmt.Sprintf(format, args...))
}

func (s *Logger) Warnf(format string, args ...interface{}) {
	std.Warn(s.prefix() + fmt.Sprintf(format, args...))
}

func (s *Logger) Errorf(format string, args ...interface{}) {
	std.Error(s.prefix() + fmt.Sprintf(format, args...))
}

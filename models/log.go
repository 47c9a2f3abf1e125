package models

import (
	"encoding/json"
	"time"
)

type LogCategory int

const (
	Info LogCategory = iota
	Success
	Failure
)

func (c LogCategory) String() string {
	switch c {
	case Success:
		return "success"
	case Failure:
		return "error"
	}
	return "info"
}

func (c LogCategory) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

// LogEntry is one line of the activity log shown to the user.
type LogEntry struct {
	Message   string      `json:"message"`
	Category  LogCategory `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
}

func NewLogEntry(message string, category LogCategory) LogEntry {
	return LogEntry{Message: message, Category: category, Timestamp: time.Now()}
}

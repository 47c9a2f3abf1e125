package studio

import (
	"github.com/EasyDarwin/StreamStudio/models"
)

// MaxLogEntries bounds the activity log. Older entries are dropped first.
const MaxLogEntries = 10

type State struct {
	Credentials    models.Credentials
	ShowSettings   bool
	IsStreaming    bool
	Status         models.StreamStatus
	Banner         string
	Logs           []models.LogEntry
	Capture        string
	EncoderMissing bool
	Backend        *models.BackendStatus
	BackendRunning bool
}

func (s State) clone() State {
	out := s
	out.Logs = append([]models.LogEntry(nil), s.Logs...)
	if s.Backend != nil {
		b := *s.Backend
		out.Backend = &b
	}
	return out
}

// Action is one state transition. Reduce is the only place actions are
// interpreted.
type Action interface {
	action()
}

type (
	SetCredentials    struct{ Credentials models.Credentials }
	ToggleSettings    struct{}
	SetStatus         struct{ Status models.StreamStatus }
	SetStreaming      struct{ Streaming bool }
	SetBanner         struct{ Message string }
	AddLog            struct{ Entry models.LogEntry }
	SetCapture        struct{ Summary string }
	SetEncoderMissing struct{ Missing bool }
	SetBackendStatus  struct{ Status models.BackendStatus }
	SetBackendRunning struct{ Running bool }
)

func (SetCredentials) action()    {}
func (ToggleSettings) action()    {}
func (SetStatus) action()         {}
func (SetStreaming) action()      {}
func (SetBanner) action()         {}
func (AddLog) action()            {}
func (SetCapture) action()        {}
func (SetEncoderMissing) action() {}
func (SetBackendStatus) action()  {}
func (SetBackendRunning) action() {}

// Reduce returns the state after a. It never modifies s.
func Reduce(s State, a Action) State {
	next := s.clone()
	switch a := a.(type) {
	case SetCredentials:
		next.Credentials = a.Credentials
	case ToggleSettings:
		next.ShowSettings = !s.ShowSettings
	case SetStatus:
		next.Status = a.Status
	case SetStreaming:
		next.IsStreaming = a.Streaming
	case SetBanner:
		next.Banner = a.Message
	case AddLog:
		next.Logs = append(next.Logs, a.Entry)
		if n := len(next.Logs); n > MaxLogEntries {
			next.Logs = append([]models.LogEntry(nil), next.Logs[n-MaxLogEntries:]...)
		}
	case SetCapture:
		next.Capture = a.Summary
	case SetEncoderMissing:
		next.EncoderMissing = a.Missing
	case SetBackendStatus:
		st := a.Status
		next.Backend = &st
	case SetBackendRunning:
		next.BackendRunning = a.Running
	}
	return next
}

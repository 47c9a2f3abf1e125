package models

import "encoding/json"

type StreamStatus int

const (
	Disconnected StreamStatus = iota
	Connecting
	Live
	Error
)

func (s StreamStatus) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Live:
		return "live"
	case Error:
		return "error"
	}
	return "disconnected"
}

// Label is the badge text shown for the status.
func (s StreamStatus) Label() string {
	switch s {
	case Connecting:
		return "Connecting..."
	case Live:
		return "LIVE"
	case Error:
		return "Error"
	}
	return "Offline"
}

// Color is the badge color name for the status.
func (s StreamStatus) Color() string {
	switch s {
	case Connecting:
		return "yellow"
	case Live:
		return "green"
	case Error:
		return "red"
	}
	return "gray"
}

func (s StreamStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// StreamConfig is sent to the backend with every start request.
type StreamConfig struct {
	Width     int `json:"width"`
	Height    int `json:"height"`
	FrameRate int `json:"frameRate"`
	Bitrate   int `json:"bitrate"`
}

func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		Width:     1920,
		Height:    1080,
		FrameRate: 30,
		Bitrate:   2500,
	}
}

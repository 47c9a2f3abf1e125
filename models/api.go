package models

// Request and response bodies of the streaming backend's HTTP API.

type HealthResponse struct {
	Status               string `json:"status"`
	ActiveStreams        int    `json:"active_streams"`
	WebsocketConnections int    `json:"websocket_connections"`
}

func (h *HealthResponse) Healthy() bool {
	return h != nil && h.Status == "healthy"
}

type ValidateResponse struct {
	Valid   bool   `json:"valid"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

type StartStreamRequest struct {
	Credentials  Credentials  `json:"credentials"`
	StreamConfig StreamConfig `json:"streamConfig"`
}

type StreamResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message,omitempty"`
	Error     string `json:"error,omitempty"`
	StreamURL string `json:"streamUrl,omitempty"`
}

type StreamDetail struct {
	SessionID string       `json:"session_id"`
	Status    string       `json:"status"`
	Config    StreamConfig `json:"config"`
}

// BackendStatus is returned by /api/stream/status and pushed over the
// status websocket.
type BackendStatus struct {
	ActiveStreams int            `json:"active_streams"`
	Streams       []StreamDetail `json:"streams"`
	TotalSessions int            `json:"total_sessions"`
}

type StatusUpdate struct {
	Type string        `json:"type"`
	Data BackendStatus `json:"data"`
}

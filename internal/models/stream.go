package models

import (
	"time"

	"github.com/google/uuid"
)

type StreamType string

const (
	StreamTypeRTSP   StreamType = "rtsp"
	StreamTypeHTTP   StreamType = "http"
	StreamTypeDevice StreamType = "device"
)

type StreamStatus string

const (
	StreamStatusStopped  StreamStatus = "stopped"
	StreamStatusStarting StreamStatus = "starting"
	StreamStatusRunning  StreamStatus = "running"
	StreamStatusError    StreamStatus = "error"
)

// Stream is a configured video source and its runtime state.
type Stream struct {
	ID           uuid.UUID    `json:"id"`
	Name         string       `json:"name"`
	URL          string       `json:"url"`
	StreamType   StreamType   `json:"stream_type"`
	FPS          int          `json:"fps"`
	Status       StreamStatus `json:"status"`
	ErrorMessage string       `json:"error_message,omitempty"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

const (
	ControlStart = "start"
	ControlStop  = "stop"
)

// StreamControl is sent on the control subject to start or stop ingestion.
// URL and FPS are only needed to start a stream the ingestor was not
// configured with.
type StreamControl struct {
	Action   string    `json:"action"`
	StreamID uuid.UUID `json:"stream_id"`
	URL      string    `json:"url,omitempty"`
	FPS      int       `json:"fps,omitempty"`
}

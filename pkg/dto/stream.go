package dto

import "github.com/google/uuid"

// StartStreamRequest is the optional body of POST /v1/streams/:id/start.
// URL is only needed for streams the ingestor is not configured with.
type StartStreamRequest struct {
	URL string `json:"url"`
	FPS int    `json:"fps" binding:"omitempty,min=1"`
}

type StreamResponse struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
	URL  string    `json:"url"`
	Type string    `json:"stream_type"`
	FPS  int       `json:"fps"`
}

type StreamListResponse struct {
	Streams []StreamResponse `json:"streams"`
	Total   int              `json:"total"`
}

type StreamCommandResponse struct {
	Status   string    `json:"status"`
	StreamID uuid.UUID `json:"stream_id"`
}

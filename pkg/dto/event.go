package dto

import "github.com/google/uuid"

type BBox struct {
	LeftX  float64 `json:"left_x"`
	LeftY  float64 `json:"left_y"`
	RightX float64 `json:"right_x"`
	RightY float64 `json:"right_y"`
}

type CandidateResponse struct {
	Label    string  `json:"label"`
	Distance float64 `json:"distance"`
}

type EventResponse struct {
	ID          uuid.UUID           `json:"id"`
	StreamID    uuid.UUID           `json:"stream_id"`
	FrameID     uuid.UUID           `json:"frame_id"`
	Timestamp   string              `json:"timestamp"`
	Face        BBox                `json:"face"`
	Label       string              `json:"label"`
	Distance    float64             `json:"distance"`
	Known       bool                `json:"known"`
	Candidates  []CandidateResponse `json:"candidates"`
	SnapshotURL string              `json:"snapshot_url,omitempty"`
	FrameURL    string              `json:"frame_url,omitempty"`
	CreatedAt   string              `json:"created_at,omitempty"`
}

type EventListResponse struct {
	Events []EventResponse `json:"events"`
	Total  int             `json:"total"`
	Limit  int             `json:"limit"`
	Offset int             `json:"offset"`
}

type EventQuery struct {
	StreamID string `form:"stream_id"`
	Label    string `form:"label"`
	Known    *bool  `form:"known"`
	From     string `form:"from"`
	To       string `form:"to"`
	Limit    int    `form:"limit"`
	Offset   int    `form:"offset"`
}

// WSEvent is a WebSocket message for real-time event delivery.
type WSEvent struct {
	Type     string        `json:"type"` // face_recognized, face_unknown
	StreamID uuid.UUID     `json:"stream_id"`
	Data     EventResponse `json:"data"`
}

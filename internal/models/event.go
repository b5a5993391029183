package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/your-org/faceid/internal/identify"
)

// FrameTask is the message published to NATS for worker processing.
type FrameTask struct {
	StreamID  uuid.UUID `json:"stream_id"`
	FrameID   uuid.UUID `json:"frame_id"`
	Timestamp time.Time `json:"timestamp"`
	FrameRef  string    `json:"frame_ref"` // MinIO object key
	Width     int       `json:"width"`
	Height    int       `json:"height"`
}

// RecognitionEvent is the outcome for one face of one frame.
type RecognitionEvent struct {
	ID          uuid.UUID                 `json:"id" db:"id"`
	StreamID    uuid.UUID                 `json:"stream_id" db:"stream_id"`
	FrameID     uuid.UUID                 `json:"frame_id" db:"frame_id"`
	Timestamp   time.Time                 `json:"timestamp" db:"timestamp"`
	Face        identify.FaceLocalization `json:"face" db:"bbox"`
	Label       string                    `json:"label" db:"label"`
	Distance    float64                   `json:"distance" db:"distance"`
	Known       bool                      `json:"known" db:"known"`
	Candidates  []identify.Candidate      `json:"candidates" db:"candidates"`
	SnapshotKey string                    `json:"snapshot_key,omitempty" db:"snapshot_key"`
	FrameKey    string                    `json:"frame_key" db:"frame_key"` // MinIO key of the full frame
	CreatedAt   time.Time                 `json:"created_at" db:"created_at"`
}

// EventFilter narrows ListEvents results.
type EventFilter struct {
	StreamID *uuid.UUID
	Label    string
	Known    *bool
	From     *time.Time
	To       *time.Time
	Limit    int
	Offset   int
}

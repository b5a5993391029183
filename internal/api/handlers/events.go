package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/faceid/internal/models"
	"github.com/your-org/faceid/internal/storage"
	"github.com/your-org/faceid/pkg/dto"
)

// EventStore is the read side of the recognition event log.
type EventStore interface {
	ListEvents(ctx context.Context, f models.EventFilter) ([]models.RecognitionEvent, int, error)
	GetEvent(ctx context.Context, id uuid.UUID) (*models.RecognitionEvent, error)
}

// ObjectGetter loads frames and snapshots.
type ObjectGetter interface {
	GetObject(ctx context.Context, key string) ([]byte, error)
}

type EventHandler struct {
	db      EventStore
	objects ObjectGetter
}

func NewEventHandler(db EventStore, objects ObjectGetter) *EventHandler {
	return &EventHandler{db: db, objects: objects}
}

func (h *EventHandler) List(c *gin.Context) {
	var q dto.EventQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	filter := models.EventFilter{Label: q.Label, Known: q.Known, Limit: q.Limit, Offset: q.Offset}
	if q.StreamID != "" {
		id, err := uuid.Parse(q.StreamID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid stream id"})
			return
		}
		filter.StreamID = &id
	}
	if q.From != "" {
		t, err := time.Parse(time.RFC3339, q.From)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "from must be RFC3339"})
			return
		}
		filter.From = &t
	}
	if q.To != "" {
		t, err := time.Parse(time.RFC3339, q.To)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "to must be RFC3339"})
			return
		}
		filter.To = &t
	}

	events, total, err := h.db.ListEvents(c.Request.Context(), filter)
	if err != nil {
		slog.Error("list events", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list events"})
		return
	}

	resp := make([]dto.EventResponse, 0, len(events))
	for _, ev := range events {
		resp = append(resp, EventToResponse(ev))
	}

	c.JSON(http.StatusOK, dto.EventListResponse{Events: resp, Total: total, Limit: q.Limit, Offset: q.Offset})
}

func (h *EventHandler) Get(c *gin.Context) {
	ev, ok := h.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, EventToResponse(*ev))
}

// Snapshot proxies the face snapshot image from MinIO.
func (h *EventHandler) Snapshot(c *gin.Context) {
	ev, ok := h.lookup(c)
	if !ok {
		return
	}
	h.serveObject(c, ev.SnapshotKey, "snapshot")
}

// Frame proxies the full frame the event was detected in.
func (h *EventHandler) Frame(c *gin.Context) {
	ev, ok := h.lookup(c)
	if !ok {
		return
	}
	h.serveObject(c, ev.FrameKey, "frame")
}

func (h *EventHandler) lookup(c *gin.Context) (*models.RecognitionEvent, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event id"})
		return nil, false
	}
	ev, err := h.db.GetEvent(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrEventNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "event not found"})
			return nil, false
		}
		slog.Error("get event", "error", err, "event", id)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load event"})
		return nil, false
	}
	return ev, true
}

func (h *EventHandler) serveObject(c *gin.Context, key, what string) {
	if key == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": what + " not stored"})
		return
	}
	data, err := h.objects.GetObject(c.Request.Context(), key)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": what + " not found"})
		return
	}
	c.Data(http.StatusOK, "image/jpeg", data)
}

// EventToResponse maps a stored event to its API shape.
func EventToResponse(ev models.RecognitionEvent) dto.EventResponse {
	r := dto.EventResponse{
		ID:         ev.ID,
		StreamID:   ev.StreamID,
		FrameID:    ev.FrameID,
		Timestamp:  ev.Timestamp.Format(time.RFC3339),
		Face:       bboxOf(ev.Face),
		Label:      ev.Label,
		Distance:   ev.Distance,
		Known:      ev.Known,
		Candidates: make([]dto.CandidateResponse, 0, len(ev.Candidates)),
	}
	for _, cand := range ev.Candidates {
		r.Candidates = append(r.Candidates, dto.CandidateResponse{Label: cand.Label, Distance: cand.Distance})
	}
	if !ev.CreatedAt.IsZero() {
		r.CreatedAt = ev.CreatedAt.Format(time.RFC3339)
	}
	if ev.SnapshotKey != "" {
		r.SnapshotURL = "/v1/events/" + ev.ID.String() + "/snapshot"
	}
	if ev.FrameKey != "" {
		r.FrameURL = "/v1/events/" + ev.ID.String() + "/frame"
	}
	return r
}

package handlers

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/faceid/internal/config"
	"github.com/your-org/faceid/internal/models"
	"github.com/your-org/faceid/pkg/dto"
)

// ControlPublisher forwards start/stop commands to the ingestor.
type ControlPublisher interface {
	PublishControl(cmd models.StreamControl) error
}

type StreamHandler struct {
	streams  []config.StreamConfig
	producer ControlPublisher
}

func NewStreamHandler(streams []config.StreamConfig, producer ControlPublisher) *StreamHandler {
	return &StreamHandler{streams: streams, producer: producer}
}

// List returns the configured streams.
func (h *StreamHandler) List(c *gin.Context) {
	resp := make([]dto.StreamResponse, 0, len(h.streams))
	for _, sc := range h.streams {
		id, err := sc.StreamID()
		if err != nil {
			continue
		}
		resp = append(resp, dto.StreamResponse{ID: id, Name: sc.Name, URL: sc.URL, Type: sc.Type, FPS: sc.FPS})
	}
	c.JSON(http.StatusOK, dto.StreamListResponse{Streams: resp, Total: len(resp)})
}

func (h *StreamHandler) Start(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid stream id"})
		return
	}

	var req dto.StartStreamRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.URL == "" && !h.configured(id) {
		c.JSON(http.StatusNotFound, gin.H{"error": "stream not found"})
		return
	}

	cmd := models.StreamControl{Action: models.ControlStart, StreamID: id, URL: req.URL, FPS: req.FPS}
	if err := h.producer.PublishControl(cmd); err != nil {
		slog.Error("publish start command", "error", err, "stream_id", id)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to send start command"})
		return
	}

	c.JSON(http.StatusAccepted, dto.StreamCommandResponse{Status: "starting", StreamID: id})
}

func (h *StreamHandler) Stop(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid stream id"})
		return
	}

	if err := h.producer.PublishControl(models.StreamControl{Action: models.ControlStop, StreamID: id}); err != nil {
		slog.Error("publish stop command", "error", err, "stream_id", id)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to send stop command"})
		return
	}

	c.JSON(http.StatusAccepted, dto.StreamCommandResponse{Status: "stopping", StreamID: id})
}

func (h *StreamHandler) configured(id uuid.UUID) bool {
	for _, sc := range h.streams {
		if sid, err := sc.StreamID(); err == nil && sid == id {
			return true
		}
	}
	return false
}

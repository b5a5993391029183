package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/your-org/faceid/internal/identify"
	"github.com/your-org/faceid/internal/vision"
	"github.com/your-org/faceid/pkg/dto"
)

const maxUploadBytes = 10 << 20

// Identifier runs detection and identification over an encoded image.
type Identifier interface {
	IdentifyBytes(ctx context.Context, data []byte) ([]vision.FaceResult, error)
}

type IdentifyHandler struct {
	identifier Identifier
}

func NewIdentifyHandler(identifier Identifier) *IdentifyHandler {
	return &IdentifyHandler{identifier: identifier}
}

// Identify handles POST /v1/identify with a multipart "image" file.
// ?dedupe=true keeps only the closest prediction per label.
func (h *IdentifyHandler) Identify(c *gin.Context) {
	file, err := c.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "image file is required"})
		return
	}
	if file.Size > maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image exceeds 10MB"})
		return
	}

	dedupe := false
	if v := c.Query("dedupe"); v != "" {
		dedupe, err = strconv.ParseBool(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "dedupe must be a boolean"})
			return
		}
	}

	f, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read image"})
		return
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxUploadBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read image"})
		return
	}

	results, err := h.identifier.IdentifyBytes(c.Request.Context(), data)
	if err != nil {
		if errors.Is(err, identify.ErrInvalidInput) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		slog.Error("identify image", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "identification failed"})
		return
	}

	resp := dto.IdentifyResponse{Faces: make([]dto.FaceResponse, 0, len(results)), Count: len(results)}
	for _, r := range results {
		preds := r.Predictions
		if dedupe {
			preds = bestPerLabel(preds)
		}
		fr := dto.FaceResponse{
			Face:        bboxOf(r.Face),
			Label:       r.Label.Label,
			Distance:    r.Label.Distance,
			Known:       r.Label.Known(),
			Display:     r.Label.String(),
			Predictions: make([]dto.PredictionResponse, 0, len(preds)),
		}
		for _, p := range preds {
			fr.Predictions = append(fr.Predictions, dto.PredictionResponse{Label: p.Label, Distance: p.Distance})
		}
		resp.Faces = append(resp.Faces, fr)
	}

	c.JSON(http.StatusOK, resp)
}

func bestPerLabel(preds []identify.Prediction) []identify.Prediction {
	cands := make([]identify.Candidate, len(preds))
	for i, p := range preds {
		cands[i] = identify.Candidate{Label: p.Label, Distance: p.Distance}
	}
	cands = identify.BestPerLabel(cands)
	out := make([]identify.Prediction, len(cands))
	for i, cand := range cands {
		out[i] = identify.Prediction{Label: cand.Label, Distance: cand.Distance}
		if len(preds) > 0 {
			out[i].Face = preds[0].Face
		}
	}
	return out
}

func bboxOf(f identify.FaceLocalization) dto.BBox {
	return dto.BBox{LeftX: f.LeftX, LeftY: f.LeftY, RightX: f.RightX, RightY: f.RightY}
}

type GalleryHandler struct {
	session *identify.Session
}

func NewGalleryHandler(session *identify.Session) *GalleryHandler {
	return &GalleryHandler{session: session}
}

// Get describes the loaded gallery and the active matching parameters.
func (h *GalleryHandler) Get(c *gin.Context) {
	g := h.session.Gallery()
	opts := h.session.Options()
	counts := g.LabelCounts()

	labels := make([]dto.LabelCount, 0, len(counts))
	for _, label := range g.Labels() {
		labels = append(labels, dto.LabelCount{Label: label, Samples: counts[label]})
	}

	c.JSON(http.StatusOK, dto.GalleryResponse{
		Provider:          g.Provider().Name(),
		Dim:               g.Dim(),
		Source:            g.Source(),
		Entries:           g.Len(),
		Labels:            labels,
		Metric:            opts.Metric.String(),
		DistanceThreshold: opts.DistanceThreshold,
		TopK:              opts.TopK,
	})
}

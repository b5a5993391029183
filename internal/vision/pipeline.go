package vision

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"

	"github.com/your-org/faceid/internal/identify"
	"github.com/your-org/faceid/internal/models"
	"github.com/your-org/faceid/internal/observability"
)

// FrameStore holds frames and face snapshots.
type FrameStore interface {
	GetObject(ctx context.Context, key string) ([]byte, error)
	PutObject(ctx context.Context, key string, data []byte, contentType string) error
}

// EventPublisher delivers recognition events downstream.
type EventPublisher interface {
	PublishEvent(ctx context.Context, streamID string, data interface{}) error
}

// FaceResult is the identification outcome for one detected face.
type FaceResult struct {
	Face        identify.FaceLocalization `json:"face"`
	Label       identify.Prediction       `json:"label"`
	Predictions []identify.Prediction     `json:"predictions"`
}

// Pipeline runs detection and identification over frames:
// detect → crop → embed → match → annotate → emit event.
type Pipeline struct {
	detector      FaceDetector
	session       *identify.Session
	store         FrameStore
	publisher     EventPublisher
	saveSnapshots bool
}

type PipelineOption func(*Pipeline)

// WithFrameStore sets where ProcessFrame loads frames and saves snapshots.
func WithFrameStore(s FrameStore) PipelineOption {
	return func(p *Pipeline) { p.store = s }
}

func WithPublisher(pub EventPublisher) PipelineOption {
	return func(p *Pipeline) { p.publisher = pub }
}

func WithSnapshots(enabled bool) PipelineOption {
	return func(p *Pipeline) { p.saveSnapshots = enabled }
}

func NewPipeline(detector FaceDetector, session *identify.Session, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{detector: detector, session: session}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Pipeline) Session() *identify.Session { return p.session }

// Identify detects and identifies every face in img. Results follow the
// detector's face order.
func (p *Pipeline) Identify(ctx context.Context, img image.Image) ([]FaceResult, error) {
	start := time.Now()
	faces, err := p.detector.Detect(ctx, img)
	if err != nil {
		return nil, fmt.Errorf("detect: %w", err)
	}
	observability.InferenceDuration.WithLabelValues("detect").Observe(time.Since(start).Seconds())

	if len(faces) == 0 {
		return []FaceResult{}, nil
	}

	start = time.Now()
	predictions, err := p.session.Recognize(faces, img)
	if err != nil {
		return nil, fmt.Errorf("recognize: %w", err)
	}
	observability.InferenceDuration.WithLabelValues("identify").Observe(time.Since(start).Seconds())

	labels := identify.Annotate(predictions, faces)
	results := make([]FaceResult, len(faces))
	for i, face := range faces {
		results[i] = FaceResult{Face: face, Label: labels[i], Predictions: predictions[i]}
	}
	return results, nil
}

// IdentifyBytes decodes an encoded image and runs Identify on it.
func (p *Pipeline) IdentifyBytes(ctx context.Context, data []byte) ([]FaceResult, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w: %v", identify.ErrInvalidInput, err)
	}
	return p.Identify(ctx, img)
}

// ProcessFrame handles one frame task and publishes a RecognitionEvent for
// every face found in it.
func (p *Pipeline) ProcessFrame(ctx context.Context, task models.FrameTask) error {
	if p.store == nil || p.publisher == nil {
		return errors.New("pipeline has no frame store or publisher")
	}
	streamID := task.StreamID.String()

	frameData, err := p.store.GetObject(ctx, task.FrameRef)
	if err != nil {
		return fmt.Errorf("load frame: %w", err)
	}
	img, _, err := image.Decode(bytes.NewReader(frameData))
	if err != nil {
		// A corrupt frame will not get better on redelivery
		slog.Warn("dropping undecodable frame", "frame", task.FrameRef, "error", err)
		return nil
	}
	observability.FramesProcessed.WithLabelValues(streamID).Inc()

	results, err := p.Identify(ctx, img)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		return nil
	}
	observability.FacesDetected.WithLabelValues(streamID).Add(float64(len(results)))

	for _, res := range results {
		event := models.RecognitionEvent{
			ID:         uuid.New(),
			StreamID:   task.StreamID,
			FrameID:    task.FrameID,
			Timestamp:  task.Timestamp,
			Face:       res.Face,
			Label:      res.Label.Label,
			Distance:   res.Label.Distance,
			Known:      res.Label.Known(),
			Candidates: candidatesOf(res.Predictions),
			FrameKey:   task.FrameRef,
		}
		if event.Known {
			observability.FacesIdentified.WithLabelValues(streamID).Inc()
		} else {
			observability.FacesUnknown.WithLabelValues(streamID).Inc()
		}

		if p.saveSnapshots {
			event.SnapshotKey = p.saveSnapshot(ctx, img, event)
		}

		if err := p.publisher.PublishEvent(ctx, streamID, event); err != nil {
			slog.Error("publish event", "error", err, "event", event.ID)
		}
	}
	return nil
}

func (p *Pipeline) saveSnapshot(ctx context.Context, img image.Image, event models.RecognitionEvent) string {
	r := padRect(event.Face.Rect(), 0.1, img.Bounds())
	if r.Empty() {
		return ""
	}
	data, err := encodeJPEG(imaging.Crop(img, r), 85)
	if err != nil {
		slog.Warn("encode snapshot", "error", err)
		return ""
	}
	key := fmt.Sprintf("snapshots/%s/%s_%s.jpg",
		event.StreamID.String(), event.ID.String(), event.Timestamp.Format("20060102_150405"))
	if err := p.store.PutObject(ctx, key, data, "image/jpeg"); err != nil {
		slog.Warn("save snapshot", "error", err)
		return ""
	}
	return key
}

func candidatesOf(preds []identify.Prediction) []identify.Candidate {
	out := make([]identify.Candidate, len(preds))
	for i, p := range preds {
		out[i] = identify.Candidate{Label: p.Label, Distance: p.Distance}
	}
	return out
}

// Close releases the detector and, when it owns one, the provider pool.
func (p *Pipeline) Close() {
	if p.detector != nil {
		p.detector.Close()
	}
	if pool, ok := p.session.Gallery().Provider().(*identify.Pool); ok {
		pool.Close()
	}
}

package identify

import (
	"errors"
	"fmt"
	"image"
	"log/slog"

	"github.com/disintegration/imaging"
)

// Options tune the decision rule of a Session.
type Options struct {
	DistanceThreshold float64
	TopK              int
	Metric            Metric
	// Dedupe keeps only the best candidate per label.
	Dedupe bool
}

// DefaultOptions match the values the webcam pipeline was tuned with.
func DefaultOptions() Options {
	return Options{DistanceThreshold: 0.5, TopK: 6, Metric: MetricEuclidean}
}

// Session identifies the faces of one frame at a time. It keeps no state
// between calls and may be shared by concurrent callers as long as the
// gallery's provider is safe for concurrent use (see Pool).
type Session struct {
	gallery *Gallery
	matcher *Matcher
	opts    Options
}

func NewSession(g *Gallery, opts Options) (*Session, error) {
	if g == nil {
		return nil, errors.New("session requires a gallery")
	}
	if opts.DistanceThreshold < 0 {
		return nil, fmt.Errorf("distance threshold must be >= 0, got %v", opts.DistanceThreshold)
	}
	if opts.TopK < 1 {
		return nil, fmt.Errorf("top-k must be >= 1, got %d", opts.TopK)
	}
	return &Session{gallery: g, matcher: NewMatcher(opts.Metric), opts: opts}, nil
}

func (s *Session) Gallery() *Gallery { return s.gallery }
func (s *Session) Options() Options  { return s.opts }

// Recognize returns one prediction list per face, in input order. A face
// whose region cannot be cropped or embedded gets an empty list and the
// rest of the batch continues. A dimension mismatch aborts the call.
func (s *Session) Recognize(faces []FaceLocalization, frame image.Image) ([][]Prediction, error) {
	results := make([][]Prediction, len(faces))
	for i, face := range faces {
		preds, err := s.recognizeFace(face, frame)
		if err != nil {
			if errors.Is(err, ErrDimensionMismatch) {
				return nil, err
			}
			slog.Debug("face skipped", "index", i, "error", err)
			preds = []Prediction{}
		}
		results[i] = preds
	}
	return results, nil
}

func (s *Session) recognizeFace(face FaceLocalization, frame image.Image) ([]Prediction, error) {
	if s.gallery.Len() == 0 {
		return []Prediction{}, nil
	}
	crop, err := CropFace(frame, face)
	if err != nil {
		return nil, err
	}
	emb, err := s.gallery.provider.Embed(crop)
	if err != nil {
		return nil, fmt.Errorf("embed face: %w", err)
	}
	cands, err := s.matcher.Identify(emb, s.gallery, s.opts.DistanceThreshold, s.opts.TopK)
	if err != nil {
		return nil, err
	}
	if s.opts.Dedupe {
		cands = BestPerLabel(cands)
	}
	preds := make([]Prediction, len(cands))
	for i, c := range cands {
		preds[i] = Prediction{Label: c.Label, Distance: c.Distance, Face: face}
	}
	return preds, nil
}

// CropFace cuts the face rectangle out of frame, clamped to the frame
// bounds. A region with no overlap yields ErrInvalidInput.
func CropFace(frame image.Image, face FaceLocalization) (image.Image, error) {
	if frame == nil {
		return nil, ErrInvalidInput
	}
	r := face.Rect().Intersect(frame.Bounds())
	if r.Empty() {
		return nil, fmt.Errorf("%w: face %v outside frame %v", ErrInvalidInput, face.Rect(), frame.Bounds())
	}
	return imaging.Crop(frame, r), nil
}

// Annotate reduces each face's predictions to the one shown on screen: the
// best candidate, or UnknownLabel when nothing matched.
func Annotate(results [][]Prediction, faces []FaceLocalization) []Prediction {
	out := make([]Prediction, len(faces))
	for i, face := range faces {
		if i < len(results) && len(results[i]) > 0 {
			out[i] = results[i][0]
			continue
		}
		out[i] = Prediction{Label: UnknownLabel, Face: face}
	}
	return out
}

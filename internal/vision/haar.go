package vision

import (
	"context"
	"fmt"
	"image"
	"sync"

	"gocv.io/x/gocv"

	"github.com/your-org/faceid/internal/identify"
)

// Haar detects faces with an OpenCV Haar cascade.
type Haar struct {
	mu         sync.Mutex
	classifier gocv.CascadeClassifier
	minSize    int
}

// NewHaar loads the cascade XML at cascadeFile. Faces narrower than
// minSize pixels are dropped.
func NewHaar(cascadeFile string, minSize int) (*Haar, error) {
	classifier := gocv.NewCascadeClassifier()
	if !classifier.Load(cascadeFile) {
		classifier.Close()
		return nil, fmt.Errorf("read cascade file %s", cascadeFile)
	}
	return &Haar{classifier: classifier, minSize: minSize}, nil
}

func (h *Haar) Detect(ctx context.Context, img image.Image) ([]identify.FaceLocalization, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := identify.ValidateImage(img); err != nil {
		return nil, err
	}
	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, fmt.Errorf("convert frame: %w", err)
	}
	defer mat.Close()

	h.mu.Lock()
	rects := h.classifier.DetectMultiScale(mat)
	h.mu.Unlock()

	offset := img.Bounds().Min
	faces := make([]identify.FaceLocalization, 0, len(rects))
	for _, r := range rects {
		if r.Dx() < h.minSize {
			continue
		}
		faces = append(faces, identify.LocalizationFromRect(r.Add(offset)))
	}
	return faces, nil
}

func (h *Haar) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.classifier.Close()
}

// Package identify matches detected face regions against an enrolled gallery
// using embedding distances.
package identify

import (
	"fmt"
	"image"
	"math"
)

// UnknownLabel is shown for a face that has no candidate within the distance threshold.
const UnknownLabel = "Unknown"

// FaceLocalization is an axis-aligned face rectangle in frame pixel coordinates.
type FaceLocalization struct {
	LeftX  float64 `json:"left_x"`
	LeftY  float64 `json:"left_y"`
	RightX float64 `json:"right_x"`
	RightY float64 `json:"right_y"`
}

// Rect converts the localization to the smallest integer rectangle covering
// it. Corners are ordered before rounding, so swapped coordinates cover the
// same area.
func (f FaceLocalization) Rect() image.Rectangle {
	return image.Rect(
		int(math.Floor(math.Min(f.LeftX, f.RightX))),
		int(math.Floor(math.Min(f.LeftY, f.RightY))),
		int(math.Ceil(math.Max(f.LeftX, f.RightX))),
		int(math.Ceil(math.Max(f.LeftY, f.RightY))),
	)
}

// BBox returns the localization as [x1, y1, x2, y2].
func (f FaceLocalization) BBox() [4]float32 {
	return [4]float32{float32(f.LeftX), float32(f.LeftY), float32(f.RightX), float32(f.RightY)}
}

// LocalizationFromRect builds a FaceLocalization from an integer rectangle.
func LocalizationFromRect(r image.Rectangle) FaceLocalization {
	return FaceLocalization{
		LeftX:  float64(r.Min.X),
		LeftY:  float64(r.Min.Y),
		RightX: float64(r.Max.X),
		RightY: float64(r.Max.Y),
	}
}

// Embedding is a fixed-length feature vector produced by a FeatureProvider.
type Embedding []float32

// GalleryEntry is one enrolled sample of an identity.
type GalleryEntry struct {
	Label     string
	Embedding Embedding
	Source    string // sample name within its label, e.g. "alice/01.jpg"
}

// Candidate is a ranked gallery match for one query embedding.
type Candidate struct {
	Label    string  `json:"label"`
	Distance float64 `json:"distance"`
}

// Prediction is a candidate attached to the face it was computed for.
type Prediction struct {
	Label    string           `json:"label"`
	Distance float64          `json:"distance"`
	Face     FaceLocalization `json:"face"`
}

// Known reports whether the prediction names an enrolled identity.
func (p Prediction) Known() bool {
	return p.Label != UnknownLabel
}

func (p Prediction) String() string {
	if !p.Known() {
		return UnknownLabel
	}
	return fmt.Sprintf("%s %.2f", p.Label, p.Distance)
}

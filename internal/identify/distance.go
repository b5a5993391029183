package identify

import (
	"fmt"
	"math"
	"strings"
)

// Metric selects how two embeddings are compared.
type Metric int

const (
	// MetricEuclidean is the L2 distance.
	MetricEuclidean Metric = iota
	// MetricCosine is 1 - cosine similarity, in [0, 2].
	MetricCosine
)

// ParseMetric maps a config string to a Metric. Empty selects Euclidean.
func ParseMetric(s string) (Metric, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "euclidean", "l2":
		return MetricEuclidean, nil
	case "cosine":
		return MetricCosine, nil
	default:
		return 0, fmt.Errorf("unknown distance metric %q (supported: euclidean, cosine)", s)
	}
}

func (m Metric) String() string {
	switch m {
	case MetricEuclidean:
		return "euclidean"
	case MetricCosine:
		return "cosine"
	default:
		return fmt.Sprintf("metric(%d)", int(m))
	}
}

// Distance compares a and b. It fails with *DimensionMismatchError when
// the lengths differ.
func (m Metric) Distance(a, b Embedding) (float64, error) {
	if len(a) != len(b) {
		return 0, &DimensionMismatchError{Want: len(a), Got: len(b)}
	}
	switch m {
	case MetricCosine:
		return CosineDistance(a, b), nil
	default:
		return EuclideanDistance(a, b), nil
	}
}

// EuclideanDistance assumes len(a) == len(b).
func EuclideanDistance(a, b Embedding) float64 {
	var sum float64
	for i := range a {
		diff := float64(a[i]) - float64(b[i])
		sum += diff * diff
	}
	return math.Sqrt(sum)
}

// CosineDistance returns 1 - cos(a, b). Zero vectors are maximally distant
// from everything except themselves.
func CosineDistance(a, b Embedding) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		if normA == normB {
			return 0
		}
		return 2
	}
	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	// Clamp to [-1, 1] against floating point drift
	sim = math.Max(-1, math.Min(1, sim))
	return 1 - sim
}

// CheckFinite fails with ErrInvalidInput when v holds a NaN or infinite
// component.
func CheckFinite(v Embedding) error {
	for i, x := range v {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("%w: embedding component %d is %v", ErrInvalidInput, i, x)
		}
	}
	return nil
}

// Normalize scales v to unit L2 norm in place. Zero vectors are left as is.
func Normalize(v Embedding) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := float32(math.Sqrt(sum))
	if norm > 0 {
		for i := range v {
			v[i] /= norm
		}
	}
}

package identify

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func aliceBobGallery(t *testing.T) *Gallery {
	t.Helper()
	g, err := NewGallery(&fixedProvider{emb: Embedding{0}}, []GalleryEntry{
		{Label: "Alice", Embedding: Embedding{0.9}, Source: "Alice/1.jpg"},
		{Label: "Bob", Embedding: Embedding{0.4}, Source: "Bob/1.jpg"},
		{Label: "Bob", Embedding: Embedding{0.2}, Source: "Bob/2.jpg"},
	})
	require.NoError(t, err)
	return g
}

func TestIdentifyAliceBob(t *testing.T) {
	g := aliceBobGallery(t)

	got, err := NewMatcher(MetricEuclidean).Identify(Embedding{0}, g, 0.5, 6)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Bob", got[0].Label)
	assert.InDelta(t, 0.2, got[0].Distance, 1e-6)
	assert.Equal(t, "Bob", got[1].Label)
	assert.InDelta(t, 0.4, got[1].Distance, 1e-6)
}

func TestIdentifyBounds(t *testing.T) {
	entries := make([]GalleryEntry, 0, 20)
	for i := 0; i < 20; i++ {
		entries = append(entries, GalleryEntry{Label: string(rune('a' + i)), Embedding: Embedding{float32(i) * 0.1}})
	}
	g, err := NewGallery(&fixedProvider{emb: Embedding{0}}, entries)
	require.NoError(t, err)
	m := NewMatcher(MetricEuclidean)

	for _, topK := range []int{1, 3, 6, 25} {
		for _, threshold := range []float64{0, 0.25, 0.55, 1.0, 5} {
			got, err := m.Identify(Embedding{0}, g, threshold, topK)
			require.NoError(t, err)
			assert.LessOrEqual(t, len(got), topK)
			for i, c := range got {
				assert.LessOrEqual(t, c.Distance, threshold)
				if i > 0 {
					assert.GreaterOrEqual(t, c.Distance, got[i-1].Distance)
				}
			}
		}
	}
}

func TestIdentifyThresholdMonotonic(t *testing.T) {
	g := aliceBobGallery(t)
	m := NewMatcher(MetricEuclidean)

	prev := 0
	for _, threshold := range []float64{0, 0.1, 0.2, 0.3, 0.4, 0.5, 0.9, 1, 2} {
		got, err := m.Identify(Embedding{0}, g, threshold, 6)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, len(got), prev, "threshold %v", threshold)
		prev = len(got)
	}
	assert.Equal(t, 3, prev)
}

func TestIdentifyTopKBeforeThreshold(t *testing.T) {
	g := aliceBobGallery(t)

	got, err := NewMatcher(MetricEuclidean).Identify(Embedding{0}, g, 1.0, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Bob", got[0].Label)
}

func TestIdentifyTieBreakByLabel(t *testing.T) {
	g, err := NewGallery(&fixedProvider{emb: Embedding{0}}, []GalleryEntry{
		{Label: "zed", Embedding: Embedding{0.1}},
		{Label: "amy", Embedding: Embedding{-0.1}},
	})
	require.NoError(t, err)

	got, err := NewMatcher(MetricEuclidean).Identify(Embedding{0}, g, 1, 6)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "amy", got[0].Label)
	assert.Equal(t, "zed", got[1].Label)
}

func TestIdentifyEmpty(t *testing.T) {
	empty, err := NewGallery(&fixedProvider{emb: Embedding{0}}, nil)
	require.NoError(t, err)
	m := NewMatcher(MetricEuclidean)

	got, err := m.Identify(Embedding{0}, empty, 0.5, 6)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = m.Identify(Embedding{0}, aliceBobGallery(t), 0.5, 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestIdentifyDimensionMismatch(t *testing.T) {
	_, err := NewMatcher(MetricEuclidean).Identify(Embedding{0, 1}, aliceBobGallery(t), 0.5, 6)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDimensionMismatch))
}

func TestIdentifyNaNDistanceSortsLast(t *testing.T) {
	// entries built directly, as a corrupt row would be after load
	g := &Gallery{provider: &fixedProvider{emb: Embedding{0}}, entries: []GalleryEntry{
		{Label: "bad", Embedding: Embedding{float32(math.NaN())}},
		{Label: "good", Embedding: Embedding{0.1}},
		{Label: "worse", Embedding: Embedding{float32(math.NaN())}},
	}}

	got, err := NewMatcher(MetricEuclidean).Identify(Embedding{0}, g, 0.5, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "good", got[0].Label)
	assert.InDelta(t, 0.1, got[0].Distance, 1e-6)

	got, err = NewMatcher(MetricCosine).Identify(Embedding{1}, g, 0.5, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "good", got[0].Label)
}

func TestIdentifyRejectsNonFiniteQuery(t *testing.T) {
	m := NewMatcher(MetricEuclidean)
	for _, q := range []Embedding{
		{float32(math.NaN())},
		{float32(math.Inf(1))},
		{float32(math.Inf(-1))},
	} {
		_, err := m.Identify(q, aliceBobGallery(t), 0.5, 6)
		assert.ErrorIs(t, err, ErrInvalidInput)
	}
}

func TestNewGalleryRejectsNonFinite(t *testing.T) {
	_, err := NewGallery(&fixedProvider{emb: Embedding{0}}, []GalleryEntry{
		{Label: "good", Embedding: Embedding{0.1}},
		{Label: "bad", Embedding: Embedding{float32(math.Inf(1))}},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestBestPerLabel(t *testing.T) {
	in := []Candidate{
		{Label: "Bob", Distance: 0.2},
		{Label: "Bob", Distance: 0.4},
		{Label: "Alice", Distance: 0.45},
		{Label: "Alice", Distance: 0.5},
	}
	assert.Equal(t, []Candidate{
		{Label: "Bob", Distance: 0.2},
		{Label: "Alice", Distance: 0.45},
	}, BestPerLabel(in))
	assert.Empty(t, BestPerLabel(nil))
}

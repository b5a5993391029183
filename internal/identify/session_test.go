package identify

import (
	"errors"
	"image"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// twoToneFrame is red on the left half and blue on the right half.
func twoToneFrame() *image.RGBA {
	frame := solidImage(100, 50, red)
	for y := 0; y < 50; y++ {
		for x := 50; x < 100; x++ {
			frame.Set(x, y, blue)
		}
	}
	return frame
}

func colorSession(t *testing.T, p FeatureProvider, opts Options) *Session {
	t.Helper()
	g, err := NewGallery(p, []GalleryEntry{
		{Label: "red", Embedding: Embedding{1, 0, 0}},
		{Label: "red", Embedding: Embedding{0.9, 0, 0}},
		{Label: "blue", Embedding: Embedding{0, 0, 1}},
	})
	require.NoError(t, err)
	s, err := NewSession(g, opts)
	require.NoError(t, err)
	return s
}

func TestRecognize(t *testing.T) {
	p := &meanColorProvider{}
	s := colorSession(t, p, DefaultOptions())

	faces := []FaceLocalization{
		{LeftX: 60, LeftY: 10, RightX: 90, RightY: 40},
		{LeftX: 5, LeftY: 5, RightX: 30, RightY: 30},
	}
	results, err := s.Recognize(faces, twoToneFrame())
	require.NoError(t, err)
	require.Len(t, results, 2)

	require.Len(t, results[0], 1)
	assert.Equal(t, "blue", results[0][0].Label)
	assert.Equal(t, faces[0], results[0][0].Face)

	require.Len(t, results[1], 2)
	assert.Equal(t, "red", results[1][0].Label)
	assert.InDelta(t, 0.0, results[1][0].Distance, 1e-6)
	assert.Equal(t, "red", results[1][1].Label)
	assert.InDelta(t, 0.1, results[1][1].Distance, 1e-6)
	assert.Equal(t, faces[1], results[1][1].Face)
}

func TestRecognizeDedupe(t *testing.T) {
	opts := DefaultOptions()
	opts.Dedupe = true
	s := colorSession(t, &meanColorProvider{}, opts)

	results, err := s.Recognize([]FaceLocalization{{LeftX: 0, LeftY: 0, RightX: 20, RightY: 20}}, twoToneFrame())
	require.NoError(t, err)
	require.Len(t, results[0], 1)
	assert.Equal(t, "red", results[0][0].Label)
}

func TestRecognizeNoFaces(t *testing.T) {
	p := &meanColorProvider{}
	s := colorSession(t, p, DefaultOptions())

	results, err := s.Recognize(nil, twoToneFrame())
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Equal(t, int32(0), p.calls.Load())
}

func TestRecognizeOutOfBoundsFace(t *testing.T) {
	p := &meanColorProvider{}
	s := colorSession(t, p, DefaultOptions())

	faces := []FaceLocalization{
		{LeftX: 5, LeftY: 5, RightX: 30, RightY: 30},
		{LeftX: 500, LeftY: 500, RightX: 600, RightY: 600},
		{LeftX: 60, LeftY: 10, RightX: 90, RightY: 40},
	}
	results, err := s.Recognize(faces, twoToneFrame())
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.NotEmpty(t, results[0])
	assert.NotNil(t, results[1])
	assert.Empty(t, results[1])
	assert.NotEmpty(t, results[2])
	assert.Equal(t, int32(2), p.calls.Load())
}

func TestRecognizeNonFiniteEmbeddingIsPerFace(t *testing.T) {
	p := &fixedProvider{emb: Embedding{float32(math.NaN()), 0, 0}}
	s := colorSession(t, p, DefaultOptions())

	faces := []FaceLocalization{{LeftX: 5, LeftY: 5, RightX: 30, RightY: 30}}
	results, err := s.Recognize(faces, twoToneFrame())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.NotNil(t, results[0])
	assert.Empty(t, results[0])
	assert.Equal(t, UnknownLabel, Annotate(results, faces)[0].Label)
}

func TestRecognizePartiallyOutsideIsClamped(t *testing.T) {
	s := colorSession(t, &meanColorProvider{}, DefaultOptions())

	face := FaceLocalization{LeftX: 80, LeftY: -20, RightX: 140, RightY: 30}
	results, err := s.Recognize([]FaceLocalization{face}, twoToneFrame())
	require.NoError(t, err)
	require.NotEmpty(t, results[0])
	assert.Equal(t, "blue", results[0][0].Label)
	assert.Equal(t, face, results[0][0].Face)
}

func TestRecognizeEmptyGallery(t *testing.T) {
	p := &meanColorProvider{}
	g, err := NewGallery(p, nil)
	require.NoError(t, err)
	s, err := NewSession(g, DefaultOptions())
	require.NoError(t, err)

	faces := []FaceLocalization{{LeftX: 0, LeftY: 0, RightX: 10, RightY: 10}, {LeftX: 50, LeftY: 0, RightX: 70, RightY: 20}}
	results, err := s.Recognize(faces, twoToneFrame())
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.Empty(t, r)
	}

	labels := Annotate(results, faces)
	require.Len(t, labels, 2)
	for i, l := range labels {
		assert.Equal(t, UnknownLabel, l.Label)
		assert.False(t, l.Known())
		assert.Equal(t, faces[i], l.Face)
	}
}

// shortProvider violates its declared dimension.
type shortProvider struct{ meanColorProvider }

func (p *shortProvider) Embed(img image.Image) (Embedding, error) {
	emb, err := p.meanColorProvider.Embed(img)
	if err != nil {
		return nil, err
	}
	return emb[:2], nil
}

func TestRecognizeDimensionMismatchIsFatal(t *testing.T) {
	s := colorSession(t, &shortProvider{}, DefaultOptions())

	_, err := s.Recognize([]FaceLocalization{{LeftX: 0, LeftY: 0, RightX: 10, RightY: 10}}, twoToneFrame())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDimensionMismatch))
}

func TestNewSessionValidation(t *testing.T) {
	g, err := NewGallery(&meanColorProvider{}, nil)
	require.NoError(t, err)

	_, err = NewSession(nil, DefaultOptions())
	assert.Error(t, err)
	_, err = NewSession(g, Options{DistanceThreshold: -1, TopK: 6})
	assert.Error(t, err)
	_, err = NewSession(g, Options{DistanceThreshold: 0.5, TopK: 0})
	assert.Error(t, err)
}

func TestAnnotate(t *testing.T) {
	faces := []FaceLocalization{{LeftX: 1}, {LeftX: 2}}
	results := [][]Prediction{
		{{Label: "Bob", Distance: 0.2, Face: faces[0]}, {Label: "Bob", Distance: 0.4, Face: faces[0]}},
		{},
	}
	got := Annotate(results, faces)
	require.Len(t, got, 2)
	assert.Equal(t, "Bob 0.20", got[0].String())
	assert.Equal(t, "Unknown", got[1].String())
	assert.Equal(t, faces[1], got[1].Face)
}

func TestCropFace(t *testing.T) {
	frame := twoToneFrame()

	crop, err := CropFace(frame, FaceLocalization{LeftX: -10, LeftY: -10, RightX: 20, RightY: 15})
	require.NoError(t, err)
	assert.Equal(t, 20, crop.Bounds().Dx())
	assert.Equal(t, 15, crop.Bounds().Dy())

	_, err = CropFace(frame, FaceLocalization{LeftX: 10, LeftY: 10, RightX: 10, RightY: 30})
	assert.True(t, errors.Is(err, ErrInvalidInput))

	_, err = CropFace(nil, FaceLocalization{RightX: 1, RightY: 1})
	assert.True(t, errors.Is(err, ErrInvalidInput))
}

func TestFaceLocalizationRect(t *testing.T) {
	tests := []struct {
		name string
		face FaceLocalization
		want image.Rectangle
	}{
		{"integral", FaceLocalization{LeftX: 1, LeftY: 2, RightX: 5, RightY: 6}, image.Rect(1, 2, 5, 6)},
		{"fractional grows outward", FaceLocalization{LeftX: 1.5, LeftY: 2.2, RightX: 4.1, RightY: 5.9}, image.Rect(1, 2, 5, 6)},
		{"swapped x", FaceLocalization{LeftX: 10.5, LeftY: 0, RightX: 5.5, RightY: 4}, image.Rect(5, 0, 11, 4)},
		{"swapped both", FaceLocalization{LeftX: 10.5, LeftY: 8.5, RightX: 5.5, RightY: 2.5}, image.Rect(5, 2, 11, 9)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.face.Rect())
		})
	}
}

// serialProvider fails the test if two Embed calls overlap on one instance.
type serialProvider struct {
	busy     atomic.Bool
	overlaps atomic.Int32
	global   *atomic.Int32
	peak     *atomic.Int32
}

func (p *serialProvider) Name() string { return "serial" }
func (p *serialProvider) Dim() int     { return 1 }

func (p *serialProvider) Embed(image.Image) (Embedding, error) {
	if !p.busy.CompareAndSwap(false, true) {
		p.overlaps.Add(1)
	}
	n := p.global.Add(1)
	for {
		peak := p.peak.Load()
		if n <= peak || p.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	time.Sleep(2 * time.Millisecond)
	p.global.Add(-1)
	p.busy.Store(false)
	return Embedding{0}, nil
}

func TestPoolSerializesInstances(t *testing.T) {
	for _, size := range []int{1, 3} {
		var global, peak atomic.Int32
		instances := make([]FeatureProvider, size)
		serials := make([]*serialProvider, size)
		for i := range instances {
			serials[i] = &serialProvider{global: &global, peak: &peak}
			instances[i] = serials[i]
		}
		pool, err := NewPool(instances...)
		require.NoError(t, err)
		assert.Equal(t, size, pool.Size())

		img := solidImage(2, 2, red)
		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := pool.Embed(img)
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		assert.LessOrEqual(t, peak.Load(), int32(size))
		for _, s := range serials {
			assert.Equal(t, int32(0), s.overlaps.Load())
		}
	}
}

func TestNewPoolRejectsMixedProviders(t *testing.T) {
	_, err := NewPool()
	assert.Error(t, err)

	_, err = NewPool(&meanColorProvider{}, &fixedProvider{emb: Embedding{0, 0, 0}})
	assert.Error(t, err)

	pool, err := NewPool(&meanColorProvider{}, &meanColorProvider{})
	require.NoError(t, err)
	assert.Equal(t, "meancolor", pool.Name())
	assert.Equal(t, 3, pool.Dim())
}

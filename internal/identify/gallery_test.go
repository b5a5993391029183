package identify

import (
	"context"
	"errors"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func colorGalleryDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "red", "01.png"), red)
	writePNG(t, filepath.Join(dir, "red", "02.png"), red)
	writePNG(t, filepath.Join(dir, "green", "01.png"), green)
	writePNG(t, filepath.Join(dir, "blue", "01.png"), blue)
	return dir
}

func TestLoadGallery(t *testing.T) {
	dir := colorGalleryDir(t)
	// noise the loader must ignore
	require.NoError(t, os.WriteFile(filepath.Join(dir, "red", "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("x"), 0o644))
	writePNG(t, filepath.Join(dir, ".hidden", "01.png"), red)
	writePNG(t, filepath.Join(dir, "red", ".01.png"), red)

	p := &meanColorProvider{}
	g, err := LoadGallery(context.Background(), dir, p)
	require.NoError(t, err)

	assert.Equal(t, 4, g.Len())
	assert.Equal(t, 3, g.Dim())
	assert.Equal(t, []string{"blue", "green", "red"}, g.Labels())
	assert.Equal(t, map[string]int{"blue": 1, "green": 1, "red": 2}, g.LabelCounts())
	assert.Equal(t, dir, g.Source())
	assert.Same(t, p, g.Provider())

	entries := g.Entries()
	assert.Equal(t, "blue/01.png", entries[0].Source)
	entries[0].Label = "mutated"
	assert.Equal(t, "blue", g.Entries()[0].Label)
}

func TestGallerySelfIdentification(t *testing.T) {
	p := &meanColorProvider{}
	g, err := LoadGallery(context.Background(), colorGalleryDir(t), p)
	require.NoError(t, err)
	m := NewMatcher(MetricEuclidean)

	for label, c := range map[string]color.RGBA{"red": red, "green": green, "blue": blue} {
		t.Run(label, func(t *testing.T) {
			emb, err := p.Embed(solidImage(4, 4, c))
			require.NoError(t, err)
			got, err := m.Identify(emb, g, 0.5, 6)
			require.NoError(t, err)
			require.NotEmpty(t, got)
			assert.Equal(t, label, got[0].Label)
		})
	}
}

func TestLoadGalleryMissingDir(t *testing.T) {
	g, err := LoadGallery(context.Background(), filepath.Join(t.TempDir(), "nope"), &meanColorProvider{})
	require.Error(t, err)
	assert.Nil(t, g)
	assert.True(t, errors.Is(err, ErrGalleryLoad))
	assert.True(t, errors.Is(err, ErrGalleryNotFound))

	var le *GalleryLoadError
	require.ErrorAs(t, err, &le)
	assert.Contains(t, le.Source, "nope")
}

func TestLoadGalleryEmptyDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "alice"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "alice", "broken.jpg"), []byte("not an image"), 0o644))

	g, err := LoadGallery(context.Background(), dir, &meanColorProvider{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrGalleryLoad))
	assert.True(t, errors.Is(err, ErrGalleryEmpty))
	require.NotNil(t, g)
	assert.Equal(t, 0, g.Len())
}

type memCache struct {
	mu      sync.Mutex
	entries map[string]Embedding
	stores  int
}

func (c *memCache) Lookup(_ context.Context, provider, digest string) (Embedding, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	emb, ok := c.entries[provider+"/"+digest]
	return emb, ok, nil
}

func (c *memCache) Store(_ context.Context, provider, digest, _ string, emb Embedding) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[provider+"/"+digest] = emb
	c.stores++
	return nil
}

func TestBuildGalleryUsesCache(t *testing.T) {
	dir := colorGalleryDir(t)
	cache := &memCache{entries: map[string]Embedding{}}

	p := &meanColorProvider{}
	_, err := LoadGallery(context.Background(), dir, p, WithEmbeddingCache(cache))
	require.NoError(t, err)
	// red/01 and red/02 are byte-identical, the second is served from cache
	assert.Equal(t, int32(3), p.calls.Load())
	assert.Equal(t, 3, cache.stores)
	assert.Len(t, cache.entries, 3)

	p2 := &meanColorProvider{}
	var results []SampleResult
	g, err := LoadGallery(context.Background(), dir, p2,
		WithEmbeddingCache(cache),
		WithObserver(func(r SampleResult) { results = append(results, r) }),
	)
	require.NoError(t, err)
	assert.Equal(t, 4, g.Len())
	assert.Equal(t, int32(0), p2.calls.Load())
	require.Len(t, results, 4)
	for _, r := range results {
		assert.True(t, r.Cached)
		assert.NoError(t, r.Err)
	}
}

func TestBuildGalleryIgnoresNonFiniteCacheHit(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "red", "01.png"), red)
	cache := &memCache{entries: map[string]Embedding{}}

	p := &meanColorProvider{}
	_, err := LoadGallery(context.Background(), dir, p, WithEmbeddingCache(cache))
	require.NoError(t, err)
	for k := range cache.entries {
		cache.entries[k] = Embedding{float32(math.NaN()), 0, 0}
	}

	p2 := &meanColorProvider{}
	var results []SampleResult
	g, err := LoadGallery(context.Background(), dir, p2,
		WithEmbeddingCache(cache),
		WithObserver(func(r SampleResult) { results = append(results, r) }),
	)
	require.NoError(t, err)
	assert.Equal(t, int32(1), p2.calls.Load())
	require.Len(t, results, 1)
	assert.False(t, results[0].Cached)
	assert.NoError(t, CheckFinite(g.Entries()[0].Embedding))
}

func TestBuildGallerySkipsNonFiniteEmbedding(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "red", "01.png"), red)

	var results []SampleResult
	g, err := LoadGallery(context.Background(), dir, &fixedProvider{emb: Embedding{float32(math.NaN())}},
		WithObserver(func(r SampleResult) { results = append(results, r) }),
	)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrGalleryEmpty)
	assert.Zero(t, g.Len())
	require.Len(t, results, 1)
	assert.ErrorIs(t, results[0].Err, ErrInvalidInput)
}

type wrongDimProvider struct{ meanColorProvider }

func (p *wrongDimProvider) Dim() int { return 128 }

func TestBuildGalleryDimensionMismatch(t *testing.T) {
	_, err := LoadGallery(context.Background(), colorGalleryDir(t), &wrongDimProvider{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDimensionMismatch))
}

func TestBuildGalleryCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := LoadGallery(ctx, colorGalleryDir(t), &meanColorProvider{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestNewGalleryValidatesDimensions(t *testing.T) {
	_, err := NewGallery(&fixedProvider{emb: Embedding{0, 0}}, []GalleryEntry{{Label: "x", Embedding: Embedding{1}}})
	assert.True(t, errors.Is(err, ErrDimensionMismatch))

	_, err = NewGallery(nil, nil)
	assert.Error(t, err)
}

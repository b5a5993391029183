package identify

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

// meanColorProvider embeds an image as its mean RGB, scaled to [0, 1].
type meanColorProvider struct {
	calls atomic.Int32
}

func (p *meanColorProvider) Name() string { return "meancolor" }
func (p *meanColorProvider) Dim() int     { return 3 }

func (p *meanColorProvider) Embed(img image.Image) (Embedding, error) {
	p.calls.Add(1)
	if err := ValidateImage(img); err != nil {
		return nil, err
	}
	b := img.Bounds()
	var r, g, bl float64
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			cr, cg, cb, _ := img.At(x, y).RGBA()
			r += float64(cr >> 8)
			g += float64(cg >> 8)
			bl += float64(cb >> 8)
		}
	}
	n := float64(b.Dx()*b.Dy()) * 255
	return Embedding{float32(r / n), float32(g / n), float32(bl / n)}, nil
}

// fixedProvider returns the same embedding for every image.
type fixedProvider struct {
	emb   Embedding
	calls atomic.Int32
}

func (p *fixedProvider) Name() string { return "fixed" }
func (p *fixedProvider) Dim() int     { return len(p.emb) }

func (p *fixedProvider) Embed(img image.Image) (Embedding, error) {
	p.calls.Add(1)
	if err := ValidateImage(img); err != nil {
		return nil, err
	}
	out := make(Embedding, len(p.emb))
	copy(out, p.emb)
	return out, nil
}

func solidImage(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func writePNG(t *testing.T, path string, c color.Color) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, solidImage(8, 8, c)))
}

var (
	red   = color.RGBA{R: 255, A: 255}
	green = color.RGBA{G: 255, A: 255}
	blue  = color.RGBA{B: 255, A: 255}
)

package identify

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// ImageSource enumerates enrollment samples as (label, name, encoded bytes).
type ImageSource interface {
	Walk(ctx context.Context, fn func(label, name string, data []byte) error) error
	String() string
}

// EmbeddingCache persists sample embeddings keyed by provider name and
// the SHA-256 digest of the encoded sample.
type EmbeddingCache interface {
	Lookup(ctx context.Context, provider, digest string) (Embedding, bool, error)
	Store(ctx context.Context, provider, digest, label string, emb Embedding) error
}

// SampleResult is reported to the gallery observer once per sample.
type SampleResult struct {
	Label  string
	Name   string
	Cached bool
	Err    error // non-nil when the sample was skipped
}

type GalleryOption func(*galleryOptions)

type galleryOptions struct {
	cache    EmbeddingCache
	observer func(SampleResult)
}

func WithEmbeddingCache(c EmbeddingCache) GalleryOption {
	return func(o *galleryOptions) { o.cache = c }
}

func WithObserver(fn func(SampleResult)) GalleryOption {
	return func(o *galleryOptions) { o.observer = fn }
}

// Gallery is the enrolled set of embeddings, bound to the provider that
// computed them. It is read-only after construction.
type Gallery struct {
	provider FeatureProvider
	source   string
	entries  []GalleryEntry
}

// NewGallery builds a gallery from precomputed entries.
func NewGallery(provider FeatureProvider, entries []GalleryEntry) (*Gallery, error) {
	if provider == nil {
		return nil, errors.New("gallery requires a feature provider")
	}
	g := &Gallery{provider: provider, source: "memory", entries: make([]GalleryEntry, 0, len(entries))}
	for _, e := range entries {
		if len(e.Embedding) != provider.Dim() {
			return nil, &DimensionMismatchError{Want: provider.Dim(), Got: len(e.Embedding)}
		}
		if err := CheckFinite(e.Embedding); err != nil {
			return nil, fmt.Errorf("gallery entry %s: %w", e.Label, err)
		}
		g.entries = append(g.entries, e)
	}
	return g, nil
}

// LoadGallery builds a gallery from a <dir>/<label>/<image> tree.
func LoadGallery(ctx context.Context, dir string, provider FeatureProvider, opts ...GalleryOption) (*Gallery, error) {
	return BuildGallery(ctx, NewDirSource(dir), provider, opts...)
}

// BuildGallery embeds every sample of src with provider.
//
// Samples that fail to decode or embed are skipped with a warning. When no
// sample survives, a valid empty gallery is returned together with a
// *GalleryLoadError wrapping ErrGalleryEmpty; identification against it
// always yields no candidates. A missing source returns a nil gallery.
func BuildGallery(ctx context.Context, src ImageSource, provider FeatureProvider, opts ...GalleryOption) (*Gallery, error) {
	if provider == nil {
		return nil, errors.New("gallery requires a feature provider")
	}
	var o galleryOptions
	for _, opt := range opts {
		opt(&o)
	}

	g := &Gallery{provider: provider, source: src.String()}
	err := src.Walk(ctx, func(label, name string, data []byte) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		emb, cached, err := embedSample(ctx, provider, o.cache, label, data)
		if o.observer != nil {
			o.observer(SampleResult{Label: label, Name: name, Cached: cached, Err: err})
		}
		if err != nil {
			if errors.Is(err, ErrDimensionMismatch) {
				return err
			}
			slog.Warn("skipping gallery sample", "label", label, "sample", name, "error", err)
			return nil
		}
		g.entries = append(g.entries, GalleryEntry{Label: label, Embedding: emb, Source: name})
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrDimensionMismatch) {
			return nil, err
		}
		return nil, &GalleryLoadError{Source: g.source, Err: err}
	}
	if len(g.entries) == 0 {
		return g, &GalleryLoadError{Source: g.source, Err: ErrGalleryEmpty}
	}
	return g, nil
}

func embedSample(ctx context.Context, provider FeatureProvider, cache EmbeddingCache, label string, data []byte) (Embedding, bool, error) {
	sum := sha256.Sum256(data)
	digest := hex.EncodeToString(sum[:])

	if cache != nil {
		emb, ok, err := cache.Lookup(ctx, provider.Name(), digest)
		if err != nil {
			slog.Warn("embedding cache lookup failed", "digest", digest, "error", err)
		} else if ok && len(emb) == provider.Dim() && CheckFinite(emb) == nil {
			return emb, true, nil
		}
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, false, fmt.Errorf("decode sample: %w: %v", ErrInvalidInput, err)
	}
	emb, err := provider.Embed(img)
	if err != nil {
		return nil, false, fmt.Errorf("embed sample: %w", err)
	}
	if len(emb) != provider.Dim() {
		return nil, false, &DimensionMismatchError{Want: provider.Dim(), Got: len(emb)}
	}
	if err := CheckFinite(emb); err != nil {
		return nil, false, fmt.Errorf("embed sample: %w", err)
	}

	if cache != nil {
		if err := cache.Store(ctx, provider.Name(), digest, label, emb); err != nil {
			slog.Warn("embedding cache store failed", "digest", digest, "error", err)
		}
	}
	return emb, false, nil
}

func (g *Gallery) Provider() FeatureProvider { return g.provider }
func (g *Gallery) Source() string            { return g.source }
func (g *Gallery) Len() int                  { return len(g.entries) }
func (g *Gallery) Dim() int                  { return g.provider.Dim() }

// Entries returns a copy of the entries in insertion order.
func (g *Gallery) Entries() []GalleryEntry {
	out := make([]GalleryEntry, len(g.entries))
	copy(out, g.entries)
	return out
}

// Labels returns the distinct labels, sorted.
func (g *Gallery) Labels() []string {
	counts := g.LabelCounts()
	labels := make([]string, 0, len(counts))
	for l := range counts {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	return labels
}

func (g *Gallery) LabelCounts() map[string]int {
	counts := make(map[string]int)
	for _, e := range g.entries {
		counts[e.Label]++
	}
	return counts
}

var imageExts = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".bmp": true, ".webp": true,
}

// IsImageFile reports whether name has a supported gallery image extension.
func IsImageFile(name string) bool {
	return imageExts[strings.ToLower(filepath.Ext(name))]
}

// DirSource reads a gallery from a directory whose immediate
// subdirectories are labels. Hidden entries and non-image files are skipped.
type DirSource struct {
	root string
}

func NewDirSource(root string) *DirSource {
	return &DirSource{root: root}
}

func (s *DirSource) String() string { return s.root }

func (s *DirSource) Walk(ctx context.Context, fn func(label, name string, data []byte) error) error {
	info, err := os.Stat(s.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrGalleryNotFound
		}
		return fmt.Errorf("stat gallery dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrGalleryNotFound, s.root)
	}

	labels, err := os.ReadDir(s.root)
	if err != nil {
		return fmt.Errorf("read gallery dir: %w", err)
	}
	for _, ld := range labels {
		if !ld.IsDir() || strings.HasPrefix(ld.Name(), ".") {
			continue
		}
		files, err := os.ReadDir(filepath.Join(s.root, ld.Name()))
		if err != nil {
			return fmt.Errorf("read label dir %s: %w", ld.Name(), err)
		}
		for _, f := range files {
			if f.IsDir() || strings.HasPrefix(f.Name(), ".") || !IsImageFile(f.Name()) {
				continue
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			data, err := os.ReadFile(filepath.Join(s.root, ld.Name(), f.Name()))
			if err != nil {
				slog.Warn("skipping unreadable gallery sample", "path", filepath.Join(ld.Name(), f.Name()), "error", err)
				continue
			}
			if err := fn(ld.Name(), ld.Name()+"/"+f.Name(), data); err != nil {
				return err
			}
		}
	}
	return nil
}

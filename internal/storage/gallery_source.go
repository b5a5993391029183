package storage

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"

	"github.com/your-org/faceid/internal/identify"
)

// ObjectReader is what GallerySource needs from an object store.
type ObjectReader interface {
	Exists(ctx context.Context) (bool, error)
	ListObjects(ctx context.Context, prefix string) ([]string, error)
	GetObject(ctx context.Context, key string) ([]byte, error)
}

// GallerySource enumerates enrollment images stored as
// <prefix>/<label>/<file> objects. It implements identify.ImageSource.
type GallerySource struct {
	store  ObjectReader
	prefix string
}

func NewGallerySource(store ObjectReader, prefix string) *GallerySource {
	return &GallerySource{store: store, prefix: strings.Trim(prefix, "/")}
}

func (g *GallerySource) String() string {
	if b, ok := g.store.(interface{ Bucket() string }); ok {
		return fmt.Sprintf("s3://%s/%s", b.Bucket(), g.prefix)
	}
	return g.prefix
}

// Walk visits samples in key order. Objects that cannot be read are skipped
// with a warning.
func (g *GallerySource) Walk(ctx context.Context, fn func(label, name string, data []byte) error) error {
	ok, err := g.store.Exists(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: bucket for %s", identify.ErrGalleryNotFound, g.String())
	}

	listPrefix := g.prefix
	if listPrefix != "" {
		listPrefix += "/"
	}
	keys, err := g.store.ListObjects(ctx, listPrefix)
	if err != nil {
		return err
	}
	sort.Strings(keys)

	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return err
		}
		label, name, ok := splitGalleryKey(g.prefix, key)
		if !ok {
			continue
		}
		data, err := g.store.GetObject(ctx, key)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Warn("skipping unreadable gallery sample", "key", key, "error", err)
			continue
		}
		if err := fn(label, name, data); err != nil {
			return err
		}
	}
	return nil
}

// splitGalleryKey maps "<prefix>/<label>/<file>" to (label, "label/file").
// Keys nested deeper, hidden entries and non-images are rejected.
func splitGalleryKey(prefix, key string) (label, name string, ok bool) {
	rel := key
	if prefix != "" {
		if !strings.HasPrefix(key, prefix+"/") {
			return "", "", false
		}
		rel = strings.TrimPrefix(key, prefix+"/")
	}
	parts := strings.Split(rel, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	if strings.HasPrefix(parts[0], ".") || strings.HasPrefix(parts[1], ".") {
		return "", "", false
	}
	if !identify.IsImageFile(parts[1]) {
		return "", "", false
	}
	return parts[0], path.Join(parts[0], parts[1]), true
}

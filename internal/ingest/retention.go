package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// FramePrefix is the object key prefix raw frames are uploaded under.
const FramePrefix = "frames/"

// ObjectJanitor lists and removes expired objects.
type ObjectJanitor interface {
	ListObjectsBefore(ctx context.Context, prefix string, cutoff time.Time) ([]string, error)
	DeleteObjects(ctx context.Context, keys []string) error
}

// CleanupFrames deletes frames older than retention and returns how many
// were removed.
func CleanupFrames(ctx context.Context, store ObjectJanitor, retention time.Duration, now time.Time) (int, error) {
	keys, err := store.ListObjectsBefore(ctx, FramePrefix, now.Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("list expired frames: %w", err)
	}
	if len(keys) == 0 {
		return 0, nil
	}
	if err := store.DeleteObjects(ctx, keys); err != nil {
		return 0, fmt.Errorf("delete expired frames: %w", err)
	}
	return len(keys), nil
}

// RunRetention runs CleanupFrames every interval until ctx is done.
func RunRetention(ctx context.Context, store ObjectJanitor, retention, interval time.Duration) {
	if retention <= 0 || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := CleanupFrames(ctx, store, retention, now)
			if err != nil {
				slog.Warn("frame cleanup failed", "error", err)
				continue
			}
			if n > 0 {
				slog.Info("expired frames removed", "count", n)
			}
		}
	}
}

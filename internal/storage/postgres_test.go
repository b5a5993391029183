package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/faceid/internal/identify"
	"github.com/your-org/faceid/internal/models"
)

var eventColumnNames = []string{
	"id", "stream_id", "frame_id", "timestamp", "left_x", "left_y", "right_x", "right_y",
	"label", "distance", "known", "candidates", "snapshot_key", "frame_key", "created_at",
}

func newMockStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewPostgresStoreWithDB(mock), mock
}

func TestEnsureSchema(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("CREATE EXTENSION IF NOT EXISTS vector").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS gallery_embeddings").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS recognition_events").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS recognition_events_stream_ts").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS recognition_events_label").WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, store.EnsureSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchemaError(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("CREATE EXTENSION IF NOT EXISTS vector").WillReturnError(errors.New("permission denied"))

	err := store.EnsureSchema(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ensure schema")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEmbeddingCacheLookup(t *testing.T) {
	t.Run("hit", func(t *testing.T) {
		store, mock := newMockStore(t)

		embedding := pgvector.NewVector([]float32{0.1, 0.2, 0.3})
		mock.ExpectQuery(`SELECT embedding FROM gallery_embeddings WHERE provider = \$1 AND digest = \$2`).
			WithArgs("vgg16", "abc").
			WillReturnRows(pgxmock.NewRows([]string{"embedding"}).AddRow(&embedding))

		emb, ok, err := store.Lookup(context.Background(), "vgg16", "abc")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, identify.Embedding{0.1, 0.2, 0.3}, emb)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("miss", func(t *testing.T) {
		store, mock := newMockStore(t)

		mock.ExpectQuery(`SELECT embedding FROM gallery_embeddings`).
			WithArgs("vgg16", "missing").
			WillReturnError(pgx.ErrNoRows)

		emb, ok, err := store.Lookup(context.Background(), "vgg16", "missing")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Nil(t, emb)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("database error", func(t *testing.T) {
		store, mock := newMockStore(t)

		mock.ExpectQuery(`SELECT embedding FROM gallery_embeddings`).
			WithArgs("vgg16", "abc").
			WillReturnError(errors.New("connection reset"))

		_, ok, err := store.Lookup(context.Background(), "vgg16", "abc")
		require.Error(t, err)
		assert.False(t, ok)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestEmbeddingCacheStore(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO gallery_embeddings").
		WithArgs("facenet", "abc", "Alice", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := store.Store(context.Background(), "facenet", "abc", "Alice", identify.Embedding{1, 0})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPurgeEmbeddings(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`DELETE FROM gallery_embeddings WHERE provider = \$1`).
		WithArgs("vgg16").
		WillReturnResult(pgxmock.NewResult("DELETE", 7))

	n, err := store.PurgeEmbeddings(context.Background(), "vgg16")
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateEvent(t *testing.T) {
	store, mock := newMockStore(t)

	ev := &models.RecognitionEvent{
		StreamID:  uuid.New(),
		FrameID:   uuid.New(),
		Timestamp: time.Now(),
		Face:      identify.FaceLocalization{LeftX: 10, LeftY: 20, RightX: 60, RightY: 80},
		Label:     "Bob",
		Distance:  0.2,
		Known:     true,
	}

	args := make([]interface{}, len(eventColumnNames))
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	mock.ExpectExec("INSERT INTO recognition_events").
		WithArgs(args...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.CreateEvent(context.Background(), ev))
	assert.NotEqual(t, uuid.Nil, ev.ID)
	assert.False(t, ev.CreatedAt.IsZero())
	assert.NotNil(t, ev.Candidates)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListEvents(t *testing.T) {
	store, mock := newMockStore(t)

	known := true
	streamID := uuid.New()
	now := time.Now()

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM recognition_events WHERE TRUE AND label = \$1 AND known = \$2`).
		WithArgs("Bob", true).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(1))

	rows := pgxmock.NewRows(eventColumnNames).AddRow(
		uuid.New(), streamID, uuid.New(), now, 10.0, 20.0, 60.0, 80.0,
		"Bob", 0.2, true, []byte(`[{"label":"Bob","distance":0.2},{"label":"Bob","distance":0.4}]`),
		"", "frames/x.jpg", now,
	)
	mock.ExpectQuery(`FROM recognition_events WHERE TRUE AND label = \$1 AND known = \$2 ORDER BY timestamp DESC LIMIT \$3 OFFSET \$4`).
		WithArgs("Bob", true, 50, 0).
		WillReturnRows(rows)

	events, total, err := store.ListEvents(context.Background(), models.EventFilter{Label: "Bob", Known: &known})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, events, 1)
	assert.Equal(t, streamID, events[0].StreamID)
	assert.Equal(t, "Bob", events[0].Label)
	assert.Equal(t, 60.0, events[0].Face.RightX)
	assert.Equal(t, []identify.Candidate{{Label: "Bob", Distance: 0.2}, {Label: "Bob", Distance: 0.4}}, events[0].Candidates)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListEventsClampsLimit(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM recognition_events WHERE TRUE`).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(`LIMIT \$1 OFFSET \$2`).
		WithArgs(500, 0).
		WillReturnRows(pgxmock.NewRows(eventColumnNames))

	events, total, err := store.ListEvents(context.Background(), models.EventFilter{Limit: 10000, Offset: -3})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, events)
	assert.NotNil(t, events)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetEventNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	id := uuid.New()
	mock.ExpectQuery(`FROM recognition_events WHERE id = \$1`).
		WithArgs(id).
		WillReturnError(pgx.ErrNoRows)

	ev, err := store.GetEvent(context.Background(), id)
	assert.ErrorIs(t, err, ErrEventNotFound)
	assert.Nil(t, ev)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteEventsBefore(t *testing.T) {
	store, mock := newMockStore(t)

	cutoff := time.Now().Add(-time.Hour)
	mock.ExpectExec(`DELETE FROM recognition_events WHERE timestamp < \$1`).
		WithArgs(cutoff).
		WillReturnResult(pgxmock.NewResult("DELETE", 3))

	n, err := store.DeleteEventsBefore(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

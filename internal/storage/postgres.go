package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/your-org/faceid/internal/config"
	"github.com/your-org/faceid/internal/identify"
	"github.com/your-org/faceid/internal/models"
)

// DB is the subset of pgxpool.Pool used by PostgresStore.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error)
	Ping(ctx context.Context) error
	Close()
}

// ErrEventNotFound is returned by GetEvent for an unknown id.
var ErrEventNotFound = errors.New("event not found")

type PostgresStore struct {
	db DB
}

func NewPostgresStore(cfg config.DatabaseConfig) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresStore{db: pool}, nil
}

// NewPostgresStoreWithDB wraps an existing connection, e.g. a pgxmock pool.
func NewPostgresStoreWithDB(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Close() {
	s.db.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

var schema = []string{
	`CREATE EXTENSION IF NOT EXISTS vector`,
	`CREATE TABLE IF NOT EXISTS gallery_embeddings (
		provider   TEXT NOT NULL,
		digest     TEXT NOT NULL,
		label      TEXT NOT NULL,
		embedding  vector NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (provider, digest)
	)`,
	`CREATE TABLE IF NOT EXISTS recognition_events (
		id           UUID PRIMARY KEY,
		stream_id    UUID NOT NULL,
		frame_id     UUID NOT NULL,
		timestamp    TIMESTAMPTZ NOT NULL,
		left_x       DOUBLE PRECISION NOT NULL,
		left_y       DOUBLE PRECISION NOT NULL,
		right_x      DOUBLE PRECISION NOT NULL,
		right_y      DOUBLE PRECISION NOT NULL,
		label        TEXT NOT NULL,
		distance     DOUBLE PRECISION NOT NULL,
		known        BOOLEAN NOT NULL,
		candidates   JSONB NOT NULL DEFAULT '[]',
		snapshot_key TEXT NOT NULL DEFAULT '',
		frame_key    TEXT NOT NULL DEFAULT '',
		created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS recognition_events_stream_ts ON recognition_events (stream_id, timestamp DESC)`,
	`CREATE INDEX IF NOT EXISTS recognition_events_label ON recognition_events (label)`,
}

// EnsureSchema creates the tables the store needs if they are missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// --- Gallery embedding cache ---

// Lookup implements identify.EmbeddingCache.
func (s *PostgresStore) Lookup(ctx context.Context, provider, digest string) (identify.Embedding, bool, error) {
	var vec *pgvector.Vector
	err := s.db.QueryRow(ctx,
		`SELECT embedding FROM gallery_embeddings WHERE provider = $1 AND digest = $2`,
		provider, digest,
	).Scan(&vec)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("lookup embedding: %w", err)
	}
	if vec == nil {
		return nil, false, nil
	}
	return identify.Embedding(vec.Slice()), true, nil
}

// Store implements identify.EmbeddingCache.
func (s *PostgresStore) Store(ctx context.Context, provider, digest, label string, emb identify.Embedding) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO gallery_embeddings (provider, digest, label, embedding)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (provider, digest) DO UPDATE SET label = EXCLUDED.label, embedding = EXCLUDED.embedding`,
		provider, digest, label, pgvector.NewVector(emb))
	if err != nil {
		return fmt.Errorf("store embedding: %w", err)
	}
	return nil
}

// PurgeEmbeddings drops every cached embedding computed by provider.
func (s *PostgresStore) PurgeEmbeddings(ctx context.Context, provider string) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM gallery_embeddings WHERE provider = $1`, provider)
	if err != nil {
		return 0, fmt.Errorf("purge embeddings: %w", err)
	}
	return tag.RowsAffected(), nil
}

// --- Events ---

const eventColumns = `id, stream_id, frame_id, timestamp, left_x, left_y, right_x, right_y,
	label, distance, known, candidates, snapshot_key, frame_key, created_at`

func (s *PostgresStore) CreateEvent(ctx context.Context, ev *models.RecognitionEvent) error {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	ev.CreatedAt = time.Now()
	if ev.Candidates == nil {
		ev.Candidates = []identify.Candidate{}
	}
	candidates, err := json.Marshal(ev.Candidates)
	if err != nil {
		return fmt.Errorf("marshal candidates: %w", err)
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO recognition_events (`+eventColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		 ON CONFLICT (id) DO NOTHING`,
		ev.ID, ev.StreamID, ev.FrameID, ev.Timestamp,
		ev.Face.LeftX, ev.Face.LeftY, ev.Face.RightX, ev.Face.RightY,
		ev.Label, ev.Distance, ev.Known, candidates, ev.SnapshotKey, ev.FrameKey, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("create event: %w", err)
	}
	return nil
}

// ListEvents returns one page of events matching f, newest first, and the
// total number of matches.
func (s *PostgresStore) ListEvents(ctx context.Context, f models.EventFilter) ([]models.RecognitionEvent, int, error) {
	limit, offset := f.Limit, f.Offset
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	if offset < 0 {
		offset = 0
	}

	baseWhere := "WHERE TRUE"
	var args []interface{}
	argIdx := 1

	if f.StreamID != nil {
		baseWhere += fmt.Sprintf(" AND stream_id = $%d", argIdx)
		args = append(args, *f.StreamID)
		argIdx++
	}
	if f.Label != "" {
		baseWhere += fmt.Sprintf(" AND label = $%d", argIdx)
		args = append(args, f.Label)
		argIdx++
	}
	if f.Known != nil {
		baseWhere += fmt.Sprintf(" AND known = $%d", argIdx)
		args = append(args, *f.Known)
		argIdx++
	}
	if f.From != nil {
		baseWhere += fmt.Sprintf(" AND timestamp >= $%d", argIdx)
		args = append(args, *f.From)
		argIdx++
	}
	if f.To != nil {
		baseWhere += fmt.Sprintf(" AND timestamp <= $%d", argIdx)
		args = append(args, *f.To)
		argIdx++
	}

	var total int
	if err := s.db.QueryRow(ctx, "SELECT COUNT(*) FROM recognition_events "+baseWhere, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count events: %w", err)
	}

	query := fmt.Sprintf(
		`SELECT %s FROM recognition_events %s ORDER BY timestamp DESC LIMIT $%d OFFSET $%d`,
		eventColumns, baseWhere, argIdx, argIdx+1)
	args = append(args, limit, offset)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := []models.RecognitionEvent{}
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, 0, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate events: %w", err)
	}
	return events, total, nil
}

// GetEvent returns a single event by ID.
func (s *PostgresStore) GetEvent(ctx context.Context, id uuid.UUID) (*models.RecognitionEvent, error) {
	row := s.db.QueryRow(ctx, `SELECT `+eventColumns+` FROM recognition_events WHERE id = $1`, id)
	ev, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEventNotFound
		}
		return nil, err
	}
	return &ev, nil
}

// DeleteEventsBefore removes events older than t.
func (s *PostgresStore) DeleteEventsBefore(ctx context.Context, t time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM recognition_events WHERE timestamp < $1`, t)
	if err != nil {
		return 0, fmt.Errorf("delete events: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanEvent(row pgx.Row) (models.RecognitionEvent, error) {
	var ev models.RecognitionEvent
	var candidates []byte
	err := row.Scan(&ev.ID, &ev.StreamID, &ev.FrameID, &ev.Timestamp,
		&ev.Face.LeftX, &ev.Face.LeftY, &ev.Face.RightX, &ev.Face.RightY,
		&ev.Label, &ev.Distance, &ev.Known, &candidates, &ev.SnapshotKey, &ev.FrameKey, &ev.CreatedAt)
	if err != nil {
		return ev, fmt.Errorf("scan event: %w", err)
	}
	ev.Candidates = []identify.Candidate{}
	if len(candidates) > 0 {
		if err := json.Unmarshal(candidates, &ev.Candidates); err != nil {
			return ev, fmt.Errorf("decode candidates: %w", err)
		}
	}
	return ev, nil
}

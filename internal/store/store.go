// Package store persists reference embeddings and match events in PostgreSQL with pgvector.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/andresmejia3/facegate/internal/types"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

var (
	ErrNotFound          = errors.New("reference not found")
	ErrDimensionMismatch = errors.New("embedding dimension does not match store")
)

// DB is the subset of pgxpool.Pool the store needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store manages the PostgreSQL pool and pgvector operations.
type Store struct {
	db  DB
	dim int
}

// Reference is one enrolled session.
type Reference struct {
	SessionID uuid.UUID
	Embedding types.Embedding
	Source    string
	CreatedAt time.Time
}

// MatchEvent records one scored comparison against a session's reference.
type MatchEvent struct {
	ID         int64
	SessionID  uuid.UUID
	Similarity float64
	Percent    int
	Matched    bool
	Source     string
	FrameIndex int
	CreatedAt  time.Time
}

// New connects to the database and ensures the schema exists for embeddings of length dim.
func New(ctx context.Context, connString string, dim int) (*Store, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("invalid embedding dimension %d", dim)
	}
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, err
	}

	// Initialize schema (Auto-Migration)
	if err := initSchema(ctx, pool, dim); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Store{db: pool, dim: dim}, nil
}

// initSchema creates the tables and vector extension if they don't exist.
func initSchema(ctx context.Context, db DB, dim int) error {
	query := fmt.Sprintf(`
		CREATE EXTENSION IF NOT EXISTS vector;
		CREATE TABLE IF NOT EXISTS reference_embeddings (
			session_id UUID PRIMARY KEY,
			embedding VECTOR(%d) NOT NULL,
			source TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS match_events (
			id BIGSERIAL PRIMARY KEY,
			session_id UUID NOT NULL,
			similarity DOUBLE PRECISION NOT NULL,
			percent INT NOT NULL,
			matched BOOLEAN NOT NULL,
			source TEXT NOT NULL DEFAULT '',
			frame_index INT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS match_events_session_id_idx ON match_events (session_id);
	`, dim)
	_, err := db.Exec(ctx, query)
	return err
}

// Close terminates the database pool.
func (s *Store) Close() {
	s.db.Close()
}

func (s *Store) Dim() int { return s.dim }

// SaveReference stores emb as the session's reference. An existing reference is
// kept and stored is false.
func (s *Store) SaveReference(ctx context.Context, sessionID uuid.UUID, emb types.Embedding, source string) (bool, error) {
	if len(emb) != s.dim {
		return false, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(emb), s.dim)
	}
	tag, err := s.db.Exec(ctx, `
		INSERT INTO reference_embeddings (session_id, embedding, source, created_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (session_id) DO NOTHING
	`, sessionID, pgvector.NewVector(emb), source)
	if err != nil {
		return false, fmt.Errorf("save reference: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// LoadReference returns the session's reference embedding.
func (s *Store) LoadReference(ctx context.Context, sessionID uuid.UUID) (*Reference, error) {
	ref := Reference{SessionID: sessionID}
	var embedding *pgvector.Vector

	err := s.db.QueryRow(ctx, `
		SELECT embedding, source, created_at FROM reference_embeddings WHERE session_id = $1
	`, sessionID).Scan(&embedding, &ref.Source, &ref.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load reference: %w", err)
	}

	if embedding != nil {
		ref.Embedding = types.Embedding(embedding.Slice())
	}
	return &ref, nil
}

// DeleteReference removes the session's reference so it can be enrolled again.
func (s *Store) DeleteReference(ctx context.Context, sessionID uuid.UUID) error {
	tag, err := s.db.Exec(ctx, "DELETE FROM reference_embeddings WHERE session_id = $1", sessionID)
	if err != nil {
		return fmt.Errorf("delete reference: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListReferences returns every enrolled session, newest first, without embeddings.
func (s *Store) ListReferences(ctx context.Context) ([]Reference, error) {
	rows, err := s.db.Query(ctx, `
		SELECT session_id, source, created_at FROM reference_embeddings ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list references: %w", err)
	}
	defer rows.Close()

	var refs []Reference
	for rows.Next() {
		var r Reference
		if err := rows.Scan(&r.SessionID, &r.Source, &r.CreatedAt); err != nil {
			return nil, err
		}
		refs = append(refs, r)
	}
	return refs, rows.Err()
}

// RecordMatch appends a scored comparison to the session's history.
func (s *Store) RecordMatch(ctx context.Context, ev MatchEvent) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO match_events (session_id, similarity, percent, matched, source, frame_index)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, ev.SessionID, ev.Similarity, ev.Percent, ev.Matched, ev.Source, ev.FrameIndex)
	if err != nil {
		return fmt.Errorf("record match: %w", err)
	}
	return nil
}

// ListMatches returns up to limit of the session's most recent match events.
func (s *Store) ListMatches(ctx context.Context, sessionID uuid.UUID, limit int) ([]MatchEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, session_id, similarity, percent, matched, source, frame_index, created_at
		FROM match_events WHERE session_id = $1 ORDER BY id DESC LIMIT $2
	`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list matches: %w", err)
	}
	defer rows.Close()

	var events []MatchEvent
	for rows.Next() {
		var ev MatchEvent
		if err := rows.Scan(&ev.ID, &ev.SessionID, &ev.Similarity, &ev.Percent, &ev.Matched, &ev.Source, &ev.FrameIndex, &ev.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Reset drops all application tables to clear the database state.
// The next New recreates them.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `
		DROP TABLE IF EXISTS match_events CASCADE;
		DROP TABLE IF EXISTS reference_embeddings CASCADE;
	`)
	return err
}

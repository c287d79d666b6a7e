package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/voiceform/pkg/form"
	"github.com/MrWong99/voiceform/pkg/store"
	"github.com/MrWong99/voiceform/pkg/types"
)

var _ store.Store = (*Store)(nil)

// Store is a PostgreSQL-backed session store. All operations are safe for
// concurrent use.
type Store struct {
	pool   *pgxpool.Pool
	schema form.Schema
	now    func() time.Time
}

// NewStore connects to the database at dsn, verifies the connection, and
// runs [Migrate]. Loaded forms use schema; an empty schema means
// [form.DefaultSchema].
func NewStore(ctx context.Context, dsn string, schema form.Schema) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	if len(schema) == 0 {
		schema = form.DefaultSchema
	}
	return &Store{pool: pool, schema: schema, now: time.Now}, nil
}

// Close releases all pooled connections.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping implements [store.Store].
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres store: ping: %w", err)
	}
	return nil
}

// Save implements [store.Store]. The form row and all transcript rows are
// replaced in one transaction.
func (s *Store) Save(ctx context.Context, rec store.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	formDoc, err := json.Marshal(rec.Form)
	if err != nil {
		return fmt.Errorf("postgres store: encode form: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres store: begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	const upsert = `
		INSERT INTO form_sessions (session_id, form, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (session_id) DO UPDATE
		    SET form = EXCLUDED.form, updated_at = EXCLUDED.updated_at`
	if _, err := tx.Exec(ctx, upsert, rec.SessionID, formDoc, s.now().UTC()); err != nil {
		return fmt.Errorf("postgres store: upsert form: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM conversation_entries WHERE session_id = $1`, rec.SessionID); err != nil {
		return fmt.Errorf("postgres store: clear entries: %w", err)
	}

	if len(rec.Log) > 0 {
		rows := make([][]any, len(rec.Log))
		for i, e := range rec.Log {
			rows[i] = []any{rec.SessionID, i, string(e.Role), e.Text, e.Timestamp}
		}
		_, err := tx.CopyFrom(ctx,
			pgx.Identifier{"conversation_entries"},
			[]string{"session_id", "seq", "role", "text", "timestamp"},
			pgx.CopyFromRows(rows),
		)
		if err != nil {
			return fmt.Errorf("postgres store: insert entries: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres store: commit: %w", err)
	}
	return nil
}

// Load implements [store.Store].
func (s *Store) Load(ctx context.Context, sessionID string) (store.Record, error) {
	const q = `SELECT session_id, form, updated_at FROM form_sessions WHERE session_id = $1`
	return s.loadRow(ctx, s.pool.QueryRow(ctx, q, sessionID))
}

// Latest implements [store.Store].
func (s *Store) Latest(ctx context.Context) (store.Record, error) {
	const q = `
		SELECT session_id, form, updated_at
		FROM   form_sessions
		ORDER  BY updated_at DESC
		LIMIT  1`
	return s.loadRow(ctx, s.pool.QueryRow(ctx, q))
}

func (s *Store) loadRow(ctx context.Context, row pgx.Row) (store.Record, error) {
	var (
		rec     store.Record
		formDoc []byte
	)
	if err := row.Scan(&rec.SessionID, &formDoc, &rec.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Record{}, store.ErrNotFound
		}
		return store.Record{}, fmt.Errorf("postgres store: load form: %w", err)
	}
	rec.Form = form.New(s.schema)
	if err := json.Unmarshal(formDoc, rec.Form); err != nil {
		return store.Record{}, fmt.Errorf("postgres store: decode form: %w", err)
	}

	entries, err := s.entries(ctx, rec.SessionID)
	if err != nil {
		return store.Record{}, err
	}
	rec.Log = entries
	return rec, nil
}

func (s *Store) entries(ctx context.Context, sessionID string) ([]types.TranscriptEntry, error) {
	const q = `
		SELECT role, text, timestamp
		FROM   conversation_entries
		WHERE  session_id = $1
		ORDER  BY seq`

	rows, err := s.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("postgres store: load entries: %w", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (types.TranscriptEntry, error) {
		var (
			e    types.TranscriptEntry
			role string
		)
		if err := row.Scan(&role, &e.Text, &e.Timestamp); err != nil {
			return types.TranscriptEntry{}, err
		}
		e.Role = types.Role(role)
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan entries: %w", err)
	}
	if entries == nil {
		entries = []types.TranscriptEntry{}
	}
	return entries, nil
}

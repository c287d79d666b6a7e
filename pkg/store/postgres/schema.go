// Package postgres implements [store.Store] on PostgreSQL.
//
// A session is one row in form_sessions holding the form as JSONB plus one
// row per transcript entry in conversation_entries. Save replaces both in a
// single transaction, so saving the same record twice leaves the database
// unchanged apart from updated_at.
//
// Usage:
//
//	s, err := postgres.NewStore(ctx, dsn, form.DefaultSchema)
//	if err != nil { … }
//	defer s.Close()
//
//	_ = s.Save(ctx, store.Record{SessionID: id, Form: data, Log: log})
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlSessions = `
CREATE TABLE IF NOT EXISTS form_sessions (
    session_id  TEXT         PRIMARY KEY,
    form        JSONB        NOT NULL DEFAULT '{}',
    updated_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_form_sessions_updated_at
    ON form_sessions (updated_at DESC);
`

const ddlEntries = `
CREATE TABLE IF NOT EXISTS conversation_entries (
    session_id  TEXT         NOT NULL REFERENCES form_sessions (session_id) ON DELETE CASCADE,
    seq         INTEGER      NOT NULL,
    role        TEXT         NOT NULL,
    text        TEXT         NOT NULL,
    timestamp   TIMESTAMPTZ  NOT NULL,
    PRIMARY KEY (session_id, seq)
);
`

// Migrate creates the tables and indexes if they do not exist. It is
// idempotent and safe to call on every start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range []string{ddlSessions, ddlEntries} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}

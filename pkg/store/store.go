// Package store defines the durable storage boundary for finished and
// in-progress form sessions: the filled form data plus the conversation log
// that produced it.
//
// Two implementations are provided: [filestore] writes the same two JSON
// documents the interactive assistant always produced (filled_form.json and
// conversation_history.json), and [postgres] keeps sessions in PostgreSQL
// for multi-instance deployments.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/MrWong99/voiceform/pkg/form"
	"github.com/MrWong99/voiceform/pkg/types"
)

// ErrNotFound is returned by Load and Latest when no matching session exists.
var ErrNotFound = errors.New("store: session not found")

// Record is one persisted session.
type Record struct {
	// SessionID identifies the session. Required.
	SessionID string

	// Form holds the field values gathered so far. Required.
	Form *form.Data

	// Log is the full conversation in order.
	Log []types.TranscriptEntry

	// UpdatedAt is set by the store on Save.
	UpdatedAt time.Time
}

// Store persists session records. Saving the same record twice must leave
// the stored state unchanged. Implementations are safe for concurrent use.
type Store interface {
	// Save writes rec, replacing any earlier version of the same session.
	Save(ctx context.Context, rec Record) error

	// Load returns the session with the given id or [ErrNotFound].
	Load(ctx context.Context, sessionID string) (Record, error)

	// Latest returns the most recently saved session or [ErrNotFound].
	Latest(ctx context.Context) (Record, error)

	// Ping reports whether the backing storage is reachable.
	Ping(ctx context.Context) error
}

// Validate checks the fields every implementation requires.
func (r Record) Validate() error {
	if r.SessionID == "" {
		return errors.New("store: record has empty session id")
	}
	if r.Form == nil {
		return errors.New("store: record has nil form")
	}
	return nil
}

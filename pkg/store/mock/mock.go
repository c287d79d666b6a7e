// Package mock provides an in-memory test double for [store.Store].
//
// Saved records are kept as their JSON encoding so tests can assert that
// repeated saves of the same session are byte-identical.
//
//	s := &mock.Store{}
//	// inject s into the system under test …
//	if got := s.SaveCount(); got != 2 {
//	    t.Errorf("expected 2 saves, got %d", got)
//	}
package mock

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/MrWong99/voiceform/pkg/form"
	"github.com/MrWong99/voiceform/pkg/store"
	"github.com/MrWong99/voiceform/pkg/types"
)

var _ store.Store = (*Store)(nil)

// Snapshot is the encoded state of one Save call.
type Snapshot struct {
	SessionID string
	Form      []byte
	Log       []byte
}

// Store is a configurable in-memory [store.Store].
type Store struct {
	mu sync.Mutex

	// SaveErr is returned by Save when non-nil. The record is still captured.
	SaveErr error

	// PingErr is returned by Ping when non-nil.
	PingErr error

	saves   []Snapshot
	records map[string]store.Record
	latest  string
}

// Save implements [store.Store].
func (s *Store) Save(_ context.Context, rec store.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	formDoc, err := json.Marshal(rec.Form)
	if err != nil {
		return err
	}
	logDoc, err := json.Marshal(rec.Log)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves = append(s.saves, Snapshot{SessionID: rec.SessionID, Form: formDoc, Log: logDoc})
	if s.SaveErr != nil {
		return s.SaveErr
	}
	if s.records == nil {
		s.records = make(map[string]store.Record)
	}
	data := form.New(rec.Form.Schema())
	data.Merge(rec.Form.Snapshot())
	rec.Form = data
	rec.Log = append([]types.TranscriptEntry(nil), rec.Log...)
	rec.UpdatedAt = time.Now()
	s.records[rec.SessionID] = rec
	s.latest = rec.SessionID
	return nil
}

// Load implements [store.Store].
func (s *Store) Load(_ context.Context, sessionID string) (store.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[sessionID]
	if !ok {
		return store.Record{}, store.ErrNotFound
	}
	return rec, nil
}

// Latest implements [store.Store].
func (s *Store) Latest(ctx context.Context) (store.Record, error) {
	s.mu.Lock()
	id := s.latest
	s.mu.Unlock()
	if id == "" {
		return store.Record{}, store.ErrNotFound
	}
	return s.Load(ctx, id)
}

// Ping implements [store.Store].
func (s *Store) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.PingErr
}

// Saves returns a copy of every Save call in order.
func (s *Store) Saves() []Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Snapshot(nil), s.saves...)
}

// SaveCount returns the number of Save calls.
func (s *Store) SaveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saves)
}

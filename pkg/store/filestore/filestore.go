// Package filestore implements [store.Store] on the local filesystem.
//
// Each session is a directory holding two indented JSON documents:
//
//	<root>/<session-id>/filled_form.json
//	<root>/<session-id>/conversation_history.json
//
// A file named "latest" in root holds the id of the most recently saved
// session. Every write goes to a temporary file that is renamed into place,
// so readers never observe a partially written document.
package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/MrWong99/voiceform/pkg/form"
	"github.com/MrWong99/voiceform/pkg/store"
	"github.com/MrWong99/voiceform/pkg/types"
)

const (
	// FormFile is the name of the filled form document.
	FormFile = "filled_form.json"

	// HistoryFile is the name of the conversation log document.
	HistoryFile = "conversation_history.json"

	latestFile = "latest"
)

var _ store.Store = (*Store)(nil)

// Store is a filesystem-backed session store.
type Store struct {
	root   string
	schema form.Schema

	mu sync.Mutex
}

// New returns a Store rooted at dir, creating it if needed. Loaded forms use
// schema; an empty schema means [form.DefaultSchema].
func New(dir string, schema form.Schema) (*Store, error) {
	if dir == "" {
		return nil, errors.New("filestore: directory must not be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("filestore: create root: %w", err)
	}
	if len(schema) == 0 {
		schema = form.DefaultSchema
	}
	return &Store{root: dir, schema: schema}, nil
}

// Dir returns the directory holding the files of sessionID.
func (s *Store) Dir(sessionID string) string {
	return filepath.Join(s.root, sessionID)
}

// Save implements [store.Store].
func (s *Store) Save(ctx context.Context, rec store.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	if err := checkID(rec.SessionID); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	formDoc, err := json.MarshalIndent(rec.Form, "", "  ")
	if err != nil {
		return fmt.Errorf("filestore: encode form: %w", err)
	}
	log := rec.Log
	if log == nil {
		log = []types.TranscriptEntry{}
	}
	historyDoc, err := json.MarshalIndent(log, "", "  ")
	if err != nil {
		return fmt.Errorf("filestore: encode history: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.Dir(rec.SessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("filestore: create session dir: %w", err)
	}
	if err := writeAtomic(filepath.Join(dir, FormFile), formDoc); err != nil {
		return err
	}
	if err := writeAtomic(filepath.Join(dir, HistoryFile), historyDoc); err != nil {
		return err
	}
	return writeAtomic(filepath.Join(s.root, latestFile), []byte(rec.SessionID+"\n"))
}

// Load implements [store.Store].
func (s *Store) Load(ctx context.Context, sessionID string) (store.Record, error) {
	if err := checkID(sessionID); err != nil {
		return store.Record{}, err
	}
	if err := ctx.Err(); err != nil {
		return store.Record{}, err
	}

	dir := s.Dir(sessionID)
	formDoc, err := os.ReadFile(filepath.Join(dir, FormFile))
	if errors.Is(err, fs.ErrNotExist) {
		return store.Record{}, store.ErrNotFound
	}
	if err != nil {
		return store.Record{}, fmt.Errorf("filestore: read form: %w", err)
	}
	data := form.New(s.schema)
	if err := json.Unmarshal(formDoc, data); err != nil {
		return store.Record{}, fmt.Errorf("filestore: decode form: %w", err)
	}

	rec := store.Record{SessionID: sessionID, Form: data, Log: []types.TranscriptEntry{}}
	historyPath := filepath.Join(dir, HistoryFile)
	historyDoc, err := os.ReadFile(historyPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return store.Record{}, fmt.Errorf("filestore: read history: %w", err)
	default:
		if err := json.Unmarshal(historyDoc, &rec.Log); err != nil {
			return store.Record{}, fmt.Errorf("filestore: decode history: %w", err)
		}
	}

	if fi, err := os.Stat(filepath.Join(dir, FormFile)); err == nil {
		rec.UpdatedAt = fi.ModTime().UTC()
	}
	return rec, nil
}

// Latest implements [store.Store].
func (s *Store) Latest(ctx context.Context) (store.Record, error) {
	b, err := os.ReadFile(filepath.Join(s.root, latestFile))
	if errors.Is(err, fs.ErrNotExist) {
		return store.Record{}, store.ErrNotFound
	}
	if err != nil {
		return store.Record{}, fmt.Errorf("filestore: read latest: %w", err)
	}
	return s.Load(ctx, strings.TrimSpace(string(b)))
}

// Ping implements [store.Store]. It checks that the root directory exists.
func (s *Store) Ping(_ context.Context) error {
	fi, err := os.Stat(s.root)
	if err != nil {
		return fmt.Errorf("filestore: ping: %w", err)
	}
	if !fi.IsDir() {
		return fmt.Errorf("filestore: ping: %s is not a directory", s.root)
	}
	return nil
}

// checkID rejects ids that would escape the root directory.
func checkID(id string) error {
	if id == "" || id == "." || id == ".." || filepath.Base(id) != id || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("filestore: invalid session id %q", id)
	}
	return nil
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("filestore: create temp: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("filestore: write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("filestore: sync %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("filestore: close %s: %w", filepath.Base(path), err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("filestore: chmod %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("filestore: rename %s: %w", filepath.Base(path), err)
	}
	return nil
}

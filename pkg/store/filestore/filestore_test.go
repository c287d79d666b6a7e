package filestore_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrWong99/voiceform/pkg/form"
	"github.com/MrWong99/voiceform/pkg/store"
	"github.com/MrWong99/voiceform/pkg/store/filestore"
	"github.com/MrWong99/voiceform/pkg/types"
)

var testSchema = form.Schema{"SiteCity", "SiteZip"}

func newStore(t *testing.T) (*filestore.Store, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := filestore.New(dir, testSchema)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s, dir
}

func sampleRecord(id string) store.Record {
	data := form.New(testSchema)
	data.Merge(map[string]string{"SiteCity": "Springfield"})
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return store.Record{
		SessionID: id,
		Form:      data,
		Log: []types.TranscriptEntry{
			{Role: types.RoleUser, Text: "Hello", Timestamp: ts},
			{Role: types.RoleAssistant, Text: "Which city?", Timestamp: ts.Add(time.Second)},
		},
	}
}

func TestSave_WritesBothDocuments(t *testing.T) {
	t.Parallel()
	s, dir := newStore(t)

	if err := s.Save(context.Background(), sampleRecord("s1")); err != nil {
		t.Fatalf("Save: %v", err)
	}

	formDoc, err := os.ReadFile(filepath.Join(dir, "s1", filestore.FormFile))
	if err != nil {
		t.Fatalf("read form: %v", err)
	}
	want := "{\n  \"SiteCity\": \"Springfield\",\n  \"SiteZip\": null\n}"
	if string(formDoc) != want {
		t.Errorf("form document =\n%s\nwant\n%s", formDoc, want)
	}

	historyDoc, err := os.ReadFile(filepath.Join(dir, "s1", filestore.HistoryFile))
	if err != nil {
		t.Fatalf("read history: %v", err)
	}
	var entries []map[string]any
	if err := json.Unmarshal(historyDoc, &entries); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(entries) != 2 || entries[0]["role"] != "user" || entries[1]["text"] != "Which city?" {
		t.Errorf("history = %v", entries)
	}
	if _, ok := entries[0]["timestamp"]; !ok {
		t.Error("history entry missing timestamp")
	}
}

func TestSave_Idempotent(t *testing.T) {
	t.Parallel()
	s, dir := newStore(t)
	rec := sampleRecord("s1")

	read := func() []byte {
		a, _ := os.ReadFile(filepath.Join(dir, "s1", filestore.FormFile))
		b, _ := os.ReadFile(filepath.Join(dir, "s1", filestore.HistoryFile))
		return append(a, b...)
	}

	if err := s.Save(context.Background(), rec); err != nil {
		t.Fatalf("first Save: %v", err)
	}
	first := read()
	if err := s.Save(context.Background(), rec); err != nil {
		t.Fatalf("second Save: %v", err)
	}
	if !bytes.Equal(first, read()) {
		t.Error("second save changed the stored bytes")
	}
}

func TestSave_EmptyLogIsArray(t *testing.T) {
	t.Parallel()
	s, dir := newStore(t)

	rec := store.Record{SessionID: "empty", Form: form.New(testSchema)}
	if err := s.Save(context.Background(), rec); err != nil {
		t.Fatalf("Save: %v", err)
	}
	b, _ := os.ReadFile(filepath.Join(dir, "empty", filestore.HistoryFile))
	if string(b) != "[]" {
		t.Errorf("history = %q, want []", b)
	}
}

func TestLoad_RoundTrip(t *testing.T) {
	t.Parallel()
	s, _ := newStore(t)
	rec := sampleRecord("s1")
	if err := s.Save(context.Background(), rec); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := s.Load(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if v, ok := got.Form.Get("SiteCity"); !ok || v != "Springfield" {
		t.Errorf("SiteCity = %q, %v", v, ok)
	}
	if _, ok := got.Form.Get("SiteZip"); ok {
		t.Error("SiteZip should be unset")
	}
	if len(got.Log) != 2 || !got.Log[1].Timestamp.Equal(rec.Log[1].Timestamp) {
		t.Errorf("log = %+v", got.Log)
	}
	if got.UpdatedAt.IsZero() {
		t.Error("UpdatedAt not set")
	}
}

func TestLatest(t *testing.T) {
	t.Parallel()
	s, _ := newStore(t)
	ctx := context.Background()

	if _, err := s.Latest(ctx); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("Latest on empty store: err = %v, want ErrNotFound", err)
	}
	for _, id := range []string{"a", "b"} {
		if err := s.Save(ctx, sampleRecord(id)); err != nil {
			t.Fatalf("Save %s: %v", id, err)
		}
	}
	got, err := s.Latest(ctx)
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if got.SessionID != "b" {
		t.Errorf("Latest = %q, want b", got.SessionID)
	}
}

func TestLoad_NotFound(t *testing.T) {
	t.Parallel()
	s, _ := newStore(t)
	if _, err := s.Load(context.Background(), "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestSave_RejectsBadRecords(t *testing.T) {
	t.Parallel()
	s, _ := newStore(t)

	tests := []struct {
		name string
		rec  store.Record
	}{
		{"empty id", store.Record{Form: form.New(testSchema)}},
		{"nil form", store.Record{SessionID: "x"}},
		{"path escape", store.Record{SessionID: "../x", Form: form.New(testSchema)}},
		{"separator", store.Record{SessionID: "a/b", Form: form.New(testSchema)}},
		{"dot dot", store.Record{SessionID: "..", Form: form.New(testSchema)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.Save(context.Background(), tt.rec); err == nil {
				t.Error("Save succeeded, want error")
			}
		})
	}
}

func TestPing(t *testing.T) {
	t.Parallel()
	s, dir := newStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if err := os.RemoveAll(dir); err != nil {
		t.Fatal(err)
	}
	if err := s.Ping(context.Background()); err == nil {
		t.Error("Ping after removing root succeeded, want error")
	}
}

func TestNew_EmptyDir(t *testing.T) {
	t.Parallel()
	if _, err := filestore.New("", nil); err == nil {
		t.Error("New(\"\") succeeded, want error")
	}
}

package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const (
	alloyYAML = `
server:
  log_level: info
realtime:
  url: wss://example.test/v1/realtime
  api_key: sk-test
  voice: alloy
`
	shimmerYAML = `
server:
  log_level: debug
realtime:
  url: wss://example.test/v1/realtime
  api_key: sk-test
  voice: shimmer
`
	brokenYAML = `
server:
  log_level: bananas
`
)

// watchedFile writes content to a fresh config file and returns its path.
func watchedFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	rewrite(t, path, content)
	return path
}

func rewrite(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestNewWatcher(t *testing.T) {
	t.Parallel()
	if _, err := NewWatcher(filepath.Join(t.TempDir(), "missing.yaml"), nil); err == nil {
		t.Error("missing file accepted")
	}
	if _, err := NewWatcher(watchedFile(t, brokenYAML), nil); err == nil {
		t.Error("invalid file accepted")
	}

	w, err := NewWatcher(watchedFile(t, alloyYAML), nil, WithInterval(-time.Second))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	if w.interval != DefaultWatchInterval {
		t.Errorf("interval = %v, want default", w.interval)
	}
	if w.Current().Realtime.Voice != "alloy" {
		t.Errorf("voice = %q", w.Current().Realtime.Voice)
	}
}

func TestWatcher_Check(t *testing.T) {
	t.Parallel()
	path := watchedFile(t, alloyYAML)

	var changes [][2]*Config
	w, err := NewWatcher(path, func(old, new *Config) {
		changes = append(changes, [2]*Config{old, new})
	})
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}

	steps := []struct {
		name        string
		content     string
		wantChanged bool
		wantErr     bool
		wantVoice   string
	}{
		{name: "same bytes", content: alloyYAML, wantVoice: "alloy"},
		{name: "edit", content: shimmerYAML, wantChanged: true, wantVoice: "shimmer"},
		{name: "broken edit", content: brokenYAML, wantErr: true, wantVoice: "shimmer"},
		{name: "revert", content: alloyYAML, wantChanged: true, wantVoice: "alloy"},
	}
	for _, st := range steps {
		rewrite(t, path, st.content)
		changed, err := w.check()
		if (err != nil) != st.wantErr || changed != st.wantChanged {
			t.Errorf("%s: check = %v, %v", st.name, changed, err)
		}
		if got := w.Current().Realtime.Voice; got != st.wantVoice {
			t.Errorf("%s: voice = %q, want %q", st.name, got, st.wantVoice)
		}
	}

	if len(changes) != 2 {
		t.Fatalf("onChange calls = %d, want 2", len(changes))
	}
	if changes[0][0].Server.LogLevel != LogInfo || changes[0][1].Server.LogLevel != LogDebug {
		t.Errorf("first change = %+v -> %+v", changes[0][0].Server, changes[0][1].Server)
	}
}

func TestWatcher_RunReloadsOnKick(t *testing.T) {
	t.Parallel()
	path := watchedFile(t, alloyYAML)

	got := make(chan string, 1)
	w, err := NewWatcher(path, func(_, new *Config) { got <- new.Realtime.Voice },
		WithInterval(time.Hour))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	rewrite(t, path, shimmerYAML)
	w.Reload()
	w.Reload() // merged with the pending one

	select {
	case voice := <-got:
		if voice != "shimmer" {
			t.Errorf("reloaded voice = %q", voice)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Reload did not trigger a check")
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Run = %v, want context.Canceled", err)
	}
}

func TestWatcher_RunPolls(t *testing.T) {
	t.Parallel()
	path := watchedFile(t, alloyYAML)

	got := make(chan struct{}, 1)
	w, err := NewWatcher(path, func(_, _ *Config) {
		select {
		case got <- struct{}{}:
		default:
		}
	}, WithInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	rewrite(t, path, shimmerYAML)
	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("edit not picked up by polling")
	}
}

package anyllm

import (
	"slices"
	"strings"
	"testing"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/voiceform/pkg/provider/llm"
	"github.com/MrWong99/voiceform/pkg/types"
)

func TestParams(t *testing.T) {
	p := &Provider{model: "claude-3-5-haiku-latest"}
	turn := []types.Message{
		{Role: types.RoleAssistant, Content: "Which city is the site in?"},
		{Role: types.RoleUser, Content: "Springfield"},
	}

	tests := []struct {
		name       string
		req        llm.CompletionRequest
		wantSystem string
		wantMsgs   int
	}{
		{
			name:     "no system prompt",
			req:      llm.CompletionRequest{Messages: turn},
			wantMsgs: 2,
		},
		{
			name:       "system prompt",
			req:        llm.CompletionRequest{SystemPrompt: "Extract fields.", Messages: turn, Temperature: 0.1, MaxTokens: 300},
			wantSystem: "Extract fields.",
			wantMsgs:   3,
		},
		{
			name:       "json without system prompt",
			req:        llm.CompletionRequest{Messages: turn, JSONObject: true},
			wantSystem: llm.JSONInstruction,
			wantMsgs:   3,
		},
		{
			name:       "json appended",
			req:        llm.CompletionRequest{SystemPrompt: "Extract fields.", Messages: turn, JSONObject: true},
			wantSystem: "Extract fields.\n\n" + llm.JSONInstruction,
			wantMsgs:   3,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := p.params(tt.req)
			if params.Model != p.model {
				t.Errorf("model = %q", params.Model)
			}
			if len(params.Messages) != tt.wantMsgs {
				t.Fatalf("messages = %+v", params.Messages)
			}
			if tt.wantSystem != "" {
				first := params.Messages[0]
				if first.Role != anyllmlib.RoleSystem || first.ContentString() != tt.wantSystem {
					t.Errorf("system = %q/%q, want %q", first.Role, first.ContentString(), tt.wantSystem)
				}
			}
			last := params.Messages[len(params.Messages)-1]
			if last.Role != "user" || last.ContentString() != "Springfield" {
				t.Errorf("last message = %+v", last)
			}
			if (tt.req.Temperature == 0) != (params.Temperature == nil) {
				t.Errorf("temperature = %v", params.Temperature)
			}
			if (tt.req.MaxTokens == 0) != (params.MaxTokens == nil) {
				t.Errorf("max tokens = %v", params.MaxTokens)
			}
		})
	}
}

func TestBackends(t *testing.T) {
	got := Backends()
	if !slices.IsSorted(got) || len(got) != len(constructors) {
		t.Errorf("Backends() = %v", got)
	}
	for _, name := range []string{"anthropic", "ollama", "llamafile"} {
		if !slices.Contains(got, name) {
			t.Errorf("Backends() missing %q", name)
		}
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		backend, model string
		opts           []anyllmlib.Option
		wantErr        string
	}{
		{backend: "anthropic", model: "claude-3-5-sonnet-latest", opts: []anyllmlib.Option{anyllmlib.WithAPIKey("sk-ant-test")}},
		{backend: "OpenAI", model: "gpt-4o", opts: []anyllmlib.Option{anyllmlib.WithAPIKey("sk-test")}},
		{backend: "ollama", model: "llama3"},
		{backend: "llamacpp", model: "llama3"},
		{backend: "ollama", wantErr: "model must not be empty"},
		{backend: "fakecloud", model: "x", wantErr: "unknown backend"},
		{backend: "", model: "x", wantErr: "unknown backend"},
	}
	for _, tt := range tests {
		p, err := New(tt.backend, tt.model, tt.opts...)
		if tt.wantErr != "" {
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("New(%q, %q) err = %v, want %q", tt.backend, tt.model, err, tt.wantErr)
			}
			continue
		}
		if err != nil {
			t.Errorf("New(%q, %q): %v", tt.backend, tt.model, err)
			continue
		}
		if p.model != tt.model {
			t.Errorf("model = %q", p.model)
		}
	}
}

func TestNew_HostedBackendNeedsKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	if _, err := New("openai", "gpt-4o"); err == nil {
		t.Fatal("openai backend built without an API key")
	}
}

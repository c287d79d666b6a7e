package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrWong99/voiceform/pkg/provider/llm"
	"github.com/MrWong99/voiceform/pkg/types"
)

func TestNew_Validation(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name, key, model string
	}{
		{name: "no key", model: "gpt-4o-mini"},
		{name: "no model", key: "sk-test"},
	}
	for _, tt := range tests {
		if _, err := New(tt.key, tt.model); err == nil {
			t.Errorf("%s: New succeeded", tt.name)
		}
	}
}

func TestParams(t *testing.T) {
	t.Parallel()
	p := &Provider{model: "gpt-4o-mini"}

	if _, err := p.params(llm.CompletionRequest{SystemPrompt: "x"}); err == nil {
		t.Error("request without messages accepted")
	}
	if _, err := p.params(llm.CompletionRequest{
		Messages: []types.Message{{Role: "tool", Content: "x"}},
	}); err == nil || !strings.Contains(err.Error(), `"tool"`) {
		t.Errorf("unsupported role err = %v", err)
	}

	params, err := p.params(llm.CompletionRequest{
		SystemPrompt: "extract",
		Messages: []types.Message{
			{Role: types.RoleSystem, Content: "fields: SiteCity"},
			{Role: types.RoleAssistant, Content: "Which city?"},
			{Role: types.RoleUser, Content: "Springfield"},
		},
	})
	if err != nil {
		t.Fatalf("params: %v", err)
	}
	if len(params.Messages) != 4 {
		t.Fatalf("messages = %d, want 4", len(params.Messages))
	}
	m := params.Messages
	if m[0].OfSystem == nil || m[1].OfSystem == nil || m[2].OfAssistant == nil || m[3].OfUser == nil {
		t.Errorf("roles not mapped in order: %+v", m)
	}
	if params.ResponseFormat.OfJSONObject != nil {
		t.Error("JSON mode set without JSONObject")
	}
}

// chatServer answers chat completions with content and hands each decoded
// request body to the test.
func chatServer(t *testing.T, content string) (*httptest.Server, <-chan map[string]any) {
	t.Helper()
	bodies := make(chan map[string]any, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		bodies <- body

		reply, _ := json.Marshal(map[string]any{
			"id": "chatcmpl-1", "object": "chat.completion", "created": 1, "model": body["model"],
			"choices": []any{map[string]any{
				"index": 0, "finish_reason": "stop",
				"message": map[string]any{"role": "assistant", "content": content},
			}},
			"usage": map[string]any{"prompt_tokens": 12, "completion_tokens": 6, "total_tokens": 18},
		})
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(reply)
	}))
	t.Cleanup(srv.Close)
	return srv, bodies
}

func TestComplete(t *testing.T) {
	t.Parallel()
	srv, bodies := chatServer(t, `{"SiteCity":"Springfield"}`)

	p, err := New("sk-test", "gpt-4o-mini", WithBaseURL(srv.URL+"/v1/"), WithOrganization("org-1"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	resp, err := p.Complete(context.Background(), llm.CompletionRequest{
		SystemPrompt: "Return JSON.",
		Messages:     []types.Message{{Role: types.RoleUser, Content: "It is in Springfield."}},
		Temperature:  0.2,
		MaxTokens:    200,
		JSONObject:   true,
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != `{"SiteCity":"Springfield"}` || resp.Usage.TotalTokens != 18 {
		t.Errorf("resp = %+v", resp)
	}

	body := <-bodies
	if body["model"] != "gpt-4o-mini" || body["temperature"] != 0.2 || body["max_completion_tokens"] != float64(200) {
		t.Errorf("body = %v", body)
	}
	rf, _ := body["response_format"].(map[string]any)
	if rf["type"] != "json_object" {
		t.Errorf("response_format = %v", body["response_format"])
	}
	if msgs, _ := body["messages"].([]any); len(msgs) != 2 {
		t.Errorf("messages = %v", body["messages"])
	}
}

func TestComplete_ServerError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":{"message":"bad key"}}`, http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)

	p, err := New("sk-bad", "gpt-4o-mini", WithBaseURL(srv.URL+"/v1/"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = p.Complete(context.Background(), llm.CompletionRequest{
		Messages: []types.Message{{Role: types.RoleUser, Content: "hi"}},
	})
	if err == nil || !strings.HasPrefix(err.Error(), "openai: chat completion") {
		t.Errorf("err = %v", err)
	}
}

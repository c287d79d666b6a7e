package realtime_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/voiceform/pkg/realtime"
	"github.com/coder/websocket"
)

// ── Helpers ───────────────────────────────────────────────────────────────────

// wsURL converts an httptest server HTTP URL to a WebSocket URL.
func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// startServer launches a test WebSocket server. The handler receives the
// accepted conn. The server is closed when the test finishes.
func startServer(t *testing.T, handler func(conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		handler(conn, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// readFrame reads one text frame and decodes it into a generic map.
func readFrame(conn *websocket.Conn) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// writeRaw sends data as a text frame.
func writeRaw(conn *websocket.Conn, data string) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_ = conn.Write(ctx, websocket.MessageText, []byte(data))
}

func dial(t *testing.T, srv *httptest.Server, opts ...realtime.Option) *realtime.Client {
	t.Helper()
	c, err := realtime.Dial(context.Background(), realtime.Endpoint{
		URL:    wsURL(srv),
		APIKey: "secret",
		Auth:   realtime.AuthBearer,
	}, opts...)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

// collectFrames reads n frames on the server side and forwards them.
func collectFrames(n int, out chan<- map[string]any) func(*websocket.Conn, *http.Request) {
	return func(conn *websocket.Conn, _ *http.Request) {
		for range n {
			m, err := readFrame(conn)
			if err != nil {
				return
			}
			out <- m
		}
		<-conn.CloseRead(context.Background()).Done()
	}
}

func recvFrame(t *testing.T, ch <-chan map[string]any) map[string]any {
	t.Helper()
	select {
	case m := <-ch:
		return m
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for frame")
		return nil
	}
}

func recvEvent(t *testing.T, c *realtime.Client) realtime.Event {
	t.Helper()
	select {
	case evt, ok := <-c.Events():
		if !ok {
			t.Fatalf("events channel closed; Err = %v", c.Err())
		}
		return evt
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for event")
		return realtime.Event{}
	}
}

// ── Dial ──────────────────────────────────────────────────────────────────────

func TestDial_AuthHeaders(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		auth  realtime.AuthStyle
		check func(h http.Header) string
	}{
		{
			name: "bearer",
			auth: realtime.AuthBearer,
			check: func(h http.Header) string {
				if got := h.Get("Authorization"); got != "Bearer secret" {
					return "Authorization = " + got
				}
				if got := h.Get("OpenAI-Beta"); got != "realtime=v1" {
					return "OpenAI-Beta = " + got
				}
				return ""
			},
		},
		{
			name: "api-key",
			auth: realtime.AuthAPIKey,
			check: func(h http.Header) string {
				if got := h.Get("api-key"); got != "secret" {
					return "api-key = " + got
				}
				if got := h.Get("Authorization"); got != "" {
					return "unexpected Authorization header " + got
				}
				return ""
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			headers := make(chan http.Header, 1)
			srv := startServer(t, func(conn *websocket.Conn, r *http.Request) {
				headers <- r.Header.Clone()
				<-conn.CloseRead(context.Background()).Done()
			})

			c, err := realtime.Dial(context.Background(), realtime.Endpoint{
				URL: wsURL(srv), APIKey: "secret", Auth: tt.auth,
			})
			if err != nil {
				t.Fatalf("Dial: %v", err)
			}
			defer c.Close()

			select {
			case h := <-headers:
				if msg := tt.check(h); msg != "" {
					t.Error(msg)
				}
			case <-time.After(3 * time.Second):
				t.Fatal("timeout")
			}
		})
	}
}

func TestDial_FailureIsConnectionError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.NotFoundHandler())
	url := wsURL(srv)
	srv.Close()

	_, err := realtime.Dial(context.Background(), realtime.Endpoint{URL: url})
	if err == nil {
		t.Fatal("expected error")
	}
	var ce *realtime.ConnectionError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %T %v, want *ConnectionError", err, err)
	}
	if ce.Op != "dial" {
		t.Errorf("Op = %q, want dial", ce.Op)
	}
}

// ── Outbound ──────────────────────────────────────────────────────────────────

func TestConfigureSession_Payload(t *testing.T) {
	t.Parallel()
	frames := make(chan map[string]any, 1)
	srv := startServer(t, collectFrames(1, frames))
	c := dial(t, srv)

	err := c.ConfigureSession(context.Background(), realtime.SessionOptions{
		Modalities:   []string{"audio", "text"},
		Instructions: "fill the form",
		Voice:        "alloy",
		TurnDetection: &realtime.TurnDetection{
			Type:              "server_vad",
			Threshold:         0.5,
			PrefixPaddingMs:   300,
			SilenceDurationMs: 500,
			CreateResponse:    true,
		},
		Tools: []realtime.Tool{{
			Name:        "get_current_time",
			Description: "Returns the current time.",
			Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
		}},
		ToolChoice: "auto",
	})
	if err != nil {
		t.Fatalf("ConfigureSession: %v", err)
	}

	m := recvFrame(t, frames)
	if m["type"] != "session.update" {
		t.Fatalf("type = %v", m["type"])
	}
	if id, _ := m["event_id"].(string); id == "" {
		t.Error("missing event_id")
	}
	sess, _ := m["session"].(map[string]any)
	if sess["instructions"] != "fill the form" {
		t.Errorf("instructions = %v", sess["instructions"])
	}
	if sess["input_audio_format"] != "pcm16" || sess["output_audio_format"] != "pcm16" {
		t.Errorf("audio formats = %v / %v", sess["input_audio_format"], sess["output_audio_format"])
	}
	if sess["tool_choice"] != "auto" {
		t.Errorf("tool_choice = %v", sess["tool_choice"])
	}
	td, _ := sess["turn_detection"].(map[string]any)
	if td["type"] != "server_vad" || td["threshold"] != 0.5 ||
		td["prefix_padding_ms"] != float64(300) || td["silence_duration_ms"] != float64(500) ||
		td["create_response"] != true {
		t.Errorf("turn_detection = %v", td)
	}
	tools, _ := sess["tools"].([]any)
	if len(tools) != 1 {
		t.Fatalf("tools = %v", sess["tools"])
	}
	tool, _ := tools[0].(map[string]any)
	if tool["type"] != "function" || tool["name"] != "get_current_time" {
		t.Errorf("tool = %v", tool)
	}
}

func TestSendUserMessage_ItemThenResponse(t *testing.T) {
	t.Parallel()
	frames := make(chan map[string]any, 2)
	srv := startServer(t, collectFrames(2, frames))
	c := dial(t, srv)

	if err := c.SendUserMessage(context.Background(), "hello"); err != nil {
		t.Fatalf("SendUserMessage: %v", err)
	}

	item := recvFrame(t, frames)
	if item["type"] != "conversation.item.create" {
		t.Fatalf("first frame type = %v", item["type"])
	}
	body, _ := item["item"].(map[string]any)
	if body["role"] != "user" || body["type"] != "message" {
		t.Errorf("item = %v", body)
	}
	content, _ := body["content"].([]any)
	if len(content) != 1 {
		t.Fatalf("content = %v", body["content"])
	}
	part, _ := content[0].(map[string]any)
	if part["type"] != "input_text" || part["text"] != "hello" {
		t.Errorf("content part = %v", part)
	}

	resp := recvFrame(t, frames)
	if resp["type"] != "response.create" {
		t.Errorf("second frame type = %v", resp["type"])
	}
	if item["event_id"] == resp["event_id"] {
		t.Error("event ids not unique")
	}
}

func TestAppendAudio_Base64(t *testing.T) {
	t.Parallel()
	frames := make(chan map[string]any, 1)
	srv := startServer(t, collectFrames(1, frames))
	c := dial(t, srv)

	pcm := []byte{1, 2, 3, 4, 250, 251}
	if err := c.AppendAudio(context.Background(), pcm); err != nil {
		t.Fatalf("AppendAudio: %v", err)
	}
	m := recvFrame(t, frames)
	if m["type"] != "input_audio_buffer.append" {
		t.Fatalf("type = %v", m["type"])
	}
	got, err := base64.StdEncoding.DecodeString(m["audio"].(string))
	if err != nil {
		t.Fatalf("decode audio: %v", err)
	}
	if string(got) != string(pcm) {
		t.Errorf("audio = %v, want %v", got, pcm)
	}
}

func TestTruncateItem_Payload(t *testing.T) {
	t.Parallel()
	frames := make(chan map[string]any, 1)
	srv := startServer(t, collectFrames(1, frames))
	c := dial(t, srv)

	if err := c.TruncateItem(context.Background(), "item_42"); err != nil {
		t.Fatalf("TruncateItem: %v", err)
	}
	m := recvFrame(t, frames)
	if m["type"] != "conversation.item.truncate" || m["item_id"] != "item_42" {
		t.Errorf("frame = %v", m)
	}
	if m["content_index"] != float64(0) || m["audio_end_ms"] != float64(0) {
		t.Errorf("content_index/audio_end_ms = %v/%v", m["content_index"], m["audio_end_ms"])
	}
}

func TestSendFunctionOutput(t *testing.T) {
	t.Parallel()
	frames := make(chan map[string]any, 2)
	srv := startServer(t, collectFrames(2, frames))
	c := dial(t, srv)

	if err := c.SendFunctionOutput(context.Background(), "call_1", `{"time":"noon"}`); err != nil {
		t.Fatalf("SendFunctionOutput: %v", err)
	}
	item := recvFrame(t, frames)
	body, _ := item["item"].(map[string]any)
	if body["type"] != "function_call_output" || body["call_id"] != "call_1" || body["output"] != `{"time":"noon"}` {
		t.Errorf("item = %v", body)
	}
	if resp := recvFrame(t, frames); resp["type"] != "response.create" {
		t.Errorf("second frame = %v", resp["type"])
	}
}

func TestEventIDsUnique(t *testing.T) {
	t.Parallel()
	const n = 50
	frames := make(chan map[string]any, n)
	srv := startServer(t, collectFrames(n, frames))
	c := dial(t, srv)

	for range n {
		if err := c.AppendAudio(context.Background(), []byte{0, 0}); err != nil {
			t.Fatalf("AppendAudio: %v", err)
		}
	}
	seen := make(map[string]bool, n)
	for range n {
		id, _ := recvFrame(t, frames)["event_id"].(string)
		if id == "" || seen[id] {
			t.Fatalf("duplicate or empty event id %q", id)
		}
		seen[id] = true
	}
}

// ── Inbound ───────────────────────────────────────────────────────────────────

func TestEvents_DecodedInOrder(t *testing.T) {
	t.Parallel()
	pcm := base64.StdEncoding.EncodeToString([]byte{1, 0, 2, 0})
	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		writeRaw(conn, `{"type":"conversation.item.created","item":{"id":"a1","type":"message","role":"assistant","content":[]}}`)
		writeRaw(conn, `{"type":"response.text.delta","item_id":"a1","delta":"Hel"}`)
		writeRaw(conn, `{"type":"session.updated"}`)
		writeRaw(conn, `{not json`)
		writeRaw(conn, `{"type":"response.audio.delta","item_id":"a1","delta":"`+pcm+`"}`)
		writeRaw(conn, `{"type":"response.text.done","item_id":"a1","text":"Hello"}`)
		writeRaw(conn, `{"type":"response.audio.done","item_id":"a1"}`)
		writeRaw(conn, `{"type":"error","error":{"type":"invalid_request_error","code":"bad","message":"nope"}}`)
		<-conn.CloseRead(context.Background()).Done()
	})
	c := dial(t, srv)

	want := []realtime.EventType{
		realtime.EventItemCreated,
		realtime.EventTextDelta,
		realtime.EventDecodeError,
		realtime.EventAudioDelta,
		realtime.EventTextDone,
		realtime.EventAudioDone,
		realtime.EventError,
	}
	var got []realtime.Event
	for range want {
		got = append(got, recvEvent(t, c))
	}
	for i, w := range want {
		if got[i].Type != w {
			t.Fatalf("event %d = %v, want %v", i, got[i].Type, w)
		}
	}

	if got[0].ItemID != "a1" || got[0].Role != "assistant" {
		t.Errorf("item created = %+v", got[0])
	}
	var de *realtime.DecodeError
	if !errors.As(got[2].Err, &de) {
		t.Errorf("decode error event Err = %T", got[2].Err)
	}
	if string(got[3].Audio) != string([]byte{1, 0, 2, 0}) {
		t.Errorf("audio = %v", got[3].Audio)
	}
	if got[4].Text != "Hello" {
		t.Errorf("text done = %q", got[4].Text)
	}
	var se *realtime.ServerError
	if !errors.As(got[6].Err, &se) || se.Code != "bad" || se.Message != "nope" {
		t.Errorf("server error = %v", got[6].Err)
	}
	if c.Err() != nil {
		t.Errorf("Err = %v after decode error, want nil", c.Err())
	}
}

func TestEvents_ConnectionLost(t *testing.T) {
	t.Parallel()
	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		writeRaw(conn, `{"type":"response.audio.done","item_id":"x"}`)
	})
	c := dial(t, srv)

	if evt := recvEvent(t, c); evt.Type != realtime.EventAudioDone {
		t.Fatalf("first event = %v", evt.Type)
	}
	select {
	case _, ok := <-c.Events():
		if ok {
			t.Fatal("expected events channel to close")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for close")
	}
	if !realtime.IsConnectionError(c.Err()) {
		t.Errorf("Err = %v, want *ConnectionError", c.Err())
	}
}

func TestEvents_IdleTimeout(t *testing.T) {
	t.Parallel()
	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		<-conn.CloseRead(context.Background()).Done()
	})
	c := dial(t, srv, realtime.WithIdleTimeout(50*time.Millisecond))

	select {
	case <-c.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("idle timeout did not fire")
	}
	var ce *realtime.ConnectionError
	if !errors.As(c.Err(), &ce) || ce.Op != "read" {
		t.Errorf("Err = %v, want read ConnectionError", c.Err())
	}
}

func TestClose_Idempotent(t *testing.T) {
	t.Parallel()
	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		<-conn.CloseRead(context.Background()).Done()
	})
	c := dial(t, srv)

	c.Close()
	c.Close()

	select {
	case <-c.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("receive loop did not exit")
	}
	if err := c.AppendAudio(context.Background(), []byte{0, 0}); !errors.Is(err, realtime.ErrClosed) {
		t.Errorf("AppendAudio after Close = %v, want ErrClosed", err)
	}
	if c.Err() != nil {
		t.Errorf("Err = %v after local Close, want nil", c.Err())
	}
}

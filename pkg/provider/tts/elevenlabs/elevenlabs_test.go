package elevenlabs

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

	"github.com/coder/websocket"

	"github.com/MrWong99/voiceform/pkg/audio"
	"github.com/MrWong99/voiceform/pkg/provider/tts"
)

func TestNew(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		key      string
		opts     []Option
		wantRate int
		wantErr  bool
	}{
		{name: "defaults", key: "k", wantRate: 24000},
		{name: "16k", key: "k", opts: []Option{WithOutputFormat("pcm_16000")}, wantRate: 16000},
		{name: "mp3 rejected", key: "k", opts: []Option{WithOutputFormat("mp3_44100_128")}, wantErr: true},
		{name: "bad rate", key: "k", opts: []Option{WithOutputFormat("pcm_fast")}, wantErr: true},
		{name: "no key", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p, err := New(tt.key, tt.opts...)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			if p.rate != tt.wantRate {
				t.Errorf("rate = %d, want %d", p.rate, tt.wantRate)
			}
		})
	}
}

func TestStreamURL(t *testing.T) {
	t.Parallel()
	p, err := New("k", WithVoice("voice-1"), WithModel("eleven_turbo_v2"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	want := "wss://api.elevenlabs.io/v1/text-to-speech/voice-1/stream-input?model_id=eleven_turbo_v2&output_format=pcm_24000"
	if got := p.streamURL(); got != want {
		t.Errorf("streamURL = %q, want %q", got, want)
	}
}

// fakeStream records the text messages of one connection and answers with
// the given audio chunks after the flush message.
func fakeStream(t *testing.T, chunks [][]byte, final bool, got chan<- []textMessage) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("xi-api-key") != "test-key" || !strings.Contains(r.URL.Path, "/stream-input") {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.CloseNow()
		ctx := r.Context()

		var msgs []textMessage
		for {
			_, data, err := c.Read(ctx)
			if err != nil {
				return
			}
			var m textMessage
			if err := json.Unmarshal(data, &m); err != nil {
				return
			}
			msgs = append(msgs, m)
			if m.Text == "" {
				break
			}
		}
		got <- msgs

		for _, chunk := range chunks {
			b, _ := json.Marshal(audioResponse{Audio: base64.StdEncoding.EncodeToString(chunk)})
			if err := c.Write(ctx, websocket.MessageText, b); err != nil {
				return
			}
		}
		if final {
			b, _ := json.Marshal(audioResponse{IsFinal: true})
			c.Write(ctx, websocket.MessageText, b)
			// Wait for the client to close.
			c.Read(ctx)
			return
		}
		c.Close(websocket.StatusNormalClosure, "")
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSynthesize(t *testing.T) {
	t.Parallel()
	for _, final := range []bool{true, false} {
		name := "closed by server"
		if final {
			name = "final message"
		}
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			got := make(chan []textMessage, 1)
			srv := fakeStream(t, [][]byte{{1, 0, 2, 0}, {3, 0}}, final, got)
			p, err := New("test-key", WithBaseURL("ws"+strings.TrimPrefix(srv.URL, "http")))
			if err != nil {
				t.Fatalf("New: %v", err)
			}

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			wav, err := p.Synthesize(ctx, "  Thank you. Which city?  ")
			if err != nil {
				t.Fatalf("Synthesize: %v", err)
			}
			pcm, rate, err := audio.DecodeWAV(wav)
			if err != nil {
				t.Fatalf("DecodeWAV: %v", err)
			}
			if rate != 24000 || string(pcm) != string([]byte{1, 0, 2, 0, 3, 0}) {
				t.Errorf("audio = %v at %d Hz", pcm, rate)
			}

			msgs := <-got
			if len(msgs) != 3 {
				t.Fatalf("sent %d messages, want 3: %+v", len(msgs), msgs)
			}
			if msgs[0].Text != " " || msgs[0].XiAPIKey != "test-key" || msgs[0].VoiceSettings == nil {
				t.Errorf("first message = %+v", msgs[0])
			}
			if msgs[1].Text != "Thank you. Which city? " {
				t.Errorf("text message = %q", msgs[1].Text)
			}
		})
	}
}

func TestSynthesize_Errors(t *testing.T) {
	t.Parallel()
	p, err := New("test-key", WithBaseURL("ws://127.0.0.1:1"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.Synthesize(context.Background(), "   "); !errors.Is(err, tts.ErrEmptyText) {
		t.Errorf("blank text: err = %v, want ErrEmptyText", err)
	}
	if _, err := p.Synthesize(context.Background(), "hello"); err == nil {
		t.Error("unreachable endpoint: expected error")
	}

	srv := fakeStream(t, nil, false, make(chan []textMessage, 1))
	p, _ = New("test-key", WithBaseURL("ws"+strings.TrimPrefix(srv.URL, "http")))
	if _, err := p.Synthesize(context.Background(), "hello"); err == nil {
		t.Error("no audio: expected error")
	}
}

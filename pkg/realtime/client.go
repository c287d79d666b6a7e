// Package realtime is a client for the realtime speech-to-speech dialogue
// service (OpenAI and Azure OpenAI "realtime" deployments).
//
// A [Client] holds one bidirectional WebSocket connection. Outbound operations
// encode JSON events stamped with a unique event id; a single receive
// goroutine decodes inbound frames into typed [Event] values delivered, in
// arrival order, on [Client.Events]. The client never reconnects: a failed
// dial or a lost connection surfaces as a [*ConnectionError].
package realtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// AuthStyle selects how the API key is presented during the handshake.
type AuthStyle string

const (
	// AuthBearer sends "Authorization: Bearer <key>" and the realtime beta
	// header, as the OpenAI endpoint expects.
	AuthBearer AuthStyle = "bearer"

	// AuthAPIKey sends an "api-key" header, as Azure OpenAI expects.
	AuthAPIKey AuthStyle = "api-key"
)

// Endpoint identifies the realtime deployment to connect to.
type Endpoint struct {
	// URL is the full wss:// URL including deployment/model query parameters.
	URL    string
	APIKey string
	Auth   AuthStyle
}

const (
	defaultEventBuffer = 256
	defaultReadLimit   = 16 << 20
)

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithIdleTimeout closes the connection with a [*ConnectionError] when no
// inbound frame arrives within d. Zero disables the timeout.
func WithIdleTimeout(d time.Duration) Option {
	return func(c *Client) { c.idleTimeout = d }
}

// WithEventBuffer sets the capacity of the events channel.
func WithEventBuffer(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.eventBuffer = n
		}
	}
}

// WithIDGenerator replaces the event id generator. Used in tests.
func WithIDGenerator(fn func() string) Option {
	return func(c *Client) { c.newID = fn }
}

// WithHTTPClient sets the HTTP client used for the WebSocket handshake.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// ── Session configuration ──────────────────────────────────────────────────────

// TurnDetection configures server-side voice activity detection.
type TurnDetection struct {
	// Type is the detector name, normally "server_vad".
	Type              string
	Threshold         float64
	PrefixPaddingMs   int
	SilenceDurationMs int
	CreateResponse    bool
}

// Tool declares a function the model may call.
type Tool struct {
	Name        string
	Description string
	// Parameters is a JSON Schema object describing the arguments.
	Parameters map[string]any
}

// SessionOptions is the content of a session.update event.
type SessionOptions struct {
	Modalities   []string
	Instructions string
	Voice        string

	// InputAudioFormat and OutputAudioFormat default to "pcm16".
	InputAudioFormat  string
	OutputAudioFormat string

	// TranscriptionModel enables transcription of user speech when non-empty.
	TranscriptionModel string

	TurnDetection *TurnDetection
	Tools         []Tool
	ToolChoice    string
}

// ── Client ─────────────────────────────────────────────────────────────────────

// Client is a connected realtime session. All methods are safe for concurrent
// use.
type Client struct {
	conn        *websocket.Conn
	events      chan Event
	newID       func() string
	idleTimeout time.Duration
	eventBuffer int
	httpClient  *http.Client

	writeMu sync.Mutex

	mu     sync.Mutex
	errVal error
	closed bool

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	done      chan struct{}
}

// Dial opens the WebSocket connection and starts the receive goroutine. The
// session is not configured; call [Client.ConfigureSession] next.
func Dial(ctx context.Context, ep Endpoint, opts ...Option) (*Client, error) {
	c := &Client{
		newID:       uuid.NewString,
		eventBuffer: defaultEventBuffer,
		done:        make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}

	header := http.Header{}
	switch ep.Auth {
	case AuthAPIKey:
		header.Set("api-key", ep.APIKey)
	default:
		header.Set("Authorization", "Bearer "+ep.APIKey)
		header.Set("OpenAI-Beta", "realtime=v1")
	}

	conn, _, err := websocket.Dial(ctx, ep.URL, &websocket.DialOptions{
		HTTPHeader: header,
		HTTPClient: c.httpClient,
	})
	if err != nil {
		return nil, &ConnectionError{Op: "dial", Err: err}
	}
	conn.SetReadLimit(defaultReadLimit)

	c.conn = conn
	c.events = make(chan Event, c.eventBuffer)
	c.ctx, c.cancel = context.WithCancel(context.Background())

	go c.receiveLoop()
	return c, nil
}

// Events returns the channel of decoded inbound events. It is closed when the
// connection ends; [Client.Err] then reports why.
func (c *Client) Events() <-chan Event { return c.events }

// Err returns the error that terminated the connection, or nil if it is still
// open or was closed by [Client.Close].
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errVal
}

// Done is closed once the receive goroutine has exited.
func (c *Client) Done() <-chan struct{} { return c.done }

// Close terminates the connection. It is idempotent.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		c.cancel()
		_ = c.conn.Close(websocket.StatusNormalClosure, "session ended")
	})
	return nil
}

// ConfigureSession sends a session.update event.
func (c *Client) ConfigureSession(ctx context.Context, opts SessionOptions) error {
	params := sessionParams{
		Modalities:        opts.Modalities,
		Instructions:      opts.Instructions,
		Voice:             opts.Voice,
		InputAudioFormat:  orDefault(opts.InputAudioFormat, "pcm16"),
		OutputAudioFormat: orDefault(opts.OutputAudioFormat, "pcm16"),
		ToolChoice:        opts.ToolChoice,
	}
	if opts.TranscriptionModel != "" {
		params.InputAudioTranscription = &inputTranscription{Model: opts.TranscriptionModel}
	}
	if td := opts.TurnDetection; td != nil {
		params.TurnDetection = &turnDetectionParams{
			Type:              orDefault(td.Type, "server_vad"),
			Threshold:         td.Threshold,
			PrefixPaddingMs:   td.PrefixPaddingMs,
			SilenceDurationMs: td.SilenceDurationMs,
			CreateResponse:    td.CreateResponse,
		}
	}
	for _, t := range opts.Tools {
		params.Tools = append(params.Tools, toolParam{
			Type:        "function",
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		})
	}
	return c.writeJSON(ctx, sessionUpdateMessage{
		Type:    "session.update",
		EventID: c.newID(),
		Session: params,
	})
}

// SendUserMessage adds a user text item to the conversation and requests a
// response.
func (c *Client) SendUserMessage(ctx context.Context, text string) error {
	err := c.writeJSON(ctx, createItemMessage{
		Type:    "conversation.item.create",
		EventID: c.newID(),
		Item: itemParams{
			Type:    "message",
			Role:    "user",
			Content: []contentPart{{Type: "input_text", Text: text}},
		},
	})
	if err != nil {
		return err
	}
	return c.RequestResponse(ctx)
}

// RequestResponse sends response.create.
func (c *Client) RequestResponse(ctx context.Context) error {
	return c.writeJSON(ctx, responseCreateMessage{Type: "response.create", EventID: c.newID()})
}

// AppendAudio streams one PCM16 chunk into the input audio buffer.
func (c *Client) AppendAudio(ctx context.Context, pcm []byte) error {
	return c.writeJSON(ctx, appendAudioMessage{
		Type:    "input_audio_buffer.append",
		EventID: c.newID(),
		Audio:   base64.StdEncoding.EncodeToString(pcm),
	})
}

// TruncateItem cuts the assistant item itemID at its start so that playback
// stops and the item is not continued.
func (c *Client) TruncateItem(ctx context.Context, itemID string) error {
	return c.writeJSON(ctx, truncateMessage{
		Type:         "conversation.item.truncate",
		EventID:      c.newID(),
		ItemID:       itemID,
		ContentIndex: 0,
		AudioEndMs:   0,
	})
}

// SendFunctionOutput answers a function call and requests the follow-up
// response.
func (c *Client) SendFunctionOutput(ctx context.Context, callID, output string) error {
	err := c.writeJSON(ctx, createItemMessage{
		Type:    "conversation.item.create",
		EventID: c.newID(),
		Item: itemParams{
			Type:   "function_call_output",
			CallID: callID,
			Output: output,
		},
	})
	if err != nil {
		return err
	}
	return c.RequestResponse(ctx)
}

// writeJSON marshals v and writes it as one text frame. Writes are serialized
// so that frames from concurrent callers never interleave out of call order.
func (c *Client) writeJSON(ctx context.Context, v any) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("realtime: marshal: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
		if c.ctx.Err() != nil {
			return ErrClosed
		}
		return &ConnectionError{Op: "write", Err: err}
	}
	return nil
}

// receiveLoop reads frames until the connection ends. It owns the events
// channel and closes it on exit.
func (c *Client) receiveLoop() {
	defer close(c.done)
	defer close(c.events)

	for {
		data, err := c.read()
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			c.setErr(&ConnectionError{Op: "read", Err: err})
			c.cancel()
			return
		}

		evt, ok := decodeFrame(data)
		if !ok {
			continue
		}
		select {
		case c.events <- evt:
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Client) read() ([]byte, error) {
	ctx := c.ctx
	if c.idleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(c.ctx, c.idleTimeout,
			fmt.Errorf("no frame received for %s", c.idleTimeout))
		defer cancel()
		_, data, err := c.conn.Read(ctx)
		if err != nil && c.ctx.Err() == nil && ctx.Err() != nil {
			return nil, context.Cause(ctx)
		}
		return data, err
	}
	_, data, err := c.conn.Read(ctx)
	return data, err
}

func (c *Client) setErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.errVal == nil {
		c.errVal = err
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

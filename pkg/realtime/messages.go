package realtime

// Outbound and inbound wire types. Field names follow the realtime service's
// published event schema and must not be renamed.

// ── Outbound ──────────────────────────────────────────────────────────────────

type sessionUpdateMessage struct {
	Type    string        `json:"type"`
	EventID string        `json:"event_id"`
	Session sessionParams `json:"session"`
}

type sessionParams struct {
	Modalities              []string             `json:"modalities,omitempty"`
	Instructions            string               `json:"instructions,omitempty"`
	Voice                   string               `json:"voice,omitempty"`
	InputAudioFormat        string               `json:"input_audio_format,omitempty"`
	OutputAudioFormat       string               `json:"output_audio_format,omitempty"`
	InputAudioTranscription *inputTranscription  `json:"input_audio_transcription,omitempty"`
	TurnDetection           *turnDetectionParams `json:"turn_detection,omitempty"`
	Tools                   []toolParam          `json:"tools,omitempty"`
	ToolChoice              string               `json:"tool_choice,omitempty"`
}

type inputTranscription struct {
	Model string `json:"model"`
}

type turnDetectionParams struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold,omitempty"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms,omitempty"`
	SilenceDurationMs int     `json:"silence_duration_ms,omitempty"`
	CreateResponse    bool    `json:"create_response"`
}

type toolParam struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters"`
}

type createItemMessage struct {
	Type    string     `json:"type"`
	EventID string     `json:"event_id"`
	Item    itemParams `json:"item"`
}

type itemParams struct {
	Type    string        `json:"type"`
	Role    string        `json:"role,omitempty"`
	Content []contentPart `json:"content,omitempty"`
	CallID  string        `json:"call_id,omitempty"`
	Output  string        `json:"output,omitempty"`
}

type contentPart struct {
	Type       string `json:"type"`
	Text       string `json:"text,omitempty"`
	Transcript string `json:"transcript,omitempty"`
}

type responseCreateMessage struct {
	Type    string `json:"type"`
	EventID string `json:"event_id"`
}

type appendAudioMessage struct {
	Type    string `json:"type"`
	EventID string `json:"event_id"`
	Audio   string `json:"audio"` // base64-encoded PCM16
}

type truncateMessage struct {
	Type         string `json:"type"`
	EventID      string `json:"event_id"`
	ItemID       string `json:"item_id"`
	ContentIndex int    `json:"content_index"`
	AudioEndMs   int    `json:"audio_end_ms"`
}

// ── Inbound ───────────────────────────────────────────────────────────────────

type serverEvent struct {
	Type    string `json:"type"`
	EventID string `json:"event_id,omitempty"`

	ResponseID string `json:"response_id,omitempty"`
	ItemID     string `json:"item_id,omitempty"`

	// response.text.delta / response.audio.delta / response.audio_transcript.delta
	Delta string `json:"delta,omitempty"`

	// response.text.done, legacy input.transcription
	Text string `json:"text,omitempty"`

	// response.audio_transcript.done,
	// conversation.item.input_audio_transcription.completed
	Transcript string `json:"transcript,omitempty"`

	// conversation.item.created
	Item *serverItem `json:"item,omitempty"`

	// response.function_call_arguments.done
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
	CallID    string `json:"call_id,omitempty"`

	Error *ServerError `json:"error,omitempty"`
}

type serverItem struct {
	ID      string        `json:"id"`
	Type    string        `json:"type"`
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
	Text    string        `json:"text,omitempty"`
}

// text concatenates every textual content part of the item, falling back to
// the item-level text field.
func (it *serverItem) text() string {
	var out string
	for _, c := range it.Content {
		switch c.Type {
		case "input_text", "text":
			out += c.Text
		case "input_audio", "audio":
			out += c.Transcript
		}
	}
	if out == "" {
		out = it.Text
	}
	return out
}

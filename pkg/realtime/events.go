package realtime

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"
)

// EventType enumerates the inbound events surfaced by [Client.Events].
type EventType int

const (
	// EventTextDelta carries a fragment of assistant text in Text. Transcript
	// is true when the fragment is a transcript of spoken output.
	EventTextDelta EventType = iota

	// EventTextDone carries the final assistant text of an item in Text.
	EventTextDone

	// EventAudioDelta carries a fragment of assistant PCM16 audio in Audio.
	EventAudioDelta

	// EventAudioDone marks the end of the assistant audio for ItemID.
	EventAudioDone

	// EventItemCreated announces a conversation item: Role, ItemID, and any
	// text content in Text.
	EventItemCreated

	// EventUserTranscript carries the model's transcription of user speech.
	EventUserTranscript

	// EventFunctionCall requests a tool invocation: Name, CallID, Arguments.
	EventFunctionCall

	// EventError carries a [*ServerError] in Err.
	EventError

	// EventDecodeError carries a [*DecodeError] in Err.
	EventDecodeError
)

var eventTypeNames = map[EventType]string{
	EventTextDelta:      "text_delta",
	EventTextDone:       "text_done",
	EventAudioDelta:     "audio_delta",
	EventAudioDone:      "audio_done",
	EventItemCreated:    "item_created",
	EventUserTranscript: "user_transcript",
	EventFunctionCall:   "function_call",
	EventError:          "error",
	EventDecodeError:    "decode_error",
}

// String returns the event type's metric/log label.
func (t EventType) String() string {
	if s, ok := eventTypeNames[t]; ok {
		return s
	}
	return "unknown"
}

// Event is one typed inbound event. Only the fields relevant to Type are set.
type Event struct {
	Type EventType

	ItemID     string
	ResponseID string
	Role       string

	Text       string
	Transcript bool
	Audio      []byte

	Name      string
	CallID    string
	Arguments string

	Err error
}

// maxFrameSnippet bounds how much of a bad frame is kept in a DecodeError.
const maxFrameSnippet = 256

// decodeFrame turns one wire frame into zero or one events. Frames of
// unrecognised types yield ok == false.
func decodeFrame(data []byte) (evt Event, ok bool) {
	var se serverEvent
	if err := json.Unmarshal(data, &se); err != nil {
		return decodeFailure(data, err), true
	}
	if se.Type == "" {
		return decodeFailure(data, errors.New("missing event type")), true
	}

	switch se.Type {
	case "response.text.delta":
		return Event{Type: EventTextDelta, ItemID: se.ItemID, ResponseID: se.ResponseID, Text: se.Delta}, true

	case "response.text.done":
		return Event{Type: EventTextDone, ItemID: se.ItemID, ResponseID: se.ResponseID, Text: se.Text}, true

	case "response.audio_transcript.delta":
		return Event{Type: EventTextDelta, ItemID: se.ItemID, ResponseID: se.ResponseID, Text: se.Delta, Transcript: true}, true

	case "response.audio_transcript.done":
		return Event{Type: EventTextDone, ItemID: se.ItemID, ResponseID: se.ResponseID, Text: se.Transcript, Transcript: true}, true

	case "response.audio.delta":
		pcm, err := base64.StdEncoding.DecodeString(se.Delta)
		if err != nil {
			return decodeFailure(data, fmt.Errorf("audio delta: %w", err)), true
		}
		return Event{Type: EventAudioDelta, ItemID: se.ItemID, ResponseID: se.ResponseID, Audio: pcm}, true

	case "response.audio.done":
		return Event{Type: EventAudioDone, ItemID: se.ItemID, ResponseID: se.ResponseID}, true

	case "conversation.item.created":
		if se.Item == nil {
			return decodeFailure(data, errors.New("item.created without item")), true
		}
		if se.Item.Type != "" && se.Item.Type != "message" {
			return Event{}, false
		}
		return Event{
			Type:   EventItemCreated,
			ItemID: se.Item.ID,
			Role:   se.Item.Role,
			Text:   se.Item.text(),
		}, true

	case "conversation.item.input_audio_transcription.completed":
		return Event{Type: EventUserTranscript, ItemID: se.ItemID, Text: se.Transcript}, true

	case "input.transcription":
		return Event{Type: EventUserTranscript, ItemID: se.ItemID, Text: se.Text}, true

	case "response.function_call_arguments.done":
		return Event{
			Type:      EventFunctionCall,
			ItemID:    se.ItemID,
			Name:      se.Name,
			CallID:    se.CallID,
			Arguments: se.Arguments,
		}, true

	case "error":
		serr := se.Error
		if serr == nil {
			serr = &ServerError{}
		}
		return Event{Type: EventError, Err: serr}, true
	}
	return Event{}, false
}

func decodeFailure(data []byte, err error) Event {
	if len(data) > maxFrameSnippet {
		cut := maxFrameSnippet
		for cut > 0 && !utf8.RuneStart(data[cut]) {
			cut--
		}
		data = data[:cut]
	}
	snippet := string(data)
	return Event{Type: EventDecodeError, Err: &DecodeError{Frame: snippet, Err: err}}
}

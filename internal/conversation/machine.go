// Package conversation implements the per-session turn state machine.
//
// A [Machine] tracks whose turn it is, the in-flight assistant item (for
// barge-in truncation), and the append-only transcript log. It performs no
// I/O: every input returns an [Outcome] telling the caller which side effects
// to run (field extraction, persistence). One Machine belongs to exactly one
// session.
package conversation

import (
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/voiceform/pkg/types"
)

// DefaultSentinel is the phrase that ends a conversation when it appears in a
// completed assistant utterance, compared case-insensitively.
const DefaultSentinel = "END OF CONVERSATION"

// State is the turn state of a conversation.
type State int

const (
	Idle State = iota
	UserTurn
	AssistantResponding
	Ended
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case UserTurn:
		return "user_turn"
	case AssistantResponding:
		return "assistant_responding"
	case Ended:
		return "ended"
	default:
		return "unknown"
	}
}

// Pair is the latest user utterance and the latest assistant utterance that
// extraction runs on.
type Pair struct {
	User      string
	Assistant string
}

// Outcome reports the side effects an input requires.
type Outcome struct {
	// Entry is the transcript entry appended by this input, if any.
	Entry *types.TranscriptEntry

	// Extract is set when a new user/assistant pair completed.
	Extract *Pair

	// Ended is true when this input moved the conversation into Ended.
	Ended bool
}

// Option configures a Machine.
type Option func(*Machine)

// WithSentinel overrides the end-of-conversation phrase.
func WithSentinel(phrase string) Option {
	return func(m *Machine) {
		if phrase != "" {
			m.sentinel = strings.ToUpper(phrase)
		}
	}
}

// WithClock sets the timestamp source for transcript entries.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

// Machine is safe for concurrent use: the audio pump asks [Machine.SpeechDetected]
// while the event pump feeds protocol events.
type Machine struct {
	sentinel string
	now      func() time.Time

	mu        sync.Mutex
	state     State
	inFlight  string
	truncated bool
	completed map[string]struct{}
	text      strings.Builder
	audio     []byte

	lastUser      string
	lastAssistant string
	lastPair      Pair

	log []types.TranscriptEntry
}

// New returns a Machine in the Idle state.
func New(opts ...Option) *Machine {
	m := &Machine{
		sentinel:  DefaultSentinel,
		now:       time.Now,
		completed: make(map[string]struct{}),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// ── Inputs ───────────────────────────────────────────────────────────────────

// UserText records a user utterance (typed message or speech transcript).
func (m *Machine) UserText(text string) Outcome {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == Ended || strings.TrimSpace(text) == "" {
		return Outcome{}
	}
	entry := m.appendLocked(types.RoleUser, text)
	m.lastUser = text
	if m.inFlight == "" {
		m.state = UserTurn
	}
	return Outcome{Entry: entry, Extract: m.pairLocked()}
}

// AssistantItemCreated records the start of assistant item itemID. An item
// that already completed is never admitted again, and a repeated event for
// the in-flight item keeps its buffers and truncation state. If the item arrives with
// text content it completes immediately.
func (m *Machine) AssistantItemCreated(itemID, text string) Outcome {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == Ended || itemID == "" {
		return Outcome{}
	}
	if _, done := m.completed[itemID]; done {
		return Outcome{}
	}
	if itemID == m.inFlight {
		if strings.TrimSpace(text) != "" {
			return m.completeLocked(itemID, text)
		}
		return Outcome{}
	}
	m.inFlight = itemID
	m.truncated = false
	m.text.Reset()
	m.audio = nil
	m.state = AssistantResponding

	if strings.TrimSpace(text) != "" {
		return m.completeLocked(itemID, text)
	}
	return Outcome{}
}

// SpeechDetected reports user speech. It returns the in-flight item id and
// true exactly once per item, the first time speech is detected while that
// item has not been truncated; the caller must then truncate it.
func (m *Machine) SpeechDetected() (itemID string, truncate bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == Ended || m.inFlight == "" || m.truncated {
		return "", false
	}
	m.truncated = true
	return m.inFlight, true
}

// TextDelta accumulates streamed assistant text for itemID.
func (m *Machine) TextDelta(itemID, delta string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.acceptsLocked(itemID) {
		m.text.WriteString(delta)
	}
}

// AudioDelta accumulates streamed assistant audio for itemID.
func (m *Machine) AudioDelta(itemID string, pcm []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.acceptsLocked(itemID) {
		m.audio = append(m.audio, pcm...)
	}
}

// PendingAudio returns the buffered audio of itemID if the item has not yet
// completed. The caller transcribes it and passes the text to
// [Machine.AssistantAudioDone].
func (m *Machine) PendingAudio(itemID string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.acceptsLocked(itemID) || len(m.audio) == 0 {
		return nil, false
	}
	out := m.audio
	m.audio = nil
	return out, true
}

// AssistantTextDone completes itemID with text, falling back to the text
// accumulated from deltas when text is empty.
func (m *Machine) AssistantTextDone(itemID, text string) Outcome {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.acceptsLocked(itemID) {
		return Outcome{}
	}
	if text == "" {
		text = m.text.String()
	}
	return m.completeLocked(itemID, text)
}

// AssistantAudioDone completes itemID with the transcription of its audio.
// An empty transcript still clears the in-flight item but logs nothing.
func (m *Machine) AssistantAudioDone(itemID, transcript string) Outcome {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.acceptsLocked(itemID) {
		return Outcome{}
	}
	return m.completeLocked(itemID, strings.TrimSpace(transcript))
}

// End forces the Ended state, e.g. on connection loss. It reports whether the
// state changed.
func (m *Machine) End() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == Ended {
		return false
	}
	m.state = Ended
	return true
}

// ── Queries ──────────────────────────────────────────────────────────────────

// State returns the current turn state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// InFlight returns the in-flight assistant item id and whether it has been
// truncated. The id is empty when no assistant item is in flight.
func (m *Machine) InFlight() (itemID string, truncated bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inFlight, m.truncated
}

// Log returns a copy of the transcript log.
func (m *Machine) Log() []types.TranscriptEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.TranscriptEntry, len(m.log))
	copy(out, m.log)
	return out
}

// ── internals ────────────────────────────────────────────────────────────────

// acceptsLocked reports whether assistant output for itemID may still change
// state. An empty itemID refers to the in-flight item.
func (m *Machine) acceptsLocked(itemID string) bool {
	if m.state == Ended {
		return false
	}
	if itemID == "" {
		return true
	}
	_, done := m.completed[itemID]
	return !done
}

func (m *Machine) completeLocked(itemID, text string) Outcome {
	if itemID == "" {
		itemID = m.inFlight
	}
	if itemID != "" {
		m.completed[itemID] = struct{}{}
	}
	if itemID == m.inFlight {
		m.inFlight = ""
		m.truncated = false
		m.text.Reset()
		m.audio = nil
	}
	if m.inFlight == "" {
		m.state = Idle
	}

	if strings.TrimSpace(text) == "" {
		return Outcome{}
	}
	out := Outcome{Entry: m.appendLocked(types.RoleAssistant, text)}
	m.lastAssistant = text
	out.Extract = m.pairLocked()

	if strings.Contains(strings.ToUpper(text), m.sentinel) {
		m.state = Ended
		out.Ended = true
	}
	return out
}

func (m *Machine) appendLocked(role types.Role, text string) *types.TranscriptEntry {
	m.log = append(m.log, types.TranscriptEntry{Role: role, Text: text, Timestamp: m.now()})
	e := m.log[len(m.log)-1]
	return &e
}

// pairLocked returns the latest pair if both sides exist and it differs from
// the last pair handed out.
func (m *Machine) pairLocked() *Pair {
	if m.lastUser == "" || m.lastAssistant == "" {
		return nil
	}
	p := Pair{User: m.lastUser, Assistant: m.lastAssistant}
	if p == m.lastPair {
		return nil
	}
	m.lastPair = p
	return &p
}

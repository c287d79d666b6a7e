package conversation_test

import (
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/voiceform/internal/conversation"
	"github.com/MrWong99/voiceform/pkg/types"
)

func fixedClock() func() time.Time {
	t0 := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return func() time.Time { return t0 }
}

func TestMachine_TurnCycle(t *testing.T) {
	t.Parallel()
	m := conversation.New(conversation.WithClock(fixedClock()))

	if m.State() != conversation.Idle {
		t.Fatalf("initial state = %v", m.State())
	}

	out := m.UserText("Hello, can we get started?")
	if out.Entry == nil || out.Entry.Role != types.RoleUser {
		t.Fatalf("user entry = %+v", out.Entry)
	}
	if out.Extract != nil {
		t.Error("extraction triggered without an assistant utterance")
	}
	if m.State() != conversation.UserTurn {
		t.Errorf("state = %v, want user_turn", m.State())
	}

	m.AssistantItemCreated("a1", "")
	if m.State() != conversation.AssistantResponding {
		t.Errorf("state = %v, want assistant_responding", m.State())
	}
	if id, _ := m.InFlight(); id != "a1" {
		t.Errorf("in-flight = %q, want a1", id)
	}

	m.TextDelta("a1", "What is your ")
	m.TextDelta("a1", "business name?")
	out = m.AssistantTextDone("a1", "")
	if out.Entry == nil || out.Entry.Text != "What is your business name?" {
		t.Fatalf("assistant entry = %+v", out.Entry)
	}
	if out.Extract == nil || out.Extract.User != "Hello, can we get started?" {
		t.Errorf("extract = %+v", out.Extract)
	}
	if m.State() != conversation.Idle {
		t.Errorf("state = %v, want idle", m.State())
	}
	if id, _ := m.InFlight(); id != "" {
		t.Errorf("in-flight = %q after completion", id)
	}
	if len(m.Log()) != 2 {
		t.Errorf("log length = %d, want 2", len(m.Log()))
	}
}

func TestMachine_TruncateOncePerItem(t *testing.T) {
	t.Parallel()
	m := conversation.New()

	if _, ok := m.SpeechDetected(); ok {
		t.Fatal("truncate requested with no item in flight")
	}

	m.AssistantItemCreated("a1", "")
	id, ok := m.SpeechDetected()
	if !ok || id != "a1" {
		t.Fatalf("first speech = %q, %v; want a1, true", id, ok)
	}
	if _, ok := m.SpeechDetected(); ok {
		t.Error("second speech in the same item requested truncate again")
	}
	if _, truncated := m.InFlight(); !truncated {
		t.Error("truncated flag not set")
	}

	m.AssistantTextDone("a1", "done")
	if _, ok := m.SpeechDetected(); ok {
		t.Error("truncate requested for a completed item")
	}

	m.AssistantItemCreated("a2", "")
	if _, truncated := m.InFlight(); truncated {
		t.Error("truncated flag carried over to the next item")
	}
	if id, ok := m.SpeechDetected(); !ok || id != "a2" {
		t.Errorf("speech on new item = %q, %v", id, ok)
	}
}

func TestMachine_DuplicateItemCreated(t *testing.T) {
	t.Parallel()
	m := conversation.New()

	m.AssistantItemCreated("a1", "")
	m.TextDelta("a1", "What is ")
	if id, ok := m.SpeechDetected(); !ok || id != "a1" {
		t.Fatalf("first speech = %q, %v", id, ok)
	}

	m.AssistantItemCreated("a1", "")
	if id, truncated := m.InFlight(); id != "a1" || !truncated {
		t.Errorf("in-flight after duplicate = %q, truncated=%v", id, truncated)
	}
	if id, ok := m.SpeechDetected(); ok {
		t.Errorf("truncate requested twice for %q", id)
	}

	m.TextDelta("a1", "your name?")
	out := m.AssistantTextDone("a1", "")
	if out.Entry == nil || out.Entry.Text != "What is your name?" {
		t.Errorf("assistant entry = %+v", out.Entry)
	}
}

func TestMachine_CompletedItemNeverReused(t *testing.T) {
	t.Parallel()
	m := conversation.New()

	m.AssistantItemCreated("a1", "")
	m.AssistantTextDone("a1", "first")

	m.AssistantItemCreated("a1", "")
	if id, _ := m.InFlight(); id != "" {
		t.Errorf("completed id re-admitted as in-flight: %q", id)
	}
	if out := m.AssistantTextDone("a1", "again"); out.Entry != nil {
		t.Error("duplicate completion logged")
	}
	if len(m.Log()) != 1 {
		t.Errorf("log length = %d, want 1", len(m.Log()))
	}
}

func TestMachine_ExtractOncePerPair(t *testing.T) {
	t.Parallel()
	m := conversation.New()

	m.AssistantItemCreated("a1", "")
	m.AssistantTextDone("a1", "What is your business name?")

	out := m.UserText("My business name is Acme Corp")
	if out.Extract == nil {
		t.Fatal("no extraction for first complete pair")
	}
	if out.Extract.Assistant != "What is your business name?" || out.Extract.User != "My business name is Acme Corp" {
		t.Errorf("pair = %+v", out.Extract)
	}

	// Same text again forms the same pair.
	if out := m.UserText("My business name is Acme Corp"); out.Extract != nil {
		t.Error("extraction repeated for an identical pair")
	}

	m.AssistantItemCreated("a2", "")
	if out := m.AssistantTextDone("a2", "And the address?"); out.Extract == nil {
		t.Error("no extraction for new pair")
	}
}

func TestMachine_SentinelEnds(t *testing.T) {
	t.Parallel()
	m := conversation.New()

	m.UserText("yes, that's all correct")
	m.AssistantItemCreated("a1", "")
	out := m.AssistantTextDone("a1", "Thanks, that's everything. end of conversation.")
	if !out.Ended {
		t.Fatal("sentinel did not end the conversation")
	}
	if out.Entry == nil {
		t.Error("sentinel utterance not logged")
	}
	if m.State() != conversation.Ended {
		t.Errorf("state = %v", m.State())
	}

	// Ended is absorbing.
	if out := m.UserText("wait"); out.Entry != nil {
		t.Error("input processed after Ended")
	}
	m.AssistantItemCreated("a2", "")
	if id, _ := m.InFlight(); id != "" {
		t.Error("item admitted after Ended")
	}
	if _, ok := m.SpeechDetected(); ok {
		t.Error("truncate requested after Ended")
	}
	if m.End() {
		t.Error("End reported a state change on an ended machine")
	}
}

func TestMachine_CustomSentinel(t *testing.T) {
	t.Parallel()
	m := conversation.New(conversation.WithSentinel("goodbye now"))
	if out := m.AssistantTextDone("", "END OF CONVERSATION"); out.Ended {
		t.Error("default sentinel matched after override")
	}
	if out := m.AssistantTextDone("", "Goodbye Now!"); !out.Ended {
		t.Error("custom sentinel did not match")
	}
}

func TestMachine_AudioTranscriptionPath(t *testing.T) {
	t.Parallel()
	m := conversation.New()

	m.AssistantItemCreated("a1", "")
	m.AudioDelta("a1", []byte{1, 2})
	m.AudioDelta("a1", []byte{3, 4})

	pcm, ok := m.PendingAudio("a1")
	if !ok || len(pcm) != 4 {
		t.Fatalf("PendingAudio = %v, %v", pcm, ok)
	}
	out := m.AssistantAudioDone("a1", "  Please state your city.  ")
	if out.Entry == nil || out.Entry.Text != "Please state your city." {
		t.Errorf("entry = %+v", out.Entry)
	}

	// The transcript already completed the item; later text done is ignored.
	if out := m.AssistantTextDone("a1", "Please state your city."); out.Entry != nil {
		t.Error("item completed twice")
	}
	if _, ok := m.PendingAudio("a1"); ok {
		t.Error("audio still pending after completion")
	}
}

func TestMachine_EmptyTranscriptClearsInFlight(t *testing.T) {
	t.Parallel()
	m := conversation.New()
	m.AssistantItemCreated("a1", "")
	if out := m.AssistantAudioDone("a1", ""); out.Entry != nil {
		t.Error("empty transcript logged")
	}
	if id, _ := m.InFlight(); id != "" {
		t.Errorf("in-flight = %q", id)
	}
	if len(m.Log()) != 0 {
		t.Error("log not empty")
	}
}

func TestMachine_ItemCreatedWithText(t *testing.T) {
	t.Parallel()
	m := conversation.New()
	out := m.AssistantItemCreated("a1", "Welcome! END OF CONVERSATION")
	if out.Entry == nil || !out.Ended {
		t.Errorf("outcome = %+v", out)
	}
}

func TestMachine_ConcurrentSpeechTruncatesOnce(t *testing.T) {
	t.Parallel()
	m := conversation.New()
	m.AssistantItemCreated("a1", "")

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		count int
	)
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := m.SpeechDetected(); ok {
				mu.Lock()
				count++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if count != 1 {
		t.Errorf("truncate requested %d times, want 1", count)
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()
	if conversation.AssistantResponding.String() != "assistant_responding" {
		t.Error(conversation.AssistantResponding.String())
	}
	if conversation.State(99).String() != "unknown" {
		t.Error("unknown state name")
	}
}

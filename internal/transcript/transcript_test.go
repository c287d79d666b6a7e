package transcript_test

import (
	"testing"

	"github.com/MrWong99/voiceform/internal/transcript"
)

func TestCorrector_Correct(t *testing.T) {
	t.Parallel()

	vocabulary := []string{"Acme Plumbing", "Springfield", "  "}
	tests := []struct {
		name      string
		text      string
		want      string
		wantFixes []string
	}{
		{
			name:      "multi word business name",
			text:      "My company is acme plumming.",
			want:      "My company is Acme Plumbing.",
			wantFixes: []string{"Acme Plumbing"},
		},
		{
			name:      "city keeps punctuation",
			text:      "It is in springfeld, Illinois",
			want:      "It is in Springfield, Illinois",
			wantFixes: []string{"Springfield"},
		},
		{
			name:      "case only",
			text:      "acme plumbing",
			want:      "Acme Plumbing",
			wantFixes: []string{"Acme Plumbing"},
		},
		{
			name: "already correct",
			text: "Acme  Plumbing in Springfield.",
			want: "Acme  Plumbing in Springfield.",
		},
		{
			name: "nothing to fix",
			text: "My name is Sam",
			want: "My name is Sam",
		},
		{name: "empty", text: "", want: ""},
	}
	c := transcript.New(vocabulary)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, fixes := c.Correct(tt.text)
			if got != tt.want {
				t.Errorf("Correct(%q) = %q, want %q", tt.text, got, tt.want)
			}
			if len(fixes) != len(tt.wantFixes) {
				t.Fatalf("corrections = %+v, want %v", fixes, tt.wantFixes)
			}
			for i, f := range fixes {
				if f.Corrected != tt.wantFixes[i] {
					t.Errorf("correction %d = %q, want %q", i, f.Corrected, tt.wantFixes[i])
				}
				if f.Confidence <= 0 {
					t.Errorf("correction %d confidence = %f", i, f.Confidence)
				}
			}
		})
	}
}

// stubMatcher corrects exactly one phrase.
type stubMatcher struct{ from, to string }

func (m stubMatcher) Match(phrase string, _ []string) (string, float64, bool) {
	if phrase == m.from {
		return m.to, 1, true
	}
	return phrase, 0, false
}

func TestCorrector_WithMatcher(t *testing.T) {
	t.Parallel()
	c := transcript.New([]string{"Zed"}, transcript.WithMatcher(stubMatcher{from: "zedd", to: "Zed"}))

	got, fixes := c.Correct("call (zedd) now")
	if got != "call (Zed) now" {
		t.Errorf("Correct = %q", got)
	}
	if len(fixes) != 1 || fixes[0].Original != "zedd" {
		t.Errorf("corrections = %+v", fixes)
	}

	// Single short words are never sent to the matcher.
	c = transcript.New([]string{"Zed"}, transcript.WithMatcher(stubMatcher{from: "zed", to: "Zed"}))
	if got, _ := c.Correct("zed"); got != "zed" {
		t.Errorf("short word corrected to %q", got)
	}
}

func TestCorrector_NilAndEmpty(t *testing.T) {
	t.Parallel()
	var c *transcript.Corrector
	if got, fixes := c.Correct("hello"); got != "hello" || fixes != nil {
		t.Errorf("nil corrector = %q, %v", got, fixes)
	}
	if got, fixes := transcript.New(nil).Correct("hello"); got != "hello" || fixes != nil {
		t.Errorf("empty vocabulary = %q, %v", got, fixes)
	}
}

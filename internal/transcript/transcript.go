// Package transcript corrects speech-to-text output toward a vocabulary of
// names the caller is expected to say, such as business names and cities.
//
// Speech recognisers often mishear proper nouns ("acme plumming",
// "springfeld"). A [Corrector] slides a window over the transcript words and
// replaces each window that a [Matcher] aligns with a vocabulary entry of the
// same word count. Longer entries are tried first.
package transcript

import (
	"strings"
	"unicode"

	"github.com/MrWong99/voiceform/internal/transcript/phonetic"
)

// minWordLen is the shortest single word considered for correction. Short
// function words ("is", "in") match too many names.
const minWordLen = 4

// Correction records one substitution.
type Correction struct {
	Original   string
	Corrected  string
	Confidence float64
}

// Matcher aligns a phrase with the closest vocabulary entry. When matched is
// false, corrected must equal phrase.
type Matcher interface {
	Match(phrase string, vocabulary []string) (corrected string, confidence float64, matched bool)
}

// Option configures a [Corrector].
type Option func(*Corrector)

// WithMatcher replaces the default phonetic matcher.
func WithMatcher(m Matcher) Option {
	return func(c *Corrector) { c.matcher = m }
}

// Corrector is read-only after construction and safe for concurrent use.
type Corrector struct {
	matcher Matcher
	// byWords groups vocabulary entries by their word count.
	byWords  map[int][]string
	maxWords int
}

// New returns a Corrector for vocabulary. Blank entries are ignored.
func New(vocabulary []string, opts ...Option) *Corrector {
	c := &Corrector{
		matcher: phonetic.New(),
		byWords: make(map[int][]string),
	}
	for _, o := range opts {
		o(c)
	}
	for _, v := range vocabulary {
		n := len(strings.Fields(v))
		if n == 0 {
			continue
		}
		c.byWords[n] = append(c.byWords[n], strings.TrimSpace(v))
		c.maxWords = max(c.maxWords, n)
	}
	return c
}

// Correct returns text with every recognised vocabulary entry spelled as
// configured, and the substitutions it made. Text without matches is returned
// unchanged. Whitespace between words is normalised to single spaces when at
// least one substitution is made.
func (c *Corrector) Correct(text string) (string, []Correction) {
	if c == nil || c.maxWords == 0 {
		return text, nil
	}
	tokens := strings.Fields(text)

	var (
		out         []string
		corrections []Correction
	)
	for i := 0; i < len(tokens); {
		n, repl, corr, ok := c.matchAt(tokens[i:])
		if !ok {
			out = append(out, tokens[i])
			i++
			continue
		}
		out = append(out, repl)
		if corr.Original != corr.Corrected {
			corrections = append(corrections, corr)
		}
		i += n
	}
	if len(corrections) == 0 {
		return text, nil
	}
	return strings.Join(out, " "), corrections
}

// matchAt tries windows starting at tokens[0], longest first. It returns the
// number of tokens consumed and their replacement.
func (c *Corrector) matchAt(tokens []string) (int, string, Correction, bool) {
	for n := min(c.maxWords, len(tokens)); n >= 1; n-- {
		entries := c.byWords[n]
		if len(entries) == 0 {
			continue
		}
		lead, phrase, trail := split(strings.Join(tokens[:n], " "))
		if n == 1 && len([]rune(phrase)) < minWordLen {
			continue
		}
		if phrase == "" {
			continue
		}
		entry, conf, ok := c.matcher.Match(phrase, entries)
		if !ok {
			continue
		}
		return n, lead + entry + trail, Correction{Original: phrase, Corrected: entry, Confidence: conf}, true
	}
	return 0, "", Correction{}, false
}

// split separates leading and trailing punctuation from a phrase so that
// "springfeld," corrects to "Springfield,".
func split(s string) (lead, core, trail string) {
	notWord := func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsDigit(r) }
	core = strings.TrimLeftFunc(s, notWord)
	lead = s[:len(s)-len(core)]
	trimmed := strings.TrimRightFunc(core, notWord)
	trail = core[len(trimmed):]
	return lead, trimmed, trail
}

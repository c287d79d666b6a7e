// Package phonetic matches misheard words against a known vocabulary using
// Double Metaphone codes and Jaro-Winkler similarity.
//
// A vocabulary entry is a candidate when any of its Double Metaphone codes
// overlaps a code of the input. The candidate with the highest Jaro-Winkler
// score wins if it clears the phonetic threshold. Without a phonetic
// candidate, plain Jaro-Winkler similarity is tested against the stricter
// fuzzy threshold.
package phonetic

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.88
	defaultFuzzyThreshold    = 0.93
)

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score for a phonetic
// candidate. Default: 0.88.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) { m.phoneticThreshold = threshold }
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score when no phonetic
// candidate exists. Default: 0.93.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) { m.fuzzyThreshold = threshold }
}

// Matcher is read-only after construction and safe for concurrent use.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New returns a Matcher configured with opts.
func New(opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Match returns the vocabulary entry most similar to phrase. When matched is
// false, corrected equals phrase and confidence is 0.
func (m *Matcher) Match(phrase string, vocabulary []string) (corrected string, confidence float64, matched bool) {
	in := strings.ToLower(strings.TrimSpace(phrase))
	if in == "" || len(vocabulary) == 0 {
		return phrase, 0, false
	}
	inTokens := strings.Fields(in)
	inCodes := codes(inTokens)

	var (
		best         string
		bestScore    float64
		bestPhonetic bool
	)
	for _, entry := range vocabulary {
		e := strings.ToLower(strings.TrimSpace(entry))
		if e == "" {
			continue
		}
		eTokens := strings.Fields(e)
		score := similarity(in, e, inTokens, eTokens)

		if overlap(inCodes, codes(eTokens)) {
			if score >= m.phoneticThreshold && (!bestPhonetic || score > bestScore) {
				best, bestScore, bestPhonetic = entry, score, true
			}
			continue
		}
		if !bestPhonetic && score >= m.fuzzyThreshold && score > bestScore {
			best, bestScore = entry, score
		}
	}
	if best == "" {
		return phrase, 0, false
	}
	return best, bestScore, true
}

// codes returns the union of the Double Metaphone codes of tokens.
func codes(tokens []string) map[string]struct{} {
	out := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			out[p] = struct{}{}
		}
		if s != "" {
			out[s] = struct{}{}
		}
	}
	return out
}

func overlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for c := range a {
		if _, ok := b[c]; ok {
			return true
		}
	}
	return false
}

// similarity is the Jaro-Winkler score of the full phrases, or of the phrases
// with spaces removed when that scores higher ("spring field" vs "springfield").
func similarity(in, entry string, inTokens, entryTokens []string) float64 {
	score := matchr.JaroWinkler(in, entry, false)
	if len(inTokens) > 1 || len(entryTokens) > 1 {
		if s := matchr.JaroWinkler(strings.Join(inTokens, ""), strings.Join(entryTokens, ""), false); s > score {
			score = s
		}
	}
	return score
}

// Package transcript post-processes recognizer output before it is committed
// to the session log.
//
// Two stages run in order:
//
//  1. Repetition collapse: speech models occasionally emit a single word
//     dozens of times for a noisy segment. Runs of one word longer than the
//     configured limit are collapsed to the limit, and segments consisting of
//     nothing but such a run can be dropped entirely.
//
//  2. Glossary correction: session-specific terms (names, places) that the
//     recognizer consistently mishears are realigned using Double Metaphone
//     phonetic codes with Jaro-Winkler ranking.
package transcript

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
	defaultMaxRepeats        = 4
)

// Option is a functional option for configuring a [Corrector].
type Option func(*Corrector)

// WithGlossary sets the session glossary: the canonical spellings that
// misheard words are corrected toward.
func WithGlossary(terms []string) Option {
	return func(c *Corrector) { c.glossary = terms }
}

// WithPhoneticThreshold sets the minimum Jaro-Winkler score required for a
// phonetically-matched glossary term to be accepted. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(c *Corrector) { c.phoneticThreshold = threshold }
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score for the pure
// string-similarity fallback used when no phonetic codes overlap.
// Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(c *Corrector) { c.fuzzyThreshold = threshold }
}

// WithMaxRepeats sets how many consecutive occurrences of one word survive
// the repetition collapse. Default: 4.
func WithMaxRepeats(n int) Option {
	return func(c *Corrector) { c.maxRepeats = n }
}

// WithKeepRepeatedOnly disables dropping segments that consist of nothing
// but one over-repeated word. By default such segments are discarded.
func WithKeepRepeatedOnly() Option {
	return func(c *Corrector) { c.dropRepeatedOnly = false }
}

// Corrector cleans recognizer output. It is read-only after construction and
// safe for concurrent use.
type Corrector struct {
	glossary          []string
	phoneticThreshold float64
	fuzzyThreshold    float64
	maxRepeats        int
	dropRepeatedOnly  bool
}

// New returns a [Corrector] configured with the supplied options.
func New(opts ...Option) *Corrector {
	c := &Corrector{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
		maxRepeats:        defaultMaxRepeats,
		dropRepeatedOnly:  true,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Correct applies both stages to text. keep is false when the segment should
// not be committed to the log at all (repeated-only hallucination).
func (c *Corrector) Correct(text string) (corrected string, keep bool) {
	words := strings.Fields(text)
	if len(words) == 0 {
		return "", false
	}

	words, repeatedOnly := c.collapseRepeats(words)
	if repeatedOnly && c.dropRepeatedOnly {
		return "", false
	}

	if len(c.glossary) > 0 {
		for i, w := range words {
			words[i] = c.correctWord(w)
		}
	}
	return strings.Join(words, " "), true
}

// collapseRepeats trims runs of one word (case-insensitive) to maxRepeats
// occurrences. repeatedOnly reports that the whole input was a single word
// repeated beyond the limit.
func (c *Corrector) collapseRepeats(words []string) (out []string, repeatedOnly bool) {
	if c.maxRepeats <= 0 {
		return words, false
	}

	out = words[:0:0]
	run := 0
	collapsed := false
	for i, w := range words {
		if i > 0 && strings.EqualFold(w, words[i-1]) {
			run++
		} else {
			run = 1
		}
		if run > c.maxRepeats {
			collapsed = true
			continue
		}
		out = append(out, w)
	}

	if collapsed {
		first := words[0]
		repeatedOnly = true
		for _, w := range words {
			if !strings.EqualFold(w, first) {
				repeatedOnly = false
				break
			}
		}
	}
	return out, repeatedOnly
}

// correctWord realigns one token against the glossary. Leading and trailing
// punctuation is preserved around the replacement.
func (c *Corrector) correctWord(token string) string {
	core := strings.TrimFunc(token, isPunct)
	if core == "" {
		return token
	}
	start := strings.Index(token, core)
	prefix, suffix := token[:start], token[start+len(core):]

	replacement, ok := c.match(strings.ToLower(core))
	if !ok {
		return token
	}
	return prefix + replacement + suffix
}

// match finds the best glossary term for word. Phonetic candidates (Double
// Metaphone code overlap) are ranked by Jaro-Winkler against the phonetic
// threshold; with no phonetic candidate, a stricter pure-similarity fallback
// applies.
func (c *Corrector) match(word string) (string, bool) {
	wp, ws := matchr.DoubleMetaphone(word)

	var (
		best      string
		bestScore float64
		bestPhon  bool
	)
	for _, term := range c.glossary {
		termLower := strings.ToLower(strings.TrimSpace(term))
		if termLower == "" {
			continue
		}
		if termLower == word {
			// Already canonical, nothing to rewrite.
			return "", false
		}

		tp, ts := matchr.DoubleMetaphone(termLower)
		phonetic := codesOverlap(wp, ws, tp, ts)
		score := matchr.JaroWinkler(word, termLower, false)

		switch {
		case phonetic && score >= c.phoneticThreshold:
			if !bestPhon || score > bestScore {
				best, bestScore, bestPhon = term, score, true
			}
		case !phonetic && !bestPhon && score >= c.fuzzyThreshold && score > bestScore:
			best, bestScore = term, score
		}
	}
	return best, best != ""
}

// codesOverlap reports whether any non-empty metaphone code is shared.
func codesOverlap(ap, as, bp, bs string) bool {
	for _, a := range [2]string{ap, as} {
		if a == "" {
			continue
		}
		if a == bp || (bs != "" && a == bs) {
			return true
		}
	}
	return false
}

func isPunct(r rune) bool {
	return strings.ContainsRune(".,!?;:\"'()[]", r)
}

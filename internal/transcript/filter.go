// Package transcript gates speech-to-text output before it reaches the
// model. Whisper-family recognisers hallucinate stock phrases on silence or
// music ("thanks for watching", subtitle credits); the filter rejects those
// alongside empty and low-confidence transcripts, so the pipeline returns to
// listening instead of generating a reply to noise.
package transcript

import (
	"strings"

	"github.com/antzucaro/matchr"
)

// Rejection reasons, used as metric attributes and event detail.
const (
	ReasonEmpty         = "empty"
	ReasonLowConfidence = "low_confidence"
	ReasonHallucination = "hallucination"
	ReasonIgnored       = "ignored_phrase"
)

const (
	// defaultMinConfidence is the confidence floor below which a transcript
	// is treated as noise.
	defaultMinConfidence = 0.40

	// defaultSimilarity is the Jaro-Winkler score at which a transcript
	// counts as one of the known junk phrases. High enough that ordinary
	// short utterances ("thank you, Mary") pass.
	defaultSimilarity = 0.93
)

// hallucinations are stock phrases Whisper emits for silence or music.
// Compared case-insensitively and fuzzily, so punctuation and small
// variations still match.
var hallucinations = []string{
	"thank you.",
	"thanks for watching!",
	"thank you for watching!",
	"thank you so much for watching.",
	"please subscribe to the channel.",
	"subtitles by the amara.org community",
	"subtitles provided by",
	"www.mooji.org",
	"[music]",
	"[blank_audio]",
	"(music)",
	"you",
}

// Filter decides which transcripts reach the model. Read-only after
// construction, safe for concurrent use.
type Filter struct {
	minConfidence float64
	similarity    float64
	ignore        []string
}

// Option is a functional option for configuring a [Filter].
type Option func(*Filter)

// WithMinConfidence sets the confidence floor. Default: 0.40.
func WithMinConfidence(c float64) Option {
	return func(f *Filter) { f.minConfidence = c }
}

// WithSimilarityThreshold sets the Jaro-Winkler score at which a transcript
// matches a junk or ignored phrase. Default: 0.93.
func WithSimilarityThreshold(s float64) Option {
	return func(f *Filter) { f.similarity = s }
}

// WithIgnorePhrases adds caller-configured phrases to reject, matched the
// same way as the built-in hallucination list.
func WithIgnorePhrases(phrases ...string) Option {
	return func(f *Filter) {
		for _, p := range phrases {
			p = normalize(p)
			if p != "" {
				f.ignore = append(f.ignore, p)
			}
		}
	}
}

// New returns a Filter configured with the supplied options.
func New(opts ...Option) *Filter {
	f := &Filter{
		minConfidence: defaultMinConfidence,
		similarity:    defaultSimilarity,
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Check reports whether a transcript should reach the model. When ok is
// false, reason is one of the Reason constants.
func (f *Filter) Check(text string, confidence float64) (ok bool, reason string) {
	norm := normalize(text)
	if norm == "" {
		return false, ReasonEmpty
	}
	if confidence < f.minConfidence {
		return false, ReasonLowConfidence
	}
	if matchesAny(norm, hallucinations, f.similarity) {
		return false, ReasonHallucination
	}
	if matchesAny(norm, f.ignore, f.similarity) {
		return false, ReasonIgnored
	}
	return true, ""
}

// minPrefixLen keeps the prefix check away from short phrases like "you",
// which would otherwise swallow real utterances.
const minPrefixLen = 10

// matchesAny reports whether norm is fuzzily equal to, or prefixed by, any of
// the phrases. The prefix check catches multi-line hallucinations that start
// with a known phrase.
func matchesAny(norm string, phrases []string, threshold float64) bool {
	for _, p := range phrases {
		if matchr.JaroWinkler(norm, p, true) >= threshold {
			return true
		}
		if len(p) >= minPrefixLen && strings.HasPrefix(norm, p) {
			return true
		}
	}
	return false
}

// normalize lowercases and trims text for comparison.
func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

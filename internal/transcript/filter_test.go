package transcript

import "testing"

func TestAcceptsOrdinarySpeech(t *testing.T) {
	f := New()
	tests := []struct {
		text       string
		confidence float64
	}{
		{"What's the weather like today?", 0.9},
		{"Set a timer for five minutes.", 0.7},
		{"Tell me about the Roman empire.", 0.5},
	}
	for _, tc := range tests {
		if ok, reason := f.Check(tc.text, tc.confidence); !ok {
			t.Errorf("Check(%q, %v) rejected: %s", tc.text, tc.confidence, reason)
		}
	}
}

func TestRejectsEmpty(t *testing.T) {
	f := New()
	for _, text := range []string{"", "   ", "\n\t"} {
		ok, reason := f.Check(text, 0.99)
		if ok || reason != ReasonEmpty {
			t.Errorf("Check(%q) = %v, %q; want rejected as empty", text, ok, reason)
		}
	}
}

func TestRejectsLowConfidence(t *testing.T) {
	f := New()
	ok, reason := f.Check("mumble mumble", 0.15)
	if ok || reason != ReasonLowConfidence {
		t.Errorf("got %v, %q; want rejected as low confidence", ok, reason)
	}

	// The floor is configurable.
	strict := New(WithMinConfidence(0.8))
	if ok, _ := strict.Check("clear speech", 0.7); ok {
		t.Error("0.7 accepted despite a 0.8 floor")
	}
}

func TestRejectsHallucinations(t *testing.T) {
	f := New()
	tests := []string{
		"Thanks for watching!",
		"thank you for watching!",
		"Subtitles by the Amara.org community",
		"[MUSIC]",
	}
	for _, text := range tests {
		ok, reason := f.Check(text, 0.95)
		if ok || reason != ReasonHallucination {
			t.Errorf("Check(%q) = %v, %q; want rejected as hallucination", text, ok, reason)
		}
	}
}

func TestFuzzyMatchTolerance(t *testing.T) {
	f := New()
	// Slight punctuation drift still matches.
	if ok, _ := f.Check("Thanks for watching", 0.95); ok {
		t.Error("punctuation variant slipped through")
	}
	// A genuinely different sentence sharing a few words does not.
	if ok, _ := f.Check("thanks for helping me move last weekend", 0.95); !ok {
		t.Error("real utterance rejected as hallucination")
	}
}

func TestIgnorePhrases(t *testing.T) {
	f := New(WithIgnorePhrases("hey computer stop"))
	ok, reason := f.Check("Hey computer, stop", 0.9)
	if ok || reason != ReasonIgnored {
		t.Errorf("got %v, %q; want rejected as ignored phrase", ok, reason)
	}
}

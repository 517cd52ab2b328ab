package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; model, STT, and
// server settings require a restart and are deliberately absent.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// VADChanged is true when any speech-detection tunable changed.
	VADChanged bool

	// GenerationChanged is true when any sampling parameter changed.
	GenerationChanged bool

	// TranscriptChanged is true when the filter thresholds or ignore
	// phrases changed.
	TranscriptChanged bool

	// FallbackReplyChanged is true when turn.fallback_reply changed.
	FallbackReplyChanged bool
	NewFallbackReply     string
}

// Any reports whether the diff contains at least one change.
func (d ConfigDiff) Any() bool {
	return d.LogLevelChanged || d.VADChanged || d.GenerationChanged ||
		d.TranscriptChanged || d.FallbackReplyChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	// Compare the merged detector configs rather than the raw sections so a
	// re-decoded adaptive_threshold pointer doesn't register as a change.
	if old.VAD.Detector() != new.VAD.Detector() {
		d.VADChanged = true
	}

	if old.Generation != new.Generation {
		d.GenerationChanged = true
	}

	if old.Transcript.MinConfidence != new.Transcript.MinConfidence ||
		old.Transcript.SimilarityThreshold != new.Transcript.SimilarityThreshold ||
		!slices.Equal(old.Transcript.IgnorePhrases, new.Transcript.IgnorePhrases) {
		d.TranscriptChanged = true
	}

	if old.Turn.FallbackReply != new.Turn.FallbackReply {
		d.FallbackReplyChanged = true
		d.NewFallbackReply = new.Turn.FallbackReply
	}

	return d
}

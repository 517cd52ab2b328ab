// Package stt defines the speech-to-text contract consumed by the turn
// controller.
//
// The pipeline hands a complete speech segment — the frames accumulated
// between a confirmed speech start and the end of the utterance — to a
// Transcriber and receives a transcript with a confidence score. Transcription
// failures are never fatal to the pipeline: the controller downgrades any
// error to an empty transcript and resumes listening.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"time"
)

// Segment is an utterance captured by the voice pipeline: the ordered,
// contiguous samples of a single speech event.
type Segment struct {
	// Samples holds normalized mono samples in [-1, 1], in capture order.
	Samples []float32

	// SampleRate in Hz of the captured samples.
	SampleRate int

	// Start is the stream time at which the segment began.
	Start time.Duration
}

// Duration returns the wall-clock length of the segment.
func (s Segment) Duration() time.Duration {
	if s.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(s.Samples)) * time.Second / time.Duration(s.SampleRate)
}

// Transcript is the result of transcribing one segment.
type Transcript struct {
	// Text is the recognized speech. Empty means nothing intelligible was
	// heard.
	Text string

	// Confidence is the recognizer's overall score in [0, 1]. Zero when the
	// backend does not report confidence.
	Confidence float64
}

// Transcriber converts one speech segment into text.
//
// Transcribe blocks until recognition completes or ctx is cancelled. A nil
// error with empty Text is a valid outcome (the recognizer heard nothing).
type Transcriber interface {
	Transcribe(ctx context.Context, seg Segment) (Transcript, error)
}

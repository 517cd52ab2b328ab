// Package tts defines the speech-synthesis sink contract consumed by the turn
// controller.
//
// The pipeline depends on nothing beyond this contract: Speak returns an
// explicit completion channel (rather than a delegate callback), and Stop is
// guaranteed to take effect before the next Speak is issued. Sentence chunks
// are submitted in order and the controller never overlaps chunks from two
// generation sessions.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"errors"
)

// ErrStopped is delivered on a Speak completion channel when playback was cut
// short by Stop. It is an expected outcome, not a synthesis failure.
var ErrStopped = errors.New("tts: playback stopped")

// Sink is the abstraction over any speech synthesis backend.
type Sink interface {
	// Speak synthesises and plays text. It returns immediately with a
	// completion channel that receives exactly one value when playback ends:
	// nil on natural completion, ErrStopped if Stop cut it short, or a
	// synthesis error. The channel is buffered; the sink never blocks on it.
	//
	// A non-nil error return means synthesis could not start at all.
	Speak(ctx context.Context, text string) (<-chan error, error)

	// Stop halts any in-flight playback. It blocks until the sink has
	// actually stopped — after Stop returns, it is safe to issue the next
	// Speak without output from the two overlapping. Stopping an idle sink
	// is a no-op.
	Stop(ctx context.Context) error
}

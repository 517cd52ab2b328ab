// Package mock provides a scripted stt.Transcriber for tests.
package mock

import (
	"context"
	"sync"

	"github.com/osone/voicepipe/pkg/provider/stt"
)

// Compile-time assertion that Transcriber satisfies stt.Transcriber.
var _ stt.Transcriber = (*Transcriber)(nil)

// Transcriber returns scripted results in order and records every segment it
// receives. When the script is exhausted it returns the zero Transcript.
// Safe for concurrent use.
type Transcriber struct {
	mu       sync.Mutex
	script   []Result
	next     int
	Segments []stt.Segment
}

// Result is one scripted Transcribe outcome.
type Result struct {
	Transcript stt.Transcript
	Err        error
}

// New creates a Transcriber that replays the given results in order.
func New(script ...Result) *Transcriber {
	return &Transcriber{script: script}
}

// Transcribe records seg and returns the next scripted result.
func (t *Transcriber) Transcribe(ctx context.Context, seg stt.Segment) (stt.Transcript, error) {
	if err := ctx.Err(); err != nil {
		return stt.Transcript{}, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Segments = append(t.Segments, seg)
	if t.next >= len(t.script) {
		return stt.Transcript{}, nil
	}
	r := t.script[t.next]
	t.next++
	return r.Transcript, r.Err
}

// Calls returns how many times Transcribe has been invoked.
func (t *Transcriber) Calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.Segments)
}

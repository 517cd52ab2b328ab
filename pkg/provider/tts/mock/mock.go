// Package mock provides a controllable tts.Sink for tests.
package mock

import (
	"context"
	"sync"

	"github.com/osone/voicepipe/pkg/provider/tts"
)

// Compile-time assertion that Sink satisfies tts.Sink.
var _ tts.Sink = (*Sink)(nil)

// Sink records every Speak and Stop call in submission order. By default each
// Speak completes instantly; with Hold set, playback stays pending until
// Release or Stop, which is how barge-in ordering is exercised in tests.
type Sink struct {
	// Hold keeps playback pending until Release or Stop when true.
	Hold bool

	mu      sync.Mutex
	spoken  []string
	calls   []string // interleaved log: "speak:<text>" / "stop"
	pending []chan error
}

// New creates an idle Sink.
func New() *Sink {
	return &Sink{}
}

// Speak records text and returns its completion channel.
func (s *Sink) Speak(ctx context.Context, text string) (<-chan error, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spoken = append(s.spoken, text)
	s.calls = append(s.calls, "speak:"+text)
	done := make(chan error, 1)
	if s.Hold {
		s.pending = append(s.pending, done)
	} else {
		done <- nil
	}
	return done, nil
}

// Stop completes all pending playback with tts.ErrStopped.
func (s *Sink) Stop(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "stop")
	for _, done := range s.pending {
		done <- tts.ErrStopped
	}
	s.pending = nil
	return nil
}

// Release completes the oldest pending playback naturally. Returns false if
// nothing is pending.
func (s *Sink) Release() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return false
	}
	s.pending[0] <- nil
	s.pending = s.pending[1:]
	return true
}

// Spoken returns a copy of all texts submitted so far, in order.
func (s *Sink) Spoken() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.spoken))
	copy(out, s.spoken)
	return out
}

// Calls returns the interleaved speak/stop call log.
func (s *Sink) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.calls))
	copy(out, s.calls)
	return out
}

// PendingCount reports how many playbacks are held open.
func (s *Sink) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

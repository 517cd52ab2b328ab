package inference

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
)

// tokenBuf is the buffer depth of a session's token channel. Sized to absorb
// short bursts from the backend without blocking the generation goroutine on
// a momentarily slow consumer.
const tokenBuf = 64

// Outcome is the terminal result of a generation session. Cancelled is a
// first-class outcome, distinct from Failed.
type Outcome int32

const (
	// OutcomeActive: the session is still producing tokens.
	OutcomeActive Outcome = iota

	// OutcomeCompleted: generation ran to its natural end (end token or
	// token cap).
	OutcomeCompleted

	// OutcomeCancelled: the consumer cancelled; no tokens were emitted after
	// the cancellation was observed.
	OutcomeCancelled

	// OutcomeFailed: the backend failed; Err carries the cause.
	OutcomeFailed
)

// String returns the lowercase outcome name.
func (o Outcome) String() string {
	switch o {
	case OutcomeActive:
		return "active"
	case OutcomeCompleted:
		return "completed"
	case OutcomeCancelled:
		return "cancelled"
	case OutcomeFailed:
		return "failed"
	}
	return "unknown"
}

// Session is one streaming generation: a finite, non-restartable sequence of
// tokens with first-class cancellation.
//
// The consumer reads Tokens until the channel closes, then inspects Outcome
// and Err. Cancel may be called at any time from any goroutine; it is
// irreversible, and the engine guarantees no token is emitted after the
// cancellation flag has been observed at a token boundary.
type Session struct {
	prompt string

	tokens    chan string
	cancelled atomic.Bool
	cancelCh  chan struct{}
	outcome   atomic.Int32
	done      chan struct{}

	cancelOnce sync.Once

	mu   sync.Mutex
	text strings.Builder
	err  error
}

func newSession(prompt string) *Session {
	return &Session{
		prompt:   prompt,
		tokens:   make(chan string, tokenBuf),
		cancelCh: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Tokens returns the token stream in generation order. The channel is closed
// when the session reaches a terminal outcome.
func (s *Session) Tokens() <-chan string {
	return s.tokens
}

// Cancel signals the session to stop. Irreversible; safe to call repeatedly
// and from any goroutine. The generation stops within one token boundary of
// the flag being observed.
func (s *Session) Cancel() {
	s.cancelOnce.Do(func() {
		s.cancelled.Store(true)
		close(s.cancelCh)
	})
}

// Cancelled reports whether Cancel has been called.
func (s *Session) Cancelled() bool {
	return s.cancelled.Load()
}

// Outcome returns the session's current outcome. OutcomeActive until the
// session terminates.
func (s *Session) Outcome() Outcome {
	return Outcome(s.outcome.Load())
}

// Done returns a channel closed when the session reaches a terminal outcome.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns the terminal error for a failed session, nil otherwise.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Text returns the output accumulated so far. After Done it is the complete
// (possibly partial, if cancelled) generation.
func (s *Session) Text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.text.String()
}

// emit delivers one token to the consumer. Returns false when the session was
// cancelled or ctx expired while the consumer was not draining — the caller
// must then stop generating.
func (s *Session) emit(ctx context.Context, tok string) bool {
	select {
	case s.tokens <- tok:
	case <-s.cancelCh:
		return false
	case <-ctx.Done():
		return false
	}
	s.mu.Lock()
	s.text.WriteString(tok)
	s.mu.Unlock()
	return true
}

// finish records the terminal outcome, closes the token stream, and releases
// Done waiters. Called exactly once by the engine.
func (s *Session) finish(o Outcome, err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	s.outcome.Store(int32(o))
	close(s.tokens)
	close(s.done)
}

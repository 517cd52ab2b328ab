// Package console implements tts.Sink by printing sentences to a writer and
// pacing their "playback" at a configurable speaking rate. It stands in for a
// real synthesiser on machines without an audio device and in end-to-end
// runs, while still honouring the Speak/Stop contract the turn controller
// depends on.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/osone/voicepipe/pkg/provider/tts"
)

// defaultCharsPerSecond approximates a measured speaking rate of ~150 words
// per minute.
const defaultCharsPerSecond = 14.0

// queueDepth bounds how many sentences may be awaiting playback. The turn
// controller chunks replies into sentences, so this is generously sized.
const queueDepth = 32

// Compile-time assertion that Sink satisfies tts.Sink.
var _ tts.Sink = (*Sink)(nil)

// Sink prints each spoken sentence to a writer and blocks the completion
// channel for the time a human speaker would need. Sentences play strictly in
// submission order.
type Sink struct {
	w    io.Writer
	rate float64
	log  *slog.Logger

	queue   chan job
	stopReq chan chan struct{}
	closed  chan struct{}
	once    sync.Once
}

type job struct {
	ctx  context.Context
	text string
	done chan error
}

// Option is a functional option for configuring a Sink.
type Option func(*Sink)

// WithWriter sets the playback writer. Defaults to os.Stdout.
func WithWriter(w io.Writer) Option {
	return func(s *Sink) { s.w = w }
}

// WithCharsPerSecond sets the simulated speaking rate. Values <= 0 keep the
// default.
func WithCharsPerSecond(r float64) Option {
	return func(s *Sink) {
		if r > 0 {
			s.rate = r
		}
	}
}

// WithLogger sets the sink's logger. Defaults to slog.Default.
func WithLogger(log *slog.Logger) Option {
	return func(s *Sink) { s.log = log }
}

// New creates a console sink and starts its playback worker. Close releases
// the worker when the sink is no longer needed.
func New(opts ...Option) *Sink {
	s := &Sink{
		w:       os.Stdout,
		rate:    defaultCharsPerSecond,
		queue:   make(chan job, queueDepth),
		stopReq: make(chan chan struct{}),
		closed:  make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	go s.run()
	return s
}

// Close terminates the playback worker. Queued sentences complete with
// ErrStopped.
func (s *Sink) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

// Speak enqueues text for paced playback. The returned channel receives nil
// when the pacing interval elapses, or tts.ErrStopped when Stop (or Close)
// cut it short.
func (s *Sink) Speak(ctx context.Context, text string) (<-chan error, error) {
	if text == "" {
		return nil, errors.New("console: empty text")
	}
	select {
	case <-s.closed:
		return nil, errors.New("console: sink closed")
	default:
	}
	done := make(chan error, 1)
	select {
	case s.queue <- job{ctx: ctx, text: text, done: done}:
		return done, nil
	default:
		return nil, fmt.Errorf("console: playback queue full (%d pending)", queueDepth)
	}
}

// Stop halts in-flight playback and flushes the queue, then waits for the
// worker to acknowledge so the caller knows nothing will be printed after
// Stop returns.
func (s *Sink) Stop(ctx context.Context) error {
	ack := make(chan struct{})
	select {
	case s.stopReq <- ack:
	case <-s.closed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-ack:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run is the playback worker. It owns the queue; all completion sends happen
// here so ordering is trivially the submission order.
func (s *Sink) run() {
	for {
		select {
		case <-s.closed:
			s.flush()
			return
		case ack := <-s.stopReq:
			s.flush()
			close(ack)
		case j := <-s.queue:
			s.play(j)
		}
	}
}

// play prints one sentence and paces its completion. A stop request or
// context cancellation mid-sentence completes it with ErrStopped.
func (s *Sink) play(j job) {
	if _, err := fmt.Fprintln(s.w, j.text); err != nil {
		s.log.Warn("console sink write failed", "error", err)
		j.done <- err
		return
	}

	d := time.Duration(float64(len(j.text)) / s.rate * float64(time.Second))
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		j.done <- nil
	case <-j.ctx.Done():
		j.done <- tts.ErrStopped
		s.flush()
	case ack := <-s.stopReq:
		j.done <- tts.ErrStopped
		s.flush()
		close(ack)
	case <-s.closed:
		j.done <- tts.ErrStopped
		s.flush()
	}
}

// flush fails every queued sentence with ErrStopped.
func (s *Sink) flush() {
	for {
		select {
		case j := <-s.queue:
			j.done <- tts.ErrStopped
		default:
			return
		}
	}
}

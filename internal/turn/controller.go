// Package turn orchestrates the voice pipeline: voice activity detection,
// speech-to-text, streaming generation, sentence chunking, and speech
// synthesis, governed by a single turn-taking state machine with support for
// barge-in (the user interrupting in-progress speech).
package turn

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/osone/voicepipe/internal/events"
	"github.com/osone/voicepipe/internal/inference"
	"github.com/osone/voicepipe/internal/observe"
	"github.com/osone/voicepipe/internal/transcript"
	"github.com/osone/voicepipe/pkg/audio"
	"github.com/osone/voicepipe/pkg/provider/stt"
	"github.com/osone/voicepipe/pkg/provider/tts"
	"github.com/osone/voicepipe/pkg/vad"
)

// State is the turn controller's position in the conversation cycle.
type State int32

const (
	StateIdle State = iota
	StateListening
	StateTranscribing
	StateGenerating
	StateSpeaking
	StateCancelling
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateTranscribing:
		return "transcribing"
	case StateGenerating:
		return "generating"
	case StateSpeaking:
		return "speaking"
	case StateCancelling:
		return "cancelling"
	}
	return "unknown"
}

// vadEventKind discriminates detector callbacks forwarded to the run loop.
type vadEventKind int

const (
	evSpeechStart vadEventKind = iota
	evSpeechEnd
)

type vadEvent struct {
	kind vadEventKind
	at   time.Duration
}

// eventBuf is the depth of the detector event channel. Utterance boundaries
// arrive at human speech cadence, so a small buffer absorbs any scheduling
// hiccup of the run loop.
const eventBuf = 32

// defaultFallbackReply is spoken when generation fails, before the pipeline
// resumes listening.
const defaultFallbackReply = "Sorry, I hit a problem. Could you say that again?"

// Controller owns the turn-taking state machine. Audio frames are pushed in
// through OnFrame on the capture path; everything else happens on the Run
// loop goroutine. At most one generation session is active at any time, and a
// new utterance is never accepted while a cancelled session could still emit
// output.
type Controller struct {
	det    *vad.Detector
	stt    stt.Transcriber
	engine *inference.Engine
	sink   tts.Sink

	bus     *events.Bus
	log     *slog.Logger
	metrics *observe.Metrics

	maxChunkLen int

	// tunMu guards the tunables below, which may be swapped at runtime by a
	// config reload while the run loop reads them.
	tunMu         sync.RWMutex
	filter        *transcript.Filter
	fallbackReply string

	state  atomic.Int32
	events chan vadEvent

	// eventsDropped counts detector events lost to a full channel. Nonzero
	// values indicate the run loop stalled for longer than eventBuf
	// utterance boundaries, which should not happen in practice.
	eventsDropped atomic.Uint64

	// capturing gates segment accumulation on the audio path. Disabled from
	// end of speech until the controller is back in Listening.
	capturing atomic.Bool

	segMu    sync.Mutex
	seg      []float32
	segRate  int
	segStart time.Duration
}

// Option is a functional option for configuring a Controller.
type Option func(*Controller) error

// WithVADConfig sets the voice activity detector configuration. Defaults to
// vad.DefaultConfig.
func WithVADConfig(cfg vad.Config) Option {
	return func(c *Controller) error {
		det, err := vad.New(cfg,
			vad.OnSpeechStart(c.onSpeechStart),
			vad.OnSpeechEnd(c.onSpeechEnd),
		)
		if err != nil {
			return err
		}
		c.det = det
		return nil
	}
}

// WithFilter sets the transcript gate. Defaults to transcript.New().
func WithFilter(f *transcript.Filter) Option {
	return func(c *Controller) error { c.filter = f; return nil }
}

// WithBus sets the event bus pipeline state is published to. When unset a
// private bus is created.
func WithBus(b *events.Bus) Option {
	return func(c *Controller) error { c.bus = b; return nil }
}

// WithLogger sets the controller's logger. Defaults to slog.Default.
func WithLogger(log *slog.Logger) Option {
	return func(c *Controller) error { c.log = log; return nil }
}

// WithMetrics sets the metrics instance. Defaults to observe.DefaultMetrics.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) error { c.metrics = m; return nil }
}

// WithMaxChunkLen sets the sentence chunker's force-flush bound in bytes.
func WithMaxChunkLen(n int) Option {
	return func(c *Controller) error { c.maxChunkLen = n; return nil }
}

// WithFallbackReply sets the sentence spoken when generation fails. An empty
// string disables the fallback turn.
func WithFallbackReply(s string) Option {
	return func(c *Controller) error { c.fallbackReply = s; return nil }
}

// New constructs a Controller over the given collaborators. The speech
// recognizer is an explicitly owned instance scoped to this controller, never
// process-global state.
func New(transcriber stt.Transcriber, engine *inference.Engine, sink tts.Sink, opts ...Option) (*Controller, error) {
	c := &Controller{
		stt:           transcriber,
		engine:        engine,
		sink:          sink,
		fallbackReply: defaultFallbackReply,
		events:        make(chan vadEvent, eventBuf),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	if c.det == nil {
		det, err := vad.New(vad.DefaultConfig(),
			vad.OnSpeechStart(c.onSpeechStart),
			vad.OnSpeechEnd(c.onSpeechEnd),
		)
		if err != nil {
			return nil, err
		}
		c.det = det
	}
	if c.filter == nil {
		c.filter = transcript.New()
	}
	if c.bus == nil {
		c.bus = events.NewBus()
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	c.state.Store(int32(StateIdle))
	return c, nil
}

// State returns the controller's current state.
func (c *Controller) State() State {
	return State(c.state.Load())
}

// Detector returns the controller's voice activity detector, for runtime
// configuration and diagnostics.
func (c *Controller) Detector() *vad.Detector {
	return c.det
}

// DroppedEvents returns how many detector events were lost to a stalled run
// loop.
func (c *Controller) DroppedEvents() uint64 {
	return c.eventsDropped.Load()
}

// SetFilter swaps the transcript gate at runtime. A nil filter resets to the
// default. The swap applies from the next utterance.
func (c *Controller) SetFilter(f *transcript.Filter) {
	if f == nil {
		f = transcript.New()
	}
	c.tunMu.Lock()
	c.filter = f
	c.tunMu.Unlock()
}

// SetFallbackReply swaps the sentence spoken when generation fails. An empty
// string disables the fallback turn.
func (c *Controller) SetFallbackReply(s string) {
	c.tunMu.Lock()
	c.fallbackReply = s
	c.tunMu.Unlock()
}

// OnFrame feeds one captured audio frame through the detector and, while an
// utterance is being captured, accumulates its samples. It never blocks: the
// segment append is the only critical section, and it is short and
// fixed-size.
func (c *Controller) OnFrame(frame audio.Frame) {
	c.det.ProcessFrame(frame)

	if !c.capturing.Load() || c.det.State() == vad.StateSilence {
		return
	}
	c.segMu.Lock()
	if len(c.seg) == 0 {
		c.segRate = frame.SampleRate
		c.segStart = frame.Timestamp
	}
	c.seg = append(c.seg, frame.Samples...)
	c.segMu.Unlock()
}

// onSpeechStart runs on the audio path; it must not block.
func (c *Controller) onSpeechStart(at time.Duration) {
	select {
	case c.events <- vadEvent{kind: evSpeechStart, at: at}:
	default:
		c.eventsDropped.Add(1)
	}
}

// onSpeechEnd runs on the audio path; it must not block.
func (c *Controller) onSpeechEnd(at time.Duration) {
	select {
	case c.events <- vadEvent{kind: evSpeechEnd, at: at}:
	default:
		c.eventsDropped.Add(1)
	}
}

// Run drives the turn-taking loop until ctx is cancelled. It always returns
// ctx.Err(); every pipeline failure maps to a fallback turn and a return to
// listening, never to loop termination.
func (c *Controller) Run(ctx context.Context) error {
	c.setState(StateListening)
	c.capturing.Store(true)
	defer func() {
		c.capturing.Store(false)
		c.setState(StateIdle)
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-c.events:
			switch ev.kind {
			case evSpeechStart:
				c.bus.Publish(events.Event{Type: events.TypeSpeechStart})
			case evSpeechEnd:
				c.bus.Publish(events.Event{Type: events.TypeSpeechEnd})
				c.handleUtterance(ctx)
			}
		}
	}
}

// handleUtterance takes the buffered segment through transcription,
// generation, and playback, returning with the controller back in Listening.
// Each utterance is one span; the log lines inside it carry its trace id.
func (c *Controller) handleUtterance(ctx context.Context) {
	seg := c.takeSegment()
	defer func() {
		c.clearSegment()
		c.capturing.Store(true)
		c.setState(StateListening)
	}()

	if len(seg.Samples) == 0 {
		return
	}

	ctx, span := observe.StartSpan(ctx, "turn")
	defer span.End()
	log := observe.Logger(ctx)

	c.setState(StateTranscribing)
	sttStart := time.Now()
	tr, err := c.stt.Transcribe(ctx, seg)
	c.metrics.STTDuration.Record(ctx, time.Since(sttStart).Seconds())
	if err != nil {
		// Recognition failures downgrade to an empty transcript.
		log.Warn("transcription failed", "error", err)
		return
	}
	c.tunMu.RLock()
	filter := c.filter
	c.tunMu.RUnlock()
	if ok, reason := filter.Check(tr.Text, tr.Confidence); !ok {
		log.Debug("transcript rejected", "reason", reason, "text", tr.Text)
		c.metrics.RecordTranscriptFiltered(ctx, reason)
		return
	}
	c.bus.Publish(events.Event{Type: events.TypeTranscript, Text: tr.Text})
	log.Info("transcript accepted", "text", tr.Text, "confidence", tr.Confidence)

	c.setState(StateGenerating)
	sess, err := c.engine.StreamTurn(ctx, tr.Text)
	if err != nil {
		log.Error("starting generation", "error", err)
		c.bus.Publish(events.Event{Type: events.TypeError, Detail: err.Error()})
		c.speakFallback(ctx)
		return
	}
	c.streamToSink(ctx, sess)
}

// streamToSink forwards the session's tokens through the sentence chunker
// into the speech sink, watching for barge-in the whole time. On return the
// session has terminated and the sink is drained or stopped.
func (c *Controller) streamToSink(ctx context.Context, sess *inference.Session) {
	ch := newChunker(c.maxChunkLen)
	turnStart := time.Now()
	tokens := sess.Tokens()
	spoke := false

	// pending holds Speak completion channels in submission order; the sink
	// completes them in the same order.
	var pending []<-chan error

	speak := func(text string) {
		if !spoke {
			spoke = true
			c.metrics.TurnDuration.Record(ctx, time.Since(turnStart).Seconds())
			c.setState(StateSpeaking)
		}
		done, err := c.sink.Speak(ctx, text)
		if err != nil {
			c.log.Warn("synthesis refused chunk", "error", err)
			return
		}
		pending = append(pending, done)
		c.bus.Publish(events.Event{Type: events.TypeChunk, Text: text})
	}

	for tokens != nil || len(pending) > 0 {
		var head <-chan error
		if len(pending) > 0 {
			head = pending[0]
		}

		select {
		case <-ctx.Done():
			sess.Cancel()
			<-sess.Done()
			if err := c.sink.Stop(context.WithoutCancel(ctx)); err != nil {
				c.log.Warn("stopping playback on shutdown", "error", err)
			}
			return

		case ev := <-c.events:
			if ev.kind == evSpeechStart {
				c.bargeIn(ctx, sess)
				return
			}
			// A speech-end with no captured segment; stale, ignore.

		case tok, ok := <-tokens:
			if !ok {
				tokens = nil
				if rest := ch.flush(); rest != "" {
					speak(rest)
				}
				continue
			}
			for _, chunk := range ch.add(tok) {
				speak(chunk)
			}

		case err := <-head:
			pending = pending[1:]
			if err != nil && !errors.Is(err, tts.ErrStopped) {
				c.log.Warn("chunk playback failed", "error", err)
			}
		}
	}

	switch sess.Outcome() {
	case inference.OutcomeFailed:
		c.log.Error("generation failed", "error", sess.Err())
		c.bus.Publish(events.Event{Type: events.TypeError, Detail: sess.Err().Error()})
		if errors.Is(sess.Err(), inference.ErrModelCrashed) {
			c.bus.Publish(events.Event{Type: events.TypeModel, Detail: "crashed"})
		}
		c.speakFallback(ctx)
	case inference.OutcomeCompleted:
		if spoke {
			c.metrics.TurnsCompleted.Add(ctx, 1)
		}
	}
}

// bargeIn handles new speech detected during generation or playback. The
// ordering here is the core correctness requirement: the session is cancelled
// and playback confirmed stopped before the controller returns to Listening
// and re-enables segment capture.
func (c *Controller) bargeIn(ctx context.Context, sess *inference.Session) {
	c.log.Info("barge-in detected", "state", c.State().String())
	c.metrics.RecordBargeIn(ctx)
	c.bus.Publish(events.Event{Type: events.TypeBargeIn})
	c.setState(StateCancelling)

	sess.Cancel()
	<-sess.Done()
	if err := c.sink.Stop(ctx); err != nil {
		c.log.Warn("stopping playback for barge-in", "error", err)
	}
	// Both confirmed stopped; handleUtterance's deferred cleanup moves to
	// Listening and re-enables capture.
}

// speakFallback voices the configured failure reply and waits for it to
// finish.
func (c *Controller) speakFallback(ctx context.Context) {
	c.tunMu.RLock()
	reply := c.fallbackReply
	c.tunMu.RUnlock()
	if reply == "" {
		return
	}
	done, err := c.sink.Speak(ctx, reply)
	if err != nil {
		c.log.Warn("speaking fallback reply", "error", err)
		return
	}
	select {
	case <-done:
	case <-ctx.Done():
	}
}

// takeSegment atomically claims the buffered utterance and disables capture.
func (c *Controller) takeSegment() stt.Segment {
	c.capturing.Store(false)
	c.segMu.Lock()
	defer c.segMu.Unlock()
	seg := stt.Segment{Samples: c.seg, SampleRate: c.segRate, Start: c.segStart}
	c.seg = nil
	return seg
}

func (c *Controller) clearSegment() {
	c.segMu.Lock()
	c.seg = nil
	c.segMu.Unlock()
}

func (c *Controller) setState(s State) {
	old := State(c.state.Swap(int32(s)))
	if old == s {
		return
	}
	c.log.Debug("state change", "from", old.String(), "to", s.String())
	c.bus.Publish(events.Event{Type: events.TypeState, State: s.String()})
}

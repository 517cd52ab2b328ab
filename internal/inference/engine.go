package inference

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/osone/voicepipe/internal/observe"
)

// GenerationConfig is the tunable sampling configuration applied to every
// session the engine starts. Swapped atomically under the engine lock; an
// in-flight session keeps the parameters it started with.
type GenerationConfig struct {
	Temperature       float64
	TopP              float64
	MaxTokens         int
	RepetitionPenalty float64
	RepetitionWindow  int
	Seed              int
}

// DefaultGenerationConfig returns conservative short-reply defaults suited to
// spoken answers.
func DefaultGenerationConfig() GenerationConfig {
	return GenerationConfig{
		Temperature:       0.7,
		TopP:              0.9,
		MaxTokens:         256,
		RepetitionPenalty: 1.1,
		RepetitionWindow:  64,
	}
}

// LoadProgress reports model-load progress to an observer. done is in [0,1].
type LoadProgress func(modelID string, done float64)

// Engine owns the loaded model, the conversation context, and the single
// active generation session.
//
// Load requests coalesce: starting a new load supersedes any load still in
// flight, and the superseded load's handle (if it completes at all) is closed
// rather than installed. At most one model is resident at a time.
type Engine struct {
	backend Backend
	locator ModelLocator
	log     *slog.Logger
	metrics *observe.Metrics

	mu      sync.Mutex
	loadGen uint64
	modelID string
	family  Family
	handle  Handle
	genCfg  GenerationConfig
	convo   *Context
	active  *Session

	safetyMargin float64
	threads      int
	gpuLayers    int
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the engine's logger. Defaults to slog.Default.
func WithLogger(log *slog.Logger) EngineOption {
	return func(e *Engine) { e.log = log }
}

// WithMetrics sets the metrics instance. Defaults to observe.DefaultMetrics.
func WithMetrics(m *observe.Metrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// WithSafetyMargin sets the fraction of the model context window handed to
// the conversation context. Defaults to DefaultSafetyMargin.
func WithSafetyMargin(m float64) EngineOption {
	return func(e *Engine) {
		if m > 0 && m <= 1 {
			e.safetyMargin = m
		}
	}
}

// WithThreads sets the CPU thread count passed to the backend on load.
func WithThreads(n int) EngineOption {
	return func(e *Engine) { e.threads = n }
}

// WithGPULayers sets the number of layers offloaded to the GPU on load.
func WithGPULayers(n int) EngineOption {
	return func(e *Engine) { e.gpuLayers = n }
}

// NewEngine creates an engine over the given backend and model locator.
func NewEngine(backend Backend, locator ModelLocator, opts ...EngineOption) *Engine {
	e := &Engine{
		backend:      backend,
		locator:      locator,
		log:          slog.Default(),
		genCfg:       DefaultGenerationConfig(),
		safetyMargin: DefaultSafetyMargin,
		threads:      4,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.metrics == nil {
		e.metrics = observe.DefaultMetrics()
	}
	return e
}

// LoadModel resolves modelID, loads it through the backend, and installs the
// handle. A load started while another is in flight supersedes it: the older
// load is aborted at its next progress callback and returns
// ErrLoadSuperseded. The previously resident model (if any) is unloaded
// before the new handle is installed.
//
// progress may be nil.
func (e *Engine) LoadModel(ctx context.Context, modelID string, progress LoadProgress) error {
	path, err := e.locator.Resolve(modelID)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrModelNotFound, modelID, err)
	}
	info := LookupModel(modelID)

	e.mu.Lock()
	e.loadGen++
	gen := e.loadGen
	e.mu.Unlock()

	e.log.Info("loading model", "model", modelID, "family", info.Family, "path", path)
	start := time.Now()

	handle, err := e.backend.Load(ctx, path, LoadParams{
		ContextWindow: info.ContextWindow,
		Threads:       e.threads,
		GPULayers:     e.gpuLayers,
	}, func(done float64) bool {
		e.mu.Lock()
		current := gen == e.loadGen
		e.mu.Unlock()
		if !current {
			return false
		}
		if progress != nil {
			progress(modelID, done)
		}
		return true
	})
	if err != nil {
		if errors.Is(err, ErrLoadAborted) {
			e.log.Info("model load superseded", "model", modelID)
			e.metrics.RecordModelLoad(ctx, modelID, "superseded")
			return fmt.Errorf("%w: %s", ErrLoadSuperseded, modelID)
		}
		e.metrics.RecordModelLoad(ctx, modelID, "error")
		return fmt.Errorf("%w: %s: %v", ErrModelLoad, modelID, err)
	}

	e.mu.Lock()
	if gen != e.loadGen {
		e.mu.Unlock()
		// A later load won the race after this one passed its final
		// progress check. Never install a stale handle.
		_ = handle.Close()
		e.log.Info("model load superseded after completion", "model", modelID)
		e.metrics.RecordModelLoad(ctx, modelID, "superseded")
		return fmt.Errorf("%w: %s", ErrLoadSuperseded, modelID)
	}
	old := e.handle
	e.handle = handle
	e.modelID = modelID
	e.family = info.Family
	budget := int(float64(info.ContextWindow) * e.safetyMargin)
	if e.convo == nil {
		e.convo = NewContext(budget, "")
	} else {
		e.convo.SetBudget(budget)
	}
	e.mu.Unlock()

	if old != nil {
		if cerr := old.Close(); cerr != nil {
			e.log.Warn("closing previous model", "error", cerr)
		}
	}
	e.metrics.RecordModelLoad(ctx, modelID, "ok")
	e.metrics.ModelLoadDuration.Record(ctx, time.Since(start).Seconds())
	e.log.Info("model ready", "model", modelID, "context_window", info.ContextWindow, "budget", budget)
	return nil
}

// UnloadModel releases the resident model. Returns ErrBusy while a session
// is active; no-op when nothing is loaded.
func (e *Engine) UnloadModel() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active != nil {
		return ErrBusy
	}
	if e.handle == nil {
		return nil
	}
	err := e.handle.Close()
	e.handle = nil
	e.modelID = ""
	return err
}

// ModelID returns the resident model's identifier, empty when none is loaded.
func (e *Engine) ModelID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.modelID
}

// SetGenerationConfig swaps the sampling configuration used by subsequent
// sessions. An in-flight session is unaffected.
func (e *Engine) SetGenerationConfig(cfg GenerationConfig) {
	e.mu.Lock()
	e.genCfg = cfg
	e.mu.Unlock()
}

// SetSystemTurn replaces the conversation persona. The persona is pinned: it
// counts against the token budget but is never evicted.
func (e *Engine) SetSystemTurn(text string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.convo == nil {
		e.convo = NewContext(int(float64(defaultContextWindow)*e.safetyMargin), text)
		return
	}
	e.convo.SetSystem(text)
}

// ContextBudget returns the conversation context's token budget and current
// estimate.
func (e *Engine) ContextBudget() (budget, used int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.convo == nil {
		return 0, 0
	}
	return e.convo.Budget(), e.convo.TokenEstimate()
}

// ResetContext drops all conversation turns, keeping the persona.
func (e *Engine) ResetContext() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.convo != nil {
		e.convo.Reset()
	}
}

// StreamTurn renders the conversation plus the user utterance through the
// model family's template and starts a streaming session. On natural
// completion the user/assistant exchange is committed to the conversation
// context; a cancelled or failed session commits nothing.
//
// Returns ErrModelNotLoaded when no model is resident and ErrBusy while
// another session is active.
func (e *Engine) StreamTurn(ctx context.Context, user string) (*Session, error) {
	e.mu.Lock()
	if e.handle == nil {
		e.mu.Unlock()
		return nil, ErrModelNotLoaded
	}
	if e.active != nil {
		e.mu.Unlock()
		return nil, ErrBusy
	}
	tmpl := templateForFamily(e.family)
	convo := e.convo
	prompt := tmpl.Render(convo.System(), convo.Turns(), user)
	params := e.generateParamsLocked(tmpl.Stop())
	handle := e.handle
	sess := newSession(prompt)
	e.active = sess
	e.mu.Unlock()

	go e.run(ctx, handle, sess, params, func(text string) {
		convo.AddTurn(RoleUser, user)
		convo.AddTurn(RoleAssistant, text)
	})
	return sess, nil
}

// GenerateStream starts a streaming session over a raw prompt, bypassing the
// conversation context and template. Same concurrency rules as StreamTurn.
func (e *Engine) GenerateStream(ctx context.Context, prompt string) (*Session, error) {
	e.mu.Lock()
	if e.handle == nil {
		e.mu.Unlock()
		return nil, ErrModelNotLoaded
	}
	if e.active != nil {
		e.mu.Unlock()
		return nil, ErrBusy
	}
	params := e.generateParamsLocked(nil)
	handle := e.handle
	sess := newSession(prompt)
	e.active = sess
	e.mu.Unlock()

	go e.run(ctx, handle, sess, params, nil)
	return sess, nil
}

// Generate runs a raw prompt to completion and returns the full text.
func (e *Engine) Generate(ctx context.Context, prompt string) (string, error) {
	sess, err := e.GenerateStream(ctx, prompt)
	if err != nil {
		return "", err
	}
	for range sess.Tokens() {
	}
	if sess.Outcome() == OutcomeFailed {
		return "", sess.Err()
	}
	return sess.Text(), nil
}

func (e *Engine) generateParamsLocked(stop []string) GenerateParams {
	return GenerateParams{
		Temperature:       e.genCfg.Temperature,
		TopP:              e.genCfg.TopP,
		MaxTokens:         e.genCfg.MaxTokens,
		RepetitionPenalty: e.genCfg.RepetitionPenalty,
		RepetitionWindow:  e.genCfg.RepetitionWindow,
		StopSequences:     stop,
		Seed:              e.genCfg.Seed,
	}
}

// run drives the backend for one session and maps its result to a terminal
// outcome. commit, when non-nil, is invoked with the full text on natural
// completion only.
func (e *Engine) run(ctx context.Context, handle Handle, sess *Session, params GenerateParams, commit func(text string)) {
	start := time.Now()
	e.metrics.ActiveGenerations.Add(ctx, 1)
	defer e.metrics.ActiveGenerations.Add(ctx, -1)

	// interrupted records whether cancellation actually cut the token
	// stream short. A Cancel that lands after the backend already produced
	// its final token interrupts nothing; that generation completed.
	var emitted int
	var interrupted bool
	_, err := handle.Generate(ctx, sess.prompt, params, func(tok string) error {
		if emitted == 0 {
			e.metrics.FirstTokenLatency.Record(ctx, time.Since(start).Seconds())
		}
		if sess.Cancelled() {
			interrupted = true
			return ErrStopGeneration
		}
		if !sess.emit(ctx, tok) {
			interrupted = true
			return ErrStopGeneration
		}
		emitted++
		// Enforce the token cap here too, so a backend that ignores it
		// still terminates.
		if params.MaxTokens > 0 && emitted >= params.MaxTokens {
			return ErrStopGeneration
		}
		return nil
	})

	var outcome Outcome
	var terminal error
	switch {
	case interrupted, errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		outcome = OutcomeCancelled
	case errors.Is(err, ErrCorrupted):
		outcome = OutcomeFailed
		terminal = fmt.Errorf("%w: %v", ErrModelCrashed, err)
	case err != nil:
		outcome = OutcomeFailed
		terminal = fmt.Errorf("%w: %v", ErrGeneration, err)
	default:
		outcome = OutcomeCompleted
	}

	if outcome == OutcomeCompleted && commit != nil {
		commit(sess.Text())
	}

	e.mu.Lock()
	if e.active == sess {
		e.active = nil
	}
	crashed := errors.Is(terminal, ErrModelCrashed) && e.handle == handle
	if crashed {
		// The resident model is unusable; drop it so the next load starts
		// from a clean slate.
		e.handle = nil
		e.modelID = ""
	}
	e.mu.Unlock()

	if crashed {
		if cerr := handle.Close(); cerr != nil {
			e.log.Warn("closing crashed model", "error", cerr)
		}
		e.log.Error("model crashed during generation", "error", err)
	}

	e.metrics.GenerationDuration.Record(ctx, time.Since(start).Seconds())
	e.metrics.RecordGenerationOutcome(ctx, outcome.String())
	sess.finish(outcome, terminal)
}

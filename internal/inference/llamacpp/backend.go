// Package llamacpp implements the inference.Backend seam over llama.cpp via
// the go-llama.cpp cgo binding. Models are GGUF files loaded fully into
// memory; generation runs on the calling goroutine inside cgo.
package llamacpp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	llama "github.com/go-skynet/go-llama.cpp"

	"github.com/osone/voicepipe/internal/inference"
)

// Backend loads GGUF models through llama.cpp.
type Backend struct {
	log *slog.Logger
}

var _ inference.Backend = (*Backend)(nil)

// Option configures a Backend.
type Option func(*Backend)

// WithLogger sets the backend's logger. Defaults to slog.Default.
func WithLogger(log *slog.Logger) Option {
	return func(b *Backend) { b.log = log }
}

// New creates a llama.cpp backend.
func New(opts ...Option) *Backend {
	b := &Backend{log: slog.Default()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Load implements inference.Backend. The binding exposes no incremental load
// progress, so progress is reported at 0 before the load and 1 after; the
// abort check still runs at both points.
func (b *Backend) Load(ctx context.Context, modelPath string, p inference.LoadParams, progress func(done float64) bool) (inference.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if progress != nil && !progress(0) {
		return nil, inference.ErrLoadAborted
	}

	opts := []llama.ModelOption{
		llama.SetContext(p.ContextWindow),
		llama.SetMMap(true),
	}
	if p.GPULayers > 0 {
		opts = append(opts, llama.SetGPULayers(p.GPULayers))
	}

	model, err := llama.New(modelPath, opts...)
	if err != nil {
		return nil, fmt.Errorf("llama.cpp: loading %s: %w", modelPath, err)
	}

	if progress != nil && !progress(1) {
		model.Free()
		return nil, inference.ErrLoadAborted
	}
	b.log.Debug("llama.cpp model loaded", "path", modelPath, "context", p.ContextWindow, "gpu_layers", p.GPULayers)
	return &handle{model: model, threads: p.Threads, log: b.log}, nil
}

// handle wraps one loaded llama.cpp model. Predict is not reentrant, so all
// generation is serialized behind mu.
type handle struct {
	model   *llama.LLama
	threads int
	log     *slog.Logger

	mu     sync.Mutex
	closed bool
}

var _ inference.Handle = (*handle)(nil)

// Generate implements inference.Handle.
func (h *handle) Generate(ctx context.Context, prompt string, p inference.GenerateParams, onToken func(string) error) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return "", fmt.Errorf("%w: handle closed", inference.ErrCorrupted)
	}

	var cbErr error
	cb := func(token string) bool {
		if err := ctx.Err(); err != nil {
			cbErr = err
			return false
		}
		if onToken != nil {
			if err := onToken(token); err != nil {
				cbErr = err
				return false
			}
		}
		return true
	}

	opts := []llama.PredictOption{
		llama.SetTokenCallback(cb),
		llama.SetTemperature(float32(p.Temperature)),
		llama.SetTopP(float32(p.TopP)),
		llama.SetTokens(p.MaxTokens),
		llama.SetPenalty(float32(p.RepetitionPenalty)),
		llama.SetRepeat(p.RepetitionWindow),
	}
	if h.threads > 0 {
		opts = append(opts, llama.SetThreads(h.threads))
	}
	if len(p.StopSequences) > 0 {
		opts = append(opts, llama.SetStopWords(p.StopSequences...))
	}
	if p.Seed > 0 {
		opts = append(opts, llama.SetSeed(p.Seed))
	}

	text, err := h.model.Predict(prompt, opts...)
	switch {
	case cbErr != nil && errors.Is(cbErr, inference.ErrStopGeneration):
		return text, nil
	case cbErr != nil:
		return text, cbErr
	case err != nil:
		// A mid-predict failure can leave the llama.cpp context with a
		// partially advanced KV cache; treat the handle as unusable.
		return text, fmt.Errorf("%w: predict: %v", inference.ErrCorrupted, err)
	}
	return text, nil
}

// Close implements inference.Handle.
func (h *handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	h.model.Free()
	return nil
}

// Package mock provides test doubles for the inference.Backend and
// inference.Handle interfaces.
//
// Use Backend in unit tests to feed controlled token streams without a live
// model. All fields are safe to set before calling any method; mutating them
// during a concurrent call is the caller's responsibility.
//
// Example:
//
//	b := &mock.Backend{
//	    Tokens: []string{"Hello", ", ", "world", "."},
//	}
//	handle, _ := b.Load(ctx, "/models/test.gguf", inference.LoadParams{}, nil)
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/osone/voicepipe/internal/inference"
)

// LoadCall records a single invocation of Load.
type LoadCall struct {
	// ModelPath is the path passed to Load.
	ModelPath string
	// Params is the LoadParams passed to Load.
	Params inference.LoadParams
}

// GenerateCall records a single invocation of Handle.Generate.
type GenerateCall struct {
	// Prompt is the prompt passed to Generate.
	Prompt string
	// Params is the GenerateParams passed to Generate.
	Params inference.GenerateParams
}

// Backend is a mock implementation of inference.Backend. Every Load returns a
// Handle that streams Tokens one at a time through the generation callback.
type Backend struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// Tokens is the token sequence each handle emits per Generate call.
	Tokens []string

	// LoadErr, if non-nil, is returned from Load instead of a handle.
	LoadErr error

	// GenerateErr, if non-nil, is returned from Generate after all tokens
	// have been emitted. Use inference.ErrCorrupted to simulate a crashed
	// model.
	GenerateErr error

	// LoadSteps is the number of progress callbacks Load issues before
	// completing. Zero means a single 1.0 callback. When the progress
	// callback returns false, Load aborts with inference.ErrLoadAborted.
	LoadSteps int

	// TokenGate, when non-nil, is received from before each token is passed
	// to the generation callback. Lets tests pause generation mid-stream to
	// exercise cancellation at a token boundary.
	TokenGate <-chan struct{}

	// --- Call records (read after test) ---

	// LoadCalls records every invocation of Load in order.
	LoadCalls []LoadCall

	// GenerateCalls records every Generate invocation across all handles.
	GenerateCalls []GenerateCall

	// Closed counts Handle.Close invocations across all handles.
	Closed int
}

var _ inference.Backend = (*Backend)(nil)

// Load implements inference.Backend.
func (b *Backend) Load(ctx context.Context, modelPath string, params inference.LoadParams, progress func(done float64) bool) (inference.Handle, error) {
	b.mu.Lock()
	b.LoadCalls = append(b.LoadCalls, LoadCall{ModelPath: modelPath, Params: params})
	loadErr := b.LoadErr
	steps := b.LoadSteps
	b.mu.Unlock()

	if loadErr != nil {
		return nil, loadErr
	}
	if steps < 1 {
		steps = 1
	}
	for i := 1; i <= steps; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if progress != nil && !progress(float64(i)/float64(steps)) {
			return nil, inference.ErrLoadAborted
		}
	}
	return &handle{backend: b}, nil
}

// handle is the Handle returned by Backend.Load.
type handle struct {
	backend *Backend
	mu      sync.Mutex
	closed  bool
}

var _ inference.Handle = (*handle)(nil)

// Generate implements inference.Handle.
func (h *handle) Generate(ctx context.Context, prompt string, params inference.GenerateParams, onToken func(string) error) (string, error) {
	b := h.backend
	b.mu.Lock()
	b.GenerateCalls = append(b.GenerateCalls, GenerateCall{Prompt: prompt, Params: params})
	tokens := b.Tokens
	genErr := b.GenerateErr
	gate := b.TokenGate
	b.mu.Unlock()

	var out []byte
	for _, tok := range tokens {
		if gate != nil {
			select {
			case <-gate:
			case <-ctx.Done():
				return string(out), ctx.Err()
			}
		}
		if err := ctx.Err(); err != nil {
			return string(out), err
		}
		if onToken != nil {
			if err := onToken(tok); err != nil {
				if errors.Is(err, inference.ErrStopGeneration) {
					return string(out), nil
				}
				return string(out), err
			}
		}
		out = append(out, tok...)
	}
	return string(out), genErr
}

// Close implements inference.Handle.
func (h *handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	h.backend.mu.Lock()
	h.backend.Closed++
	h.backend.mu.Unlock()
	return nil
}

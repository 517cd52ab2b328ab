package inference

import (
	"context"
	"errors"
)

// ErrStopGeneration is returned by a token callback to stop generation
// cleanly. Backends must treat it as a normal end of stream, not a failure.
var ErrStopGeneration = errors.New("inference: stop generation")

// ErrLoadAborted is returned by a Backend.Load whose progress callback asked
// it to stop. The engine maps it to [ErrLoadSuperseded].
var ErrLoadAborted = errors.New("inference: load aborted")

// ErrCorrupted marks a backend failure that leaves internal state unusable.
// Backends wrap it into errors they return when the runtime can no longer be
// trusted; the engine responds by self-unloading.
var ErrCorrupted = errors.New("inference: backend state corrupted")

// LoadParams carries runtime settings for loading a model.
type LoadParams struct {
	// ContextWindow is the token context size to allocate.
	ContextWindow int

	// Threads is the CPU thread count for inference. Zero lets the backend
	// pick.
	Threads int

	// GPULayers is how many layers to offload to the GPU. Zero keeps the
	// model on the CPU.
	GPULayers int
}

// GenerateParams carries per-generation sampling settings.
type GenerateParams struct {
	// Temperature controls sampling randomness; 0 requests greedy decoding.
	Temperature float64

	// TopP is the nucleus sampling mass in (0, 1].
	TopP float64

	// MaxTokens caps generated tokens. The engine also enforces this cap
	// itself, so backends that ignore it still terminate.
	MaxTokens int

	// RepetitionPenalty is applied over the last RepetitionWindow tokens.
	RepetitionPenalty float64

	// RepetitionWindow is the sliding window size for the penalty.
	RepetitionWindow int

	// StopSequences end generation when emitted (model end tokens resolved
	// from the prompt template).
	StopSequences []string

	// Seed fixes the sampler RNG; values <= 0 mean nondeterministic.
	Seed int
}

// Backend is the model-runtime seam: a factory that loads weights into a
// usable [Handle]. Implementations wrap a concrete runtime (llama.cpp via
// cgo, or a scripted double for tests).
//
// Implementations must be safe for concurrent use.
type Backend interface {
	// Load reads the model at modelPath. progress is called with a
	// monotonically non-decreasing fraction in [0, 1]; returning false asks
	// the backend to abandon the load and return [ErrLoadAborted] as soon as
	// practical.
	Load(ctx context.Context, modelPath string, p LoadParams, progress func(done float64) (cont bool)) (Handle, error)
}

// Handle is a loaded model. At most one Generate may run on a Handle at a
// time; the engine serializes access.
type Handle interface {
	// Generate produces text for prompt, invoking onToken for every token in
	// generation order. When onToken returns an error the backend must stop
	// within one generation step and emit nothing further:
	// [ErrStopGeneration] is a clean stop (Generate returns the text so far
	// with a nil error); any other callback error is propagated.
	//
	// Errors wrapping [ErrCorrupted] signal that the handle is no longer
	// usable.
	Generate(ctx context.Context, prompt string, p GenerateParams, onToken func(token string) error) (string, error)

	// Close releases the model's resources synchronously. The handle must
	// not be used afterwards.
	Close() error
}

package inference

import "errors"

// Sentinel errors forming the engine's failure taxonomy. All errors returned
// by the engine wrap exactly one of these; callers dispatch with errors.Is.
var (
	// ErrModelNotFound: the requested model id has no files on disk.
	ErrModelNotFound = errors.New("inference: model not found")

	// ErrModelLoad: model files exist but could not be loaded (corrupt or
	// incompatible weights).
	ErrModelLoad = errors.New("inference: model load failed")

	// ErrModelNotLoaded: a generation was requested with no live model.
	ErrModelNotLoaded = errors.New("inference: no model loaded")

	// ErrModelCrashed: a generation failure corrupted backend state; the
	// engine has self-unloaded and requires an explicit reload.
	ErrModelCrashed = errors.New("inference: model crashed")

	// ErrGeneration: a recoverable generation failure; the engine remains
	// loaded and usable.
	ErrGeneration = errors.New("inference: generation failed")

	// ErrBusy: a second generation was requested while a session is active.
	ErrBusy = errors.New("inference: generation already in progress")

	// ErrLoadSuperseded: this load request was coalesced away by a newer one.
	ErrLoadSuperseded = errors.New("inference: load superseded by a newer request")
)

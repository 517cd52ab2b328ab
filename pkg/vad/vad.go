// Package vad implements energy-based voice activity detection with an
// adaptive noise floor.
//
// The detector consumes normalized audio frames from the capture callback,
// tracks short-term RMS energy against an effective threshold, and drives a
// four-state machine (Silence → PossibleSpeech → Speaking → EndOfSpeech) that
// fires speech-start and speech-end callbacks exactly once per utterance.
//
// ProcessFrame is designed for the real-time audio path: it is synchronous,
// O(frame size), never blocks, and publishes shared state through atomic
// snapshot pointers rather than holding a mutex during computation. A
// Detector expects frames from a single goroutine; configuration updates and
// diagnostics reads are safe from any goroutine.
package vad

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/osone/voicepipe/pkg/audio"
)

// noiseFloorAlpha is the EMA smoothing factor for the background-noise
// estimate. Each sub-threshold frame in Silence contributes 5%.
const noiseFloorAlpha = 0.95

// State is the detector's position in the utterance state machine.
type State int32

const (
	// StateSilence: no speech activity; the noise floor adapts here.
	StateSilence State = iota

	// StatePossibleSpeech: energy crossed the threshold but has not yet been
	// sustained for SpeechStartDuration.
	StatePossibleSpeech

	// StateSpeaking: a confirmed utterance is in progress.
	StateSpeaking

	// StateEndOfSpeech: the utterance just ended; resets to Silence
	// immediately, so this value is only ever observed inside the speech-end
	// callback.
	StateEndOfSpeech
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateSilence:
		return "silence"
	case StatePossibleSpeech:
		return "possible_speech"
	case StateSpeaking:
		return "speaking"
	case StateEndOfSpeech:
		return "end_of_speech"
	}
	return "unknown"
}

// Diagnostics is an atomically published snapshot of the detector's
// observable state, refreshed after every processed frame.
type Diagnostics struct {
	// State is the machine state after the last frame.
	State State

	// AudioLevel is the RMS energy of the last valid frame.
	AudioLevel float64

	// NoiseFloor is the current background-noise estimate.
	NoiseFloor float64

	// ConfiguredThreshold is Config.EnergyThreshold at the last frame.
	ConfiguredThreshold float64

	// EffectiveThreshold is the threshold actually compared against:
	// NoiseFloor + ConfiguredThreshold in adaptive mode.
	EffectiveThreshold float64

	// DroppedFrames counts malformed frames absorbed without processing.
	DroppedFrames uint64
}

// Option configures a [Detector] during construction.
type Option func(*Detector)

// OnSpeechStart registers fn to be called exactly once per utterance when
// speech is confirmed (PossibleSpeech → Speaking). The timestamp is the
// stream time at the end of the confirming frame. fn runs synchronously on
// the audio callback path and must not block.
func OnSpeechStart(fn func(at time.Duration)) Option {
	return func(d *Detector) { d.onSpeechStart = fn }
}

// OnSpeechEnd registers fn to be called exactly once per utterance when the
// trailing silence exceeds SilenceDuration. Same calling discipline as
// [OnSpeechStart].
func OnSpeechEnd(fn func(at time.Duration)) Option {
	return func(d *Detector) { d.onSpeechEnd = fn }
}

// Detector is an energy VAD with an adaptive noise floor.
type Detector struct {
	cfg  atomic.Pointer[Config]
	diag atomic.Pointer[Diagnostics]

	// cfgMu serializes read-modify-write config updates. The audio path
	// never takes it; frames read cfg through the atomic pointer only.
	cfgMu sync.Mutex

	onSpeechStart func(at time.Duration)
	onSpeechEnd   func(at time.Duration)

	// State below is owned by the audio-callback goroutine.
	state      State
	noiseFloor float64
	speechRun  time.Duration
	silenceRun time.Duration
	dropped    uint64
	lastLevel  float64
}

// New creates a Detector with the given configuration. Returns a
// configuration error (wrapping [ErrConfiguration]) if cfg is invalid.
func New(cfg Config, opts ...Option) (*Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	d := &Detector{}
	for _, o := range opts {
		o(d)
	}
	c := cfg
	d.cfg.Store(&c)
	d.diag.Store(&Diagnostics{
		ConfiguredThreshold: c.EnergyThreshold,
		EffectiveThreshold:  c.EnergyThreshold,
	})
	return d, nil
}

// ProcessFrame evaluates one frame and advances the state machine. Malformed
// frames are counted and otherwise ignored; they never advance state or
// surface an error on the audio path.
//
// The only allocation is the fixed-size diagnostics snapshot published at the
// end of the frame.
func (d *Detector) ProcessFrame(f audio.Frame) {
	cfg := d.cfg.Load()

	if !f.Valid() {
		d.dropped++
		d.publish(cfg)
		return
	}

	energy := audio.RMS(f.Samples)
	dur := f.Duration()
	frameEnd := f.Timestamp + dur
	d.lastLevel = energy

	effective := cfg.EnergyThreshold
	if cfg.AdaptiveThreshold {
		effective += d.noiseFloor
	}

	switch d.state {
	case StateSilence:
		if energy >= effective {
			d.state = StatePossibleSpeech
			d.speechRun = dur
			d.maybeConfirm(cfg, frameEnd)
		} else {
			// Only sub-threshold frames feed the noise floor, so the
			// estimate never learns from speech.
			d.noiseFloor = noiseFloorAlpha*d.noiseFloor + (1-noiseFloorAlpha)*energy
		}

	case StatePossibleSpeech:
		if energy >= effective {
			d.speechRun += dur
			d.maybeConfirm(cfg, frameEnd)
		} else {
			// Contiguity requirement: any dip before confirmation discards
			// the candidate run.
			d.state = StateSilence
			d.speechRun = 0
		}

	case StateSpeaking:
		if energy < effective {
			d.silenceRun += dur
			if d.silenceRun >= cfg.SilenceDuration {
				d.state = StateEndOfSpeech
				if d.onSpeechEnd != nil {
					d.onSpeechEnd(frameEnd)
				}
				// EndOfSpeech resets to Silence immediately, ready for the
				// next segment.
				d.state = StateSilence
				d.speechRun = 0
				d.silenceRun = 0
			}
		} else {
			// Debounce: speech resumed before SilenceDuration elapsed.
			d.silenceRun = 0
		}
	}

	d.publish(cfg)
}

// maybeConfirm fires the PossibleSpeech → Speaking transition once the
// contiguous run reaches SpeechStartDuration.
func (d *Detector) maybeConfirm(cfg *Config, at time.Duration) {
	if d.speechRun < cfg.SpeechStartDuration {
		return
	}
	d.state = StateSpeaking
	d.silenceRun = 0
	if d.onSpeechStart != nil {
		d.onSpeechStart(at)
	}
}

// publish stores a fresh diagnostics snapshot.
func (d *Detector) publish(cfg *Config) {
	effective := cfg.EnergyThreshold
	if cfg.AdaptiveThreshold {
		effective += d.noiseFloor
	}
	d.diag.Store(&Diagnostics{
		State:               d.state,
		AudioLevel:          d.lastLevel,
		NoiseFloor:          d.noiseFloor,
		ConfiguredThreshold: cfg.EnergyThreshold,
		EffectiveThreshold:  effective,
		DroppedFrames:       d.dropped,
	})
}

// Snapshot returns the diagnostics published after the most recent frame.
// Safe to call from any goroutine.
func (d *Detector) Snapshot() Diagnostics {
	return *d.diag.Load()
}

// State returns the machine state after the most recent frame.
func (d *Detector) State() State {
	return d.diag.Load().State
}

// Config returns the active configuration snapshot.
func (d *Detector) Config() Config {
	return *d.cfg.Load()
}

// UpdateConfig validates and applies cfg as an atomic snapshot swap. A frame
// being evaluated concurrently sees either the previous or the new
// configuration in full, never a mix.
func (d *Detector) UpdateConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	d.cfgMu.Lock()
	defer d.cfgMu.Unlock()
	c := cfg
	d.cfg.Store(&c)
	return nil
}

// SetSensitivity maps s in [0, 1] onto EnergyThreshold — monotonically, so a
// higher sensitivity always yields a lower threshold — and applies the result
// as a config snapshot swap. Values outside [0, 1] are clamped.
func (d *Detector) SetSensitivity(s float64) {
	d.cfgMu.Lock()
	defer d.cfgMu.Unlock()
	c := *d.cfg.Load()
	if s < 0 {
		s = 0
	} else if s > 1 {
		s = 1
	}
	c.Sensitivity = s
	c.EnergyThreshold = thresholdForSensitivity(s)
	d.cfg.Store(&c)
}

// Reset clears utterance-tracking state (machine position, run timers) for a
// stream restart. The noise floor and dropped-frame count are preserved.
func (d *Detector) Reset() {
	d.state = StateSilence
	d.speechRun = 0
	d.silenceRun = 0
	d.publish(d.cfg.Load())
}

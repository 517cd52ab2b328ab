package vad

import (
	"errors"
	"fmt"
	"time"
)

// ErrConfiguration is wrapped by all configuration validation failures.
// Check with errors.Is.
var ErrConfiguration = errors.New("vad: invalid configuration")

// Sensitivity→threshold mapping bounds. The curve is a linear interpolation:
//
//	threshold = maxSensThreshold - s×(maxSensThreshold − minSensThreshold)
//
// so sensitivity 0 yields the highest threshold (least sensitive) and
// sensitivity 1 the lowest. Only monotonicity is load-bearing; the linear
// form and the RMS bounds were chosen to bracket the 0.015 default used by
// comparable energy detectors.
const (
	minSensThreshold = 0.005
	maxSensThreshold = 0.10
)

// Config holds the tunable parameters of a [Detector].
//
// Config values are treated as an immutable snapshot once applied: the
// detector swaps a pointer to the whole struct so the audio callback never
// observes a partially-updated configuration.
type Config struct {
	// EnergyThreshold is the RMS energy above which a frame counts as speech.
	// When AdaptiveThreshold is set this is added on top of the tracked noise
	// floor. Range: (0, 1].
	EnergyThreshold float64

	// SilenceDuration is how long energy must stay below the effective
	// threshold before an active utterance is considered ended.
	SilenceDuration time.Duration

	// SpeechStartDuration is how long energy must stay contiguously above the
	// effective threshold before speech is confirmed and OnSpeechStart fires.
	SpeechStartDuration time.Duration

	// AdaptiveThreshold enables the background-noise floor: the effective
	// threshold becomes noiseFloor + EnergyThreshold.
	AdaptiveThreshold bool

	// Sensitivity in [0, 1] records the last value passed to
	// [Detector.SetSensitivity]. It is informational; EnergyThreshold is the
	// operative value.
	Sensitivity float64
}

// DefaultConfig returns a configuration suitable for 16 kHz mono capture with
// 10–30 ms frames.
func DefaultConfig() Config {
	return Config{
		EnergyThreshold:     0.015,
		SilenceDuration:     1500 * time.Millisecond,
		SpeechStartDuration: 200 * time.Millisecond,
		AdaptiveThreshold:   true,
		Sensitivity:         0.5,
	}
}

// Validate reports every problem found with the configuration, joined into a
// single error wrapping [ErrConfiguration].
func (c Config) Validate() error {
	var errs []error
	if c.EnergyThreshold <= 0 || c.EnergyThreshold > 1 {
		errs = append(errs, fmt.Errorf("energy_threshold %v out of range (0, 1]", c.EnergyThreshold))
	}
	if c.SilenceDuration <= 0 {
		errs = append(errs, fmt.Errorf("silence_duration %v must be positive", c.SilenceDuration))
	}
	if c.SpeechStartDuration <= 0 {
		errs = append(errs, fmt.Errorf("speech_start_duration %v must be positive", c.SpeechStartDuration))
	}
	if c.Sensitivity < 0 || c.Sensitivity > 1 {
		errs = append(errs, fmt.Errorf("sensitivity %v out of range [0, 1]", c.Sensitivity))
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrConfiguration, errors.Join(errs...))
}

// thresholdForSensitivity maps s in [0, 1] to an RMS threshold. Strictly
// decreasing in s: higher sensitivity means a lower threshold.
func thresholdForSensitivity(s float64) float64 {
	if s < 0 {
		s = 0
	}
	if s > 1 {
		s = 1
	}
	return maxSensThreshold - s*(maxSensThreshold-minSensThreshold)
}

// Package audio defines the frame type that flows through the voice pipeline
// and small helpers for working with it.
//
// Frames are the atomic unit of audio transport: a capture source pushes them
// into the VAD, the turn controller accumulates them into speech segments, and
// the STT adapter consumes the accumulated samples. Samples are normalized
// float32 in [-1, 1]; conversion from wire formats (16-bit PCM, Opus) happens
// at the capture boundary.
package audio

import (
	"math"
	"time"
)

// Frame is a single fixed-size chunk of captured audio.
//
// A Frame is owned by the caller of the VAD for the duration of ProcessFrame;
// the pipeline copies samples out when it needs to retain them.
type Frame struct {
	// Samples holds normalized mono samples in [-1, 1].
	Samples []float32

	// SampleRate in Hz (e.g., 16000 for STT-optimised capture).
	SampleRate int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Duration returns the wall-clock length of the frame, or 0 for an invalid frame.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 || len(f.Samples) == 0 {
		return 0
	}
	return time.Duration(len(f.Samples)) * time.Second / time.Duration(f.SampleRate)
}

// Valid reports whether the frame can be processed: non-empty samples, a
// positive sample rate, and no NaN or Inf sample values.
func (f Frame) Valid() bool {
	if len(f.Samples) == 0 || f.SampleRate <= 0 {
		return false
	}
	for _, s := range f.Samples {
		f64 := float64(s)
		if math.IsNaN(f64) || math.IsInf(f64, 0) {
			return false
		}
	}
	return true
}

// FromPCM16 converts interleaved 16-bit little-endian PCM bytes to a Frame,
// downmixing multi-channel input to mono by averaging. Trailing partial
// samples are dropped.
func FromPCM16(pcm []byte, sampleRate, channels int, ts time.Duration) Frame {
	if channels < 1 {
		channels = 1
	}
	bytesPerSample := 2 * channels
	n := len(pcm) / bytesPerSample
	samples := make([]float32, n)
	for i := 0; i < n; i++ {
		var acc float64
		for c := 0; c < channels; c++ {
			off := i*bytesPerSample + c*2
			v := int16(uint16(pcm[off]) | uint16(pcm[off+1])<<8)
			acc += float64(v) / 32768.0
		}
		samples[i] = float32(acc / float64(channels))
	}
	return Frame{Samples: samples, SampleRate: sampleRate, Timestamp: ts}
}

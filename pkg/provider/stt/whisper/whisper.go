// Package whisper implements stt.Transcriber backed by the whisper.cpp CGO
// bindings. The whisper.cpp static library (libwhisper.a) and headers
// (whisper.h) must be available at link time via LIBRARY_PATH and
// C_INCLUDE_PATH environment variables.
package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/osone/voicepipe/pkg/provider/stt"
)

// whisperSampleRate is the sample rate whisper.cpp models are trained on.
// Segments captured at other rates are resampled before inference.
const whisperSampleRate = 16000

const defaultLanguage = "en"

// Compile-time assertion that Transcriber satisfies stt.Transcriber.
var _ stt.Transcriber = (*Transcriber)(nil)

// Transcriber is an stt.Transcriber using a locally loaded whisper.cpp model.
// The model is loaded once at construction and shared across all calls; each
// Transcribe creates its own whisper context, so concurrent calls are safe.
type Transcriber struct {
	model    whisperlib.Model
	language string
}

// Option is a functional option for configuring a Transcriber.
type Option func(*Transcriber)

// WithLanguage sets the BCP-47 language code for transcription (e.g., "en",
// "de"). Defaults to "en".
func WithLanguage(lang string) Option {
	return func(t *Transcriber) { t.language = lang }
}

// New loads the whisper.cpp model from modelPath. The caller must Close the
// Transcriber when it is no longer needed.
func New(modelPath string, opts ...Option) (*Transcriber, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	t := &Transcriber{model: model, language: defaultLanguage}
	for _, o := range opts {
		o(t)
	}
	return t, nil
}

// Close releases the whisper model.
func (t *Transcriber) Close() error {
	if t.model != nil {
		return t.model.Close()
	}
	return nil
}

// Transcribe runs whisper.cpp inference over the segment and returns the
// concatenated text of all recognized sub-segments.
func (t *Transcriber) Transcribe(ctx context.Context, seg stt.Segment) (stt.Transcript, error) {
	if err := ctx.Err(); err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: context already cancelled: %w", err)
	}
	if len(seg.Samples) == 0 {
		return stt.Transcript{}, nil
	}

	samples := seg.Samples
	if seg.SampleRate != whisperSampleRate {
		samples = resampleLinear(samples, seg.SampleRate, whisperSampleRate)
	}

	// Each context is NOT thread-safe, but the model can be shared across
	// goroutines, so a fresh context per call keeps Transcribe concurrent-safe.
	wctx, err := t.model.NewContext()
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: create context: %w", err)
	}

	if err := wctx.SetLanguage(t.language); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", t.language, "error", err)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	var probSum float64
	var probCount int
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stt.Transcript{}, fmt.Errorf("whisper: read segment: %w", err)
		}
		text := strings.TrimSpace(segment.Text)
		if text == "" {
			continue
		}
		parts = append(parts, text)
		for _, tok := range segment.Tokens {
			probSum += float64(tok.P)
			probCount++
		}
	}

	tr := stt.Transcript{Text: strings.Join(parts, " ")}
	if probCount > 0 {
		tr.Confidence = probSum / float64(probCount)
	}
	return tr, nil
}

// resampleLinear converts samples from rate in to rate out using linear
// interpolation. Good enough for speech recognition input; not intended for
// playback quality.
func resampleLinear(in []float32, inRate, outRate int) []float32 {
	if inRate == outRate || inRate <= 0 || outRate <= 0 || len(in) == 0 {
		return in
	}
	n := int(int64(len(in)) * int64(outRate) / int64(inRate))
	if n == 0 {
		return nil
	}
	out := make([]float32, n)
	ratio := float64(inRate) / float64(outRate)
	for i := range out {
		pos := float64(i) * ratio
		j := int(pos)
		if j >= len(in)-1 {
			out[i] = in[len(in)-1]
			continue
		}
		frac := float32(pos - float64(j))
		out[i] = in[j]*(1-frac) + in[j+1]*frac
	}
	return out
}

package audio

import (
	"fmt"
	"time"

	"layeh.com/gopus"
)

// maxOpusFrameSize is the largest decoded frame gopus may return: 120 ms at
// 48 kHz per channel.
const maxOpusFrameSize = 5760

// OpusDecoder converts Opus packets pushed by a network capture source into
// mono [Frame] values. PCM capture sources construct Frames directly via
// [FromPCM16]; this adapter exists for sources that deliver Opus-framed audio.
//
// An OpusDecoder is not safe for concurrent use; decode packets from a single
// goroutine per stream.
type OpusDecoder struct {
	dec        *gopus.Decoder
	sampleRate int
	channels   int

	// elapsed tracks the running timestamp assigned to decoded frames.
	elapsed time.Duration
}

// NewOpusDecoder creates a decoder for an Opus stream with the given sample
// rate and channel count. Multi-channel streams are downmixed to mono on decode.
func NewOpusDecoder(sampleRate, channels int) (*OpusDecoder, error) {
	if channels < 1 || channels > 2 {
		return nil, fmt.Errorf("audio: opus decoder supports 1 or 2 channels, got %d", channels)
	}
	dec, err := gopus.NewDecoder(sampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("audio: create opus decoder: %w", err)
	}
	return &OpusDecoder{dec: dec, sampleRate: sampleRate, channels: channels}, nil
}

// Decode decodes one Opus packet into a mono Frame. Frame timestamps are
// assigned from the running total of decoded audio so downstream consumers see
// a monotone stream clock.
func (d *OpusDecoder) Decode(packet []byte) (Frame, error) {
	pcm, err := d.dec.Decode(packet, maxOpusFrameSize, false)
	if err != nil {
		return Frame{}, fmt.Errorf("audio: decode opus packet: %w", err)
	}

	n := len(pcm) / d.channels
	samples := make([]float32, n)
	for i := 0; i < n; i++ {
		var acc float64
		for c := 0; c < d.channels; c++ {
			acc += float64(pcm[i*d.channels+c]) / 32768.0
		}
		samples[i] = float32(acc / float64(d.channels))
	}

	f := Frame{Samples: samples, SampleRate: d.sampleRate, Timestamp: d.elapsed}
	d.elapsed += f.Duration()
	return f, nil
}

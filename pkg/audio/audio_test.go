package audio

import (
	"math"
	"testing"
	"time"
)

func TestRMS(t *testing.T) {
	tests := []struct {
		name    string
		samples []float32
		want    float64
	}{
		{name: "empty", samples: nil, want: 0},
		{name: "silence", samples: make([]float32, 160), want: 0},
		{name: "constant amplitude", samples: []float32{0.5, -0.5, 0.5, -0.5}, want: 0.5},
		{name: "full scale", samples: []float32{1, -1}, want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RMS(tt.samples)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("RMS() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRMSSine(t *testing.T) {
	// A sine wave of amplitude A has RMS A/sqrt(2).
	samples := make([]float32, 16000)
	for i := range samples {
		samples[i] = float32(0.8 * math.Sin(2*math.Pi*440*float64(i)/16000))
	}
	want := 0.8 / math.Sqrt2
	got := RMS(samples)
	if math.Abs(got-want) > 0.01 {
		t.Errorf("RMS(sine) = %v, want ≈%v", got, want)
	}
}

func TestFrameValid(t *testing.T) {
	tests := []struct {
		name  string
		frame Frame
		want  bool
	}{
		{name: "ok", frame: Frame{Samples: []float32{0, 0.1}, SampleRate: 16000}, want: true},
		{name: "empty samples", frame: Frame{SampleRate: 16000}, want: false},
		{name: "zero rate", frame: Frame{Samples: []float32{0}}, want: false},
		{name: "negative rate", frame: Frame{Samples: []float32{0}, SampleRate: -1}, want: false},
		{name: "nan sample", frame: Frame{Samples: []float32{float32(math.NaN())}, SampleRate: 16000}, want: false},
		{name: "inf sample", frame: Frame{Samples: []float32{float32(math.Inf(1))}, SampleRate: 16000}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.frame.Valid(); got != tt.want {
				t.Errorf("Valid() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFrameDuration(t *testing.T) {
	f := Frame{Samples: make([]float32, 160), SampleRate: 16000}
	if got := f.Duration(); got != 10*time.Millisecond {
		t.Errorf("Duration() = %v, want 10ms", got)
	}
	if got := (Frame{}).Duration(); got != 0 {
		t.Errorf("Duration() of zero frame = %v, want 0", got)
	}
}

func TestFromPCM16(t *testing.T) {
	t.Run("mono", func(t *testing.T) {
		// Two samples: 16384 (0.5) and -16384 (-0.5), little endian.
		pcm := []byte{0x00, 0x40, 0x00, 0xC0}
		f := FromPCM16(pcm, 16000, 1, 0)
		if len(f.Samples) != 2 {
			t.Fatalf("got %d samples, want 2", len(f.Samples))
		}
		if math.Abs(float64(f.Samples[0])-0.5) > 1e-4 || math.Abs(float64(f.Samples[1])+0.5) > 1e-4 {
			t.Errorf("samples = %v, want [0.5, -0.5]", f.Samples)
		}
	})

	t.Run("stereo downmix", func(t *testing.T) {
		// One stereo sample: L=16384 (0.5), R=0 → mono 0.25.
		pcm := []byte{0x00, 0x40, 0x00, 0x00}
		f := FromPCM16(pcm, 48000, 2, 0)
		if len(f.Samples) != 1 {
			t.Fatalf("got %d samples, want 1", len(f.Samples))
		}
		if math.Abs(float64(f.Samples[0])-0.25) > 1e-4 {
			t.Errorf("sample = %v, want 0.25", f.Samples[0])
		}
	})

	t.Run("trailing partial sample dropped", func(t *testing.T) {
		f := FromPCM16([]byte{0x00, 0x40, 0x12}, 16000, 1, 0)
		if len(f.Samples) != 1 {
			t.Errorf("got %d samples, want 1", len(f.Samples))
		}
	})
}

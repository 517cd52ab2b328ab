package whisper

import (
	"math"
	"testing"
)

func TestResampleLinear(t *testing.T) {
	t.Run("identity when rates match", func(t *testing.T) {
		in := []float32{0.1, 0.2, 0.3}
		out := resampleLinear(in, 16000, 16000)
		if len(out) != len(in) {
			t.Fatalf("got %d samples, want %d", len(out), len(in))
		}
	})

	t.Run("downsample halves length", func(t *testing.T) {
		in := make([]float32, 480)
		out := resampleLinear(in, 48000, 16000)
		if len(out) != 160 {
			t.Errorf("got %d samples, want 160", len(out))
		}
	})

	t.Run("constant signal preserved", func(t *testing.T) {
		in := make([]float32, 480)
		for i := range in {
			in[i] = 0.5
		}
		out := resampleLinear(in, 48000, 16000)
		for i, s := range out {
			if math.Abs(float64(s)-0.5) > 1e-6 {
				t.Fatalf("out[%d] = %v, want 0.5", i, s)
			}
		}
	})

	t.Run("empty input", func(t *testing.T) {
		if out := resampleLinear(nil, 48000, 16000); len(out) != 0 {
			t.Errorf("got %d samples, want 0", len(out))
		}
	})
}

func TestNewRejectsEmptyPath(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("New(\"\") succeeded, want error")
	}
}

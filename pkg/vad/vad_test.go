package vad

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/osone/voicepipe/pkg/audio"
)

const (
	testRate     = 16000
	testFrameLen = 160 // 10 ms
)

// frame builds a constant-amplitude frame whose RMS equals level.
func frame(level float64, ts time.Duration) audio.Frame {
	samples := make([]float32, testFrameLen)
	for i := range samples {
		samples[i] = float32(level)
	}
	return audio.Frame{Samples: samples, SampleRate: testRate, Timestamp: ts}
}

// feed pushes n consecutive frames of the given level starting at ts and
// returns the timestamp after the last frame.
func feed(d *Detector, level float64, n int, ts time.Duration) time.Duration {
	for i := 0; i < n; i++ {
		d.ProcessFrame(frame(level, ts))
		ts += 10 * time.Millisecond
	}
	return ts
}

func testConfig() Config {
	return Config{
		EnergyThreshold:     0.05,
		SilenceDuration:     1500 * time.Millisecond,
		SpeechStartDuration: 200 * time.Millisecond,
		AdaptiveThreshold:   false,
		Sensitivity:         0.5,
	}
}

func TestBelowThresholdStaysSilent(t *testing.T) {
	started := 0
	d, err := New(testConfig(), OnSpeechStart(func(time.Duration) { started++ }))
	if err != nil {
		t.Fatal(err)
	}

	feed(d, 0.01, 500, 0) // 5 s of sub-threshold audio

	if got := d.State(); got != StateSilence {
		t.Errorf("state = %v, want silence", got)
	}
	if started != 0 {
		t.Errorf("onSpeechStart fired %d times, want 0", started)
	}
}

func TestSyntheticUtterance(t *testing.T) {
	// 2 s silence, 1 s at energy 0.08, 2 s silence. With
	// speechStartDuration=0.2s and silenceDuration=1.5s the start must fire
	// ≈0.2 s after onset and the end ≈1.5 s after offset.
	var starts, ends []time.Duration
	d, err := New(testConfig(),
		OnSpeechStart(func(at time.Duration) { starts = append(starts, at) }),
		OnSpeechEnd(func(at time.Duration) { ends = append(ends, at) }),
	)
	if err != nil {
		t.Fatal(err)
	}

	ts := feed(d, 0.001, 200, 0) // 0–2 s
	ts = feed(d, 0.08, 100, ts)  // 2–3 s
	feed(d, 0.001, 200, ts)      // 3–5 s

	if len(starts) != 1 {
		t.Fatalf("onSpeechStart fired %d times, want 1", len(starts))
	}
	if len(ends) != 1 {
		t.Fatalf("onSpeechEnd fired %d times, want 1", len(ends))
	}

	const tol = 10 * time.Millisecond
	if want := 2200 * time.Millisecond; absDelta(starts[0], want) > tol {
		t.Errorf("speech start at %v, want ≈%v", starts[0], want)
	}
	if want := 4500 * time.Millisecond; absDelta(ends[0], want) > tol {
		t.Errorf("speech end at %v, want ≈%v", ends[0], want)
	}
	if got := d.State(); got != StateSilence {
		t.Errorf("final state = %v, want silence", got)
	}
}

func TestPossibleSpeechAbortsOnDip(t *testing.T) {
	started := 0
	d, err := New(testConfig(), OnSpeechStart(func(time.Duration) { started++ }))
	if err != nil {
		t.Fatal(err)
	}

	// 100 ms above threshold (below the 200 ms confirmation bar), then a dip.
	ts := feed(d, 0.08, 10, 0)
	if got := d.State(); got != StatePossibleSpeech {
		t.Fatalf("state after 100ms speech = %v, want possible_speech", got)
	}
	feed(d, 0.001, 1, ts)

	if got := d.State(); got != StateSilence {
		t.Errorf("state after dip = %v, want silence", got)
	}
	if started != 0 {
		t.Errorf("onSpeechStart fired %d times, want 0", started)
	}
}

func TestSilenceTimerDebounced(t *testing.T) {
	ends := 0
	d, err := New(testConfig(), OnSpeechEnd(func(time.Duration) { ends++ }))
	if err != nil {
		t.Fatal(err)
	}

	ts := feed(d, 0.08, 50, 0) // confirmed speech
	if got := d.State(); got != StateSpeaking {
		t.Fatalf("state = %v, want speaking", got)
	}

	// 1 s of silence (short of the 1.5 s bound), then speech resumes.
	ts = feed(d, 0.001, 100, ts)
	if ends != 0 {
		t.Fatalf("onSpeechEnd fired during debounce window")
	}
	ts = feed(d, 0.08, 10, ts)
	if got := d.State(); got != StateSpeaking {
		t.Errorf("state after resume = %v, want speaking", got)
	}

	// Now a full silence period ends the utterance exactly once.
	feed(d, 0.001, 160, ts)
	if ends != 1 {
		t.Errorf("onSpeechEnd fired %d times, want 1", ends)
	}
}

func TestAdaptiveNoiseFloor(t *testing.T) {
	cfg := testConfig()
	cfg.AdaptiveThreshold = true
	d, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}

	feed(d, 0.02, 300, 0) // steady background hum below threshold

	snap := d.Snapshot()
	if snap.NoiseFloor <= 0 {
		t.Fatalf("noise floor did not adapt: %v", snap.NoiseFloor)
	}
	if snap.EffectiveThreshold <= snap.ConfiguredThreshold {
		t.Errorf("effective threshold %v not raised above configured %v",
			snap.EffectiveThreshold, snap.ConfiguredThreshold)
	}
	// EMA should converge toward the hum level.
	if math.Abs(snap.NoiseFloor-0.02) > 0.005 {
		t.Errorf("noise floor = %v, want ≈0.02", snap.NoiseFloor)
	}
}

func TestSensitivityMonotone(t *testing.T) {
	d, err := New(testConfig())
	if err != nil {
		t.Fatal(err)
	}

	d.SetSensitivity(0.0)
	low := d.Config().EnergyThreshold
	d.SetSensitivity(1.0)
	high := d.Config().EnergyThreshold

	if low <= high {
		t.Errorf("sensitivity 0 threshold %v not strictly above sensitivity 1 threshold %v", low, high)
	}

	// Spot-check strict monotonicity across the range.
	prev := math.Inf(1)
	for s := 0.0; s <= 1.0; s += 0.1 {
		th := thresholdForSensitivity(s)
		if th >= prev {
			t.Fatalf("threshold not strictly decreasing at sensitivity %v", s)
		}
		prev = th
	}
}

func TestMalformedFramesAbsorbed(t *testing.T) {
	d, err := New(testConfig())
	if err != nil {
		t.Fatal(err)
	}

	ts := feed(d, 0.08, 50, 0)
	d.ProcessFrame(audio.Frame{})                                           // empty
	d.ProcessFrame(audio.Frame{Samples: []float32{0.1}})                    // zero rate
	d.ProcessFrame(frame(math.NaN(), ts))                                   // NaN samples
	d.ProcessFrame(audio.Frame{Samples: []float32{0}, SampleRate: -16000})  // negative rate

	snap := d.Snapshot()
	if snap.DroppedFrames != 4 {
		t.Errorf("dropped frames = %d, want 4", snap.DroppedFrames)
	}
	if snap.State != StateSpeaking {
		t.Errorf("state disturbed by malformed frames: %v", snap.State)
	}
}

func TestDeterministicReplay(t *testing.T) {
	run := func() (starts, ends []time.Duration) {
		d, err := New(testConfig(),
			OnSpeechStart(func(at time.Duration) { starts = append(starts, at) }),
			OnSpeechEnd(func(at time.Duration) { ends = append(ends, at) }),
		)
		if err != nil {
			t.Fatal(err)
		}
		ts := feed(d, 0.001, 73, 0)
		ts = feed(d, 0.09, 41, ts)
		ts = feed(d, 0.001, 200, ts)
		ts = feed(d, 0.07, 90, ts)
		feed(d, 0.001, 170, ts)
		return starts, ends
	}

	s1, e1 := run()
	s2, e2 := run()

	if len(s1) != len(s2) || len(e1) != len(e2) {
		t.Fatalf("replay produced different event counts: %d/%d vs %d/%d",
			len(s1), len(e1), len(s2), len(e2))
	}
	for i := range s1 {
		if s1[i] != s2[i] {
			t.Errorf("start[%d] differs between replays: %v vs %v", i, s1[i], s2[i])
		}
	}
	for i := range e1 {
		if e1[i] != e2[i] {
			t.Errorf("end[%d] differs between replays: %v vs %v", i, e1[i], e2[i])
		}
	}
}

func TestUpdateConfigValidation(t *testing.T) {
	d, err := New(testConfig())
	if err != nil {
		t.Fatal(err)
	}

	bad := testConfig()
	bad.EnergyThreshold = -1
	bad.SilenceDuration = 0
	err = d.UpdateConfig(bad)
	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("UpdateConfig error = %v, want ErrConfiguration", err)
	}
	// Active config must be untouched after a rejected update.
	if got := d.Config().EnergyThreshold; got != 0.05 {
		t.Errorf("config mutated by rejected update: threshold = %v", got)
	}

	good := testConfig()
	good.EnergyThreshold = 0.03
	if err := d.UpdateConfig(good); err != nil {
		t.Fatalf("UpdateConfig(valid) = %v", err)
	}
	if got := d.Config().EnergyThreshold; got != 0.03 {
		t.Errorf("threshold after update = %v, want 0.03", got)
	}
}

func TestConcurrentConfigUpdates(t *testing.T) {
	d, err := New(testConfig())
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			d.SetSensitivity(float64(i%11) / 10)
		}
	}()

	// Frames processed while the settings goroutine churns must always see a
	// coherent config: the effective threshold equals a value the sensitivity
	// curve can produce (never a torn intermediate).
	ts := time.Duration(0)
	for i := 0; i < 1000; i++ {
		d.ProcessFrame(frame(0.01, ts))
		ts += 10 * time.Millisecond
		th := d.Snapshot().ConfiguredThreshold
		if th < minSensThreshold || th > maxSensThreshold {
			t.Fatalf("observed threshold %v outside sensitivity curve range", th)
		}
	}
	<-done
}

func absDelta(a, b time.Duration) time.Duration {
	if a > b {
		return a - b
	}
	return b - a
}

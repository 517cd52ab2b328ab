package config_test

import (
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/osone/voicepipe/internal/config"
	"github.com/osone/voicepipe/internal/inference"
	"github.com/osone/voicepipe/pkg/vad"
)

func TestLogLevel_Level(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in   config.LogLevel
		want slog.Level
	}{
		{config.LogDebug, slog.LevelDebug},
		{config.LogInfo, slog.LevelInfo},
		{config.LogWarn, slog.LevelWarn},
		{config.LogError, slog.LevelError},
		{"", slog.LevelInfo},
		{"bananas", slog.LevelInfo},
	}
	for _, tc := range cases {
		if got := tc.in.Level(); got != tc.want {
			t.Errorf("LogLevel(%q).Level(): got %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestDuration_Unmarshal(t *testing.T) {
	t.Parallel()
	yaml := `
vad:
  silence_duration: 1200ms
  speech_start_duration: 250ms
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := cfg.VAD.SilenceDuration.Std(); got != 1200*time.Millisecond {
		t.Errorf("silence_duration: got %v, want 1.2s", got)
	}
	if got := cfg.VAD.SpeechStartDuration.Std(); got != 250*time.Millisecond {
		t.Errorf("speech_start_duration: got %v, want 250ms", got)
	}
}

func TestDuration_RejectsBareNumbers(t *testing.T) {
	t.Parallel()
	yaml := `
vad:
  silence_duration: 1500
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for a bare-number duration, got nil")
	}
}

func TestVADConfig_DetectorMergesDefaults(t *testing.T) {
	t.Parallel()
	def := vad.DefaultConfig()

	// Empty section: everything comes from the detector defaults.
	got := config.VADConfig{}.Detector()
	if got != def {
		t.Errorf("empty section: got %+v, want defaults %+v", got, def)
	}

	// Partial section: set fields win, the rest stay default.
	adaptive := false
	got = config.VADConfig{
		EnergyThreshold:   0.03,
		AdaptiveThreshold: &adaptive,
	}.Detector()
	if got.EnergyThreshold != 0.03 {
		t.Errorf("energy_threshold: got %v, want 0.03", got.EnergyThreshold)
	}
	if got.AdaptiveThreshold {
		t.Error("adaptive_threshold: explicit false was overridden")
	}
	if got.SilenceDuration != def.SilenceDuration {
		t.Errorf("silence_duration: got %v, want default %v", got.SilenceDuration, def.SilenceDuration)
	}
}

func TestGenerationConfig_EngineMergesDefaults(t *testing.T) {
	t.Parallel()
	def := inference.DefaultGenerationConfig()

	got := config.GenerationConfig{}.Engine()
	if got != def {
		t.Errorf("empty section: got %+v, want defaults %+v", got, def)
	}

	got = config.GenerationConfig{Temperature: 0.2, MaxTokens: 64}.Engine()
	if got.Temperature != 0.2 {
		t.Errorf("temperature: got %v, want 0.2", got.Temperature)
	}
	if got.MaxTokens != 64 {
		t.Errorf("max_tokens: got %d, want 64", got.MaxTokens)
	}
	if got.TopP != def.TopP {
		t.Errorf("top_p: got %v, want default %v", got.TopP, def.TopP)
	}
}

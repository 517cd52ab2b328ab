package config_test

import (
	"strings"
	"testing"

	"github.com/osone/voicepipe/internal/config"
)

func TestLoadFromReader_FullConfig(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  listen_addr: ":8080"
  log_level: debug
models:
  dir: /var/lib/voicepipe/models
  default: qwen-1.5b
  system_prompt: "You are a concise voice assistant."
  threads: 6
  context_safety_margin: 0.8
generation:
  temperature: 0.6
  max_tokens: 192
vad:
  energy_threshold: 0.02
  silence_duration: 1s
stt:
  model_path: /var/lib/voicepipe/whisper/ggml-base.en.bin
  language: en
transcript:
  min_confidence: 0.5
  ignore_phrases:
    - subscribe to my channel
turn:
  max_chunk_len: 200
  fallback_reply: "Sorry, say that again?"
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Models.Default != "qwen-1.5b" {
		t.Errorf("models.default: got %q, want qwen-1.5b", cfg.Models.Default)
	}
	if cfg.Generation.MaxTokens != 192 {
		t.Errorf("generation.max_tokens: got %d, want 192", cfg.Generation.MaxTokens)
	}
	if len(cfg.Transcript.IgnorePhrases) != 1 {
		t.Errorf("transcript.ignore_phrases: got %d entries, want 1", len(cfg.Transcript.IgnorePhrases))
	}
	if cfg.Turn.FallbackReply != "Sorry, say that again?" {
		t.Errorf("turn.fallback_reply: got %q", cfg.Turn.FallbackReply)
	}
}

func TestLoadFromReader_UnknownFieldRejected(t *testing.T) {
	t.Parallel()
	yaml := `
models:
  dir: /models
  defualt: qwen-1.5b
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: bananas
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for invalid log level, got nil")
	}
	if !strings.Contains(err.Error(), "log_level") {
		t.Errorf("error should mention log_level, got: %v", err)
	}
}

func TestValidate_DefaultModelRequiresDir(t *testing.T) {
	t.Parallel()
	yaml := `
models:
  default: qwen-1.5b
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for models.default without models.dir, got nil")
	}
	if !strings.Contains(err.Error(), "models.dir") {
		t.Errorf("error should mention models.dir, got: %v", err)
	}
}

func TestValidate_CollectsAllFailures(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: loud
models:
  context_safety_margin: 1.5
generation:
  temperature: 3.0
  top_p: 1.5
transcript:
  min_confidence: 2
turn:
  max_chunk_len: -1
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected joined validation error, got nil")
	}
	for _, want := range []string{
		"log_level",
		"context_safety_margin",
		"temperature",
		"top_p",
		"min_confidence",
		"max_chunk_len",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %s, got: %v", want, err)
		}
	}
}

func TestValidate_VADRangeChecked(t *testing.T) {
	t.Parallel()
	yaml := `
vad:
  energy_threshold: 5
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for out-of-range energy_threshold, got nil")
	}
	if !strings.Contains(err.Error(), "energy_threshold") {
		t.Errorf("error should mention energy_threshold, got: %v", err)
	}
}

func TestValidate_EmptyConfigIsValid(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader("{}\n"))
	if err != nil {
		t.Fatalf("empty config should validate, got: %v", err)
	}
	if cfg.Server.ListenAddr != "" {
		t.Errorf("listen_addr: got %q, want empty", cfg.Server.ListenAddr)
	}
}

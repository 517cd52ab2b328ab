// Package config provides the configuration schema, loader, and file watcher
// for the voicepipe server.
package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/osone/voicepipe/internal/inference"
	"github.com/osone/voicepipe/pkg/vad"
	"gopkg.in/yaml.v3"
)

// LogLevel controls log verbosity for the voicepipe server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level maps l onto the corresponding [slog.Level]. Unknown or empty values
// map to info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Duration is a [time.Duration] that unmarshals from YAML strings such as
// "1500ms" or "2s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string like \"500ms\": %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns d as a [time.Duration].
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the root configuration structure for voicepipe.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
//
// Zero values mean "use the component's built-in default"; [Validate] only
// checks fields that are explicitly set.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Models     ModelsConfig     `yaml:"models"`
	Generation GenerationConfig `yaml:"generation"`
	VAD        VADConfig        `yaml:"vad"`
	STT        STTConfig        `yaml:"stt"`
	Transcript TranscriptConfig `yaml:"transcript"`
	Turn       TurnConfig       `yaml:"turn"`
}

// ServerConfig holds network and logging settings for the event server.
type ServerConfig struct {
	// ListenAddr is the TCP address the event/health server listens on
	// (e.g., ":8080"). Empty disables the server.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// ModelsConfig locates the on-device model weights and sizes the runtime.
type ModelsConfig struct {
	// Dir is the models directory. Weights are resolved as <dir>/<id>.gguf
	// or <dir>/<id>/model.gguf.
	Dir string `yaml:"dir"`

	// Default is the model id loaded at startup (e.g., "qwen-1.5b").
	Default string `yaml:"default"`

	// SystemPrompt is the persona text pinned at the head of the conversation
	// context. Never evicted.
	SystemPrompt string `yaml:"system_prompt"`

	// Threads is the CPU thread count for inference. 0 means the engine default.
	Threads int `yaml:"threads"`

	// GPULayers is how many layers to offload to the GPU. 0 keeps everything
	// on the CPU.
	GPULayers int `yaml:"gpu_layers"`

	// ContextSafetyMargin is the fraction of the model's context window the
	// conversation context may use, in (0, 1]. 0 means the engine default.
	ContextSafetyMargin float64 `yaml:"context_safety_margin"`
}

// GenerationConfig holds the sampling parameters applied to every turn.
type GenerationConfig struct {
	Temperature       float64 `yaml:"temperature"`
	TopP              float64 `yaml:"top_p"`
	MaxTokens         int     `yaml:"max_tokens"`
	RepetitionPenalty float64 `yaml:"repetition_penalty"`
	RepetitionWindow  int     `yaml:"repetition_window"`
	Seed              int     `yaml:"seed"`
}

// Engine merges g over [inference.DefaultGenerationConfig] and returns the
// result. Zero fields keep the default.
func (g GenerationConfig) Engine() inference.GenerationConfig {
	cfg := inference.DefaultGenerationConfig()
	if g.Temperature != 0 {
		cfg.Temperature = g.Temperature
	}
	if g.TopP != 0 {
		cfg.TopP = g.TopP
	}
	if g.MaxTokens != 0 {
		cfg.MaxTokens = g.MaxTokens
	}
	if g.RepetitionPenalty != 0 {
		cfg.RepetitionPenalty = g.RepetitionPenalty
	}
	if g.RepetitionWindow != 0 {
		cfg.RepetitionWindow = g.RepetitionWindow
	}
	if g.Seed != 0 {
		cfg.Seed = g.Seed
	}
	return cfg
}

// VADConfig holds the speech-detection tunables.
type VADConfig struct {
	EnergyThreshold     float64  `yaml:"energy_threshold"`
	SilenceDuration     Duration `yaml:"silence_duration"`
	SpeechStartDuration Duration `yaml:"speech_start_duration"`

	// AdaptiveThreshold enables the tracked noise floor. Pointer so that an
	// absent key keeps the detector default rather than forcing false.
	AdaptiveThreshold *bool `yaml:"adaptive_threshold"`

	Sensitivity float64 `yaml:"sensitivity"`
}

// Detector merges v over [vad.DefaultConfig] and returns the result. Zero
// fields keep the default.
func (v VADConfig) Detector() vad.Config {
	cfg := vad.DefaultConfig()
	if v.EnergyThreshold != 0 {
		cfg.EnergyThreshold = v.EnergyThreshold
	}
	if v.SilenceDuration != 0 {
		cfg.SilenceDuration = v.SilenceDuration.Std()
	}
	if v.SpeechStartDuration != 0 {
		cfg.SpeechStartDuration = v.SpeechStartDuration.Std()
	}
	if v.AdaptiveThreshold != nil {
		cfg.AdaptiveThreshold = *v.AdaptiveThreshold
	}
	if v.Sensitivity != 0 {
		cfg.Sensitivity = v.Sensitivity
	}
	return cfg
}

// STTConfig locates the on-device speech recogniser.
type STTConfig struct {
	// ModelPath is the whisper.cpp weights file (e.g., ggml-base.en.bin).
	ModelPath string `yaml:"model_path"`

	// Language hints the recogniser's language (e.g., "en"). Empty means
	// auto-detect.
	Language string `yaml:"language"`
}

// TranscriptConfig tunes the transcript quality filter.
type TranscriptConfig struct {
	// MinConfidence rejects transcripts below this mean confidence, in [0, 1].
	MinConfidence float64 `yaml:"min_confidence"`

	// SimilarityThreshold is the Jaro-Winkler score above which a transcript
	// counts as a known hallucination phrase, in [0, 1].
	SimilarityThreshold float64 `yaml:"similarity_threshold"`

	// IgnorePhrases are extra phrases to reject on top of the built-in
	// hallucination list.
	IgnorePhrases []string `yaml:"ignore_phrases"`
}

// TurnConfig tunes the turn controller.
type TurnConfig struct {
	// MaxChunkLen force-flushes a sentence chunk once it reaches this many
	// bytes, boundary or not. 0 means the controller default.
	MaxChunkLen int `yaml:"max_chunk_len"`

	// FallbackReply is spoken when a turn fails mid-generation.
	FallbackReply string `yaml:"fallback_reply"`
}

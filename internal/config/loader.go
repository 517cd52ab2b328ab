package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/osone/voicepipe/internal/inference"
	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Models
	if cfg.Models.Default != "" && cfg.Models.Dir == "" {
		errs = append(errs, fmt.Errorf("models.dir is required when models.default is set"))
	}
	if cfg.Models.Threads < 0 {
		errs = append(errs, fmt.Errorf("models.threads %d must not be negative", cfg.Models.Threads))
	}
	if cfg.Models.GPULayers < 0 {
		errs = append(errs, fmt.Errorf("models.gpu_layers %d must not be negative", cfg.Models.GPULayers))
	}
	if m := cfg.Models.ContextSafetyMargin; m != 0 && (m <= 0 || m > 1) {
		errs = append(errs, fmt.Errorf("models.context_safety_margin %v is out of range (0, 1]", m))
	}
	validateModelID(cfg.Models.Default)

	// Generation
	if t := cfg.Generation.Temperature; t < 0 || t > 2 {
		errs = append(errs, fmt.Errorf("generation.temperature %v is out of range [0, 2]", t))
	}
	if p := cfg.Generation.TopP; p < 0 || p > 1 {
		errs = append(errs, fmt.Errorf("generation.top_p %v is out of range [0, 1]", p))
	}
	if cfg.Generation.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("generation.max_tokens %d must not be negative", cfg.Generation.MaxTokens))
	}
	if cfg.Generation.RepetitionPenalty < 0 {
		errs = append(errs, fmt.Errorf("generation.repetition_penalty %v must not be negative", cfg.Generation.RepetitionPenalty))
	}
	if cfg.Generation.RepetitionWindow < 0 {
		errs = append(errs, fmt.Errorf("generation.repetition_window %d must not be negative", cfg.Generation.RepetitionWindow))
	}

	// VAD — merge over the detector defaults and reuse its validation so the
	// two layers cannot disagree about ranges.
	if err := cfg.VAD.Detector().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("vad: %w", err))
	}

	// Transcript
	if c := cfg.Transcript.MinConfidence; c < 0 || c > 1 {
		errs = append(errs, fmt.Errorf("transcript.min_confidence %v is out of range [0, 1]", c))
	}
	if s := cfg.Transcript.SimilarityThreshold; s < 0 || s > 1 {
		errs = append(errs, fmt.Errorf("transcript.similarity_threshold %v is out of range [0, 1]", s))
	}

	// Turn
	if cfg.Turn.MaxChunkLen < 0 {
		errs = append(errs, fmt.Errorf("turn.max_chunk_len %d must not be negative", cfg.Turn.MaxChunkLen))
	}

	return errors.Join(errs...)
}

// validateModelID logs a warning when id is non-empty and resolves to no
// known model family. An unrecognised id still loads with generic defaults,
// so this is a typo guard rather than an error.
func validateModelID(id string) {
	if id == "" {
		return
	}
	if inference.LookupModel(id).Family == inference.FamilyGeneric {
		slog.Warn("model id not in catalogue — loading with a generic template and conservative context window",
			"model", id,
		)
	}
}

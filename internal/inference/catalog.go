package inference

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Family identifies a model lineage and selects the prompt template strategy.
type Family string

const (
	FamilyLlama   Family = "llama"
	FamilyQwen    Family = "qwen"
	FamilyGemma   Family = "gemma"
	FamilyGeneric Family = "generic"
)

// ModelInfo is the catalogue entry for a known model id.
type ModelInfo struct {
	// ID is the short model identifier (e.g., "qwen-1.5b").
	ID string

	// Family selects the prompt template.
	Family Family

	// ContextWindow is the model's maximum context size in tokens.
	ContextWindow int
}

// catalog lists the models the assistant ships presets for. Quantisation
// variants share the base id's entry.
var catalog = map[string]ModelInfo{
	"qwen-1.5b": {ID: "qwen-1.5b", Family: FamilyQwen, ContextWindow: 32768},
	"qwen-3b":   {ID: "qwen-3b", Family: FamilyQwen, ContextWindow: 32768},
	"gemma-2b":  {ID: "gemma-2b", Family: FamilyGemma, ContextWindow: 8192},
	"llama-1b":  {ID: "llama-1b", Family: FamilyLlama, ContextWindow: 131072},
	"llama-3b":  {ID: "llama-3b", Family: FamilyLlama, ContextWindow: 131072},
}

// defaultContextWindow is assumed for models missing from the catalogue.
const defaultContextWindow = 4096

// LookupModel resolves id to its catalogue entry. Unknown ids fall back to a
// family inferred from the id prefix with a conservative context window; this
// happens once at load time, never during generation.
func LookupModel(id string) ModelInfo {
	base := strings.TrimSuffix(strings.TrimSuffix(id, "-q4"), "-q8")
	if info, ok := catalog[base]; ok {
		info.ID = id
		return info
	}
	info := ModelInfo{ID: id, Family: FamilyGeneric, ContextWindow: defaultContextWindow}
	for _, fam := range []Family{FamilyLlama, FamilyQwen, FamilyGemma} {
		if strings.HasPrefix(strings.ToLower(id), string(fam)) {
			info.Family = fam
			break
		}
	}
	return info
}

// ModelLocator resolves a model id to a weights path. It is the narrow
// contract to the settings/persistence layer that owns the models directory;
// the engine only needs existence checks and paths.
type ModelLocator interface {
	// Resolve returns the filesystem path of the model's weights. It returns
	// an error wrapping fs.ErrNotExist when the model has no files.
	Resolve(id string) (string, error)
}

// DirLocator resolves model ids inside a flat models directory, accepting
// either <dir>/<id>.gguf or a <dir>/<id>/ directory containing model.gguf.
type DirLocator struct {
	// Dir is the models directory.
	Dir string
}

// Resolve implements [ModelLocator].
func (l DirLocator) Resolve(id string) (string, error) {
	if id == "" {
		return "", fmt.Errorf("inference: empty model id: %w", fs.ErrNotExist)
	}
	candidates := []string{
		filepath.Join(l.Dir, id+".gguf"),
		filepath.Join(l.Dir, id, "model.gguf"),
	}
	for _, path := range candidates {
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, nil
		} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("inference: stat %q: %w", path, err)
		}
	}
	return "", fmt.Errorf("inference: model %q has no files under %q: %w", id, l.Dir, fs.ErrNotExist)
}

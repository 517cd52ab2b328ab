package inference

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
)

func TestLookupModel(t *testing.T) {
	tests := []struct {
		id         string
		wantFamily Family
		wantCtx    int
	}{
		{"qwen-1.5b", FamilyQwen, 32768},
		{"qwen-3b-q4", FamilyQwen, 32768},
		{"qwen-3b-q8", FamilyQwen, 32768},
		{"gemma-2b", FamilyGemma, 8192},
		{"llama-1b-q4", FamilyLlama, 131072},
		{"llama-3b", FamilyLlama, 131072},
	}
	for _, tc := range tests {
		t.Run(tc.id, func(t *testing.T) {
			info := LookupModel(tc.id)
			if info.ID != tc.id {
				t.Errorf("ID = %q, want %q", info.ID, tc.id)
			}
			if info.Family != tc.wantFamily {
				t.Errorf("Family = %q, want %q", info.Family, tc.wantFamily)
			}
			if info.ContextWindow != tc.wantCtx {
				t.Errorf("ContextWindow = %d, want %d", info.ContextWindow, tc.wantCtx)
			}
		})
	}
}

func TestLookupModelUnknownFallsBackByPrefix(t *testing.T) {
	info := LookupModel("qwen-72b")
	if info.Family != FamilyQwen {
		t.Errorf("Family = %q, want %q", info.Family, FamilyQwen)
	}
	if info.ContextWindow != defaultContextWindow {
		t.Errorf("ContextWindow = %d, want %d", info.ContextWindow, defaultContextWindow)
	}

	info = LookupModel("mistral-7b")
	if info.Family != FamilyGeneric {
		t.Errorf("Family = %q, want %q", info.Family, FamilyGeneric)
	}
}

func TestDirLocatorFlatFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "qwen-1.5b.gguf")
	if err := os.WriteFile(path, []byte("weights"), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := DirLocator{Dir: dir}.Resolve("qwen-1.5b")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != path {
		t.Errorf("Resolve = %q, want %q", got, path)
	}
}

func TestDirLocatorSubdirectory(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "llama-3b"), 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "llama-3b", "model.gguf")
	if err := os.WriteFile(path, []byte("weights"), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := DirLocator{Dir: dir}.Resolve("llama-3b")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != path {
		t.Errorf("Resolve = %q, want %q", got, path)
	}
}

func TestDirLocatorMissingModel(t *testing.T) {
	_, err := DirLocator{Dir: t.TempDir()}.Resolve("qwen-1.5b")
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("error = %v, want fs.ErrNotExist", err)
	}

	_, err = DirLocator{Dir: t.TempDir()}.Resolve("")
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("empty id error = %v, want fs.ErrNotExist", err)
	}
}

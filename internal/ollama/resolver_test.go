package ollama

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/goccy/go-json"
)

func TestParseName(t *testing.T) {
	tests := []struct {
		in   string
		want Name
	}{
		{"gpt2", Name{DefaultHost, DefaultNamespace, "gpt2", DefaultTag}},
		{"gpt2:124m", Name{DefaultHost, DefaultNamespace, "gpt2", "124m"}},
		{"ollama://someone/gpt2", Name{DefaultHost, "someone", "gpt2", DefaultTag}},
		{"localhost:5000/me/gpt2:xl", Name{"localhost:5000", "me", "gpt2", "xl"}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseName(tt.in)
			if err != nil {
				t.Fatalf("ParseName(%q): %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseName(%q) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}

	for _, bad := range []string{"", "gpt2:", "a/b/c/d", "/gpt2"} {
		if _, err := ParseName(bad); err == nil {
			t.Errorf("ParseName(%q): expected error", bad)
		}
	}
}

func writeManifest(t *testing.T, dir string, n Name, layers ...Layer) {
	t.Helper()
	path := filepath.Join(dir, "manifests", n.Host, n.Namespace, n.Model, n.Tag)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	data, err := json.Marshal(Manifest{SchemaVersion: 2, Layers: layers})
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestResolve(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("OLLAMA_MODELS", dir)

	n, _ := ParseName("gpt2")
	writeManifest(t, dir, n,
		Layer{MediaType: "application/vnd.ollama.image.license", Digest: "sha256:aaa"},
		Layer{MediaType: MediaTypeModel, Digest: "sha256:bbb", Size: 4},
	)
	blob := filepath.Join(dir, "blobs", "sha256-bbb")
	if err := os.MkdirAll(filepath.Dir(blob), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(blob, []byte("GGUF"), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := Resolve(Scheme + "gpt2")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != blob {
		t.Errorf("Resolve = %s, want %s", got, blob)
	}
}

func TestResolveErrors(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("OLLAMA_MODELS", dir)

	if _, err := Resolve("missing"); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("missing manifest: got %v", err)
	}

	n, _ := ParseName("nolayer")
	writeManifest(t, dir, n, Layer{MediaType: "application/vnd.ollama.image.params", Digest: "sha256:ccc"})
	if _, err := Resolve("nolayer"); !errors.Is(err, ErrNoModelLayer) {
		t.Errorf("no model layer: got %v", err)
	}

	n, _ = ParseName("noblob")
	writeManifest(t, dir, n, Layer{MediaType: MediaTypeModel, Digest: "sha256:ddd"})
	if _, err := Resolve("noblob"); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("missing blob: got %v", err)
	}
}

func TestModelsDirDefault(t *testing.T) {
	t.Setenv("OLLAMA_MODELS", "")
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	got, err := ModelsDir()
	if err != nil {
		t.Fatal(err)
	}
	if want := filepath.Join(home, ".ollama", "models"); got != want {
		t.Errorf("ModelsDir = %s, want %s", got, want)
	}
}

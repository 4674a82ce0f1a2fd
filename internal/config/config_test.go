package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.VocabSize != 50257 {
		t.Errorf("expected VocabSize 50257, got %d", cfg.VocabSize)
	}
	if cfg.SeqLen != 1024 {
		t.Errorf("expected SeqLen 1024, got %d", cfg.SeqLen)
	}
	if cfg.Eps != 1e-5 {
		t.Errorf("expected Eps 1e-5, got %v", cfg.Eps)
	}
	if cfg.Steps != 100 {
		t.Errorf("expected Steps 100, got %d", cfg.Steps)
	}
	if cfg.Precision != PrecisionF32 {
		t.Errorf("expected Precision f32, got %v", cfg.Precision)
	}
	if !cfg.Greedy() {
		t.Error("expected greedy decoding by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
	if cfg.HeadDim() != 64 {
		t.Errorf("expected HeadDim 64, got %d", cfg.HeadDim())
	}
	if cfg.HiddenDim() != 3072 {
		t.Errorf("expected HiddenDim 3072, got %d", cfg.HiddenDim())
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid config", func(c *Config) {}, false},
		{"invalid vocab", func(c *Config) { c.VocabSize = 0 }, true},
		{"invalid seq_len", func(c *Config) { c.SeqLen = -1 }, true},
		{"invalid dim", func(c *Config) { c.Dim = 0 }, true},
		{"invalid heads", func(c *Config) { c.Heads = 0 }, true},
		{"dim not divisible by heads", func(c *Config) { c.Dim = 770 }, true},
		{"invalid layers", func(c *Config) { c.Layers = 0 }, true},
		{"invalid eps", func(c *Config) { c.Eps = 0 }, true},
		{"invalid precision", func(c *Config) { c.Precision = "bf16" }, true},
		{"q8 precision", func(c *Config) { c.Precision = PrecisionQ8 }, false},
		{"zero steps", func(c *Config) { c.Steps = 0 }, false},
		{"negative steps", func(c *Config) { c.Steps = -1 }, true},
		{"zero parallelism", func(c *Config) { c.Parallelism = 0 }, true},
		{"top_k without temperature", func(c *Config) { c.TopK = 40; c.Temperature = 0 }, true},
		{"top_k with temperature", func(c *Config) { c.TopK = 40; c.Temperature = 0.8 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParsePrecision(t *testing.T) {
	tests := []struct {
		in      string
		want    Precision
		wantErr bool
	}{
		{"f32", PrecisionF32, false},
		{"Q8", PrecisionQ8, false},
		{"fp16", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePrecision(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLoadHParams(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hparams.json")
	body := `{"n_vocab": 64, "n_ctx": 16, "n_embd": 8, "n_head": 4, "n_layer": 2}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	h, err := LoadHParams(path)
	if err != nil {
		t.Fatalf("LoadHParams: %v", err)
	}
	cfg := Default()
	h.Apply(&cfg)
	if cfg.VocabSize != 64 || cfg.SeqLen != 16 || cfg.Dim != 8 || cfg.Heads != 4 || cfg.Layers != 2 {
		t.Errorf("unexpected config after Apply: %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoadHParamsErrors(t *testing.T) {
	if _, err := LoadHParams(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}
	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadHParams(path); err == nil {
		t.Error("expected error for malformed json")
	}
}

func TestApplyIgnoresZeroFields(t *testing.T) {
	cfg := Default()
	HParams{Layers: 6}.Apply(&cfg)
	if cfg.Layers != 6 || cfg.Dim != 768 {
		t.Errorf("unexpected config: %+v", cfg)
	}
}

func TestSaveHParams(t *testing.T) {
	cfg := Default()
	cfg.Layers, cfg.SeqLen = 3, 32
	path := filepath.Join(t.TempDir(), "hparams.json")
	if err := HParamsOf(cfg).Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	h, err := LoadHParams(path)
	if err != nil {
		t.Fatalf("LoadHParams: %v", err)
	}
	if h != HParamsOf(cfg) {
		t.Errorf("got %+v, want %+v", h, HParamsOf(cfg))
	}
}

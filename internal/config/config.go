package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-json"
)

type Precision string

const (
	PrecisionF32 Precision = "f32"
	PrecisionQ8  Precision = "q8"
)

type Config struct {
	VocabSize int
	SeqLen    int
	Dim       int
	Heads     int
	Layers    int
	Eps       float32

	Precision   Precision
	Steps       int
	Parallelism int

	Temperature float32
	TopK        int
	Seed        int64

	LogLevel  string
	LogFormat string
}

func (c *Config) Validate() error {
	if c.VocabSize <= 0 {
		return fmt.Errorf("invalid vocab_size: %d (must be positive)", c.VocabSize)
	}
	if c.SeqLen <= 0 {
		return fmt.Errorf("invalid seq_len: %d (must be positive)", c.SeqLen)
	}
	if c.Dim <= 0 {
		return fmt.Errorf("invalid dim: %d (must be positive)", c.Dim)
	}
	if c.Heads <= 0 {
		return fmt.Errorf("invalid heads: %d (must be positive)", c.Heads)
	}
	if c.Dim%c.Heads != 0 {
		return fmt.Errorf("dim mismatch: %d not divisible by heads(%d)", c.Dim, c.Heads)
	}
	if c.Layers <= 0 {
		return fmt.Errorf("invalid layers: %d (must be positive)", c.Layers)
	}
	if c.Eps <= 0 {
		return fmt.Errorf("invalid eps: %f (must be positive)", c.Eps)
	}
	switch c.Precision {
	case PrecisionF32, PrecisionQ8:
	default:
		return fmt.Errorf("invalid precision: %q (want f32 or q8)", c.Precision)
	}
	if c.Steps < 0 {
		return fmt.Errorf("invalid steps: %d (must be non-negative)", c.Steps)
	}
	if c.Parallelism < 1 {
		return fmt.Errorf("invalid parallelism: %d (must be at least 1)", c.Parallelism)
	}
	if c.TopK < 0 {
		return fmt.Errorf("invalid top_k: %d (must be non-negative)", c.TopK)
	}
	if c.TopK > 0 && c.Temperature <= 0 {
		return fmt.Errorf("invalid temperature: %f (must be positive when top_k is set)", c.Temperature)
	}
	return nil
}

// HeadDim is the width of one attention head.
func (c *Config) HeadDim() int {
	return c.Dim / c.Heads
}

// HiddenDim is the feed-forward inner width.
func (c *Config) HiddenDim() int {
	return 4 * c.Dim
}

func (c *Config) Greedy() bool {
	return c.TopK == 0
}

func ParsePrecision(s string) (Precision, error) {
	switch p := Precision(strings.ToLower(s)); p {
	case PrecisionF32, PrecisionQ8:
		return p, nil
	}
	return "", fmt.Errorf("unknown precision %q", s)
}

// Default returns the GPT-2 124M hyperparameters.
func Default() Config {
	return Config{
		VocabSize:   50257,
		SeqLen:      1024,
		Dim:         768,
		Heads:       12,
		Layers:      12,
		Eps:         1e-5,
		Precision:   PrecisionF32,
		Steps:       100,
		Parallelism: 1,
		Temperature: 1.0,
		LogLevel:    "info",
		LogFormat:   "console",
	}
}

// HParams mirrors the hparams.json shipped with the released GPT-2 checkpoints.
type HParams struct {
	VocabSize int `json:"n_vocab"`
	SeqLen    int `json:"n_ctx"`
	Dim       int `json:"n_embd"`
	Heads     int `json:"n_head"`
	Layers    int `json:"n_layer"`
}

// Apply copies the model shape from h into c. Zero fields are ignored.
func (h HParams) Apply(c *Config) {
	if h.VocabSize > 0 {
		c.VocabSize = h.VocabSize
	}
	if h.SeqLen > 0 {
		c.SeqLen = h.SeqLen
	}
	if h.Dim > 0 {
		c.Dim = h.Dim
	}
	if h.Heads > 0 {
		c.Heads = h.Heads
	}
	if h.Layers > 0 {
		c.Layers = h.Layers
	}
}

func LoadHParams(path string) (HParams, error) {
	var h HParams
	data, err := os.ReadFile(path)
	if err != nil {
		return h, fmt.Errorf("read hparams: %w", err)
	}
	if err := json.Unmarshal(data, &h); err != nil {
		return h, fmt.Errorf("parse hparams %s: %w", path, err)
	}
	return h, nil
}

// HParamsOf returns the model shape of c.
func HParamsOf(c Config) HParams {
	return HParams{VocabSize: c.VocabSize, SeqLen: c.SeqLen, Dim: c.Dim, Heads: c.Heads, Layers: c.Layers}
}

func (h HParams) Save(path string) error {
	data, err := json.MarshalIndent(h, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

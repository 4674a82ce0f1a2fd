// Package model assembles GPT-2 from named parameters and runs the forward
// pass over the cpu kernels.
package model

import (
	"context"
	"fmt"
	"time"

	"github.com/23skdu/longbow-gpt2/internal/config"
	"github.com/23skdu/longbow-gpt2/internal/cpu"
	"github.com/23skdu/longbow-gpt2/internal/logger"
	"github.com/23skdu/longbow-gpt2/internal/tensor"
	"github.com/23skdu/longbow-gpt2/internal/weights"
)

// loadConcurrency bounds simultaneous parameter requests.
const loadConcurrency = 8

type Block struct {
	LN1Gain, LN1Bias *tensor.Tensor[float32]
	AttnW, AttnB     *tensor.Tensor[float32]
	ProjW, ProjB     *tensor.Tensor[float32]
	LN2Gain, LN2Bias *tensor.Tensor[float32]
	FcW, FcB         *tensor.Tensor[float32]
	MlpProjW         *tensor.Tensor[float32]
	MlpProjB         *tensor.Tensor[float32]

	// Quantized projections, set only for config.PrecisionQ8.
	attnQ, projQ, fcQ, mlpProjQ *cpu.QTensor
}

type Model struct {
	Config config.Config

	TokenEmb *tensor.Tensor[float32] // [vocab, dim]
	PosEmb   *tensor.Tensor[float32] // [seq, dim]
	LNFGain  *tensor.Tensor[float32]
	LNFBias  *tensor.Tensor[float32]
	Blocks   []*Block

	// tokenEmbT is TokenEmb transposed once at load for the tied output
	// projection.
	tokenEmbT *tensor.Tensor[float32]
	eps       float64
}

// Load fetches every parameter from src and assembles the model.
func Load(ctx context.Context, src weights.Source, c config.Config) (*Model, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	start := time.Now()
	params, err := weights.Fetch(ctx, src, weights.Schema(c), loadConcurrency)
	if err != nil {
		return nil, err
	}
	m, err := New(c, params)
	if err != nil {
		return nil, err
	}
	logger.Log.Info("model loaded",
		"layers", c.Layers,
		"dim", c.Dim,
		"heads", c.Heads,
		"vocab", c.VocabSize,
		"precision", string(c.Precision),
		"elapsed", time.Since(start).String())
	return m, nil
}

// New assembles a model from already-loaded parameters keyed by the names
// weights.Schema lists.
func New(c config.Config, params map[string][]float32) (*Model, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	get := func(name string, shape ...int) (*tensor.Tensor[float32], error) {
		data, ok := params[name]
		if !ok {
			return nil, fmt.Errorf("%s: %w", name, weights.ErrNotFound)
		}
		t, err := tensor.FromData(data, shape...)
		if err != nil {
			return nil, fmt.Errorf("parameter %s: %w", name, err)
		}
		return t, nil
	}

	m := &Model{Config: c, eps: epsilon(c)}
	var err error
	d, h := c.Dim, c.HiddenDim()
	if m.TokenEmb, err = get("wte", c.VocabSize, d); err != nil {
		return nil, err
	}
	if m.PosEmb, err = get("wpe", c.SeqLen, d); err != nil {
		return nil, err
	}
	if m.LNFGain, err = get("ln_f_g", d); err != nil {
		return nil, err
	}
	if m.LNFBias, err = get("ln_f_b", d); err != nil {
		return nil, err
	}
	if m.tokenEmbT, err = cpu.Transpose(m.TokenEmb); err != nil {
		return nil, err
	}

	m.Blocks = make([]*Block, c.Layers)
	for i := range m.Blocks {
		p := func(suffix string, shape ...int) (*tensor.Tensor[float32], error) {
			return get(weights.BlockParam(i, suffix), shape...)
		}
		b := &Block{}
		for _, f := range []struct {
			dst   **tensor.Tensor[float32]
			name  string
			shape []int
		}{
			{&b.LN1Gain, "ln_1_g", []int{d}},
			{&b.LN1Bias, "ln_1_b", []int{d}},
			{&b.AttnW, "attn_c_attn_w", []int{d, 3 * d}},
			{&b.AttnB, "attn_c_attn_b", []int{3 * d}},
			{&b.ProjW, "attn_c_proj_w", []int{d, d}},
			{&b.ProjB, "attn_c_proj_b", []int{d}},
			{&b.LN2Gain, "ln_2_g", []int{d}},
			{&b.LN2Bias, "ln_2_b", []int{d}},
			{&b.FcW, "mlp_c_fc_w", []int{d, h}},
			{&b.FcB, "mlp_c_fc_b", []int{h}},
			{&b.MlpProjW, "mlp_c_proj_w", []int{h, d}},
			{&b.MlpProjB, "mlp_c_proj_b", []int{d}},
		} {
			if *f.dst, err = p(f.name, f.shape...); err != nil {
				return nil, err
			}
		}
		if c.Precision == config.PrecisionQ8 {
			if err := b.quantize(); err != nil {
				return nil, fmt.Errorf("block %d: %w", i, err)
			}
		}
		m.Blocks[i] = b
	}
	return m, nil
}

func (b *Block) quantize() error {
	var err error
	if b.attnQ, err = cpu.Quantize(b.AttnW); err != nil {
		return err
	}
	if b.projQ, err = cpu.Quantize(b.ProjW); err != nil {
		return err
	}
	if b.fcQ, err = cpu.Quantize(b.FcW); err != nil {
		return err
	}
	b.mlpProjQ, err = cpu.Quantize(b.MlpProjW)
	return err
}

// epsilon keeps the exact float64 constant for the default instead of the
// widened float32 value.
func epsilon(c config.Config) float64 {
	if c.Eps == float32(cpu.Epsilon) || c.Eps <= 0 {
		return cpu.Epsilon
	}
	return float64(c.Eps)
}

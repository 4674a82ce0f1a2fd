package model

import (
	"fmt"
	"time"

	"github.com/23skdu/longbow-gpt2/internal/cpu"
	"github.com/23skdu/longbow-gpt2/internal/logger"
	"github.com/23skdu/longbow-gpt2/internal/metrics"
	"github.com/23skdu/longbow-gpt2/internal/tensor"
)

// Embed returns the [len(ids), dim] initial activations: row i is
// TokenEmb[ids[i]] + PosEmb[i]. More ids than SeqLen fail with
// tensor.ErrOutOfRange.
func (m *Model) Embed(ids []int) (*mat, error) {
	start := time.Now()
	defer func() { metrics.RecordKernelDuration("embed", time.Since(start)) }()

	if len(ids) == 0 {
		return nil, fmt.Errorf("embed: no tokens: %w", tensor.ErrInvalidParameter)
	}
	x, err := tensor.New[float32](len(ids), m.Config.Dim)
	if err != nil {
		return nil, err
	}
	for i, id := range ids {
		tok, err := m.TokenEmb.Row(id)
		if err != nil {
			return nil, fmt.Errorf("token %d: %w", i, err)
		}
		pos, err := m.PosEmb.Row(i)
		if err != nil {
			return nil, fmt.Errorf("position %d: %w", i, err)
		}
		sum, err := cpu.Add(tok, pos)
		if err != nil {
			return nil, err
		}
		row, err := x.Row(i)
		if err != nil {
			return nil, err
		}
		if err := tensor.Copy(row, sum); err != nil {
			return nil, err
		}
	}
	return x, nil
}

// Hidden runs the embedding, every block and the final layer norm.
func (m *Model) Hidden(ids []int) (*mat, error) {
	x, err := m.Embed(ids)
	if err != nil {
		return nil, err
	}
	mask, err := cpu.CausalMask[float32](len(ids))
	if err != nil {
		return nil, err
	}
	for i, b := range m.Blocks {
		start := time.Now()
		if x, err = b.Forward(x, mask, m.Config.Heads, m.eps); err != nil {
			return nil, fmt.Errorf("block %d: %w", i, err)
		}
		metrics.RecordKernelDuration("block", time.Since(start))
		logger.Log.Debug("block done", "layer", i, "elapsed", time.Since(start).String())
	}
	return cpu.LayerNormEps(x, m.LNFGain, m.LNFBias, m.eps)
}

// Logits returns [len(ids), vocab] scores through the tied output
// projection.
func (m *Model) Logits(ids []int) (*mat, error) {
	x, err := m.Hidden(ids)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	defer func() { metrics.RecordKernelDuration("logits", time.Since(start)) }()
	return cpu.Multiply(x, m.tokenEmbT)
}

// NextLogits returns the scores for the token following ids.
func (m *Model) NextLogits(ids []int) ([]float32, error) {
	logits, err := m.Logits(ids)
	if err != nil {
		return nil, err
	}
	last, err := cpu.Slice(logits, len(ids)-1)
	if err != nil {
		return nil, err
	}
	return last.Data(), nil
}

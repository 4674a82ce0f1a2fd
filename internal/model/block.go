package model

import (
	"fmt"
	"math"

	"github.com/23skdu/longbow-gpt2/internal/cpu"
	"github.com/23skdu/longbow-gpt2/internal/tensor"
)

type mat = tensor.Tensor[float32]

func (b *Block) linear(x, w *mat, q *cpu.QTensor, bias *mat) (*mat, error) {
	if q != nil {
		return cpu.LinearQ8(x, q, bias)
	}
	return cpu.Linear(x, w, bias)
}

// Forward maps x [seq, dim] to the block output of the same shape. mask
// must be the [seq, seq] causal mask. x is not modified.
func (b *Block) Forward(x, mask *mat, heads int, eps float64) (*mat, error) {
	if err := tensor.Check("block", x, mask); err != nil {
		return nil, err
	}
	dim := x.Width()
	if heads <= 0 || dim%heads != 0 {
		return nil, fmt.Errorf("block: %d heads over width %d: %w", heads, dim, tensor.ErrIndivisibleChunk)
	}

	nx1, err := cpu.LayerNormEps(x, b.LN1Gain, b.LN1Bias, eps)
	if err != nil {
		return nil, err
	}
	kqv, err := b.linear(nx1, b.AttnW, b.attnQ, b.AttnB)
	if err != nil {
		return nil, err
	}
	a, err := attention(kqv, mask, dim, heads)
	if err != nil {
		return nil, err
	}
	proj, err := b.linear(a, b.ProjW, b.projQ, b.ProjB)
	if err != nil {
		return nil, err
	}
	x, err = cpu.Add(x, proj)
	if err != nil {
		return nil, err
	}

	nx2, err := cpu.LayerNormEps(x, b.LN2Gain, b.LN2Bias, eps)
	if err != nil {
		return nil, err
	}
	up, err := b.linear(nx2, b.FcW, b.fcQ, b.FcB)
	if err != nil {
		return nil, err
	}
	act, err := cpu.GeLU(up)
	if err != nil {
		return nil, err
	}
	down, err := b.linear(act, b.MlpProjW, b.mlpProjQ, b.MlpProjB)
	if err != nil {
		return nil, err
	}
	return cpu.Add(x, down)
}

// attention runs masked multi-head self attention over the fused
// [seq, 3*dim] query/key/value projection and returns [seq, dim].
func attention(kqv, mask *mat, dim, heads int) (*mat, error) {
	qkv, err := cpu.Split(kqv, dim)
	if err != nil {
		return nil, err
	}
	hw := dim / heads
	q, err := cpu.Split(qkv[0], hw)
	if err != nil {
		return nil, err
	}
	k, err := cpu.Split(qkv[1], hw)
	if err != nil {
		return nil, err
	}
	v, err := cpu.Split(qkv[2], hw)
	if err != nil {
		return nil, err
	}

	scale := math.Sqrt(float64(hw))
	out := make([]*mat, heads)
	for h := 0; h < heads; h++ {
		kt, err := cpu.Transpose(k[h])
		if err != nil {
			return nil, err
		}
		scores, err := cpu.Multiply(q[h], kt)
		if err != nil {
			return nil, err
		}
		if err := cpu.DivScalar(scores, scale); err != nil {
			return nil, err
		}
		if scores, err = cpu.Add(scores, mask); err != nil {
			return nil, err
		}
		if err := cpu.Softmax(scores); err != nil {
			return nil, err
		}
		if out[h], err = cpu.Multiply(scores, v[h]); err != nil {
			return nil, err
		}
	}
	return cpu.Merge(out, dim)
}

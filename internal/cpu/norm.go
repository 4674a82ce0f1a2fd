package cpu

import (
	"math"

	"github.com/23skdu/longbow-gpt2/internal/tensor"
)

// Epsilon is the layer norm variance floor.
const Epsilon = 1e-5

var geluCoeff = math.Sqrt(2 / math.Pi)

// Softmax normalizes every row of width a.Width() in place. The row max is
// subtracted before exponentiation.
func Softmax[F tensor.Float](a *tensor.Tensor[F]) error {
	if err := check("softmax", a); err != nil {
		return err
	}
	w := a.Width()
	data := a.Data()
	parallelRows(a.Rows(), func(start, end int) {
		for r := start; r < end; r++ {
			softmaxRow(data[r*w : (r+1)*w])
		}
	})
	return nil
}

func softmaxRow[F tensor.Float](row []F) {
	hi := math.Inf(-1)
	for _, v := range row {
		hi = math.Max(hi, float64(v))
	}
	exps := make([]float64, len(row))
	var sum float64
	for i, v := range row {
		exps[i] = math.Exp(float64(v) - hi)
		sum += exps[i]
	}
	for i, e := range exps {
		row[i] = F(e / sum)
	}
}

// LayerNorm normalizes each row of a to zero mean and unit (biased)
// variance, then applies gain and bias. It returns a new tensor.
func LayerNorm[F tensor.Float](a, gain, bias *tensor.Tensor[F]) (*tensor.Tensor[F], error) {
	return LayerNormEps(a, gain, bias, Epsilon)
}

func LayerNormEps[F tensor.Float](a, gain, bias *tensor.Tensor[F], eps float64) (*tensor.Tensor[F], error) {
	const op = "layer_norm"
	if err := check(op, a, gain, bias); err != nil {
		return nil, err
	}
	w := a.Width()
	for _, p := range []*tensor.Tensor[F]{gain, bias} {
		if p.Dims() != 1 || p.Dim(0) != w {
			return nil, fail(op, &tensor.ShapeError{Op: op, Want: []int{w}, Got: p.Shape()})
		}
	}
	out := a.Clone()
	data, g, b := out.Data(), gain.Data(), bias.Data()
	parallelRows(out.Rows(), func(start, end int) {
		for r := start; r < end; r++ {
			row := data[r*w : (r+1)*w]
			var mean float64
			for _, v := range row {
				mean += float64(v)
			}
			mean /= float64(w)
			var variance float64
			for _, v := range row {
				d := float64(v) - mean
				variance += d * d
			}
			variance /= float64(w)
			denom := math.Sqrt(variance + eps)
			for i, v := range row {
				row[i] = F(float64(g[i])*(float64(v)-mean)/denom + float64(b[i]))
			}
		}
	})
	return out, nil
}

// GeLU applies the tanh approximation of the Gaussian error linear unit
// and returns a new tensor.
func GeLU[F tensor.Float](a *tensor.Tensor[F]) (*tensor.Tensor[F], error) {
	if err := check("gelu", a); err != nil {
		return nil, err
	}
	out := a.Clone()
	data := out.Data()
	for i, v := range data {
		data[i] = F(gelu(float64(v)))
	}
	return out, nil
}

func gelu(x float64) float64 {
	return 0.5 * x * (1 + math.Tanh(geluCoeff*(x+0.044715*x*x*x)))
}

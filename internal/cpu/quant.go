package cpu

import (
	"math"

	"github.com/23skdu/longbow-gpt2/internal/tensor"
)

// QTensor is a symmetric per-tensor int8 quantization: value = q * Scale.
type QTensor struct {
	*tensor.Tensor[int8]
	Scale float32
}

// Quantize maps a onto [-127, 127] with scale max|a|/127. An all-zero
// input yields Scale 0.
func Quantize[F tensor.Float](a *tensor.Tensor[F]) (*QTensor, error) {
	if err := check("quantize", a); err != nil {
		return nil, err
	}
	var maxAbs float64
	for _, v := range a.Data() {
		maxAbs = math.Max(maxAbs, math.Abs(float64(v)))
	}
	q, err := tensor.New[int8](a.Shape()...)
	if err != nil {
		return nil, err
	}
	if maxAbs == 0 {
		return &QTensor{Tensor: q, Scale: 0}, nil
	}
	scale := maxAbs / 127
	qd := q.Data()
	for i, v := range a.Data() {
		r := math.Round(float64(v) / scale)
		qd[i] = int8(math.Max(-127, math.Min(127, r)))
	}
	return &QTensor{Tensor: q, Scale: float32(scale)}, nil
}

// Dequantize expands q back to float32.
func Dequantize(q *QTensor) (*tensor.Tensor[float32], error) {
	if q == nil {
		return nil, fail("dequantize", tensor.ErrInvalidParameter)
	}
	if err := check("dequantize", q.Tensor); err != nil {
		return nil, err
	}
	out, err := tensor.New[float32](q.Shape()...)
	if err != nil {
		return nil, err
	}
	od := out.Data()
	for i, v := range q.Data() {
		od[i] = float32(v) * q.Scale
	}
	return out, nil
}

// MultiplyQ8 quantizes a, multiplies it by w with int32 accumulation and
// dequantizes the product.
func MultiplyQ8(a *tensor.Tensor[float32], w *QTensor) (*tensor.Tensor[float32], error) {
	const op = "multiply_q8"
	if w == nil {
		return nil, fail(op, tensor.ErrInvalidParameter)
	}
	if err := check(op, a); err != nil {
		return nil, err
	}
	if err := check(op, w.Tensor); err != nil {
		return nil, err
	}
	if err := require2D(op, a); err != nil {
		return nil, err
	}
	if err := require2D(op, w.Tensor); err != nil {
		return nil, err
	}
	x, y, z := a.Dim(0), a.Dim(1), w.Dim(1)
	if w.Dim(0) != y {
		return nil, fail(op, &tensor.ShapeError{Op: op, Want: []int{y, z}, Got: w.Shape()})
	}
	qa, err := Quantize(a)
	if err != nil {
		return nil, err
	}
	out, err := tensor.New[float32](x, z)
	if err != nil {
		return nil, err
	}
	scale := float64(qa.Scale) * float64(w.Scale)
	ad, wd, od := qa.Data(), w.Data(), out.Data()
	parallelRows(x, func(start, end int) {
		for i := start; i < end; i++ {
			row := ad[i*y : (i+1)*y]
			for j := 0; j < z; j++ {
				var sum int32
				for k, av := range row {
					sum += int32(av) * int32(wd[k*z+j])
				}
				od[i*z+j] = float32(float64(sum) * scale)
			}
		}
	})
	return out, nil
}

// LinearQ8 is Linear with a quantized weight. The bias stays float32.
func LinearQ8(x *tensor.Tensor[float32], w *QTensor, bias *tensor.Tensor[float32]) (*tensor.Tensor[float32], error) {
	const op = "linear_q8"
	if err := check(op, bias); err != nil {
		return nil, err
	}
	if w == nil || !w.Valid() {
		return nil, fail(op, tensor.ErrInvalidParameter)
	}
	if bias.Dims() != 1 || bias.Dim(0) != w.Width() {
		return nil, fail(op, &tensor.ShapeError{Op: op, Want: []int{w.Width()}, Got: bias.Shape()})
	}
	out, err := MultiplyQ8(x, w)
	if err != nil {
		return nil, err
	}
	addBias(out, bias.Data())
	return out, nil
}

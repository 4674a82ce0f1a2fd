// Package cpu holds the hand-written kernels of the forward pass: matrix
// product, layout shuffles for attention heads, normalization and activation.
//
// Every kernel validates its operands before touching data and returns a
// wrapped tensor error on failure. Kernels are pure with respect to their
// inputs unless documented as in place.
package cpu

import (
	"math"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/23skdu/longbow-gpt2/internal/metrics"
	"github.com/23skdu/longbow-gpt2/internal/tensor"
)

var parallelism atomic.Int64

func init() {
	parallelism.Store(1)
}

// SetParallelism sets how many goroutines row-wise kernels may use.
// Values below 1 are treated as 1. Results do not depend on the setting.
func SetParallelism(n int) {
	if n < 1 {
		n = 1
	}
	parallelism.Store(int64(n))
}

func Parallelism() int {
	return int(parallelism.Load())
}

// parallelRows runs fn over [0, rows) in contiguous chunks. Each output row
// is written by exactly one goroutine.
func parallelRows(rows int, fn func(start, end int)) {
	p := Parallelism()
	if p <= 1 || rows < 2 {
		fn(0, rows)
		return
	}
	chunkSize := (rows + p - 1) / p
	var g errgroup.Group
	g.SetLimit(p)
	for i := 0; i < rows; i += chunkSize {
		end := min(i+chunkSize, rows)
		g.Go(func() error {
			fn(i, end)
			return nil
		})
	}
	_ = g.Wait()
}

func fail(op string, err error) error {
	metrics.RecordValidationError(op, tensor.Kind(err))
	return err
}

func check[E tensor.Element](op string, ts ...*tensor.Tensor[E]) error {
	if err := tensor.Check(op, ts...); err != nil {
		return fail(op, err)
	}
	return nil
}

func require2D[E tensor.Element](op string, t *tensor.Tensor[E]) error {
	if t.Dims() != 2 {
		return fail(op, &tensor.ShapeError{Op: op, Want: []int{-1, -1}, Got: t.Shape()})
	}
	return nil
}

// Multiply computes a[X,Y] x b[Y,Z]. Products accumulate in float64.
func Multiply[F tensor.Float](a, b *tensor.Tensor[F]) (*tensor.Tensor[F], error) {
	const op = "multiply"
	if err := check(op, a, b); err != nil {
		return nil, err
	}
	if err := require2D(op, a); err != nil {
		return nil, err
	}
	if err := require2D(op, b); err != nil {
		return nil, err
	}
	x, y, z := a.Dim(0), a.Dim(1), b.Dim(1)
	if b.Dim(0) != y {
		return nil, fail(op, &tensor.ShapeError{Op: op, Want: []int{y, z}, Got: b.Shape()})
	}
	out, err := tensor.New[F](x, z)
	if err != nil {
		return nil, err
	}
	ad, bd, od := a.Data(), b.Data(), out.Data()
	parallelRows(x, func(start, end int) {
		for i := start; i < end; i++ {
			row := ad[i*y : (i+1)*y]
			for j := 0; j < z; j++ {
				var sum float64
				for k, av := range row {
					sum += float64(av) * float64(bd[k*z+j])
				}
				od[i*z+j] = F(sum)
			}
		}
	})
	return out, nil
}

// Transpose returns a copy of a[X,Y] laid out as [Y,X].
func Transpose[E tensor.Element](a *tensor.Tensor[E]) (*tensor.Tensor[E], error) {
	const op = "transpose"
	if err := check(op, a); err != nil {
		return nil, err
	}
	if err := require2D(op, a); err != nil {
		return nil, err
	}
	x, y := a.Dim(0), a.Dim(1)
	out, err := tensor.New[E](y, x)
	if err != nil {
		return nil, err
	}
	ad, od := a.Data(), out.Data()
	for i := 0; i < x; i++ {
		for j := 0; j < y; j++ {
			od[j*x+i] = ad[i*y+j]
		}
	}
	return out, nil
}

// Add returns a + b elementwise. Shapes must be identical.
func Add[F tensor.Float](a, b *tensor.Tensor[F]) (*tensor.Tensor[F], error) {
	const op = "add"
	if err := check(op, a, b); err != nil {
		return nil, err
	}
	if !tensor.SameShape(a, b) {
		return nil, fail(op, &tensor.ShapeError{Op: op, Want: a.Shape(), Got: b.Shape()})
	}
	out, err := tensor.New[F](a.Shape()...)
	if err != nil {
		return nil, err
	}
	ad, bd, od := a.Data(), b.Data(), out.Data()
	for i := range od {
		od[i] = ad[i] + bd[i]
	}
	return out, nil
}

// DivScalar divides every element of a by d in place.
func DivScalar[F tensor.Float](a *tensor.Tensor[F], d float64) error {
	const op = "div_scalar"
	if err := check(op, a); err != nil {
		return err
	}
	if d == 0 || math.IsNaN(d) {
		return fail(op, tensor.ErrInvalidParameter)
	}
	data := a.Data()
	for i, v := range data {
		data[i] = F(float64(v) / d)
	}
	return nil
}

// Linear computes x[N,Y] x w[Y,Z] and adds bias[Z] to every output row.
func Linear[F tensor.Float](x, w, bias *tensor.Tensor[F]) (*tensor.Tensor[F], error) {
	const op = "linear"
	if err := check(op, x, w, bias); err != nil {
		return nil, err
	}
	if err := require2D(op, w); err != nil {
		return nil, err
	}
	if bias.Dims() != 1 || bias.Dim(0) != w.Dim(1) {
		return nil, fail(op, &tensor.ShapeError{Op: op, Want: []int{w.Dim(1)}, Got: bias.Shape()})
	}
	out, err := Multiply(x, w)
	if err != nil {
		return nil, err
	}
	addBias(out, bias.Data())
	return out, nil
}

func addBias[F tensor.Float](out *tensor.Tensor[F], bias []F) {
	od := out.Data()
	z := len(bias)
	for r := 0; r < out.Rows(); r++ {
		row := od[r*z : (r+1)*z]
		for j, b := range bias {
			row[j] += b
		}
	}
}

// Argmax returns the index of the largest value. Ties resolve to the lowest
// index and NaN entries never win. Empty or all-NaN input is an
// ErrInvalidParameter.
func Argmax[F tensor.Float](xs []F) (int, error) {
	if len(xs) == 0 {
		return 0, fail("argmax", tensor.ErrInvalidParameter)
	}
	best := -1
	var bestScore float64
	for i, v := range xs {
		f := float64(v)
		if math.IsNaN(f) {
			continue
		}
		if best < 0 || f > bestScore {
			bestScore = f
			best = i
		}
	}
	if best < 0 {
		return 0, fail("argmax", tensor.ErrInvalidParameter)
	}
	return best, nil
}

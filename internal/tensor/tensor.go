// Package tensor implements a row-major, shape-checked buffer wrapper.
//
// A Tensor owns a contiguous slice of elements. Views returned by Row share
// that slice, so writes through a view are visible through its owner. A view
// is a window (offset and length) into the owner's backing array and stays
// valid for as long as any reference to it exists.
package tensor

import (
	"fmt"
	"slices"
	"sync/atomic"
	"unsafe"

	"golang.org/x/exp/constraints"

	"github.com/23skdu/longbow-gpt2/internal/metrics"
)

// Element is any scalar a Tensor may hold. float32 is the main precision;
// int8 backs the fixed-point path.
type Element interface {
	constraints.Float | constraints.Integer
}

// Float is the element constraint for kernels that need real arithmetic.
type Float interface {
	constraints.Float
}

type Tensor[E Element] struct {
	data  []E
	shape []int
}

var allocatedBytes atomic.Int64

// AllocatedBytes returns the total bytes handed out by New since start.
func AllocatedBytes() int64 {
	return allocatedBytes.Load()
}

// ValidateShape rejects empty shapes and any dimension that is not a
// concrete positive size.
func ValidateShape(shape []int) error {
	if len(shape) == 0 {
		return fmt.Errorf("%w: empty shape", ErrInvalidShape)
	}
	for i, d := range shape {
		if d <= 0 {
			return fmt.Errorf("%w: dimension %d of %v is %d", ErrInvalidShape, i, shape, d)
		}
	}
	return nil
}

// Size is the product of the dimensions.
func Size(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

// New allocates a zero-filled tensor.
func New[E Element](shape ...int) (*Tensor[E], error) {
	if err := ValidateShape(shape); err != nil {
		return nil, err
	}
	n := Size(shape)
	var zero E
	bytes := int64(n) * int64(unsafe.Sizeof(zero))
	allocatedBytes.Add(bytes)
	metrics.RecordTensorAlloc(bytes)
	return &Tensor[E]{
		data:  make([]E, n),
		shape: slices.Clone(shape),
	}, nil
}

// FromData wraps data without copying. len(data) must equal the product of shape.
func FromData[E Element](data []E, shape ...int) (*Tensor[E], error) {
	if err := ValidateShape(shape); err != nil {
		return nil, err
	}
	if len(data) != Size(shape) {
		return nil, &ShapeError{Op: "from_data", Want: []int{Size(shape)}, Got: []int{len(data)}}
	}
	return &Tensor[E]{data: data, shape: slices.Clone(shape)}, nil
}

// Must panics on err. Intended for literals in tests and fixed-shape setup.
func Must[E Element](t *Tensor[E], err error) *Tensor[E] {
	if err != nil {
		panic(err)
	}
	return t
}

// Valid reports whether t is a well-formed tensor.
func (t *Tensor[E]) Valid() bool {
	return t != nil && ValidateShape(t.shape) == nil && len(t.data) == Size(t.shape)
}

// Check returns ErrInvalidParameter if t is not a well-formed tensor.
func Check[E Element](op string, ts ...*Tensor[E]) error {
	for i, t := range ts {
		if !t.Valid() {
			return fmt.Errorf("%s: operand %d: %w", op, i, ErrInvalidParameter)
		}
	}
	return nil
}

func (t *Tensor[E]) Shape() []int { return slices.Clone(t.shape) }

func (t *Tensor[E]) Dims() int { return len(t.shape) }

func (t *Tensor[E]) Dim(i int) int { return t.shape[i] }

// Data returns the backing slice. Mutating it mutates the tensor.
func (t *Tensor[E]) Data() []E { return t.data }

func (t *Tensor[E]) Len() int { return len(t.data) }

// Width is the size of the last dimension, the row width of row-wise kernels.
func (t *Tensor[E]) Width() int { return t.shape[len(t.shape)-1] }

// Rows is the number of contiguous rows of Width elements.
func (t *Tensor[E]) Rows() int { return len(t.data) / t.Width() }

// Stride returns the row-major stride of dimension d.
func (t *Tensor[E]) Stride(d int) int {
	s := 1
	for _, n := range t.shape[d+1:] {
		s *= n
	}
	return s
}

// Offset converts a multi-index into a flat offset.
func (t *Tensor[E]) Offset(idx ...int) (int, error) {
	if len(idx) != len(t.shape) {
		return 0, &ShapeError{Op: "offset", Want: []int{len(t.shape)}, Got: []int{len(idx)}}
	}
	off := 0
	for d, i := range idx {
		if i < 0 || i >= t.shape[d] {
			return 0, &RangeError{Op: "offset", Index: i, Len: t.shape[d]}
		}
		off += i * t.Stride(d)
	}
	return off, nil
}

// At returns the element at a multi-index.
func (t *Tensor[E]) At(idx ...int) (E, error) {
	off, err := t.Offset(idx...)
	if err != nil {
		var zero E
		return zero, err
	}
	return t.data[off], nil
}

// Row returns a view of row i of the outermost dimension with shape
// shape[1:]. A 1-D tensor yields a single-element view of shape [1].
func (t *Tensor[E]) Row(i int) (*Tensor[E], error) {
	if !t.Valid() {
		return nil, fmt.Errorf("row: %w", ErrInvalidParameter)
	}
	if i < 0 || i >= t.shape[0] {
		return nil, &RangeError{Op: "row", Index: i, Len: t.shape[0]}
	}
	sub := t.shape[1:]
	if len(sub) == 0 {
		sub = []int{1}
	}
	stride := Size(sub)
	start := i * stride
	return &Tensor[E]{
		data:  t.data[start : start+stride : start+stride],
		shape: slices.Clone(sub),
	}, nil
}

// Reshape returns a view of t with a new shape of the same size.
func (t *Tensor[E]) Reshape(shape ...int) (*Tensor[E], error) {
	if err := ValidateShape(shape); err != nil {
		return nil, err
	}
	if Size(shape) != len(t.data) {
		return nil, &ShapeError{Op: "reshape", Want: t.shape, Got: shape}
	}
	return &Tensor[E]{data: t.data, shape: slices.Clone(shape)}, nil
}

// Clone returns an owned deep copy.
func (t *Tensor[E]) Clone() *Tensor[E] {
	return &Tensor[E]{data: slices.Clone(t.data), shape: slices.Clone(t.shape)}
}

// SameShape reports whether a and b have identical shapes.
func SameShape[E, F Element](a *Tensor[E], b *Tensor[F]) bool {
	return slices.Equal(a.shape, b.shape)
}

// Copy overwrites dst's buffer with src's. Shapes must be identical.
func Copy[E Element](dst, src *Tensor[E]) error {
	if err := Check("copy", dst, src); err != nil {
		return err
	}
	if !SameShape(dst, src) {
		return &ShapeError{Op: "copy", Want: dst.shape, Got: src.shape}
	}
	copy(dst.data, src.data)
	return nil
}

// Equal reports whether a and b have the same shape and identical elements.
func Equal[E Element](a, b *Tensor[E]) bool {
	return SameShape(a, b) && slices.Equal(a.data, b.data)
}

func (t *Tensor[E]) String() string {
	const limit = 8
	if len(t.data) <= limit {
		return fmt.Sprintf("Tensor%v%v", t.shape, t.data)
	}
	return fmt.Sprintf("Tensor%v%v...", t.shape, t.data[:limit])
}

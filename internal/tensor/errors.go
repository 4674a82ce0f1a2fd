package tensor

import (
	"errors"
	"fmt"
)

var (
	ErrShapeMismatch    = errors.New("shape mismatch")
	ErrIndivisibleChunk = errors.New("indivisible chunk")
	ErrOutOfRange       = errors.New("index out of range")
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrInvalidShape     = errors.New("invalid shape")
)

// ShapeError reports the operation and the two shapes that disagreed.
type ShapeError struct {
	Op   string
	Want []int
	Got  []int
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("%s: shape mismatch: want %v, got %v", e.Op, e.Want, e.Got)
}

func (e *ShapeError) Unwrap() error { return ErrShapeMismatch }

// RangeError reports a row index outside a tensor's outer dimension.
type RangeError struct {
	Op    string
	Index int
	Len   int
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("%s: index %d out of range [0, %d)", e.Op, e.Index, e.Len)
}

func (e *RangeError) Unwrap() error { return ErrOutOfRange }

// Kind returns a short label for err suitable for metric labels.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrShapeMismatch):
		return "shape_mismatch"
	case errors.Is(err, ErrIndivisibleChunk):
		return "indivisible_chunk"
	case errors.Is(err, ErrOutOfRange):
		return "out_of_range"
	case errors.Is(err, ErrInvalidShape):
		return "invalid_shape"
	case errors.Is(err, ErrInvalidParameter):
		return "invalid_parameter"
	default:
		return "other"
	}
}

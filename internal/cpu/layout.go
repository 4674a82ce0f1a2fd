package cpu

import (
	"fmt"

	"github.com/23skdu/longbow-gpt2/internal/tensor"
)

// MaskValue fills the forbidden upper triangle of a causal mask.
const MaskValue = -1e10

// Split partitions the last dimension of a into width/chunk tensors of
// width chunk. Within every row, consecutive chunk-sized runs go to the
// outputs round-robin, so a [2,6] tensor split by 2 yields three [2,2]
// tensors holding columns {0,1}, {2,3} and {4,5}.
func Split[E tensor.Element](a *tensor.Tensor[E], chunk int) ([]*tensor.Tensor[E], error) {
	const op = "split"
	if err := check(op, a); err != nil {
		return nil, err
	}
	width := a.Width()
	if chunk <= 0 || width%chunk != 0 {
		return nil, fail(op, fmt.Errorf("%s: width %d by chunk %d: %w", op, width, chunk, tensor.ErrIndivisibleChunk))
	}
	shape := a.Shape()
	shape[len(shape)-1] = chunk
	n := width / chunk
	out := make([]*tensor.Tensor[E], n)
	for j := range out {
		t, err := tensor.New[E](shape...)
		if err != nil {
			return nil, err
		}
		out[j] = t
	}
	src := a.Data()
	for r := 0; r < a.Rows(); r++ {
		for j, t := range out {
			s := r*width + j*chunk
			copy(t.Data()[r*chunk:(r+1)*chunk], src[s:s+chunk])
		}
	}
	return out, nil
}

// Merge is the inverse of Split. All chunks must share a shape and
// mergedSize must equal chunk width times len(chunks).
func Merge[E tensor.Element](chunks []*tensor.Tensor[E], mergedSize int) (*tensor.Tensor[E], error) {
	const op = "merge"
	if len(chunks) == 0 {
		return nil, fail(op, fmt.Errorf("%s: no chunks: %w", op, tensor.ErrInvalidParameter))
	}
	if err := check(op, chunks...); err != nil {
		return nil, err
	}
	first := chunks[0]
	for _, c := range chunks[1:] {
		if !tensor.SameShape(first, c) {
			return nil, fail(op, &tensor.ShapeError{Op: op, Want: first.Shape(), Got: c.Shape()})
		}
	}
	chunk := first.Width()
	if mergedSize%chunk != 0 || mergedSize != chunk*len(chunks) {
		return nil, fail(op, fmt.Errorf("%s: %d chunks of %d into %d: %w", op, len(chunks), chunk, mergedSize, tensor.ErrIndivisibleChunk))
	}
	shape := first.Shape()
	shape[len(shape)-1] = mergedSize
	out, err := tensor.New[E](shape...)
	if err != nil {
		return nil, err
	}
	dst := out.Data()
	for r := 0; r < first.Rows(); r++ {
		for j, c := range chunks {
			d := r*mergedSize + j*chunk
			copy(dst[d:d+chunk], c.Data()[r*chunk:(r+1)*chunk])
		}
	}
	return out, nil
}

// CausalMask returns an [n,n] additive mask: 0 where j <= i and MaskValue
// where j > i.
func CausalMask[F tensor.Float](n int) (*tensor.Tensor[F], error) {
	out, err := tensor.New[F](n, n)
	if err != nil {
		return nil, fail("causal_mask", err)
	}
	d := out.Data()
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			d[i*n+j] = MaskValue
		}
	}
	return out, nil
}

// Slice returns the aliased view at row idx of a's outermost dimension.
func Slice[E tensor.Element](a *tensor.Tensor[E], idx int) (*tensor.Tensor[E], error) {
	v, err := a.Row(idx)
	if err != nil {
		return nil, fail("slice", err)
	}
	return v, nil
}

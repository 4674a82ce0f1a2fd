package weights

import (
	"context"
	"fmt"
	"slices"
)

// MemorySource serves parameters from a map. Load returns copies.
type MemorySource map[string][]float32

func (m MemorySource) Load(ctx context.Context, name string, shape []int) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, ok := m[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	if err := checkLen(name, shape, len(data)); err != nil {
		return nil, err
	}
	return slices.Clone(data), nil
}

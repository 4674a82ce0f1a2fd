package engine

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-gpt2/internal/config"
	"github.com/23skdu/longbow-gpt2/internal/tensor"
)

func TestGreedy(t *testing.T) {
	tests := []struct {
		name   string
		logits []float32
		want   int
	}{
		{"single max", []float32{1.0, 5.0, 2.0, 0.5}, 1},
		{"tie picks lowest", []float32{3, 7, 7, 1}, 1},
		{"negative", []float32{-4, -2, -3}, 1},
		{"nan ignored", []float32{float32(math.NaN()), 0.5, 0.1}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Greedy{}.ChooseNext(tt.logits)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := Greedy{}.ChooseNext(nil)
	assert.ErrorIs(t, err, tensor.ErrInvalidParameter)
}

func TestTopKOneIsGreedy(t *testing.T) {
	s, err := NewTopK(1, 1.0, 7)
	require.NoError(t, err)
	logits := []float32{2.0, 10.0, 5.0, 10.0}
	for i := 0; i < 20; i++ {
		got, err := s.ChooseNext(logits)
		require.NoError(t, err)
		assert.Equal(t, 1, got)
	}
}

func TestTopKFiltering(t *testing.T) {
	s, err := NewTopK(2, 1.0, 7)
	require.NoError(t, err)
	logits := []float32{2.0, 10.0, 9.5, 1.0, float32(math.Inf(1))}

	seen := map[int]int{}
	for i := 0; i < 200; i++ {
		got, err := s.ChooseNext(logits)
		require.NoError(t, err)
		seen[got]++
	}
	assert.Len(t, seen, 2)
	assert.Positive(t, seen[1])
	assert.Positive(t, seen[2])
}

func TestTopKSeeded(t *testing.T) {
	logits := []float32{0.1, 0.4, 0.3, 0.2, 0.35}
	draw := func() []int {
		s, err := NewTopK(4, 2.0, 42)
		require.NoError(t, err)
		out := make([]int, 30)
		for i := range out {
			out[i], err = s.ChooseNext(logits)
			require.NoError(t, err)
		}
		return out
	}
	assert.Equal(t, draw(), draw())
}

func TestTopKErrors(t *testing.T) {
	_, err := NewTopK(0, 1, 1)
	assert.ErrorIs(t, err, tensor.ErrInvalidParameter)
	_, err = NewTopK(3, 0, 1)
	assert.ErrorIs(t, err, tensor.ErrInvalidParameter)

	s, err := NewTopK(3, 1, 1)
	require.NoError(t, err)
	_, err = s.ChooseNext(nil)
	assert.ErrorIs(t, err, tensor.ErrInvalidParameter)

	nan := float32(math.NaN())
	_, err = s.ChooseNext([]float32{nan, nan})
	assert.ErrorIs(t, err, tensor.ErrInvalidParameter)
	_, err = Greedy{}.ChooseNext([]float32{nan, nan, nan})
	assert.ErrorIs(t, err, tensor.ErrInvalidParameter)

	// No finite candidate: fall back to the largest non-NaN value.
	got, err := s.ChooseNext([]float32{nan, float32(math.Inf(1))})
	require.NoError(t, err)
	assert.Equal(t, 1, got)
}

func TestNewSampler(t *testing.T) {
	c := config.Default()
	s, err := NewSampler(c)
	require.NoError(t, err)
	assert.IsType(t, Greedy{}, s)

	c.TopK = 40
	c.Temperature = 0.7
	s, err = NewSampler(c)
	require.NoError(t, err)
	topk, ok := s.(*TopK)
	require.True(t, ok)
	assert.Equal(t, 40, topk.K)
	assert.InDelta(t, 0.7, topk.Temperature, 1e-6)
}

func TestAuditLogitRange(t *testing.T) {
	normal := AuditLogitRange([]float32{-2, 0, 1, 5})
	assert.Equal(t, float32(5), normal.Max)
	assert.Equal(t, float32(-2), normal.Min)
	assert.InDelta(t, 1.0, normal.Mean, 1e-6)
	assert.False(t, normal.IsFlat)
	assert.False(t, normal.HasExtremeValues)

	flat := AuditLogitRange([]float32{3, 3, 3, 3})
	assert.True(t, flat.IsFlat)
	assert.InDelta(t, 3.0, flat.RMS, 1e-6)

	bad := AuditLogitRange([]float32{1, float32(math.NaN()), float32(math.Inf(-1)), 2})
	assert.True(t, bad.HasNaN)
	assert.True(t, bad.HasInf)
	assert.True(t, bad.HasExtremeValues)
	assert.Equal(t, 1, bad.NumNaNs)
	assert.Equal(t, 1, bad.NumInfs)
	assert.InDelta(t, 1.5, bad.Mean, 1e-6)
	bad.Record()

	assert.Equal(t, LogitRangeAuditResult{}, AuditLogitRange(nil))
	assert.Contains(t, normal.String(), "max=5.0000")
}

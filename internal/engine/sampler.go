package engine

import (
	"cmp"
	"fmt"
	"math"
	"math/rand"
	"slices"
	"time"

	heap "github.com/emirpasic/gods/v2/trees/binaryheap"

	"github.com/23skdu/longbow-gpt2/internal/config"
	"github.com/23skdu/longbow-gpt2/internal/cpu"
	"github.com/23skdu/longbow-gpt2/internal/tensor"
)

// Sampler picks the next token id from the logits of the last position.
type Sampler interface {
	ChooseNext(logits []float32) (int, error)
}

// Greedy takes the highest logit. Ties go to the lowest id.
type Greedy struct{}

func (Greedy) ChooseNext(logits []float32) (int, error) {
	return cpu.Argmax(logits)
}

type candidate struct {
	id    int
	logit float64
}

// lower logits first; among equal logits the higher id sorts first so the
// lower id survives eviction.
func candidateComparator(a, b candidate) int {
	if c := cmp.Compare(a.logit, b.logit); c != 0 {
		return c
	}
	return cmp.Compare(b.id, a.id)
}

// TopK draws from the K highest logits after temperature scaling.
type TopK struct {
	K           int
	Temperature float64
	rng         *rand.Rand
}

// NewTopK seeds the sampler. A zero seed uses the clock.
func NewTopK(k int, temperature float64, seed int64) (*TopK, error) {
	if k <= 0 {
		return nil, fmt.Errorf("top-k %d: %w", k, tensor.ErrInvalidParameter)
	}
	if temperature <= 0 || math.IsNaN(temperature) {
		return nil, fmt.Errorf("temperature %v: %w", temperature, tensor.ErrInvalidParameter)
	}
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &TopK{K: k, Temperature: temperature, rng: rand.New(rand.NewSource(seed))}, nil
}

func (s *TopK) ChooseNext(logits []float32) (int, error) {
	if len(logits) == 0 {
		return 0, fmt.Errorf("top-k: no logits: %w", tensor.ErrInvalidParameter)
	}
	cands := s.top(logits)
	if len(cands) == 0 {
		return cpu.Argmax(logits)
	}

	hi := cands[0].logit
	probs := make([]float64, len(cands))
	var sum float64
	for i, c := range cands {
		probs[i] = math.Exp((c.logit - hi) / s.Temperature)
		sum += probs[i]
	}
	r := s.rng.Float64() * sum
	for i, p := range probs {
		r -= p
		if r < 0 {
			return cands[i].id, nil
		}
	}
	return cands[len(cands)-1].id, nil
}

// top returns the K best finite candidates, best first.
func (s *TopK) top(logits []float32) []candidate {
	h := heap.NewWith(candidateComparator)
	for i, v := range logits {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			continue
		}
		h.Push(candidate{id: i, logit: f})
		if h.Size() > s.K {
			h.Pop()
		}
	}
	cands := h.Values()
	slices.SortFunc(cands, func(a, b candidate) int { return candidateComparator(b, a) })
	return cands
}

// NewSampler returns Greedy unless the config asks for top-k sampling.
func NewSampler(c config.Config) (Sampler, error) {
	if c.Greedy() {
		return Greedy{}, nil
	}
	return NewTopK(c.TopK, float64(c.Temperature), c.Seed)
}

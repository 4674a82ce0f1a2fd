package weights

import (
	"math/rand"
	"strings"

	"github.com/23skdu/longbow-gpt2/internal/config"
)

// Random builds a full parameter set with GPT-2 style initialisation:
// N(0, 0.02) weights, unit norm gains and zero biases. The same seed always
// gives the same values.
func Random(c config.Config, seed int64) MemorySource {
	rng := rand.New(rand.NewSource(seed))
	m := make(MemorySource)
	for _, p := range Schema(c) {
		data := make([]float32, p.Size())
		switch {
		case strings.HasSuffix(p.Name, "_g"):
			for i := range data {
				data[i] = 1
			}
		case strings.HasSuffix(p.Name, "_b"):
		default:
			for i := range data {
				data[i] = float32(rng.NormFloat64() * 0.02)
			}
		}
		m[p.Name] = data
	}
	return m
}

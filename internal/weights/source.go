// Package weights supplies model parameters as flat row-major float32
// buffers, one per named tensor.
package weights

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/23skdu/longbow-gpt2/internal/config"
	"github.com/23skdu/longbow-gpt2/internal/logger"
	"github.com/23skdu/longbow-gpt2/internal/metrics"
	"github.com/23skdu/longbow-gpt2/internal/tensor"
)

var ErrNotFound = errors.New("parameter not found")

// Source loads one named parameter. The returned slice must hold exactly
// product(shape) values in row-major order.
type Source interface {
	Load(ctx context.Context, name string, shape []int) ([]float32, error)
}

// Param names one parameter tensor and its row-major shape.
type Param struct {
	Name  string
	Shape []int
}

func (p Param) Size() int { return tensor.Size(p.Shape) }

// Schema lists every parameter of a GPT-2 model with the given shape, in
// load order.
func Schema(c config.Config) []Param {
	d, h := c.Dim, c.HiddenDim()
	params := []Param{
		{"wte", []int{c.VocabSize, d}},
		{"wpe", []int{c.SeqLen, d}},
		{"ln_f_g", []int{d}},
		{"ln_f_b", []int{d}},
	}
	for i := 0; i < c.Layers; i++ {
		p := func(suffix string, shape ...int) Param {
			return Param{Name: BlockParam(i, suffix), Shape: shape}
		}
		params = append(params,
			p("ln_1_g", d), p("ln_1_b", d),
			p("attn_c_attn_w", d, 3*d), p("attn_c_attn_b", 3*d),
			p("attn_c_proj_w", d, d), p("attn_c_proj_b", d),
			p("ln_2_g", d), p("ln_2_b", d),
			p("mlp_c_fc_w", d, h), p("mlp_c_fc_b", h),
			p("mlp_c_proj_w", h, d), p("mlp_c_proj_b", d),
		)
	}
	return params
}

func BlockParam(layer int, suffix string) string {
	return fmt.Sprintf("blocks_%d_%s", layer, suffix)
}

func checkLen(name string, shape []int, n int) error {
	if want := tensor.Size(shape); n != want {
		return fmt.Errorf("parameter %s: %w", name, &tensor.ShapeError{Op: "load", Want: []int{want}, Got: []int{n}})
	}
	return nil
}

func sourceLabel(src Source) string {
	switch src.(type) {
	case *DirSource:
		return "dir"
	case *GGUFSource:
		return "gguf"
	case *FlightSource:
		return "flight"
	case MemorySource:
		return "memory"
	default:
		return "other"
	}
}

// Fetch loads every parameter with at most limit concurrent requests. The
// result does not depend on completion order.
func Fetch(ctx context.Context, src Source, params []Param, limit int) (map[string][]float32, error) {
	start := time.Now()
	label := sourceLabel(src)
	out := make(map[string][]float32, len(params))
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for _, p := range params {
		g.Go(func() error {
			data, err := src.Load(ctx, p.Name, p.Shape)
			if err != nil {
				return fmt.Errorf("load %s: %w", p.Name, err)
			}
			if err := checkLen(p.Name, p.Shape, len(data)); err != nil {
				return err
			}
			metrics.RecordWeightLoad(label, int64(len(data))*4)
			mu.Lock()
			out[p.Name] = data
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	metrics.RecordWeightLoadDuration(time.Since(start))
	logger.Log.Debug("parameters loaded", "source", label, "count", len(params), "elapsed", time.Since(start).String())
	return out, nil
}

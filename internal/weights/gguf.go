package weights

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/23skdu/longbow-gpt2/internal/config"
	"github.com/23skdu/longbow-gpt2/internal/gguf"
	"github.com/23skdu/longbow-gpt2/internal/tensor"
)

var globalGGUFNames = map[string]string{
	"wte":    "token_embd.weight",
	"wpe":    "position_embd.weight",
	"ln_f_g": "output_norm.weight",
	"ln_f_b": "output_norm.bias",
}

var blockGGUFNames = map[string]string{
	"ln_1_g":        "attn_norm.weight",
	"ln_1_b":        "attn_norm.bias",
	"attn_c_attn_w": "attn_qkv.weight",
	"attn_c_attn_b": "attn_qkv.bias",
	"attn_c_proj_w": "attn_output.weight",
	"attn_c_proj_b": "attn_output.bias",
	"ln_2_g":        "ffn_norm.weight",
	"ln_2_b":        "ffn_norm.bias",
	"mlp_c_fc_w":    "ffn_up.weight",
	"mlp_c_fc_b":    "ffn_up.bias",
	"mlp_c_proj_w":  "ffn_down.weight",
	"mlp_c_proj_b":  "ffn_down.bias",
}

// GGUFName maps a parameter name onto its llama.cpp GPT-2 tensor name.
// transposed reports whether the GGUF tensor is stored [out,in] and must
// be transposed into the [in,out] layout Linear expects.
func GGUFName(name string) (ggufName string, transposed bool, ok bool) {
	if g, ok := globalGGUFNames[name]; ok {
		return g, false, true
	}
	rest, found := strings.CutPrefix(name, "blocks_")
	if !found {
		return "", false, false
	}
	layer, suffix, found := strings.Cut(rest, "_")
	if !found {
		return "", false, false
	}
	if _, err := strconv.Atoi(layer); err != nil {
		return "", false, false
	}
	g, ok := blockGGUFNames[suffix]
	if !ok {
		return "", false, false
	}
	return "blk." + layer + "." + g, strings.HasSuffix(suffix, "_w"), true
}

// GGUFSource serves parameters from a GGUF file holding F32 or F16
// tensors in llama.cpp's GPT-2 naming.
type GGUFSource struct {
	File *gguf.File
}

func OpenGGUF(path string) (*GGUFSource, error) {
	f, err := gguf.LoadFile(path)
	if err != nil {
		return nil, err
	}
	return &GGUFSource{File: f}, nil
}

func (s *GGUFSource) Close() error { return s.File.Close() }

// Apply copies the model shape recorded in the file into c.
func (s *GGUFSource) Apply(c *config.Config) {
	h := s.File.HParams()
	if t, ok := s.File.Tensor("token_embd.weight"); ok && len(t.Dimensions) == 2 {
		h.VocabSize = t.Shape()[0]
	}
	config.HParams{
		VocabSize: h.VocabSize,
		SeqLen:    h.ContextLength,
		Dim:       h.Embedding,
		Heads:     h.Heads,
		Layers:    h.Layers,
	}.Apply(c)
	if h.Eps > 0 {
		c.Eps = h.Eps
	}
}

// Validate checks that every parameter c needs is present, naming all of
// the missing GGUF tensors at once.
func (s *GGUFSource) Validate(c config.Config) error {
	var required []string
	for _, p := range Schema(c) {
		g, _, _ := GGUFName(p.Name)
		required = append(required, g)
	}
	missing := s.File.FindMissingTensors(required)
	if len(missing) > 0 {
		return fmt.Errorf("gguf lacks %d of %d tensors (%s): %w",
			len(missing), len(required), strings.Join(missing, ", "), ErrNotFound)
	}
	return nil
}

func (s *GGUFSource) Load(ctx context.Context, name string, shape []int) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	gname, transposed, ok := GGUFName(name)
	if !ok {
		return nil, fmt.Errorf("%s: no GGUF mapping: %w", name, ErrNotFound)
	}
	t, ok := s.File.Tensor(gname)
	if !ok {
		return nil, fmt.Errorf("%s (%s): %w", name, gname, ErrNotFound)
	}
	data, err := t.Float32s()
	if err != nil {
		return nil, err
	}
	stored := t.Shape()
	want := slices.Clone(shape)
	if transposed && len(want) == 2 {
		want[0], want[1] = want[1], want[0]
	}
	if !slices.Equal(stored, want) {
		return nil, fmt.Errorf("%s (%s): stored shape %v, want %v: %w", name, gname, stored, want, tensor.ErrShapeMismatch)
	}
	if transposed && len(stored) == 2 {
		data = transpose(data, stored[0], stored[1])
	}
	return data, nil
}

func transpose(data []float32, rows, cols int) []float32 {
	out := make([]float32, len(data))
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			out[j*rows+i] = data[i*cols+j]
		}
	}
	return out
}

// WriteGGUF encodes every parameter of src, the model shape and the
// vocabulary tokens into a GGUF file at path.
func WriteGGUF(ctx context.Context, src Source, c config.Config, tokens []string, path string, typ gguf.GGMLType) error {
	w := gguf.NewWriter()
	kv := map[string]interface{}{
		"general.architecture":              "gpt2",
		"gpt2.context_length":               uint32(c.SeqLen),
		"gpt2.embedding_length":             uint32(c.Dim),
		"gpt2.feed_forward_length":          uint32(c.HiddenDim()),
		"gpt2.attention.head_count":         uint32(c.Heads),
		"gpt2.block_count":                  uint32(c.Layers),
		"gpt2.attention.layer_norm_epsilon": c.Eps,
	}
	if len(tokens) > 0 {
		kv["tokenizer.ggml.model"] = "gpt2"
		kv["tokenizer.ggml.tokens"] = tokens
	}
	for k, v := range kv {
		if err := w.SetKV(k, v); err != nil {
			return err
		}
	}

	for _, p := range Schema(c) {
		data, err := src.Load(ctx, p.Name, p.Shape)
		if err != nil {
			return fmt.Errorf("load %s: %w", p.Name, err)
		}
		gname, transposed, _ := GGUFName(p.Name)
		shape := p.Shape
		if transposed {
			data = transpose(data, shape[0], shape[1])
			shape = []int{shape[1], shape[0]}
		}
		// Norms and biases stay F32 as llama.cpp does.
		ttyp := typ
		if len(shape) == 1 {
			ttyp = gguf.GGMLTypeF32
		}
		if err := w.AddTensor(gname, shape, ttyp, data); err != nil {
			return err
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := w.WriteTo(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

package gguf

import "fmt"

// HParams are the model-shape keys of a GGUF header, read under the
// file's general.architecture prefix.
type HParams struct {
	Architecture  string
	VocabSize     int
	ContextLength int
	Embedding     int
	Heads         int
	Layers        int
	Eps           float32
}

func (f *File) HParams() HParams {
	h := HParams{}
	h.Architecture, _ = f.String("general.architecture")
	arch := h.Architecture
	if arch == "" {
		arch = "gpt2"
	}
	h.ContextLength = int(getKVInt(f.KV, arch+".context_length"))
	h.Embedding = int(getKVInt(f.KV, arch+".embedding_length"))
	h.Heads = int(getKVInt(f.KV, arch+".attention.head_count"))
	h.Layers = int(getKVInt(f.KV, arch+".block_count"))
	h.VocabSize = int(getKVInt(f.KV, arch+".vocab_size"))
	if h.VocabSize == 0 {
		if tokens, err := f.Strings("tokenizer.ggml.tokens"); err == nil {
			h.VocabSize = len(tokens)
		}
	}
	if eps, ok := f.KV[arch+".attention.layer_norm_epsilon"].(float32); ok {
		h.Eps = eps
	}
	return h
}

func getKVInt(kv map[string]interface{}, keys ...string) uint64 {
	for _, key := range keys {
		if val, ok := kv[key]; ok {
			switch v := val.(type) {
			case uint64:
				return v
			case int64:
				return uint64(v)
			case uint32:
				return uint64(v)
			case int32:
				return uint64(v)
			case int:
				return uint64(v)
			}
		}
	}
	return 0
}

func (f *File) FindMissingTensors(required []string) []string {
	existing := make(map[string]bool, len(f.Tensors))
	for _, t := range f.Tensors {
		existing[t.Name] = true
	}

	var missing []string
	for _, name := range required {
		if !existing[name] {
			missing = append(missing, name)
		}
	}
	return missing
}

// ParameterCount sums the element counts of every tensor.
func (f *File) ParameterCount() int64 {
	var total int64
	for _, t := range f.Tensors {
		total += int64(t.NumElements())
	}
	return total
}

func (h HParams) String() string {
	return fmt.Sprintf("%s vocab=%d ctx=%d embd=%d heads=%d layers=%d",
		h.Architecture, h.VocabSize, h.ContextLength, h.Embedding, h.Heads, h.Layers)
}

package tokenizer

import (
	"fmt"
	"os"

	"github.com/goccy/go-json"

	"github.com/23skdu/longbow-gpt2/internal/gguf"
)

// Vocabulary is a dense bijection between ids 0..n-1 and token strings in
// the byte-symbol alphabet.
type Vocabulary struct {
	tokens []string
	ids    map[string]int
}

// NewVocabulary validates that m maps onto 0..len(m)-1 without gaps.
func NewVocabulary(m map[string]int) (*Vocabulary, error) {
	tokens := make([]string, len(m))
	seen := make([]bool, len(m))
	for s, id := range m {
		if id < 0 || id >= len(m) {
			return nil, fmt.Errorf("token %q: id %d outside [0, %d)", s, id, len(m))
		}
		if seen[id] {
			return nil, fmt.Errorf("id %d assigned to %q and %q", id, tokens[id], s)
		}
		seen[id] = true
		tokens[id] = s
	}
	return FromTokens(tokens)
}

// FromTokens builds a vocabulary where tokens[i] has id i.
func FromTokens(tokens []string) (*Vocabulary, error) {
	if len(tokens) == 0 {
		return nil, fmt.Errorf("empty vocabulary")
	}
	ids := make(map[string]int, len(tokens))
	for i, s := range tokens {
		if s == "" {
			return nil, fmt.Errorf("id %d: empty token", i)
		}
		if prev, dup := ids[s]; dup {
			return nil, fmt.Errorf("token %q: duplicate ids %d and %d", s, prev, i)
		}
		ids[s] = i
	}
	return &Vocabulary{tokens: tokens, ids: ids}, nil
}

// LoadEncoderJSON reads a GPT-2 encoder.json token-to-id map.
func LoadEncoderJSON(path string) (*Vocabulary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read vocabulary: %w", err)
	}
	var m map[string]int
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse vocabulary %s: %w", path, err)
	}
	return NewVocabulary(m)
}

// FromGGUF reads tokenizer.ggml.tokens.
func FromGGUF(f *gguf.File) (*Vocabulary, error) {
	tokens, err := f.Strings("tokenizer.ggml.tokens")
	if err != nil {
		return nil, err
	}
	return FromTokens(tokens)
}

func (v *Vocabulary) Len() int { return len(v.tokens) }

func (v *Vocabulary) Token(id int) (string, bool) {
	if id < 0 || id >= len(v.tokens) {
		return "", false
	}
	return v.tokens[id], true
}

func (v *Vocabulary) ID(token string) (int, bool) {
	id, ok := v.ids[token]
	return id, ok
}

// Tokens returns the id-ordered token list. The slice must not be modified.
func (v *Vocabulary) Tokens() []string { return v.tokens }

// MissingBaseTokens lists the bytes whose single-symbol token is absent.
// Encoding text containing such a byte can fail with ErrUnmatchedToken.
func (v *Vocabulary) MissingBaseTokens() []byte {
	var missing []byte
	for b := 0; b < 256; b++ {
		if _, ok := v.ids[string(ByteSymbol(byte(b)))]; !ok {
			missing = append(missing, byte(b))
		}
	}
	return missing
}

// Map returns a copy of the token-to-id mapping, e.g. for writing
// encoder.json.
func (v *Vocabulary) Map() map[string]int {
	out := make(map[string]int, len(v.ids))
	for s, id := range v.ids {
		out[s] = id
	}
	return out
}

// WriteEncoderJSON writes v in encoder.json form.
func (v *Vocabulary) WriteEncoderJSON(path string) error {
	data, err := json.Marshal(v.Map())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// ByteVocabulary returns the 256 single-symbol tokens with id = byte value,
// followed by the byte-symbol forms of extra in order. Every extra must
// stay within U+0000..U+00FF.
func ByteVocabulary(extra ...string) (*Vocabulary, error) {
	tokens := make([]string, 0, 256+len(extra))
	for b := 0; b < 256; b++ {
		tokens = append(tokens, string(ByteSymbol(byte(b))))
	}
	for _, s := range extra {
		mapped, err := EncodeText(s)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, mapped)
	}
	return FromTokens(tokens)
}

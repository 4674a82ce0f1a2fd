// Package tokenizer implements GPT-2 byte-level BPE by greedy longest-prefix
// matching over the byte-symbol alphabet.
package tokenizer

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/23skdu/longbow-gpt2/internal/gguf"
	"github.com/23skdu/longbow-gpt2/internal/metrics"
)

var (
	ErrUnmatchedToken = errors.New("no vocabulary entry matches")
	ErrUnknownToken   = errors.New("unknown token id")
)

type Tokenizer struct {
	vocab *Vocabulary
	trie  *trieNode
}

// New loads a vocabulary from an encoder.json or a .gguf file.
func New(path string) (*Tokenizer, error) {
	var (
		v   *Vocabulary
		err error
	)
	if strings.EqualFold(filepath.Ext(path), ".gguf") {
		var f *gguf.File
		f, err = gguf.LoadFile(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		v, err = FromGGUF(f)
	} else {
		v, err = LoadEncoderJSON(path)
	}
	if err != nil {
		return nil, err
	}
	return FromVocabulary(v), nil
}

func FromVocabulary(v *Vocabulary) *Tokenizer {
	root := newTrieNode()
	for id, s := range v.tokens {
		root.insert(s, id)
	}
	return &Tokenizer{vocab: v, trie: root}
}

func (t *Tokenizer) Vocabulary() *Vocabulary { return t.vocab }

// Encode remaps the characters of text and repeatedly takes the longest
// vocabulary entry prefixing the remainder.
func (t *Tokenizer) Encode(text string) ([]int, error) {
	start := time.Now()
	mapped, err := EncodeText(text)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	ids := make([]int, 0, len(text)/3+1)
	for pos := 0; pos < len(mapped); {
		id, n := t.trie.longest(mapped, pos)
		if n == 0 {
			return nil, fmt.Errorf("encode at byte %d of %q: %w", pos, mapped, ErrUnmatchedToken)
		}
		ids = append(ids, id)
		pos += n
	}
	metrics.RecordTokenizerEncode(len(ids), time.Since(start))
	return ids, nil
}

// Decode concatenates the token strings, maps each symbol back to its byte
// and returns the character with that code point.
func (t *Tokenizer) Decode(ids []int) (string, error) {
	start := time.Now()
	var sb strings.Builder
	for _, id := range ids {
		s, ok := t.vocab.Token(id)
		if !ok {
			return "", fmt.Errorf("decode id %d (vocabulary size %d): %w", id, t.vocab.Len(), ErrUnknownToken)
		}
		sb.WriteString(s)
	}
	raw, err := DecodeRunes(sb.String())
	if err != nil {
		return "", fmt.Errorf("decode: %w", err)
	}
	metrics.RecordTokenizerDecode(time.Since(start))
	return bytesToText(raw), nil
}

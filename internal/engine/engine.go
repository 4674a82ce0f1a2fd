// Package engine runs the generation loop: forward pass, token selection and
// streaming of decoded tokens to a PromptIO.
package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/23skdu/longbow-gpt2/internal/logger"
	"github.com/23skdu/longbow-gpt2/internal/metrics"
	"github.com/23skdu/longbow-gpt2/internal/model"
	"github.com/23skdu/longbow-gpt2/internal/tensor"
	"github.com/23skdu/longbow-gpt2/internal/tokenizer"
)

type Engine struct {
	Model     *model.Model
	Tokenizer *tokenizer.Tokenizer
	Sampler   Sampler
	// Trace, when set, records every step.
	Trace *Trace
	// Observer, when set, is told about every completed step.
	Observer StepObserver
}

// StepObserver receives the token count and latency of each step.
type StepObserver interface {
	ObserveStep(tokens int, duration time.Duration)
}

// New pairs a model with its tokenizer. A nil sampler means Greedy.
func New(m *model.Model, tok *tokenizer.Tokenizer, s Sampler) (*Engine, error) {
	if m == nil {
		return nil, fmt.Errorf("engine: nil model: %w", tensor.ErrInvalidParameter)
	}
	if tok != nil && tok.Vocabulary().Len() != m.Config.VocabSize {
		return nil, fmt.Errorf("engine: vocabulary has %d tokens, model expects %d", tok.Vocabulary().Len(), m.Config.VocabSize)
	}
	if s == nil {
		s = Greedy{}
	}
	return &Engine{Model: m, Tokenizer: tok, Sampler: s}, nil
}

// Infer appends up to genLen tokens to inputs and returns only the new ones.
func (e *Engine) Infer(ctx context.Context, inputs []int, genLen int) ([]int, error) {
	return e.InferWithCallback(ctx, inputs, genLen, nil)
}

// InferWithCallback is Infer with cb invoked after each chosen token. The
// context is checked between steps, never inside a forward pass.
func (e *Engine) InferWithCallback(ctx context.Context, inputs []int, genLen int, cb func(int) error) ([]int, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("infer: empty prompt: %w", tensor.ErrInvalidParameter)
	}
	seqLen := e.Model.Config.SeqLen
	ids := make([]int, len(inputs), len(inputs)+genLen)
	copy(ids, inputs)

	for step := 0; step < genLen; step++ {
		if err := ctx.Err(); err != nil {
			return ids[len(inputs):], err
		}
		if len(ids) > seqLen {
			err := &tensor.RangeError{Op: "context", Index: len(ids) - 1, Len: seqLen}
			return ids[len(inputs):], fmt.Errorf("step %d: %w", step, err)
		}

		start := time.Now()
		metrics.RecordContextLength(len(ids))
		logits, err := e.Model.NextLogits(ids)
		if err != nil {
			return ids[len(inputs):], fmt.Errorf("step %d: %w", step, err)
		}
		audit := AuditLogitRange(logits)
		audit.Record()
		next, err := e.Sampler.ChooseNext(logits)
		if err != nil {
			return ids[len(inputs):], fmt.Errorf("step %d: %w", step, err)
		}
		elapsed := time.Since(start)
		metrics.RecordInference(1, elapsed)
		if e.Observer != nil {
			e.Observer.ObserveStep(1, elapsed)
		}
		logger.Log.Debug("chose token", "step", step, "token", next, "elapsed", elapsed.String())
		if e.Trace != nil {
			e.Trace.Record(step, next, logits, audit)
		}

		ids = append(ids, next)
		if cb != nil {
			if err := cb(next); err != nil {
				return ids[len(inputs):], err
			}
		}
	}
	return ids[len(inputs):], nil
}

// Generate reads a prompt from pio, runs steps tokens of generation while
// emitting each decoded token and finishes with the whole continuation.
func (e *Engine) Generate(ctx context.Context, pio PromptIO, steps int) (string, error) {
	if e.Tokenizer == nil {
		return "", fmt.Errorf("generate: no tokenizer: %w", tensor.ErrInvalidParameter)
	}
	log := logger.Log.With("run", uuid.NewString())

	prompt, err := pio.Prompt()
	if err != nil {
		return "", fmt.Errorf("read prompt: %w", err)
	}
	inputs, err := e.Tokenizer.Encode(prompt)
	if err != nil {
		return "", err
	}
	log.Info("generating", "prompt_tokens", len(inputs), "steps", steps)
	if e.Trace != nil {
		e.Trace.Begin(prompt, inputs)
	}

	start := time.Now()
	var sb strings.Builder
	out, err := e.InferWithCallback(ctx, inputs, steps, func(id int) error {
		text, err := e.Tokenizer.Decode([]int{id})
		if err != nil {
			return err
		}
		if e.Trace != nil {
			e.Trace.SetText(text)
		}
		sb.WriteString(text)
		return pio.Emit(text)
	})
	if err != nil {
		log.Error("generation stopped", "tokens", len(out), "err", err)
		return sb.String(), err
	}

	continuation, err := e.Tokenizer.Decode(out)
	if err != nil {
		return sb.String(), err
	}
	elapsed := time.Since(start)
	log.Info("generation complete",
		"tokens", len(out),
		"elapsed", elapsed.String(),
		"tokens_per_sec", float64(len(out))/max(elapsed.Seconds(), 1e-9))
	return continuation, pio.Finish(continuation)
}

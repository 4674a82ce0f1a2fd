package engine

import (
	"cmp"
	"fmt"
	"os"
	"slices"
	"sync"

	"github.com/goccy/go-json"
)

// traceTopN is how many of the best logits each step keeps.
const traceTopN = 5

// TraceLog is the JSON document written by Trace.Save.
type TraceLog struct {
	Prompt string      `json:"prompt"`
	Tokens []int       `json:"tokens"`
	Steps  []StepTrace `json:"steps"`
}

type StepTrace struct {
	Step   int             `json:"step"`
	Token  int             `json:"token"`
	Text   string          `json:"text"`
	Top    []TokenLogit    `json:"top"`
	Logits LogitRangeAudit `json:"logits"`
}

type TokenLogit struct {
	Token int     `json:"token"`
	Logit float32 `json:"logit"`
}

// LogitRangeAudit is the serialisable subset of LogitRangeAuditResult.
type LogitRangeAudit struct {
	Max    float32 `json:"max"`
	Min    float32 `json:"min"`
	Mean   float32 `json:"mean"`
	RMS    float32 `json:"rms"`
	NaNs   int     `json:"nans"`
	Infs   int     `json:"infs"`
	IsFlat bool    `json:"is_flat"`
}

// Trace records each generation step for offline inspection.
type Trace struct {
	mu  sync.Mutex
	log TraceLog
}

func NewTrace() *Trace {
	return &Trace{}
}

// Begin resets the trace for a new prompt.
func (t *Trace) Begin(prompt string, tokens []int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.log = TraceLog{Prompt: prompt, Tokens: slices.Clone(tokens), Steps: make([]StepTrace, 0)}
}

func (t *Trace) Record(step, token int, logits []float32, audit LogitRangeAuditResult) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.log.Steps = append(t.log.Steps, StepTrace{
		Step:  step,
		Token: token,
		Top:   topLogits(logits, traceTopN),
		Logits: LogitRangeAudit{
			Max:    audit.Max,
			Min:    audit.Min,
			Mean:   audit.Mean,
			RMS:    audit.RMS,
			NaNs:   audit.NumNaNs,
			Infs:   audit.NumInfs,
			IsFlat: audit.IsFlat,
		},
	})
}

// SetText attaches decoded text to the most recent step.
func (t *Trace) SetText(text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n := len(t.log.Steps); n > 0 {
		t.log.Steps[n-1].Text = text
	}
}

func (t *Trace) Log() TraceLog {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := t.log
	out.Steps = slices.Clone(t.log.Steps)
	return out
}

// Save writes the trace as indented JSON.
func (t *Trace) Save(path string) error {
	data, err := json.MarshalIndent(t.Log(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal trace: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write trace: %w", err)
	}
	return nil
}

func topLogits(logits []float32, n int) []TokenLogit {
	all := make([]TokenLogit, len(logits))
	for i, v := range logits {
		all[i] = TokenLogit{Token: i, Logit: v}
	}
	slices.SortStableFunc(all, func(a, b TokenLogit) int { return cmp.Compare(b.Logit, a.Logit) })
	return all[:min(n, len(all))]
}

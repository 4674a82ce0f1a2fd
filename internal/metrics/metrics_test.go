package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordInferenceAccumulates(t *testing.T) {
	before := testutil.ToFloat64(InferenceTokensTotal)
	startTotal := TotalTokens()

	RecordInference(5, 50*time.Millisecond)
	RecordInference(1, 10*time.Millisecond)

	if got := testutil.ToFloat64(InferenceTokensTotal) - before; got != 6 {
		t.Errorf("inference_tokens_total delta = %v, want 6", got)
	}
	if got := TotalTokens() - startTotal; got != 6 {
		t.Errorf("TotalTokens delta = %d, want 6", got)
	}
}

func TestRecordTensorAlloc(t *testing.T) {
	before := testutil.ToFloat64(TensorAllocBytes)
	RecordTensorAlloc(1024)
	if got := testutil.ToFloat64(TensorAllocBytes) - before; got != 1024 {
		t.Errorf("tensor_alloc_bytes_total delta = %v, want 1024", got)
	}
}

func TestRecordValidationError(t *testing.T) {
	c := ValidationErrors.WithLabelValues("split", "indivisible_chunk")
	before := testutil.ToFloat64(c)
	RecordValidationError("split", "indivisible_chunk")
	RecordValidationError("split", "indivisible_chunk")
	if got := testutil.ToFloat64(c) - before; got != 2 {
		t.Errorf("validation_errors_total delta = %v, want 2", got)
	}
}

func TestRecordNumericalInstability(t *testing.T) {
	nan := NumericalInstability.WithLabelValues("logits", "nan")
	inf := NumericalInstability.WithLabelValues("logits", "inf")
	nanBefore, infBefore := testutil.ToFloat64(nan), testutil.ToFloat64(inf)

	RecordNumericalInstability("logits", 3, 0)

	if got := testutil.ToFloat64(nan) - nanBefore; got != 3 {
		t.Errorf("nan delta = %v, want 3", got)
	}
	if got := testutil.ToFloat64(inf) - infBefore; got != 0 {
		t.Errorf("inf delta = %v, want 0", got)
	}
}

func TestRecordLogitAudit(t *testing.T) {
	flatBefore := testutil.ToFloat64(LogitFlatDistribution)
	nanBefore := testutil.ToFloat64(LogitNaNCount)

	RecordLogitAudit(10, -5, 2.5, 3, 2, true, true)

	if got := testutil.ToFloat64(LogitFlatDistribution) - flatBefore; got != 1 {
		t.Errorf("flat delta = %v, want 1", got)
	}
	if got := testutil.ToFloat64(LogitNaNCount) - nanBefore; got != 2 {
		t.Errorf("nan delta = %v, want 2", got)
	}
}

func TestRecordWeightLoad(t *testing.T) {
	c := WeightBytesLoaded.WithLabelValues("dir")
	before := testutil.ToFloat64(c)
	RecordWeightLoad("dir", 4096)
	if got := testutil.ToFloat64(c) - before; got != 4096 {
		t.Errorf("weight_bytes_loaded_total delta = %v, want 4096", got)
	}
}

func TestHistogramsDoNotPanic(t *testing.T) {
	RecordKernelDuration("block", 5*time.Millisecond)
	RecordContextLength(512)
	RecordTokenizerEncode(12, time.Microsecond)
	RecordTokenizerDecode(time.Microsecond)
	RecordWeightLoadDuration(time.Second)
}

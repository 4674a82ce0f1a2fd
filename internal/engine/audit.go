package engine

import (
	"fmt"
	"math"

	"github.com/23skdu/longbow-gpt2/internal/metrics"
)

// LogitRangeAuditResult summarises one logits vector.
type LogitRangeAuditResult struct {
	Max              float32
	Min              float32
	Mean             float32
	RMS              float32
	HasNaN           bool
	HasInf           bool
	HasExtremeValues bool
	IsFlat           bool
	NumNaNs          int
	NumInfs          int
}

// AuditLogitRange inspects raw logit distribution for flatness or extreme values
func AuditLogitRange(logits []float32) LogitRangeAuditResult {
	audit := LogitRangeAuditResult{}
	if len(logits) == 0 {
		return audit
	}

	var sum, sumSq float64
	var minVal, maxVal float32 = math.MaxFloat32, -math.MaxFloat32
	finite := 0
	for _, v := range logits {
		switch f := float64(v); {
		case math.IsNaN(f):
			audit.HasNaN = true
			audit.NumNaNs++
			continue
		case math.IsInf(f, 0):
			audit.HasInf = true
			audit.NumInfs++
			continue
		}
		minVal = min(minVal, v)
		maxVal = max(maxVal, v)
		sum += float64(v)
		sumSq += float64(v) * float64(v)
		finite++
	}
	audit.HasExtremeValues = audit.HasNaN || audit.HasInf
	if finite == 0 {
		return audit
	}

	audit.Max = maxVal
	audit.Min = minVal
	mean := sum / float64(finite)
	audit.Mean = float32(mean)
	audit.RMS = float32(math.Sqrt(sumSq / float64(finite)))

	if math.Abs(float64(audit.Max)) > 1e20 || math.Abs(float64(audit.Min)) > 1e20 {
		audit.HasExtremeValues = true
	}
	// Near-zero variance means the model cannot tell tokens apart.
	variance := sumSq/float64(finite) - mean*mean
	audit.IsFlat = variance < 1e-4
	return audit
}

// Record exports the audit to the logit metrics.
func (r LogitRangeAuditResult) Record() {
	metrics.RecordLogitAudit(r.Max, r.Min, r.Mean, r.RMS, r.NumNaNs, r.HasExtremeValues, r.IsFlat)
	if r.NumNaNs > 0 || r.NumInfs > 0 {
		metrics.RecordNumericalInstability("logits", r.NumNaNs, r.NumInfs)
	}
}

func (r LogitRangeAuditResult) String() string {
	return fmt.Sprintf("LogitRange{max=%.4f, min=%.4f, mean=%.4f, rms=%.4f, hasNaN=%v, isFlat=%v}",
		r.Max, r.Min, r.Mean, r.RMS, r.HasNaN, r.IsFlat)
}

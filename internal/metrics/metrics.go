package metrics

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var totalTokens atomic.Int64

var (
	InferenceTokensTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "inference_tokens_total",
		Help: "The total number of tokens generated",
	})

	InferenceDuration = promauto.NewSummary(prometheus.SummaryOpts{
		Name: "inference_duration_seconds",
		Help: "Duration of inference steps",
	})

	TensorAllocBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tensor_alloc_bytes_total",
		Help: "Total bytes allocated for tensor buffers",
	})

	KernelDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "kernel_duration_seconds",
		Help:    "Histogram of kernel execution times",
		Buckets: prometheus.DefBuckets,
	}, []string{"kernel"})

	NumericalInstability = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "numerical_instability_total",
		Help: "Total number of NaN/Inf values detected",
	}, []string{"tensor", "type"})

	ValidationErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "validation_errors_total",
		Help: "Total number of validation errors",
	}, []string{"operation", "error_type"})

	ContextLengthHistogram = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "context_length_tokens",
		Help:    "Distribution of context lengths processed",
		Buckets: []float64{8, 16, 32, 64, 128, 256, 512, 1024},
	})

	LogitMaxValue = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "logit_max_value",
		Help:    "Maximum logit value observed",
		Buckets: []float64{-100, -50, -20, -10, -5, 0, 5, 10, 20, 50, 100, 500, 1000},
	})

	LogitMinValue = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "logit_min_value",
		Help:    "Minimum logit value observed",
		Buckets: []float64{-1000, -500, -100, -50, -20, -10, -5, 0, 5, 10, 20, 50, 100},
	})

	LogitMeanValue = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "logit_mean_value",
		Help:    "Mean logit value observed",
		Buckets: []float64{-100, -50, -20, -10, -5, 0, 5, 10, 20, 50, 100},
	})

	LogitRMS = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "logit_rms",
		Help:    "Root mean square of logit values",
		Buckets: []float64{0, 1, 2, 5, 10, 20, 50, 100, 200, 500},
	})

	LogitFlatDistribution = promauto.NewCounter(prometheus.CounterOpts{
		Name: "logit_flat_distribution_total",
		Help: "Count of flat logit distributions detected",
	})

	LogitNaNCount = promauto.NewCounter(prometheus.CounterOpts{
		Name: "logit_nan_count_total",
		Help: "Total count of NaN values in logits",
	})

	LogitExtremeValues = promauto.NewCounter(prometheus.CounterOpts{
		Name: "logit_extreme_values_total",
		Help: "Count of extreme logit values detected",
	})

	TokenizerEncodeLength = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tokenizer_encode_length_tokens",
		Help:    "Number of tokens produced per encode call",
		Buckets: []float64{1, 4, 16, 64, 256, 1024},
	})

	TokenizerDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tokenizer_duration_seconds",
		Help:    "Duration of tokenizer encode and decode calls",
		Buckets: prometheus.ExponentialBuckets(1e-6, 4, 10),
	}, []string{"op"})

	WeightBytesLoaded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "weight_bytes_loaded_total",
		Help: "Total parameter bytes loaded, by weight source",
	}, []string{"source"})

	WeightLoadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "weight_load_duration_seconds",
		Help:    "Time to load a full parameter set",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	})
)

func TotalTokens() int64 {
	return totalTokens.Load()
}

func RecordInference(tokens int, duration time.Duration) {
	InferenceTokensTotal.Add(float64(tokens))
	totalTokens.Add(int64(tokens))
	InferenceDuration.Observe(duration.Seconds())
}

func RecordTensorAlloc(bytes int64) {
	TensorAllocBytes.Add(float64(bytes))
}

func RecordKernelDuration(name string, duration time.Duration) {
	KernelDuration.WithLabelValues(name).Observe(duration.Seconds())
}

func RecordNumericalInstability(name string, nanCount, infCount int) {
	if nanCount > 0 {
		NumericalInstability.WithLabelValues(name, "nan").Add(float64(nanCount))
	}
	if infCount > 0 {
		NumericalInstability.WithLabelValues(name, "inf").Add(float64(infCount))
	}
}

func RecordValidationError(operation, errorType string) {
	ValidationErrors.WithLabelValues(operation, errorType).Inc()
}

func RecordContextLength(tokens int) {
	ContextLengthHistogram.Observe(float64(tokens))
}

// RecordLogitAudit records logit range audit results
func RecordLogitAudit(max, min, mean, rms float32, nanCount int, hasExtreme, isFlat bool) {
	LogitMaxValue.Observe(float64(max))
	LogitMinValue.Observe(float64(min))
	LogitMeanValue.Observe(float64(mean))
	LogitRMS.Observe(float64(rms))
	if isFlat {
		LogitFlatDistribution.Inc()
	}
	if nanCount > 0 {
		LogitNaNCount.Add(float64(nanCount))
	}
	if hasExtreme {
		LogitExtremeValues.Inc()
	}
}

func RecordTokenizerEncode(length int, duration time.Duration) {
	TokenizerEncodeLength.Observe(float64(length))
	TokenizerDuration.WithLabelValues("encode").Observe(duration.Seconds())
}

func RecordTokenizerDecode(duration time.Duration) {
	TokenizerDuration.WithLabelValues("decode").Observe(duration.Seconds())
}

func RecordWeightLoad(source string, bytes int64) {
	WeightBytesLoaded.WithLabelValues(source).Add(float64(bytes))
}

func RecordWeightLoadDuration(duration time.Duration) {
	WeightLoadDuration.Observe(duration.Seconds())
}

package risk

import "time"

// #region evolution-kind

// Kind classifies the change under assessment. The base risk for each kind
// comes from configuration, not code.
type Kind string

const (
	KindBugfix       Kind = "bugfix"
	KindOptimization Kind = "optimization"
	KindRefactor     Kind = "refactor"
)

// #endregion

// #region comparison

// PerformanceComparison contrasts throughput before and after an evolution.
// Improvement is a percentage; negative means the evolved build regressed.
type PerformanceComparison struct {
	BaselineOps float64 `json:"baseline_ops"`
	EvolvedOps  float64 `json:"evolved_ops"`
	Improvement float64 `json:"improvement"`
	Significant bool    `json:"significant"`
	Confidence  float64 `json:"confidence"`
}

// MemoryComparison contrasts memory footprints. Increase is a percentage of
// the baseline.
type MemoryComparison struct {
	BaselineMB   float64 `json:"baseline_mb"`
	EvolvedMB    float64 `json:"evolved_mb"`
	Increase     float64 `json:"increase"`
	LeakDetected bool    `json:"leak_detected"`
}

// ReliabilityComparison contrasts observed error rates. ErrorRateChange is
// evolved minus baseline, so zero means reliability held steady.
type ReliabilityComparison struct {
	BaselineErrorRate float64  `json:"baseline_error_rate"`
	EvolvedErrorRate  float64  `json:"evolved_error_rate"`
	ErrorRateChange   float64  `json:"error_rate_change"`
	NewErrorTypes     []string `json:"new_error_types,omitempty"`
}

// MetricsComparison is the full before/after picture for one candidate
// evolution. Produced once by the benchmarking side, consumed once here.
type MetricsComparison struct {
	Kind        Kind                  `json:"kind"`
	Performance PerformanceComparison `json:"performance"`
	Memory      MemoryComparison      `json:"memory"`
	Reliability ReliabilityComparison `json:"reliability"`
	MeasuredAt  time.Time             `json:"measured_at"`
}

// #endregion

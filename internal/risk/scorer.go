package risk

import (
	"log"
	"math"
)

// #region config

// Config holds the base-risk table and the penalty weights. All values are
// tunable; Default matches the behavior the rollout thresholds were
// calibrated against.
type Config struct {
	BaseByKind  map[Kind]float64
	DefaultBase float64

	// Memory growth above MemoryThresholdPct percent adds a flat penalty.
	MemoryThresholdPct float64
	MemoryPenalty      float64

	// Performance regression adds |improvement|/100, capped.
	PerfPenaltyCap float64

	// Any error-rate movement adds |change| * ErrorPenaltyScale, capped.
	ErrorPenaltyCap   float64
	ErrorPenaltyScale float64
}

// DefaultConfig returns the calibrated weights.
func DefaultConfig() Config {
	return Config{
		BaseByKind: map[Kind]float64{
			KindBugfix:       0.1,
			KindOptimization: 0.3,
			KindRefactor:     0.5,
		},
		DefaultBase:        0.3,
		MemoryThresholdPct: 20,
		MemoryPenalty:      0.3,
		PerfPenaltyCap:     0.4,
		ErrorPenaltyCap:    0.3,
		ErrorPenaltyScale:  3,
	}
}

// #endregion

// #region scorer

// Scorer turns a before/after metrics comparison into a bounded risk score
// in [0,1]. 1.0 means maximum caution no matter how far the inputs overshoot.
type Scorer struct {
	cfg Config
}

// NewScorer creates a scorer with the given weights.
func NewScorer(cfg Config) *Scorer {
	return &Scorer{cfg: cfg}
}

// Score computes base risk for the evolution kind, adds penalties for
// performance regression, memory growth, and error-rate movement, and clamps
// the sum to [0,1].
func (s *Scorer) Score(cmp MetricsComparison) float64 {
	score := s.base(cmp.Kind)

	// Performance regression: proportional to magnitude, capped.
	if cmp.Performance.Improvement < 0 {
		p := math.Min(s.cfg.PerfPenaltyCap, math.Abs(cmp.Performance.Improvement)/100)
		score += p
	}

	// Memory growth past the threshold is a flat penalty. A detected leak
	// counts as growth regardless of the percentage.
	if cmp.Memory.Increase > s.cfg.MemoryThresholdPct || cmp.Memory.LeakDetected {
		score += s.cfg.MemoryPenalty
	}

	// Any error-rate movement is suspect, even a drop: a changed error
	// profile means changed behavior under load.
	if cmp.Reliability.ErrorRateChange != 0 {
		p := math.Min(s.cfg.ErrorPenaltyCap, math.Abs(cmp.Reliability.ErrorRateChange)*s.cfg.ErrorPenaltyScale)
		score += p
	}

	clamped := clamp01(score)
	if clamped != score {
		log.Printf("[RISK] raw score %.3f clamped to %.1f for kind %s", score, clamped, cmp.Kind)
	}
	return clamped
}

func (s *Scorer) base(kind Kind) float64 {
	if b, ok := s.cfg.BaseByKind[kind]; ok {
		return b
	}
	return s.cfg.DefaultBase
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// #endregion

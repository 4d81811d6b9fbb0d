package deploystore

import (
	"testing"
	"time"

	"github.com/danielpatrickdp/evo-deploy/internal/rollout"
)

func TestBandFor(t *testing.T) {
	th := rollout.DefaultThresholds()
	if got := BandFor(0.1, th); got != "low" {
		t.Fatalf("0.1: got %s", got)
	}
	if got := BandFor(0.3, th); got != "medium" {
		t.Fatalf("0.3: got %s", got)
	}
	if got := BandFor(0.9, th); got != "high" {
		t.Fatalf("0.9: got %s", got)
	}
}

func TestBestStrategyNeedsSamples(t *testing.T) {
	s := tempStore(t)
	m, err := NewOutcomeMemory(s.DB())
	if err != nil {
		t.Fatalf("NewOutcomeMemory: %v", err)
	}

	// Two samples are below the minimum; no recommendation yet.
	for i := 0; i < 2; i++ {
		err := m.RecordOutcome(OutcomeRecord{
			DeploymentID: "d1",
			Strategy:     rollout.StrategyCanary,
			RiskBand:     "medium",
			Success:      true,
			CreatedAt:    time.Now(),
		})
		if err != nil {
			t.Fatalf("RecordOutcome: %v", err)
		}
	}
	best, _, err := m.BestStrategy("medium")
	if err != nil {
		t.Fatalf("BestStrategy: %v", err)
	}
	if best != "" {
		t.Fatalf("expected no recommendation under 3 samples, got %s", best)
	}
}

func TestBestStrategyPrefersHigherSuccessRate(t *testing.T) {
	s := tempStore(t)
	m, err := NewOutcomeMemory(s.DB())
	if err != nil {
		t.Fatalf("NewOutcomeMemory: %v", err)
	}

	now := time.Now()
	add := func(strategy rollout.Strategy, success bool) {
		t.Helper()
		err := m.RecordOutcome(OutcomeRecord{
			DeploymentID: "d",
			Strategy:     strategy,
			RiskBand:     "medium",
			Success:      success,
			CreatedAt:    now,
		})
		if err != nil {
			t.Fatalf("RecordOutcome: %v", err)
		}
	}

	for i := 0; i < 4; i++ {
		add(rollout.StrategyCanary, true)
	}
	add(rollout.StrategyBlueGreen, true)
	add(rollout.StrategyBlueGreen, false)
	add(rollout.StrategyBlueGreen, false)

	best, rate, err := m.BestStrategy("medium")
	if err != nil {
		t.Fatalf("BestStrategy: %v", err)
	}
	if best != rollout.StrategyCanary {
		t.Fatalf("expected canary, got %s (rate %f)", best, rate)
	}
	if rate < 0.99 {
		t.Fatalf("expected near-perfect rate for canary, got %f", rate)
	}
}

func TestStrategyStatsOrderedBySuccessRate(t *testing.T) {
	s := tempStore(t)
	m, err := NewOutcomeMemory(s.DB())
	if err != nil {
		t.Fatalf("NewOutcomeMemory: %v", err)
	}

	now := time.Now()
	add := func(strategy rollout.Strategy, success bool) {
		t.Helper()
		err := m.RecordOutcome(OutcomeRecord{
			DeploymentID: "d",
			Strategy:     strategy,
			RiskBand:     "medium",
			Success:      success,
			CreatedAt:    now,
		})
		if err != nil {
			t.Fatalf("RecordOutcome: %v", err)
		}
	}

	add(rollout.StrategyCanary, true)
	add(rollout.StrategyCanary, true)
	add(rollout.StrategyBlueGreen, true)
	add(rollout.StrategyBlueGreen, false)

	stats, err := m.StrategyStats("medium")
	if err != nil {
		t.Fatalf("StrategyStats: %v", err)
	}
	if len(stats) != 2 {
		t.Fatalf("expected 2 strategies, got %d", len(stats))
	}
	if stats[0].Strategy != rollout.StrategyCanary || stats[0].Samples != 2 {
		t.Fatalf("canary should rank first with 2 samples: %+v", stats[0])
	}
	if stats[0].SuccessRate < 0.99 {
		t.Fatalf("all-success canary rate: got %f", stats[0].SuccessRate)
	}
	if stats[1].Strategy != rollout.StrategyBlueGreen {
		t.Fatalf("blue-green should rank second: %+v", stats[1])
	}
	if stats[1].SuccessRate < 0.49 || stats[1].SuccessRate > 0.51 {
		t.Fatalf("half-success blue-green rate: got %f", stats[1].SuccessRate)
	}
	if stats[0].RiskBand != "medium" || stats[1].RiskBand != "medium" {
		t.Fatalf("stats must carry their band: %+v", stats)
	}

	empty, err := m.StrategyStats("low")
	if err != nil {
		t.Fatalf("StrategyStats(low): %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("band with no outcomes should be empty, got %+v", empty)
	}
}

func TestBestStrategyDecayFavorsRecentOutcomes(t *testing.T) {
	s := tempStore(t)
	m, err := NewOutcomeMemory(s.DB())
	if err != nil {
		t.Fatalf("NewOutcomeMemory: %v", err)
	}

	now := time.Now()
	stale := now.Add(-60 * 24 * time.Hour)

	// Canary: three old failures, three fresh successes. The decay weight
	// on the stale rows should leave the rate close to 1.
	for i := 0; i < 3; i++ {
		if err := m.RecordOutcome(OutcomeRecord{
			DeploymentID: "d", Strategy: rollout.StrategyCanary,
			RiskBand: "high", Success: false, CreatedAt: stale,
		}); err != nil {
			t.Fatalf("RecordOutcome: %v", err)
		}
	}
	for i := 0; i < 3; i++ {
		if err := m.RecordOutcome(OutcomeRecord{
			DeploymentID: "d", Strategy: rollout.StrategyCanary,
			RiskBand: "high", Success: true, CreatedAt: now,
		}); err != nil {
			t.Fatalf("RecordOutcome: %v", err)
		}
	}

	_, rate, err := m.BestStrategy("high")
	if err != nil {
		t.Fatalf("BestStrategy: %v", err)
	}
	if rate < 0.9 {
		t.Fatalf("stale failures should be decayed away, got rate %f", rate)
	}
}

package fixture

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/danielpatrickdp/evo-deploy/internal/risk"
	"github.com/danielpatrickdp/evo-deploy/internal/rollout"
)

func healthySamples() []Sample {
	return []Sample{{ErrorRate: 0.001, LatencyMS: 40}}
}

func cleanBugfix(agentID string) Candidate {
	return Candidate{
		AgentID:  agentID,
		CommitID: "commit-" + agentID,
		TaskResults: []TaskResult{
			{TaskID: "t1", Resolved: true},
			{TaskID: "t2", Resolved: true},
		},
		Comparison: risk.MetricsComparison{
			Kind:        risk.KindBugfix,
			Performance: risk.PerformanceComparison{Improvement: 5},
		},
		Samples: healthySamples(),
	}
}

func TestReplayCleanBugfixDeploysDirect(t *testing.T) {
	f := &Fixture{Candidates: []Candidate{cleanBugfix("a1")}}

	results, err := Replay(context.Background(), f)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	r := results[0]
	if r.Fitness.Accuracy != 1 {
		t.Fatalf("expected perfect accuracy, got %f", r.Fitness.Accuracy)
	}
	if r.Strategy != rollout.StrategyDirect {
		t.Fatalf("clean bugfix should deploy direct, got %s", r.Strategy)
	}
	if r.Outcome != rollout.StatusCompleted {
		t.Fatalf("expected completed, got %s", r.Outcome)
	}
}

func TestReplayRiskyRefactorGetsCautiousStrategy(t *testing.T) {
	cand := cleanBugfix("a1")
	cand.Comparison = risk.MetricsComparison{
		Kind:        risk.KindRefactor,
		Performance: risk.PerformanceComparison{Improvement: -20},
	}
	f := &Fixture{Candidates: []Candidate{cand}}

	results, err := Replay(context.Background(), f)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if results[0].Strategy != rollout.StrategyBlueGreen {
		t.Fatalf("regressed refactor should go blue-green, got %s", results[0].Strategy)
	}
}

func TestReplayDegradedMonitoringRollsBack(t *testing.T) {
	cand := cleanBugfix("a1")
	cand.Samples = []Sample{{ErrorRate: 0.9, LatencyMS: 3000}}
	f := &Fixture{Candidates: []Candidate{cand}}

	results, err := Replay(context.Background(), f)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if results[0].Outcome != rollout.StatusRolledBack {
		t.Fatalf("expected rolled-back, got %s", results[0].Outcome)
	}
}

func TestReplayDeployFailure(t *testing.T) {
	cand := cleanBugfix("a1")
	cand.DeployFails = true
	f := &Fixture{Candidates: []Candidate{cand}}

	results, err := Replay(context.Background(), f)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if results[0].Outcome != rollout.StatusFailed {
		t.Fatalf("expected failed, got %s", results[0].Outcome)
	}
}

func TestSummarize(t *testing.T) {
	results := []ReplayResult{
		{Outcome: rollout.StatusCompleted},
		{Outcome: rollout.StatusCompleted},
		{Outcome: rollout.StatusRolledBack},
		{Outcome: rollout.StatusFailed},
	}
	s := Summarize(results)
	if s.TotalCandidates != 4 || s.Completed != 2 || s.RolledBack != 1 || s.Failed != 1 {
		t.Fatalf("bad summary: %+v", s)
	}
}

func TestFixtureRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fixture.json")
	f := &Fixture{
		Description: "round trip",
		Config:      Config{ErrorThreshold: 0.1, LatencyThreshold: "250ms"},
		Candidates:  []Candidate{cleanBugfix("a1")},
	}
	if err := Save(path, f); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Description != f.Description || len(loaded.Candidates) != 1 {
		t.Fatalf("fixture did not survive the round trip: %+v", loaded)
	}
	if loaded.Candidates[0].AgentID != "a1" {
		t.Fatalf("candidate lost: %+v", loaded.Candidates[0])
	}
}

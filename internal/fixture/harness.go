package fixture

import (
	"context"
	"errors"
	"time"

	"github.com/danielpatrickdp/evo-deploy/internal/agent"
	"github.com/danielpatrickdp/evo-deploy/internal/fitness"
	"github.com/danielpatrickdp/evo-deploy/internal/risk"
	"github.com/danielpatrickdp/evo-deploy/internal/rollout"
)

// #region types

// ReplayResult captures the outcome of replaying one candidate through the
// full pipeline: fitness -> risk -> strategy -> rollout.
type ReplayResult struct {
	AgentID   string
	Fitness   agent.FitnessScore
	RiskScore float64
	Strategy  rollout.Strategy
	Outcome   rollout.Status
	Message   string
}

// ReplaySummary provides aggregate stats from a replay run.
type ReplaySummary struct {
	TotalCandidates int
	Completed       int
	RolledBack      int
	Failed          int
}

// #endregion types

// #region scripted-seams

type scriptedExecutor struct {
	fails bool
}

func (e *scriptedExecutor) Deploy(context.Context, rollout.DeploymentRecord, int) error {
	if e.fails {
		return errors.New("scripted deploy failure")
	}
	return nil
}

type scriptedProbe struct {
	samples []rollout.ProbeSample
	idx     int
}

func (p *scriptedProbe) Sample(context.Context, string) (rollout.ProbeSample, error) {
	if len(p.samples) == 0 {
		return rollout.ProbeSample{}, nil
	}
	s := p.samples[p.idx]
	if p.idx < len(p.samples)-1 {
		p.idx++
	}
	return s, nil
}

type noopRollback struct{}

func (noopRollback) Rollback(context.Context, string) error { return nil }

// #endregion scripted-seams

// #region replay

// Replay runs every candidate through fitness computation, risk scoring,
// strategy selection, and a scripted rollout. Entirely in-memory and
// deterministic: each monitoring step takes exactly one scripted sample.
func Replay(ctx context.Context, f *Fixture) ([]ReplayResult, error) {
	scorer := risk.NewScorer(risk.DefaultConfig())
	thresholds := f.Config.ToThresholds()

	latency := 500 * time.Millisecond
	if f.Config.LatencyThreshold != "" {
		d, err := time.ParseDuration(f.Config.LatencyThreshold)
		if err != nil {
			return nil, err
		}
		latency = d
	}
	errorThreshold := f.Config.ErrorThreshold
	if errorThreshold == 0 {
		errorThreshold = 0.05
	}

	results := make([]ReplayResult, 0, len(f.Candidates))
	for _, cand := range f.Candidates {
		score := fitness.ComputeFitness(cand.ToTaskResults(), cand.Shallow)
		riskScore := scorer.Score(cand.Comparison)
		if cand.RiskScore != nil {
			riskScore = *cand.RiskScore
		}

		// One sample per monitoring step keeps replays instant.
		cfg := rollout.Config{
			Thresholds:       thresholds,
			CanaryStages:     []int{5, 25, 50, 100},
			CanaryDwell:      []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond, 0},
			MonitorInterval:  time.Millisecond,
			MonitorWindow:    time.Millisecond,
			ErrorThreshold:   errorThreshold,
			LatencyThreshold: latency,
		}
		ctrl := rollout.NewController(
			&scriptedExecutor{fails: cand.DeployFails},
			&scriptedProbe{samples: cand.ToProbeSamples()},
			noopRollback{},
			cfg,
		)

		var terminal rollout.Status
		ctrl.OnTransition = func(rec rollout.DeploymentRecord) {
			if rec.Status.Terminal() {
				terminal = rec.Status
			}
		}

		res, err := ctrl.Deploy(ctx, rollout.DeployRequest{
			AgentID:   cand.AgentID,
			CommitID:  cand.CommitID,
			RiskScore: riskScore,
		})
		if err != nil {
			return results, err
		}

		results = append(results, ReplayResult{
			AgentID:   cand.AgentID,
			Fitness:   score,
			RiskScore: riskScore,
			Strategy:  res.Strategy,
			Outcome:   terminal,
			Message:   res.Message,
		})
	}
	return results, nil
}

// Summarize computes aggregate stats from replay results.
func Summarize(results []ReplayResult) ReplaySummary {
	s := ReplaySummary{TotalCandidates: len(results)}
	for _, r := range results {
		switch r.Outcome {
		case rollout.StatusCompleted:
			s.Completed++
		case rollout.StatusRolledBack:
			s.RolledBack++
		case rollout.StatusFailed:
			s.Failed++
		}
	}
	return s
}

// #endregion replay

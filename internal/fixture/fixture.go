package fixture

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/danielpatrickdp/evo-deploy/internal/agent"
	"github.com/danielpatrickdp/evo-deploy/internal/risk"
	"github.com/danielpatrickdp/evo-deploy/internal/rollout"
)

// #region fixture-types

// Fixture is the top-level JSON structure for a recorded pipeline run: raw
// task results and benchmark comparisons per candidate, plus the scripted
// behavior of the deployment target.
type Fixture struct {
	Description     string           `json:"description"`
	Config          Config           `json:"config"`
	Candidates      []Candidate      `json:"candidates"`
	ExpectedResults []ExpectedResult `json:"expected_results,omitempty"`
}

// Config carries the tunables a replay run needs.
type Config struct {
	Thresholds       ThresholdsConfig `json:"thresholds"`
	ErrorThreshold   float64          `json:"error_threshold"`
	LatencyThreshold string           `json:"latency_threshold"`
}

// ThresholdsConfig mirrors rollout.Thresholds with JSON tags.
type ThresholdsConfig struct {
	Low    float64 `json:"low"`
	Medium float64 `json:"medium"`
}

// Candidate is one recorded agent: its evaluation results, its benchmark
// comparison, and how its deployment behaved.
type Candidate struct {
	AgentID     string                 `json:"agent_id"`
	CommitID    string                 `json:"commit_id"`
	Shallow     bool                   `json:"shallow"`
	TaskResults []TaskResult           `json:"task_results"`
	Comparison  risk.MetricsComparison `json:"comparison"`

	// RiskScore, when set, replays a recorded score directly instead of
	// re-scoring the comparison. Exported fixtures carry the score the
	// original run computed.
	RiskScore *float64 `json:"risk_score,omitempty"`

	// DeployFails scripts the executor; Samples scripts the probe, one per
	// monitoring step, last repeating.
	DeployFails bool     `json:"deploy_fails"`
	Samples     []Sample `json:"samples"`
}

// TaskResult mirrors agent.TaskResult with JSON tags.
type TaskResult struct {
	TaskID      string `json:"task_id"`
	Resolved    bool   `json:"resolved"`
	EmptyPatch  bool   `json:"empty_patch"`
	TestsPassed int    `json:"tests_passed"`
	TotalTests  int    `json:"total_tests"`
	Error       string `json:"error,omitempty"`
}

// Sample mirrors rollout.ProbeSample with JSON-friendly units.
type Sample struct {
	ErrorRate float64 `json:"error_rate"`
	LatencyMS int64   `json:"latency_ms"`
}

// ExpectedResult captures the expected terminal outcome per candidate.
type ExpectedResult struct {
	AgentID  string `json:"agent_id"`
	Strategy string `json:"strategy"`
	Outcome  string `json:"outcome"`
}

// #endregion fixture-types

// #region fixture-loader

// Load reads and parses a JSON fixture file.
func Load(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	var f Fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	return &f, nil
}

// Save writes a fixture as indented JSON.
func Save(path string, f *Fixture) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal fixture: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write fixture %s: %w", path, err)
	}
	return nil
}

// ToTaskResults converts the fixture rows to domain task results.
func (c *Candidate) ToTaskResults() []agent.TaskResult {
	out := make([]agent.TaskResult, len(c.TaskResults))
	for i, r := range c.TaskResults {
		out[i] = agent.TaskResult{
			TaskID:      r.TaskID,
			Resolved:    r.Resolved,
			EmptyPatch:  r.EmptyPatch,
			TestsPassed: r.TestsPassed,
			TotalTests:  r.TotalTests,
			Error:       r.Error,
		}
	}
	return out
}

// ToProbeSamples converts the scripted samples to probe samples.
func (c *Candidate) ToProbeSamples() []rollout.ProbeSample {
	out := make([]rollout.ProbeSample, len(c.Samples))
	for i, s := range c.Samples {
		out[i] = rollout.ProbeSample{
			ErrorRate:  s.ErrorRate,
			P95Latency: time.Duration(s.LatencyMS) * time.Millisecond,
		}
	}
	return out
}

// ToThresholds converts the fixture thresholds, falling back to defaults
// when unset.
func (c *Config) ToThresholds() rollout.Thresholds {
	if c.Thresholds.Low == 0 && c.Thresholds.Medium == 0 {
		return rollout.DefaultThresholds()
	}
	return rollout.Thresholds{Low: c.Thresholds.Low, Medium: c.Thresholds.Medium}
}

// #endregion fixture-loader

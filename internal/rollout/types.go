package rollout

import (
	"context"
	"time"
)

// #region status

// Status is a deployment lifecycle state. Terminal states are completed,
// rolled-back, and failed; only the controller drives transitions.
type Status string

const (
	StatusPending    Status = "pending"
	StatusDeploying  Status = "deploying"
	StatusMonitoring Status = "monitoring"
	StatusCompleted  Status = "completed"
	StatusRolledBack Status = "rolled-back"
	StatusFailed     Status = "failed"
)

// Terminal reports whether s ends a deployment's lifecycle.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusRolledBack || s == StatusFailed
}

// #endregion

// #region records

// DeploymentRecord tracks one deployment through the state machine. It lives
// in the active registry exactly while its status is non-terminal.
type DeploymentRecord struct {
	ID         string    `json:"id"`
	AgentID    string    `json:"agent_id"`
	CommitID   string    `json:"commit_id"`
	Strategy   Strategy  `json:"strategy"`
	StageIndex int       `json:"stage_index"`
	RiskScore  float64   `json:"risk_score"`
	Status     Status    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// DeployRequest asks the controller to roll out an agent's artifact.
type DeployRequest struct {
	AgentID   string
	CommitID  string
	RiskScore float64
}

// DeploymentResult is the controller's final report. RollbackRequired is
// true whenever the terminal state is rolled-back or failed; Message names
// the strategy and the stage that triggered any rollback.
type DeploymentResult struct {
	DeploymentID     string   `json:"deployment_id"`
	Success          bool     `json:"success"`
	Strategy         Strategy `json:"strategy"`
	RollbackRequired bool     `json:"rollback_required"`
	Message          string   `json:"message"`
}

// #endregion

// #region seams

// Executor installs an artifact at a traffic percentage. Percent 0 stands
// the new version up alongside the old without receiving traffic (the
// blue-green "green" instance); percent 100 is a full cutover.
type Executor interface {
	Deploy(ctx context.Context, rec DeploymentRecord, trafficPercent int) error
}

// ProbeSample is one monitoring observation for a live deployment.
type ProbeSample struct {
	ErrorRate  float64
	P95Latency time.Duration
}

// Probe samples live error rate and latency for a deployment. The controller
// aggregates samples over a window; a single bad sample never fails a stage
// on its own.
type Probe interface {
	Sample(ctx context.Context, deploymentID string) (ProbeSample, error)
}

// Rollback reverts a deployment to the prior artifact. Best-effort: errors
// are reported in the result message but never change the terminal status.
type Rollback interface {
	Rollback(ctx context.Context, deploymentID string) error
}

// #endregion

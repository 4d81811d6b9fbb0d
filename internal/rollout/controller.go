package rollout

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// #region config

// Config holds the stage plan and monitoring thresholds. Canary stages and
// dwell durations are parallel slices; the final 100% stage conventionally
// dwells for zero since reaching it is completion.
type Config struct {
	Thresholds       Thresholds
	CanaryStages     []int
	CanaryDwell      []time.Duration
	MonitorInterval  time.Duration
	MonitorWindow    time.Duration
	ErrorThreshold   float64
	LatencyThreshold time.Duration
}

// DefaultConfig returns the documented stage plan.
func DefaultConfig() Config {
	return Config{
		Thresholds:       DefaultThresholds(),
		CanaryStages:     []int{5, 25, 50, 100},
		CanaryDwell:      []time.Duration{5 * time.Second, 10 * time.Second, 15 * time.Second, 0},
		MonitorInterval:  time.Second,
		MonitorWindow:    10 * time.Second,
		ErrorThreshold:   0.05,
		LatencyThreshold: 500 * time.Millisecond,
	}
}

// #endregion

// #region controller

// Controller drives deployments through pending, deploying, monitoring, and
// one terminal state. The active registry holds value copies, replaced on
// every transition under the lock, so pollers never observe a record
// mid-mutation; a record is present exactly while it is non-terminal. Lock
// hold time is O(1), never spanning a stage.
type Controller struct {
	executor Executor
	probe    Probe
	rollback Rollback
	cfg      Config

	mu     sync.Mutex
	active map[string]DeploymentRecord

	// Injectable so dwell-heavy tests run instantly.
	sleep func(ctx context.Context, d time.Duration) error

	// OnTransition, when set, observes every state change, including the
	// terminal one. Called synchronously; keep it fast.
	OnTransition func(rec DeploymentRecord)
}

// NewController wires a controller to its executor, probe, and rollback
// seams.
func NewController(executor Executor, probe Probe, rollback Rollback, cfg Config) *Controller {
	if cfg.MonitorInterval <= 0 {
		cfg.MonitorInterval = time.Second
	}
	return &Controller{
		executor: executor,
		probe:    probe,
		rollback: rollback,
		cfg:      cfg,
		active:   make(map[string]DeploymentRecord),
		sleep:    sleepCtx,
	}
}

// ActiveDeployments snapshots the in-flight deployments. A record appears
// here iff its status is non-terminal.
func (c *Controller) ActiveDeployments() []DeploymentRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]DeploymentRecord, 0, len(c.active))
	for _, rec := range c.active {
		out = append(out, rec)
	}
	return out
}

// #endregion

// #region deploy

// Deploy selects a strategy for the request's risk score and executes it to
// a terminal state. Business failures (deploy errors, monitoring breaches)
// come back as Success=false results, not errors; the error return is
// reserved for cancellation.
func (c *Controller) Deploy(ctx context.Context, req DeployRequest) (DeploymentResult, error) {
	now := time.Now().UTC()
	rec := &DeploymentRecord{
		ID:        uuid.NewString(),
		AgentID:   req.AgentID,
		CommitID:  req.CommitID,
		Strategy:  SelectStrategy(req.RiskScore, c.cfg.Thresholds),
		RiskScore: req.RiskScore,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	log.Printf("[ROLLOUT] deployment %s: agent=%s risk=%.3f strategy=%s",
		rec.ID, rec.AgentID, rec.RiskScore, rec.Strategy)

	c.mu.Lock()
	c.active[rec.ID] = *rec
	c.mu.Unlock()
	c.transition(rec, StatusDeploying)

	var result DeploymentResult
	var err error
	switch rec.Strategy {
	case StrategyDirect:
		result, err = c.runDirect(ctx, rec)
	case StrategyCanary:
		result, err = c.runCanary(ctx, rec)
	default:
		result, err = c.runBlueGreen(ctx, rec)
	}
	return result, err
}

func (c *Controller) runDirect(ctx context.Context, rec *DeploymentRecord) (DeploymentResult, error) {
	if err := c.executor.Deploy(ctx, *rec, 100); err != nil {
		return c.failDeploy(ctx, rec, err), nil
	}

	c.transition(rec, StatusMonitoring)
	ok, detail, err := c.monitorWindow(ctx, rec.ID, c.cfg.MonitorWindow)
	if err != nil {
		return c.abandon(rec, err), err
	}
	if !ok {
		return c.failMonitoring(ctx, rec, detail), nil
	}
	return c.complete(rec), nil
}

func (c *Controller) runCanary(ctx context.Context, rec *DeploymentRecord) (DeploymentResult, error) {
	for i, pct := range c.cfg.CanaryStages {
		rec.StageIndex = i
		c.transition(rec, StatusDeploying)
		if err := c.executor.Deploy(ctx, *rec, pct); err != nil {
			return c.failDeploy(ctx, rec, err), nil
		}

		dwell := time.Duration(0)
		if i < len(c.cfg.CanaryDwell) {
			dwell = c.cfg.CanaryDwell[i]
		}
		if dwell == 0 {
			continue
		}

		c.transition(rec, StatusMonitoring)
		ok, detail, err := c.monitorWindow(ctx, rec.ID, dwell)
		if err != nil {
			return c.abandon(rec, err), err
		}
		if !ok {
			return c.failMonitoring(ctx, rec, detail), nil
		}
	}
	return c.complete(rec), nil
}

func (c *Controller) runBlueGreen(ctx context.Context, rec *DeploymentRecord) (DeploymentResult, error) {
	// Stage 0: stand green up alongside blue with no live traffic.
	if err := c.executor.Deploy(ctx, *rec, 0); err != nil {
		return c.failDeploy(ctx, rec, err), nil
	}

	c.transition(rec, StatusMonitoring)
	ok, detail, err := c.monitorWindow(ctx, rec.ID, c.cfg.MonitorWindow)
	if err != nil {
		return c.abandon(rec, err), err
	}
	if !ok {
		return c.failMonitoring(ctx, rec, detail), nil
	}

	// Stage 1: atomic cutover, then validate the post-cutover window.
	rec.StageIndex = 1
	c.transition(rec, StatusDeploying)
	if err := c.executor.Deploy(ctx, *rec, 100); err != nil {
		return c.failDeploy(ctx, rec, err), nil
	}

	c.transition(rec, StatusMonitoring)
	ok, detail, err = c.monitorWindow(ctx, rec.ID, c.cfg.MonitorWindow)
	if err != nil {
		return c.abandon(rec, err), err
	}
	if !ok {
		return c.failMonitoring(ctx, rec, detail), nil
	}
	return c.complete(rec), nil
}

// #endregion

// #region terminal

func (c *Controller) complete(rec *DeploymentRecord) DeploymentResult {
	c.transition(rec, StatusCompleted)
	return DeploymentResult{
		DeploymentID: rec.ID,
		Success:      true,
		Strategy:     rec.Strategy,
		Message:      fmt.Sprintf("%s deployment %s completed", rec.Strategy, rec.ID),
	}
}

// failDeploy handles an executor error: best-effort rollback, terminal
// failed.
func (c *Controller) failDeploy(ctx context.Context, rec *DeploymentRecord, cause error) DeploymentResult {
	msg := fmt.Sprintf("%s deployment %s failed at stage %d, rolled back: %v",
		rec.Strategy, rec.ID, rec.StageIndex, cause)
	msg = c.runRollback(ctx, rec, msg)
	c.transition(rec, StatusFailed)
	return DeploymentResult{
		DeploymentID:     rec.ID,
		Success:          false,
		Strategy:         rec.Strategy,
		RollbackRequired: true,
		Message:          msg,
	}
}

// failMonitoring handles a breached monitoring window: best-effort rollback,
// terminal rolled-back.
func (c *Controller) failMonitoring(ctx context.Context, rec *DeploymentRecord, detail string) DeploymentResult {
	msg := fmt.Sprintf("Monitoring detected issues at %s stage %d of deployment %s, rolled back: %s",
		rec.Strategy, rec.StageIndex, rec.ID, detail)
	msg = c.runRollback(ctx, rec, msg)
	c.transition(rec, StatusRolledBack)
	return DeploymentResult{
		DeploymentID:     rec.ID,
		Success:          false,
		Strategy:         rec.Strategy,
		RollbackRequired: true,
		Message:          msg,
	}
}

// abandon terminates a cancelled deployment. Cancellation mid-rollout still
// reverts traffic.
func (c *Controller) abandon(rec *DeploymentRecord, cause error) DeploymentResult {
	msg := fmt.Sprintf("%s deployment %s abandoned at stage %d, rolled back: %v",
		rec.Strategy, rec.ID, rec.StageIndex, cause)
	msg = c.runRollback(context.Background(), rec, msg)
	c.transition(rec, StatusFailed)
	return DeploymentResult{
		DeploymentID:     rec.ID,
		Success:          false,
		Strategy:         rec.Strategy,
		RollbackRequired: true,
		Message:          msg,
	}
}

// runRollback invokes the rollback seam and appends any rollback error to
// the message. A failed rollback never changes the terminal status.
func (c *Controller) runRollback(ctx context.Context, rec *DeploymentRecord, msg string) string {
	if err := c.rollback.Rollback(ctx, rec.ID); err != nil {
		log.Printf("[ROLLOUT] rollback of %s failed: %v", rec.ID, err)
		return msg + fmt.Sprintf(" (rollback error: %v)", err)
	}
	return msg
}

// transition advances rec and publishes the new snapshot to the registry in
// one locked step: terminal states remove the record, everything else
// replaces the stored copy. Only the deploying goroutine mutates rec itself,
// so pollers reading through ActiveDeployments see consistent snapshots.
func (c *Controller) transition(rec *DeploymentRecord, status Status) {
	rec.Status = status
	rec.UpdatedAt = time.Now().UTC()

	c.mu.Lock()
	if status.Terminal() {
		delete(c.active, rec.ID)
	} else {
		c.active[rec.ID] = *rec
	}
	c.mu.Unlock()

	log.Printf("[ROLLOUT] deployment %s -> %s (stage %d)", rec.ID, status, rec.StageIndex)
	if c.OnTransition != nil {
		c.OnTransition(*rec)
	}
}

// #endregion

// #region monitoring

// monitorWindow samples the probe on the configured interval for the given
// window and applies the thresholds to the window means, so one noisy sample
// cannot flap a stage. Returns ok=false with a human-readable detail when
// the aggregate breaches a threshold.
func (c *Controller) monitorWindow(ctx context.Context, deploymentID string, window time.Duration) (bool, string, error) {
	samples := int(window / c.cfg.MonitorInterval)
	if samples < 1 {
		samples = 1
	}

	var errSum float64
	var latSum time.Duration
	taken := 0
	for i := 0; i < samples; i++ {
		s, err := c.probe.Sample(ctx, deploymentID)
		if err != nil {
			if ctx.Err() != nil {
				return false, "", ctx.Err()
			}
			return false, fmt.Sprintf("probe failure: %v", err), nil
		}
		errSum += s.ErrorRate
		latSum += s.P95Latency
		taken++

		if i < samples-1 {
			if err := c.sleep(ctx, c.cfg.MonitorInterval); err != nil {
				return false, "", err
			}
		}
	}

	meanErr := errSum / float64(taken)
	meanLat := latSum / time.Duration(taken)
	if meanErr > c.cfg.ErrorThreshold {
		return false, fmt.Sprintf("mean error rate %.4f over threshold %.4f", meanErr, c.cfg.ErrorThreshold), nil
	}
	if meanLat > c.cfg.LatencyThreshold {
		return false, fmt.Sprintf("mean p95 latency %s over threshold %s", meanLat, c.cfg.LatencyThreshold), nil
	}
	return true, "", nil
}

// sleepCtx sleeps for d or until ctx is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// #endregion

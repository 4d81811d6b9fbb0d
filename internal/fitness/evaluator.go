package fitness

// #region imports
import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/danielpatrickdp/evo-deploy/internal/agent"
	"github.com/danielpatrickdp/evo-deploy/internal/dispatch"
)

// #endregion

// #region evaluator-struct

// Evaluator computes normalized fitness scores for candidate agents. Single
// evaluations fail fast on constrained resources; batch runs pace themselves
// with resource-adaptive windows and pause (bounded) instead of failing.
type Evaluator struct {
	dispatcher Submitter
	monitor    ResourceReader
	cfg        Config

	// Injectable backoff sleep so retry tests run instantly.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewEvaluator wires an evaluator to a dispatcher and resource monitor.
func NewEvaluator(dispatcher Submitter, monitor ResourceReader, cfg Config) *Evaluator {
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}
	return &Evaluator{
		dispatcher: dispatcher,
		monitor:    monitor,
		cfg:        cfg,
		sleep:      sleepCtx,
	}
}

// #endregion

// #region single-evaluation

// Evaluate runs one agent against the method's task list. It fails fast with
// a *resource.ConstraintError when the host is under pressure (the caller
// may retry later) rather than queuing work that will burn a timeout window.
func (e *Evaluator) Evaluate(ctx context.Context, ag agent.Agent, method agent.EvaluationMethod, opts EvalOptions) (agent.FitnessScore, error) {
	if err := e.monitor.CheckAvailability(e.cfg.Limits); err != nil {
		return agent.FitnessScore{}, err
	}
	return e.evaluateOnce(ctx, ag, method, opts)
}

func (e *Evaluator) evaluateOnce(ctx context.Context, ag agent.Agent, method agent.EvaluationMethod, opts EvalOptions) (agent.FitnessScore, error) {
	resp, err := e.dispatcher.Submit(ctx, dispatch.EvaluationRequest{
		AgentID:             ag.ID,
		CommitID:            ag.CommitID,
		TaskList:            method.Tasks(opts.Shallow),
		NumEvals:            opts.NumEvals,
		ShallowEval:         opts.Shallow,
		Timeout:             opts.Timeout,
		ResourceConstraints: &e.cfg.Limits,
	})
	if err != nil {
		return agent.FitnessScore{}, err
	}
	if resp.Error != "" {
		return agent.FitnessScore{}, &dispatch.ExecutionError{AgentID: ag.ID, Message: resp.Error}
	}

	score := ComputeFitness(resp.Results, opts.Shallow)
	score.ExecutionTime = resp.ExecutionTime
	if resp.ResourceMetrics != nil {
		score.MemoryUsageMB = resp.ResourceMetrics.MemoryUsedMB
	}
	return score, nil
}

// #endregion

// #region fitness-math

// ComputeFitness derives a normalized score from raw per-task results.
// Accuracy is resolved/total, zero when there are no results; compilation
// counts as successful iff at least one result exists and not every result
// is an error.
func ComputeFitness(results []agent.TaskResult, shallow bool) agent.FitnessScore {
	score := agent.FitnessScore{Shallow: shallow}

	errorCount := 0
	for _, r := range results {
		switch {
		case r.Error != "":
			errorCount++
			score.UnresolvedCount++
			if isContextOverflow(r.Error) {
				score.ContextLengthExceeded = true
			}
		case r.EmptyPatch:
			score.EmptyPatchCount++
		case r.Resolved:
			score.ResolvedCount++
		default:
			score.UnresolvedCount++
		}
		score.TestsPassed += r.TestsPassed
		score.TotalTests += r.TotalTests
	}

	total := score.ResolvedCount + score.UnresolvedCount + score.EmptyPatchCount
	if total > 0 {
		score.Accuracy = float64(score.ResolvedCount) / float64(total)
	}
	score.CompilationSuccess = len(results) > 0 && errorCount < len(results)
	return score
}

// worstCase is the fallback score recorded when an agent's evaluation fails
// outright; the batch continues around it.
func worstCase(err error, shallow bool) agent.FitnessScore {
	score := agent.FitnessScore{Shallow: shallow}
	var ee *dispatch.ExecutionError
	if errors.As(err, &ee) && isContextOverflow(ee.Message) {
		score.ContextLengthExceeded = true
	}
	return score
}

// isContextOverflow matches the remote worker's context-length-exceeded
// signature.
func isContextOverflow(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "context length") || strings.Contains(lower, "maximum context")
}

// #endregion

// #region batch-evaluation

// EvaluateBatch evaluates agents in resource-adaptive windows. The returned
// map covers every submitted agent exactly once, success or worst-case
// fallback, unless the run is cancelled or a resource pause exceeds its
// deadline, in which case agents never started are simply absent.
func (e *Evaluator) EvaluateBatch(ctx context.Context, agents []agent.Agent, method agent.EvaluationMethod, opts BatchOptions) (map[agent.ID]agent.FitnessScore, error) {
	results := make(map[agent.ID]agent.FitnessScore, len(agents))
	var mu sync.Mutex

	idx := 0
	for idx < len(agents) {
		if ctx.Err() != nil {
			return results, ctx.Err()
		}

		if err := e.waitForResources(ctx, opts.OnPause); err != nil {
			return results, err
		}

		window := e.windowSize()
		if opts.OnWindow != nil {
			opts.OnWindow(window)
		}
		if idx+window > len(agents) {
			window = len(agents) - idx
		}
		log.Printf("[EVAL] window of %d agents (%d/%d done)", window, idx, len(agents))

		var wg sync.WaitGroup
		for _, ag := range agents[idx : idx+window] {
			wg.Add(1)
			go func(ag agent.Agent) {
				defer wg.Done()
				score, err := e.evaluateWithRetry(ctx, ag, method, opts)
				if err != nil {
					if ctx.Err() != nil {
						// Abandoned mid-flight: the reply, if any, is dropped
						// and the agent stays absent from the result map.
						return
					}
					log.Printf("[EVAL] agent %s failed, recording worst case: %v", ag.ID, err)
					score = worstCase(err, opts.Shallow)
				}
				mu.Lock()
				results[ag.ID] = score
				mu.Unlock()
			}(ag)
		}
		// The next window never starts before this one fully resolves, so
		// the adaptive recalculation sees the settled resource state.
		wg.Wait()
		idx += window
	}

	if ctx.Err() != nil {
		return results, ctx.Err()
	}
	return results, nil
}

// evaluateWithRetry applies exponential backoff when retries are enabled.
func (e *Evaluator) evaluateWithRetry(ctx context.Context, ag agent.Agent, method agent.EvaluationMethod, opts BatchOptions) (agent.FitnessScore, error) {
	score, err := e.evaluateOnce(ctx, ag, method, opts.EvalOptions)
	if err == nil || !opts.RetryEnabled {
		return score, err
	}
	for attempt := 1; attempt <= e.cfg.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return agent.FitnessScore{}, ctx.Err()
		}
		backoff := time.Duration(1<<uint(attempt)) * time.Second
		log.Printf("[EVAL] retry %d/%d for agent %s in %s", attempt, e.cfg.MaxRetries, ag.ID, backoff)
		if serr := e.sleep(ctx, backoff); serr != nil {
			return agent.FitnessScore{}, serr
		}
		score, err = e.evaluateOnce(ctx, ag, method, opts.EvalOptions)
		if err == nil {
			return score, nil
		}
	}
	return agent.FitnessScore{}, err
}

// #endregion

// #region adaptive-window

// windowSize scales the configured concurrency down by current CPU and
// memory headroom: max(1, floor(maxConcurrent * min(cpuFactor, memFactor))).
func (e *Evaluator) windowSize() int {
	snap := e.monitor.Snapshot()
	// Headroom computed as (100-usage)/100 rather than 1-usage/100: the
	// former keeps floor() stable for round percentages like 80.
	factor := math.Min(100-snap.CPUUsage, 100-snap.MemoryUsage) / 100
	size := int(math.Floor(float64(e.cfg.MaxConcurrent) * factor))
	if size < 1 {
		return 1
	}
	return size
}

// waitForResources blocks while the host is constrained, polling on the
// configured interval, and fails after the pause deadline so a wedged host
// cannot stall a batch forever.
func (e *Evaluator) waitForResources(ctx context.Context, onPause func()) error {
	err := e.monitor.CheckAvailability(e.cfg.Limits)
	if err == nil {
		return nil
	}

	log.Printf("[EVAL] batch paused: %v", err)
	if onPause != nil {
		onPause()
	}

	deadline := time.Now().Add(e.cfg.PauseDeadline)
	for {
		if serr := e.sleep(ctx, e.cfg.PausePoll); serr != nil {
			return serr
		}
		err = e.monitor.CheckAvailability(e.cfg.Limits)
		if err == nil {
			log.Printf("[EVAL] batch resumed")
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("resources constrained for over %s: %w", e.cfg.PauseDeadline, err)
		}
	}
}

// #endregion

// #region full-eval-gating

// FullEvaluationThreshold computes the bar an agent's shallow accuracy must
// clear to deserve an expensive full evaluation: the second-highest accuracy
// among agents that already hold a full score, floored at the configured
// minimum.
func (e *Evaluator) FullEvaluationThreshold(agents []agent.Agent) float64 {
	var accuracies []float64
	for _, ag := range agents {
		if ag.Fitness != nil && !ag.Fitness.Shallow {
			accuracies = append(accuracies, ag.Fitness.Accuracy)
		}
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(accuracies)))

	threshold := e.cfg.FullEvalFloor
	switch {
	case len(accuracies) >= 2:
		if accuracies[1] > threshold {
			threshold = accuracies[1]
		}
	case len(accuracies) == 1:
		if accuracies[0] > threshold {
			threshold = accuracies[0]
		}
	}
	return threshold
}

// ShouldRunFullEvaluation reports whether an agent's shallow accuracy meets
// the threshold. Agents without a shallow score never qualify.
func (e *Evaluator) ShouldRunFullEvaluation(ag agent.Agent, threshold float64) bool {
	if ag.Fitness == nil || !ag.Fitness.Shallow {
		return false
	}
	return ag.Fitness.Accuracy >= threshold
}

// #endregion

// #region helpers

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

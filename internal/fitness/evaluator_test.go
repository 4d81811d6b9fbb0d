package fitness

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/danielpatrickdp/evo-deploy/internal/agent"
	"github.com/danielpatrickdp/evo-deploy/internal/dispatch"
	"github.com/danielpatrickdp/evo-deploy/internal/resource"
)

// #region fakes

type fakeSubmitter struct {
	mu    sync.Mutex
	calls int
	fn    func(req dispatch.EvaluationRequest) (dispatch.EvaluationResponse, error)
}

func (f *fakeSubmitter) Submit(ctx context.Context, req dispatch.EvaluationRequest) (dispatch.EvaluationResponse, error) {
	if ctx.Err() != nil {
		return dispatch.EvaluationResponse{}, ctx.Err()
	}
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.fn(req)
}

type fakeMonitor struct {
	mu       sync.Mutex
	metrics  resource.Metrics
	availErr []error // consumed one per CheckAvailability call, last repeats
}

func (f *fakeMonitor) Snapshot() resource.Metrics {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.metrics
}

func (f *fakeMonitor) CheckAvailability(resource.Limits) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.availErr) == 0 {
		return nil
	}
	err := f.availErr[0]
	if len(f.availErr) > 1 {
		f.availErr = f.availErr[1:]
	}
	return err
}

func instantSleep(e *Evaluator) { e.sleep = func(context.Context, time.Duration) error { return nil } }

func okResponse(results ...agent.TaskResult) func(dispatch.EvaluationRequest) (dispatch.EvaluationResponse, error) {
	return func(dispatch.EvaluationRequest) (dispatch.EvaluationResponse, error) {
		return dispatch.EvaluationResponse{Results: results}, nil
	}
}

// #endregion

// #region fitness-math-tests

func TestComputeFitnessAccuracy(t *testing.T) {
	results := []agent.TaskResult{
		{TaskID: "a", Resolved: true},
		{TaskID: "b", Resolved: true},
		{TaskID: "c"},
		{TaskID: "d", EmptyPatch: true},
	}
	score := ComputeFitness(results, false)

	if score.Accuracy != 0.5 {
		t.Fatalf("expected accuracy 0.5, got %f", score.Accuracy)
	}
	if score.ResolvedCount != 2 || score.UnresolvedCount != 1 || score.EmptyPatchCount != 1 {
		t.Fatalf("bad counts: %+v", score)
	}
	if !score.CompilationSuccess {
		t.Fatal("expected compilation success")
	}
	if score.Accuracy < 0 || score.Accuracy > 1 {
		t.Fatalf("accuracy out of [0,1]: %f", score.Accuracy)
	}
}

func TestComputeFitnessEmptyResults(t *testing.T) {
	score := ComputeFitness(nil, true)
	if score.Accuracy != 0 {
		t.Fatalf("expected 0 accuracy for no results, got %f", score.Accuracy)
	}
	if score.CompilationSuccess {
		t.Fatal("no results must not count as compiled")
	}
	if !score.Shallow {
		t.Fatal("shallow flag dropped")
	}
}

func TestComputeFitnessAllErrors(t *testing.T) {
	results := []agent.TaskResult{
		{TaskID: "a", Error: "build failed"},
		{TaskID: "b", Error: "input exceeds maximum context window"},
	}
	score := ComputeFitness(results, false)
	if score.CompilationSuccess {
		t.Fatal("all-error results must not count as compiled")
	}
	if !score.ContextLengthExceeded {
		t.Fatal("context overflow signature not detected")
	}
	if score.Accuracy != 0 {
		t.Fatalf("expected 0 accuracy, got %f", score.Accuracy)
	}
}

// #endregion

// #region single-eval-tests

func TestEvaluateFailsFastOnConstraint(t *testing.T) {
	mon := &fakeMonitor{availErr: []error{&resource.ConstraintError{Reason: "cpu"}}}
	sub := &fakeSubmitter{fn: okResponse()}
	e := NewEvaluator(sub, mon, DefaultConfig())

	_, err := e.Evaluate(context.Background(), agent.Agent{ID: "a1"}, agent.EvaluationMethod{}, EvalOptions{})
	var ce *resource.ConstraintError
	if !errors.As(err, &ce) {
		t.Fatalf("expected *resource.ConstraintError, got %v", err)
	}
	if sub.calls != 0 {
		t.Fatalf("request dispatched despite constraint, calls=%d", sub.calls)
	}
}

func TestEvaluateExecutionError(t *testing.T) {
	mon := &fakeMonitor{}
	sub := &fakeSubmitter{fn: func(dispatch.EvaluationRequest) (dispatch.EvaluationResponse, error) {
		return dispatch.EvaluationResponse{Error: "worker exploded"}, nil
	}}
	e := NewEvaluator(sub, mon, DefaultConfig())

	_, err := e.Evaluate(context.Background(), agent.Agent{ID: "a1"}, agent.EvaluationMethod{}, EvalOptions{})
	var ee *dispatch.ExecutionError
	if !errors.As(err, &ee) {
		t.Fatalf("expected *dispatch.ExecutionError, got %v", err)
	}
}

func TestEvaluateShallowSelectsSmallTasks(t *testing.T) {
	mon := &fakeMonitor{}
	var gotTasks []string
	sub := &fakeSubmitter{fn: func(req dispatch.EvaluationRequest) (dispatch.EvaluationResponse, error) {
		gotTasks = req.TaskList
		return dispatch.EvaluationResponse{Results: []agent.TaskResult{{TaskID: "s1", Resolved: true}}}, nil
	}}
	e := NewEvaluator(sub, mon, DefaultConfig())

	method := agent.EvaluationMethod{
		Kind:   agent.MethodBenchmark,
		Small:  []string{"s1"},
		Medium: []string{"m1", "m2"},
	}
	if _, err := e.Evaluate(context.Background(), agent.Agent{ID: "a1"}, method, EvalOptions{Shallow: true}); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(gotTasks) != 1 || gotTasks[0] != "s1" {
		t.Fatalf("shallow run should use small subset only, got %v", gotTasks)
	}

	if _, err := e.Evaluate(context.Background(), agent.Agent{ID: "a1"}, method, EvalOptions{}); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(gotTasks) != 3 {
		t.Fatalf("full run should union small+medium, got %v", gotTasks)
	}
}

// #endregion

// #region adaptive-window-tests

func TestWindowSizeAdaptsToResources(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConcurrent = 10
	mon := &fakeMonitor{metrics: resource.Metrics{CPUUsage: 80, MemoryUsage: 50}}
	e := NewEvaluator(&fakeSubmitter{fn: okResponse()}, mon, cfg)

	// max(1, floor(10 * min(0.2, 0.5))) == 2
	if got := e.windowSize(); got != 2 {
		t.Fatalf("expected window 2, got %d", got)
	}

	mon.metrics = resource.Metrics{CPUUsage: 99, MemoryUsage: 99}
	if got := e.windowSize(); got != 1 {
		t.Fatalf("window must floor at 1, got %d", got)
	}

	mon.metrics = resource.Metrics{}
	if got := e.windowSize(); got != 10 {
		t.Fatalf("idle host should run full concurrency, got %d", got)
	}
}

// #endregion

// #region batch-tests

func batchAgents(n int) []agent.Agent {
	agents := make([]agent.Agent, n)
	for i := range agents {
		agents[i] = agent.Agent{ID: agent.ID(string(rune('a' + i)))}
	}
	return agents
}

func TestEvaluateBatchCoversEveryAgent(t *testing.T) {
	mon := &fakeMonitor{}
	sub := &fakeSubmitter{fn: func(req dispatch.EvaluationRequest) (dispatch.EvaluationResponse, error) {
		if req.AgentID == "b" {
			return dispatch.EvaluationResponse{}, errors.New("flaky worker")
		}
		return dispatch.EvaluationResponse{Results: []agent.TaskResult{{Resolved: true}}}, nil
	}}
	e := NewEvaluator(sub, mon, DefaultConfig())
	instantSleep(e)

	agents := batchAgents(5)
	results, err := e.EvaluateBatch(context.Background(), agents, agent.EvaluationMethod{}, BatchOptions{})
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if len(results) != len(agents) {
		t.Fatalf("expected %d results, got %d", len(agents), len(results))
	}
	// Failure isolation: agent b carries the worst-case score, others succeed.
	if results["b"].Accuracy != 0 || results["b"].CompilationSuccess {
		t.Fatalf("agent b should carry worst-case score, got %+v", results["b"])
	}
	if results["a"].Accuracy != 1 {
		t.Fatalf("agent a should have accuracy 1, got %+v", results["a"])
	}
}

func TestEvaluateBatchReportsWindowSizes(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConcurrent = 10
	mon := &fakeMonitor{metrics: resource.Metrics{CPUUsage: 80, MemoryUsage: 50}}
	sub := &fakeSubmitter{fn: func(dispatch.EvaluationRequest) (dispatch.EvaluationResponse, error) {
		return dispatch.EvaluationResponse{Results: []agent.TaskResult{{Resolved: true}}}, nil
	}}
	e := NewEvaluator(sub, mon, cfg)
	instantSleep(e)

	var windows []int
	_, err := e.EvaluateBatch(context.Background(), batchAgents(5), agent.EvaluationMethod{}, BatchOptions{
		OnWindow: func(size int) { windows = append(windows, size) },
	})
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if len(windows) == 0 {
		t.Fatal("window observer never invoked")
	}
	// 80% CPU leaves 20% headroom: every window is floor(10*0.2) = 2.
	for _, w := range windows {
		if w != 2 {
			t.Fatalf("expected adaptive window of 2, got %v", windows)
		}
	}
}

func TestEvaluateBatchCancellation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConcurrent = 1 // one agent per window
	mon := &fakeMonitor{}

	ctx, cancel := context.WithCancel(context.Background())
	sub := &fakeSubmitter{}
	sub.fn = func(dispatch.EvaluationRequest) (dispatch.EvaluationResponse, error) {
		if sub.calls == 2 {
			cancel() // cancel while the second agent is in flight
			return dispatch.EvaluationResponse{}, ctx.Err()
		}
		return dispatch.EvaluationResponse{Results: []agent.TaskResult{{Resolved: true}}}, nil
	}
	e := NewEvaluator(sub, mon, cfg)
	instantSleep(e)

	agents := batchAgents(4)
	results, err := e.EvaluateBatch(ctx, agents, agent.EvaluationMethod{}, BatchOptions{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	// First agent evaluated; in-flight and never-started agents are absent,
	// distinguishable from "evaluated with failure".
	if _, ok := results["a"]; !ok {
		t.Fatal("completed agent missing from partial results")
	}
	if _, ok := results["c"]; ok {
		t.Fatal("never-started agent must be absent from results")
	}
}

func TestEvaluateBatchPausesAndResumes(t *testing.T) {
	cfg := DefaultConfig()
	constrained := &resource.ConstraintError{Reason: "memory"}
	mon := &fakeMonitor{availErr: []error{constrained, constrained, nil}}
	sub := &fakeSubmitter{fn: okResponse(agent.TaskResult{Resolved: true})}
	e := NewEvaluator(sub, mon, cfg)
	instantSleep(e)

	paused := 0
	results, err := e.EvaluateBatch(context.Background(), batchAgents(2), agent.EvaluationMethod{},
		BatchOptions{OnPause: func() { paused++ }})
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if paused == 0 {
		t.Fatal("pause signal never emitted")
	}
	if len(results) != 2 {
		t.Fatalf("expected full coverage after resume, got %d", len(results))
	}
}

func TestEvaluateBatchPauseDeadline(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PauseDeadline = 0 // first re-check already past deadline
	mon := &fakeMonitor{availErr: []error{&resource.ConstraintError{Reason: "cpu"}}}
	e := NewEvaluator(&fakeSubmitter{fn: okResponse()}, mon, cfg)
	instantSleep(e)

	_, err := e.EvaluateBatch(context.Background(), batchAgents(1), agent.EvaluationMethod{}, BatchOptions{})
	var ce *resource.ConstraintError
	if !errors.As(err, &ce) {
		t.Fatalf("expected wrapped constraint error, got %v", err)
	}
}

func TestEvaluateBatchRetrySucceeds(t *testing.T) {
	mon := &fakeMonitor{}
	sub := &fakeSubmitter{}
	sub.fn = func(dispatch.EvaluationRequest) (dispatch.EvaluationResponse, error) {
		if sub.calls < 3 {
			return dispatch.EvaluationResponse{}, errors.New("transient")
		}
		return dispatch.EvaluationResponse{Results: []agent.TaskResult{{Resolved: true}}}, nil
	}
	e := NewEvaluator(sub, mon, DefaultConfig())
	instantSleep(e)

	results, err := e.EvaluateBatch(context.Background(), batchAgents(1), agent.EvaluationMethod{},
		BatchOptions{RetryEnabled: true})
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if results["a"].Accuracy != 1 {
		t.Fatalf("retry should have recovered, got %+v", results["a"])
	}
	if sub.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", sub.calls)
	}
}

// #endregion

// #region gating-tests

func TestFullEvaluationThreshold(t *testing.T) {
	e := NewEvaluator(&fakeSubmitter{fn: okResponse()}, &fakeMonitor{}, DefaultConfig())

	full := func(acc float64) *agent.FitnessScore {
		return &agent.FitnessScore{Accuracy: acc}
	}
	shallow := func(acc float64) *agent.FitnessScore {
		return &agent.FitnessScore{Accuracy: acc, Shallow: true}
	}

	agents := []agent.Agent{
		{ID: "a", Fitness: full(0.9)},
		{ID: "b", Fitness: full(0.7)},
		{ID: "c", Fitness: full(0.5)},
		{ID: "d", Fitness: shallow(0.95)}, // shallow scores never set the bar
	}
	if got := e.FullEvaluationThreshold(agents); got != 0.7 {
		t.Fatalf("expected second-highest full accuracy 0.7, got %f", got)
	}

	// Floor applies when full scores are poor or missing.
	if got := e.FullEvaluationThreshold(nil); got != 0.4 {
		t.Fatalf("expected floor 0.4, got %f", got)
	}
	low := []agent.Agent{{ID: "a", Fitness: full(0.1)}, {ID: "b", Fitness: full(0.05)}}
	if got := e.FullEvaluationThreshold(low); got != 0.4 {
		t.Fatalf("expected floor 0.4 over weak field, got %f", got)
	}
}

func TestShouldRunFullEvaluation(t *testing.T) {
	e := NewEvaluator(&fakeSubmitter{fn: okResponse()}, &fakeMonitor{}, DefaultConfig())

	promising := agent.Agent{ID: "a", Fitness: &agent.FitnessScore{Accuracy: 0.8, Shallow: true}}
	weak := agent.Agent{ID: "b", Fitness: &agent.FitnessScore{Accuracy: 0.3, Shallow: true}}
	unevaluated := agent.Agent{ID: "c"}

	if !e.ShouldRunFullEvaluation(promising, 0.7) {
		t.Fatal("promising agent should qualify for full evaluation")
	}
	if e.ShouldRunFullEvaluation(weak, 0.7) {
		t.Fatal("weak agent must not spend a full evaluation")
	}
	if e.ShouldRunFullEvaluation(unevaluated, 0.7) {
		t.Fatal("agent without a shallow score must not qualify")
	}
}

// #endregion

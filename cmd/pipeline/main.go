package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/danielpatrickdp/evo-deploy/internal/agent"
	"github.com/danielpatrickdp/evo-deploy/internal/config"
	"github.com/danielpatrickdp/evo-deploy/internal/deploystore"
	"github.com/danielpatrickdp/evo-deploy/internal/dispatch"
	"github.com/danielpatrickdp/evo-deploy/internal/fitness"
	"github.com/danielpatrickdp/evo-deploy/internal/resource"
	"github.com/danielpatrickdp/evo-deploy/internal/risk"
	"github.com/danielpatrickdp/evo-deploy/internal/rollout"
	"github.com/danielpatrickdp/evo-deploy/internal/telemetry"
)

// #region run-spec

// runSpec is the JSON input for one pipeline run: the candidate batch, the
// evaluation method, and the winner's benchmark comparison.
type runSpec struct {
	Agents []struct {
		ID       string `json:"id"`
		CommitID string `json:"commit_id"`
	} `json:"agents"`
	Method struct {
		Name      string              `json:"name"`
		Kind      string              `json:"kind"`
		Small     []string            `json:"small"`
		Medium    []string            `json:"medium"`
		Languages map[string][]string `json:"languages"`
	} `json:"method"`
	NumEvals   int                    `json:"num_evals"`
	Shallow    bool                   `json:"shallow"`
	Comparison risk.MetricsComparison `json:"comparison"`
	SkipDeploy bool                   `json:"skip_deploy"`
}

func loadRunSpec(path string) (*runSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read run spec %s: %w", path, err)
	}
	var spec runSpec
	if err := json.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("parse run spec %s: %w", path, err)
	}
	if len(spec.Agents) == 0 {
		return nil, fmt.Errorf("run spec %s has no agents", path)
	}
	return &spec, nil
}

// #endregion run-spec

// #region main

func main() {
	configPath := flag.String("config", "", "path to pipeline config YAML")
	runPath := flag.String("run", "", "path to run spec JSON")
	metricsAddr := flag.String("metrics-addr", ":9100", "metrics listen address")
	flag.Parse()

	if *runPath == "" {
		fmt.Fprintln(os.Stderr, "usage: pipeline --run path/to/run.json [--config config.yaml] [--metrics-addr :9100]")
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	spec, err := loadRunSpec(*runPath)
	if err != nil {
		log.Fatalf("load run spec: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, spec, *metricsAddr); err != nil {
		log.Fatalf("pipeline: %v", err)
	}
}

// #endregion main

// #region pipeline

func run(ctx context.Context, cfg config.Config, spec *runSpec, metricsAddr string) error {
	metrics := telemetry.NewMetrics()
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			log.Printf("metrics server: %v", err)
		}
	}()

	monitor := resource.NewMonitor(cfg.Resource.SampleInterval.D())
	monitor.Start()
	defer monitor.Stop()

	queue, err := dispatch.DialAMQP(cfg.Queue.URL, cfg.Queue.WorkQueue, cfg.Queue.ReplyQueue)
	if err != nil {
		return fmt.Errorf("connect broker: %w", err)
	}
	defer queue.Close()

	dispatcher, err := dispatch.NewDispatcher(queue)
	if err != nil {
		return fmt.Errorf("start dispatcher: %w", err)
	}
	defer dispatcher.Close()

	evaluator := fitness.NewEvaluator(dispatcher, monitor, fitness.Config{
		Limits: resource.Limits{
			MaxMemoryMB:   cfg.Resource.MaxMemoryMB,
			MaxCPUPercent: cfg.Resource.MaxCPUPercent,
		},
		MaxConcurrent: cfg.Eval.MaxConcurrent,
		MaxRetries:    cfg.Eval.MaxRetries,
		PausePoll:     cfg.Eval.PausePoll.D(),
		PauseDeadline: cfg.Eval.PauseDeadline.D(),
		FullEvalFloor: cfg.Eval.FullEvalFloor,
	})

	agents := make([]agent.Agent, len(spec.Agents))
	for i, a := range spec.Agents {
		agents[i] = agent.Agent{ID: agent.ID(a.ID), CommitID: a.CommitID}
	}
	method := agent.EvaluationMethod{
		Name:      spec.Method.Name,
		Kind:      agent.MethodKind(spec.Method.Kind),
		Small:     spec.Method.Small,
		Medium:    spec.Method.Medium,
		Languages: spec.Method.Languages,
	}

	results, err := evaluator.EvaluateBatch(ctx, agents, method, fitness.BatchOptions{
		EvalOptions: fitness.EvalOptions{
			NumEvals: spec.NumEvals,
			Shallow:  spec.Shallow,
			Timeout:  cfg.Eval.Timeout.D(),
		},
		RetryEnabled: cfg.Eval.RetryEnabled,
		OnPause:      metrics.BatchPauses.Inc,
		OnWindow:     func(size int) { metrics.WindowSize.Set(float64(size)) },
	})
	if err != nil {
		return fmt.Errorf("evaluate batch: %w", err)
	}
	metrics.ObserveBatch(results)
	metrics.ObserveResources(monitor.Snapshot())

	best := printStandings(agents, results)
	if best == nil {
		return fmt.Errorf("no agent produced a fitness score")
	}
	if spec.SkipDeploy {
		log.Printf("[PIPELINE] skip_deploy set, stopping after evaluation")
		return nil
	}

	return deploy(ctx, cfg, metrics, *best, spec.Comparison)
}

// printStandings logs the batch ordered by accuracy and returns the winner.
func printStandings(agents []agent.Agent, results map[agent.ID]agent.FitnessScore) *agent.Agent {
	type standing struct {
		ag    agent.Agent
		score agent.FitnessScore
	}
	var standings []standing
	for _, ag := range agents {
		score, ok := results[ag.ID]
		if !ok {
			log.Printf("[PIPELINE] agent %s: not evaluated", ag.ID)
			continue
		}
		ag.Fitness = &score
		standings = append(standings, standing{ag, score})
	}
	sort.Slice(standings, func(i, j int) bool {
		return standings[i].score.Accuracy > standings[j].score.Accuracy
	})

	for i, s := range standings {
		fmt.Printf("%2d. %-20s accuracy=%.3f resolved=%d/%d compiled=%v\n",
			i+1, s.ag.ID, s.score.Accuracy, s.score.ResolvedCount,
			s.score.ResolvedCount+s.score.UnresolvedCount+s.score.EmptyPatchCount,
			s.score.CompilationSuccess)
	}
	if len(standings) == 0 {
		return nil
	}
	return &standings[0].ag
}

func deploy(ctx context.Context, cfg config.Config, metrics *telemetry.Metrics, winner agent.Agent, cmp risk.MetricsComparison) error {
	store, err := deploystore.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open deploy store: %w", err)
	}
	defer store.Close()

	outcomes, err := deploystore.NewOutcomeMemory(store.DB())
	if err != nil {
		return fmt.Errorf("init outcome memory: %w", err)
	}

	riskScore := risk.NewScorer(riskConfigFrom(cfg)).Score(cmp)
	thresholds := rollout.Thresholds{Low: cfg.Rollout.LowRisk, Medium: cfg.Rollout.MediumRisk}
	band := deploystore.BandFor(riskScore, thresholds)
	if best, rate, err := outcomes.BestStrategy(band); err == nil && best != "" {
		log.Printf("[PIPELINE] history: %s has %.0f%% weighted success in %s-risk deployments", best, rate*100, band)
	}

	ops := rollout.NewOpsClient(cfg.Rollout.OpsURL)
	ctrl := rollout.NewController(ops, ops, ops, rolloutConfigFrom(cfg))

	var terminal rollout.Status
	ctrl.OnTransition = func(rec rollout.DeploymentRecord) {
		if err := store.Record(rec); err != nil {
			log.Printf("[PIPELINE] record transition: %v", err)
		}
		if rec.Status.Terminal() {
			terminal = rec.Status
		}
		metrics.ActiveDeployments.Set(float64(len(ctrl.ActiveDeployments())))
	}

	started := time.Now()
	result, err := ctrl.Deploy(ctx, rollout.DeployRequest{
		AgentID:   string(winner.ID),
		CommitID:  winner.CommitID,
		RiskScore: riskScore,
	})
	if err != nil {
		return fmt.Errorf("deploy: %w", err)
	}

	if err := store.SetMessage(result.DeploymentID, result.Message); err != nil {
		log.Printf("[PIPELINE] store message: %v", err)
	}
	metrics.ObserveDeployment(result, riskScore, terminal)
	if err := outcomes.RecordOutcome(deploystore.OutcomeRecord{
		DeploymentID: result.DeploymentID,
		Strategy:     result.Strategy,
		RiskBand:     band,
		Success:      result.Success,
		Duration:     time.Since(started),
		CreatedAt:    time.Now().UTC(),
	}); err != nil {
		log.Printf("[PIPELINE] record outcome: %v", err)
	}

	if result.Success {
		if err := store.Promote(result.DeploymentID); err != nil {
			log.Printf("[PIPELINE] promote: %v", err)
		}
	}

	fmt.Printf("\ndeployment %s: strategy=%s success=%v rollback=%v\n  %s\n",
		result.DeploymentID, result.Strategy, result.Success, result.RollbackRequired, result.Message)
	return nil
}

// #endregion pipeline

// #region config-mapping

func riskConfigFrom(cfg config.Config) risk.Config {
	base := make(map[risk.Kind]float64, len(cfg.Risk.BaseByKind))
	for k, v := range cfg.Risk.BaseByKind {
		base[risk.Kind(k)] = v
	}
	return risk.Config{
		BaseByKind:         base,
		DefaultBase:        cfg.Risk.DefaultBase,
		MemoryThresholdPct: cfg.Risk.MemoryThresholdPct,
		MemoryPenalty:      cfg.Risk.MemoryPenalty,
		PerfPenaltyCap:     cfg.Risk.PerfPenaltyCap,
		ErrorPenaltyCap:    cfg.Risk.ErrorPenaltyCap,
		ErrorPenaltyScale:  cfg.Risk.ErrorPenaltyScale,
	}
}

func rolloutConfigFrom(cfg config.Config) rollout.Config {
	dwell := make([]time.Duration, len(cfg.Rollout.CanaryDwell))
	for i, d := range cfg.Rollout.CanaryDwell {
		dwell[i] = d.D()
	}
	return rollout.Config{
		Thresholds:       rollout.Thresholds{Low: cfg.Rollout.LowRisk, Medium: cfg.Rollout.MediumRisk},
		CanaryStages:     cfg.Rollout.CanaryStages,
		CanaryDwell:      dwell,
		MonitorInterval:  cfg.Rollout.MonitorInterval.D(),
		MonitorWindow:    cfg.Rollout.MonitorWindow.D(),
		ErrorThreshold:   cfg.Rollout.ErrorThreshold,
		LatencyThreshold: cfg.Rollout.LatencyThreshold.D(),
	}
}

// #endregion config-mapping

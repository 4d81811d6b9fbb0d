package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/danielpatrickdp/evo-deploy/internal/agent"
	"github.com/danielpatrickdp/evo-deploy/internal/resource"
	"github.com/danielpatrickdp/evo-deploy/internal/rollout"
)

// #region metrics-struct

// Metrics is the pipeline's Prometheus instrumentation, registered on its
// own registry so tests and embedded uses never collide with the global one.
type Metrics struct {
	registry *prometheus.Registry

	EvaluationsTotal *prometheus.CounterVec
	BatchPauses      prometheus.Counter
	WindowSize       prometheus.Gauge
	Generations      prometheus.Counter
	BestAccuracy     prometheus.Gauge
	MeanAccuracy     prometheus.Gauge
	WorstAccuracy    prometheus.Gauge
	Stagnation       prometheus.Gauge

	mu       sync.Mutex
	lastBest float64
	stale    int

	DeploymentsTotal  *prometheus.CounterVec
	ActiveDeployments prometheus.Gauge
	RiskScores        prometheus.Histogram

	CPUUsage    prometheus.Gauge
	MemoryUsage prometheus.Gauge
}

// NewMetrics builds and registers all collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		EvaluationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "evodeploy_evaluations_total",
			Help: "Agent evaluations by outcome.",
		}, []string{"outcome"}),
		BatchPauses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "evodeploy_batch_pauses_total",
			Help: "Times a batch paused on constrained resources.",
		}),
		WindowSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "evodeploy_batch_window_size",
			Help: "Most recent adaptive batch window size.",
		}),
		Generations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "evodeploy_generations_total",
			Help: "Evaluated generations since start.",
		}),
		BestAccuracy: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "evodeploy_best_accuracy",
			Help: "Best accuracy in the latest evaluated batch.",
		}),
		MeanAccuracy: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "evodeploy_mean_accuracy",
			Help: "Mean accuracy in the latest evaluated batch.",
		}),
		WorstAccuracy: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "evodeploy_worst_accuracy",
			Help: "Worst accuracy in the latest evaluated batch.",
		}),
		Stagnation: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "evodeploy_stagnant_generations",
			Help: "Consecutive generations without a best-accuracy improvement.",
		}),
		DeploymentsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "evodeploy_deployments_total",
			Help: "Finished deployments by strategy and terminal status.",
		}, []string{"strategy", "status"}),
		ActiveDeployments: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "evodeploy_active_deployments",
			Help: "Deployments currently in flight.",
		}),
		RiskScores: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "evodeploy_risk_score",
			Help:    "Risk scores of assessed evolutions.",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		}),
		CPUUsage: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "evodeploy_cpu_usage_percent",
			Help: "Last sampled system CPU usage.",
		}),
		MemoryUsage: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "evodeploy_memory_usage_percent",
			Help: "Last sampled system memory usage.",
		}),
	}
	m.registry.MustRegister(
		m.EvaluationsTotal, m.BatchPauses, m.WindowSize, m.Generations,
		m.BestAccuracy, m.MeanAccuracy, m.WorstAccuracy, m.Stagnation,
		m.DeploymentsTotal, m.ActiveDeployments, m.RiskScores,
		m.CPUUsage, m.MemoryUsage,
	)
	return m
}

// Handler serves the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// #endregion

// #region recording

// ObserveBatch records per-agent outcomes and batch-level accuracy gauges.
func (m *Metrics) ObserveBatch(results map[agent.ID]agent.FitnessScore) {
	if len(results) == 0 {
		return
	}
	best := 0.0
	worst := 1.0
	sum := 0.0
	for _, score := range results {
		outcome := "ok"
		if !score.CompilationSuccess {
			outcome = "error"
		}
		m.EvaluationsTotal.WithLabelValues(outcome).Inc()
		if score.Accuracy > best {
			best = score.Accuracy
		}
		if score.Accuracy < worst {
			worst = score.Accuracy
		}
		sum += score.Accuracy
	}
	m.BestAccuracy.Set(best)
	m.WorstAccuracy.Set(worst)
	m.MeanAccuracy.Set(sum / float64(len(results)))
	m.Generations.Inc()

	m.mu.Lock()
	if best > m.lastBest {
		m.lastBest = best
		m.stale = 0
	} else {
		m.stale++
	}
	m.Stagnation.Set(float64(m.stale))
	m.mu.Unlock()
}

// ObserveDeployment records a finished deployment and the risk score that
// drove its strategy.
func (m *Metrics) ObserveDeployment(res rollout.DeploymentResult, riskScore float64, status rollout.Status) {
	m.DeploymentsTotal.WithLabelValues(string(res.Strategy), string(status)).Inc()
	m.RiskScores.Observe(riskScore)
}

// ObserveResources mirrors the latest monitor snapshot into gauges.
func (m *Metrics) ObserveResources(snap resource.Metrics) {
	m.CPUUsage.Set(snap.CPUUsage)
	m.MemoryUsage.Set(snap.MemoryUsage)
}

// #endregion

package fitness

// #region imports
import (
	"context"
	"time"

	"github.com/danielpatrickdp/evo-deploy/internal/dispatch"
	"github.com/danielpatrickdp/evo-deploy/internal/resource"
)

// #endregion

// #region seams

// Submitter abstracts the evaluation dispatcher so the evaluator can be
// tested with canned responses.
type Submitter interface {
	Submit(ctx context.Context, req dispatch.EvaluationRequest) (dispatch.EvaluationResponse, error)
}

// ResourceReader abstracts the resource monitor.
type ResourceReader interface {
	Snapshot() resource.Metrics
	CheckAvailability(limits resource.Limits) error
}

// #endregion

// #region options

// EvalOptions tunes a single evaluation.
type EvalOptions struct {
	NumEvals int
	Shallow  bool
	Timeout  time.Duration
}

// BatchOptions tunes a batch run. OnPause, when set, is invoked each time the
// batch suspends on constrained resources; OnWindow observes each adaptive
// window size as it is computed.
type BatchOptions struct {
	EvalOptions
	RetryEnabled bool
	OnPause      func()
	OnWindow     func(size int)
}

// #endregion

// #region config

// Config holds the evaluator's resource limits and pacing knobs.
type Config struct {
	Limits        resource.Limits
	MaxConcurrent int
	MaxRetries    int
	PausePoll     time.Duration
	PauseDeadline time.Duration
	FullEvalFloor float64
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		Limits:        resource.Limits{MaxMemoryMB: 8192, MaxCPUPercent: 90},
		MaxConcurrent: 10,
		MaxRetries:    3,
		PausePoll:     5 * time.Second,
		PauseDeadline: 60 * time.Second,
		FullEvalFloor: 0.4,
	}
}

// #endregion

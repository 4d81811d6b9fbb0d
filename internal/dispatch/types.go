package dispatch

// #region imports
import (
	"context"
	"fmt"
	"time"

	"github.com/danielpatrickdp/evo-deploy/internal/agent"
	"github.com/danielpatrickdp/evo-deploy/internal/resource"
)

// #endregion

// #region request-response

// EvaluationRequest is published to the work queue. It exists only for the
// lifetime of one pending evaluation; a timed-out request is forgotten.
type EvaluationRequest struct {
	AgentID             agent.ID         `json:"agent_id"`
	CommitID            string           `json:"commit_id"`
	TaskList            []string         `json:"task_list"`
	NumEvals            int              `json:"num_evals"`
	ShallowEval         bool             `json:"shallow_eval"`
	Timeout             time.Duration    `json:"timeout"`
	ResourceConstraints *resource.Limits `json:"resource_constraints,omitempty"`
}

// EvaluationResponse is consumed from the reply queue and demultiplexed by
// correlation id. Either Results or Error is set.
type EvaluationResponse struct {
	AgentID         agent.ID           `json:"agent_id"`
	Results         []agent.TaskResult `json:"results,omitempty"`
	ResourceMetrics *resource.Metrics  `json:"resource_metrics,omitempty"`
	ExecutionTime   time.Duration      `json:"execution_time"`
	Error           string             `json:"error,omitempty"`
}

// #endregion

// #region queue-seam

// Delivery is one message from the reply queue. Ack must be called exactly
// once; malformed deliveries are acknowledged and dropped rather than
// requeued, to avoid poison-message loops.
type Delivery struct {
	CorrelationID string
	Body          []byte
	Ack           func()
}

// Queue abstracts the broker so the dispatcher can be tested without a live
// connection (the same injection seam the inference client uses).
type Queue interface {
	// Publish sends a request body to the work queue with the given
	// correlation id and the reply queue as reply-to address.
	Publish(ctx context.Context, correlationID string, body []byte) error
	// Consume opens the reply stream. The returned channel closes when the
	// queue shuts down.
	Consume() (<-chan Delivery, error)
	Close() error
}

// #endregion

// #region errors

// TimeoutError reports that no correlated reply arrived within the deadline.
// Recoverable by retry with backoff.
type TimeoutError struct {
	CorrelationID string
	Timeout       time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("evaluation %s timed out after %s", e.CorrelationID, e.Timeout)
}

// ExecutionError reports a failure from the remote worker itself. Recorded
// as worst-case fitness by the caller; not retried unless configured.
type ExecutionError struct {
	AgentID agent.ID
	Message string
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("evaluation of agent %s failed: %s", e.AgentID, e.Message)
}

// #endregion

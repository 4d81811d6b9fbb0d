package dispatch

// #region imports
import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// #endregion

// #region constants

const defaultTimeout = 5 * time.Minute

// #endregion

// #region dispatcher-struct

// Dispatcher publishes evaluation requests to a durable work queue and
// correlates asynchronous replies back to blocked callers. A single reader
// goroutine drains the reply queue and demultiplexes by correlation id; the
// pending-waiter map is the only shared state and is held only around
// insert/remove, never across a wait.
type Dispatcher struct {
	queue Queue

	mu      sync.Mutex
	pending map[string]chan EvaluationResponse

	done chan struct{}
}

// NewDispatcher starts the reply reader and returns a ready dispatcher.
func NewDispatcher(queue Queue) (*Dispatcher, error) {
	deliveries, err := queue.Consume()
	if err != nil {
		return nil, fmt.Errorf("open reply stream: %w", err)
	}
	d := &Dispatcher{
		queue:   queue,
		pending: make(map[string]chan EvaluationResponse),
		done:    make(chan struct{}),
	}
	go d.readLoop(deliveries)
	return d, nil
}

// Close shuts the underlying queue down and waits for the reader to drain.
func (d *Dispatcher) Close() error {
	err := d.queue.Close()
	<-d.done
	return err
}

// #endregion

// #region submit

// Submit publishes req and blocks the calling goroutine (and no other) until
// a correlated reply arrives, the request times out, or ctx is cancelled. On
// timeout or cancellation the waiter is removed; a reply that arrives later
// finds no waiter and is silently discarded.
func (d *Dispatcher) Submit(ctx context.Context, req EvaluationRequest) (EvaluationResponse, error) {
	corrID := uuid.New().String()

	body, err := json.Marshal(req)
	if err != nil {
		return EvaluationResponse{}, fmt.Errorf("marshal request: %w", err)
	}

	// Register before publish so a fast reply cannot race the waiter.
	waiter := make(chan EvaluationResponse, 1)
	d.mu.Lock()
	d.pending[corrID] = waiter
	d.mu.Unlock()

	if err := d.queue.Publish(ctx, corrID, body); err != nil {
		d.removeWaiter(corrID)
		return EvaluationResponse{}, fmt.Errorf("publish request for agent %s: %w", req.AgentID, err)
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-waiter:
		return resp, nil
	case <-timer.C:
		d.removeWaiter(corrID)
		return EvaluationResponse{}, &TimeoutError{CorrelationID: corrID, Timeout: timeout}
	case <-ctx.Done():
		d.removeWaiter(corrID)
		return EvaluationResponse{}, ctx.Err()
	}
}

func (d *Dispatcher) removeWaiter(corrID string) {
	d.mu.Lock()
	delete(d.pending, corrID)
	d.mu.Unlock()
}

// #endregion

// #region read-loop

// readLoop is the single consumer of the reply queue. Every delivery is
// acknowledged exactly once, including malformed and unmatched ones.
func (d *Dispatcher) readLoop(deliveries <-chan Delivery) {
	defer close(d.done)
	for del := range deliveries {
		var resp EvaluationResponse
		if err := json.Unmarshal(del.Body, &resp); err != nil {
			log.Printf("[DISPATCH] dropping malformed reply %s: %v", del.CorrelationID, err)
			del.Ack()
			continue
		}
		del.Ack()

		d.mu.Lock()
		waiter, ok := d.pending[del.CorrelationID]
		if ok {
			delete(d.pending, del.CorrelationID)
		}
		d.mu.Unlock()

		if !ok {
			// Waiter timed out or was cancelled; the remote job finished anyway.
			log.Printf("[DISPATCH] discarding reply %s with no waiter", del.CorrelationID)
			continue
		}
		waiter <- resp
	}
}

// #endregion

// #region introspection

// PendingCount reports the number of in-flight evaluations.
func (d *Dispatcher) PendingCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// #endregion

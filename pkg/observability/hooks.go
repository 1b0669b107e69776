// Package observability is the engine.Hooks implementation that turns step
// and execution lifecycle callbacks into two things: live fan-out over
// pkg/pubsub for WebSocket subscribers (spec.md §6.2, §9) and durable
// persistence of StepExecution/Execution rows via a
// workflow.ExecutionRepository (spec.md §7, "execution records and their
// step traces are persisted for later inspection; writes may be buffered
// and retried with backoff").
//
// Grounded on the engine.Hooks contract itself (pkg/engine/hooks.go, in turn
// modeled on evalgo-org-eve/executor/executor.go's ExecutionHooks), and on
// pkg/bus.MessageBus's tap-then-forget style for the live side. The
// persistence side is new: no teacher module buffers+retries repository
// writes, so it is built directly against github.com/cenkalti/backoff/v5's
// documented generic Retry API.
package observability

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/coflow/coflow/pkg/domain/workflow"
	"github.com/coflow/coflow/pkg/logger"
	"github.com/coflow/coflow/pkg/pubsub"
)

// StepEvent is published on the "execution:<id>:steps" topic whenever a step
// execution starts or finishes.
type StepEvent struct {
	ExecutionID string                  `json:"execution_id"`
	StepID      string                  `json:"step_id"`
	Phase       string                  `json:"phase"` // "before" | "after"
	StepExec    *workflow.StepExecution `json:"step_execution,omitempty"`
}

// StatusEvent is published on the "execution:<id>:status" topic whenever an
// execution transitions.
type StatusEvent struct {
	ExecutionID string                     `json:"execution_id"`
	Status      workflow.ExecutionStatus   `json:"status"`
}

const component = "observability"

// Hooks implements engine.Hooks. It never blocks the engine's Drive loop on
// a slow subscriber or a slow database: pubsub.Bus.Publish is itself
// non-blocking, and repository writes are handed to a bounded worker queue
// drained by a single goroutine so step executions persist in the order
// they complete.
type Hooks struct {
	bus  *pubsub.Bus
	repo workflow.ExecutionRepository

	queue  chan persistJob
	wg     sync.WaitGroup
	closed chan struct{}
	once   sync.Once
}

type persistJob struct {
	kind string // "step" | "status"
	step *workflow.StepExecution
	exec *workflow.Execution
}

// New creates a Hooks backed by bus for live fan-out and repo for durable
// storage. queueCapacity bounds how many pending persistence jobs may queue
// up before AfterStep/RecordExecution start applying backpressure by
// blocking the caller (the engine's own per-step goroutine, not its Drive
// loop barrier).
func New(bus *pubsub.Bus, repo workflow.ExecutionRepository, queueCapacity int) *Hooks {
	if queueCapacity <= 0 {
		queueCapacity = 256
	}
	h := &Hooks{
		bus:    bus,
		repo:   repo,
		queue:  make(chan persistJob, queueCapacity),
		closed: make(chan struct{}),
	}
	h.wg.Add(1)
	go h.drain()
	return h
}

// BeforeStep publishes a "before" StepEvent. It does not persist: a step
// that never finishes (crash, process kill) leaves no half-written row.
func (h *Hooks) BeforeStep(ctx context.Context, execID, stepID string, se *workflow.StepExecution) {
	h.bus.Publish(topicSteps(execID), StepEvent{
		ExecutionID: execID,
		StepID:      stepID,
		Phase:       "before",
		StepExec:    se,
	})
}

// AfterStep publishes an "after" StepEvent and enqueues the finished
// StepExecution for durable persistence.
func (h *Hooks) AfterStep(ctx context.Context, execID, stepID string, se *workflow.StepExecution) {
	h.bus.Publish(topicSteps(execID), StepEvent{
		ExecutionID: execID,
		StepID:      stepID,
		Phase:       "after",
		StepExec:    se,
	})
	select {
	case h.queue <- persistJob{kind: "step", step: se}:
	case <-h.closed:
	}
}

// OnExecutionStatusChange publishes a StatusEvent. It does not persist;
// the Execution aggregate is saved through RecordExecution.
func (h *Hooks) OnExecutionStatusChange(ctx context.Context, execID string, status workflow.ExecutionStatus) {
	h.bus.Publish(topicStatus(execID), StatusEvent{ExecutionID: execID, Status: status})
}

// RecordExecution enqueues a full Execution aggregate for durable Save. The
// api server's runExecution calls it once after the engine's Run returns, by
// which point that run's StepExecutions have been enqueued via AfterStep.
func (h *Hooks) RecordExecution(e *workflow.Execution) {
	select {
	case h.queue <- persistJob{kind: "status", exec: e}:
	case <-h.closed:
	}
}

// Close stops accepting new jobs and waits for the drain goroutine to flush
// whatever is already queued.
func (h *Hooks) Close() {
	h.once.Do(func() { close(h.closed) })
	h.wg.Wait()
}

func (h *Hooks) drain() {
	defer h.wg.Done()
	var stepBatch []workflow.StepExecution
	flush := func() {
		if len(stepBatch) == 0 {
			return
		}
		batch := stepBatch
		stepBatch = nil
		h.persistWithRetry(func() (struct{}, error) {
			return struct{}{}, h.repo.AppendStepExecutions(batch)
		}, "append step executions")
	}

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case job, ok := <-h.queue:
			if !ok {
				flush()
				return
			}
			switch job.kind {
			case "step":
				stepBatch = append(stepBatch, *job.step)
				if len(stepBatch) >= 32 {
					flush()
				}
			case "status":
				flush()
				exec := job.exec
				h.persistWithRetry(func() (struct{}, error) {
					return struct{}{}, h.repo.Save(exec)
				}, "save execution")
			}
		case <-ticker.C:
			flush()
		case <-h.closed:
			// Drain whatever is already buffered in the channel before exiting.
			for {
				select {
				case job := <-h.queue:
					if job.kind == "step" {
						stepBatch = append(stepBatch, *job.step)
					} else if job.kind == "status" {
						flush()
						exec := job.exec
						h.persistWithRetry(func() (struct{}, error) {
							return struct{}{}, h.repo.Save(exec)
						}, "save execution")
					}
				default:
					flush()
					return
				}
			}
		}
	}
}

// persistWithRetry runs op with an exponential backoff, matching spec.md
// §7's "retried with backoff" requirement for buffered persistence writes.
// Failures are logged, not returned: the drain goroutine has no caller to
// propagate an error to.
func (h *Hooks) persistWithRetry(op func() (struct{}, error), label string) {
	_, err := backoff.Retry(context.Background(),
		func() (struct{}, error) { return op() },
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(5),
	)
	if err != nil {
		logger.ErrorCF(component, "persistence failed after retries", map[string]interface{}{
			"op":    label,
			"error": err.Error(),
		})
	}
}

func topicSteps(execID string) string  { return "execution:" + execID + ":steps" }
func topicStatus(execID string) string { return "execution:" + execID + ":status" }

package engine

import (
	"context"

	"github.com/coflow/coflow/pkg/domain/workflow"
)

// Hooks brackets every StepExecution the engine runs. Grounded on
// evalgo-org-eve/executor/executor.go's ExecutionHooks
// (BeforeExecute/AfterExecute/OnError). Implemented by pkg/observability;
// the engine only depends on this interface to avoid a dependency cycle.
type Hooks interface {
	BeforeStep(ctx context.Context, execID, stepID string, se *workflow.StepExecution)
	AfterStep(ctx context.Context, execID, stepID string, se *workflow.StepExecution)
	OnExecutionStatusChange(ctx context.Context, execID string, status workflow.ExecutionStatus)
}

// NoopHooks is the default Hooks implementation when the caller does not
// need observability wiring (unit tests, scripted dry runs).
type NoopHooks struct{}

func (NoopHooks) BeforeStep(context.Context, string, string, *workflow.StepExecution) {}
func (NoopHooks) AfterStep(context.Context, string, string, *workflow.StepExecution)  {}
func (NoopHooks) OnExecutionStatusChange(context.Context, string, workflow.ExecutionStatus) {}

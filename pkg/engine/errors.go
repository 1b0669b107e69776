package engine

// Error is the closed set of fatal engine-level failures (§7 "Fatal
// errors"): cycle detected during build, unknown step type at execution
// time, invalid edges, and an aborted execution. Per-step failures are recorded on the
// StepExecution itself, not returned as a Go error from Run.
type Error string

func (e Error) Error() string { return string(e) }

const (
	ErrCycleDetected    Error = "engine_error: cycle_detected"
	ErrUnknownStepType  Error = "engine_error: unknown_step_type"
	ErrInvalidEdges     Error = "engine_error: invalid_edges"
	ErrExecutionAborted Error = "engine_error: execution_aborted"
)

package steptype

import "context"

// ExecContext carries the read-only execution metadata a handler may need
// beyond its resolved configuration and input (execution id/type, workflow
// id/version — mirrors the "execution"/"workflow" keys of the template
// context built in pkg/template for the same step).
type ExecContext struct {
	ExecutionID   string
	ExecutionType string
	WorkflowID    string
	WorkflowVersion string
}

// Outcome is the closed variant of handler results (§4.3: execute returns
// one of ok/error/skip).
type Outcome struct {
	Kind   OutcomeKind
	Output interface{}
	Reason string // populated for Error and Skip
}

// OutcomeKind is the closed set of execution results a handler may produce.
type OutcomeKind string

const (
	OutcomeOK    OutcomeKind = "ok"
	OutcomeError OutcomeKind = "error"
	OutcomeSkip  OutcomeKind = "skip"
)

// OK wraps a successful output.
func OK(output interface{}) Outcome { return Outcome{Kind: OutcomeOK, Output: output} }

// Err wraps a handler-level failure reason.
func Err(reason string) Outcome { return Outcome{Kind: OutcomeError, Reason: reason} }

// Skip wraps a handler-requested skip.
func Skip(reason string) Outcome { return Outcome{Kind: OutcomeSkip, Reason: reason} }

// Executor is the behavior a step type registers. Golden rule (§4.3): all
// data the step consumes must come from resolvedConfig; input exists only to
// populate the "json" root of the template context, except for the
// documented exceptions (trigger, passthrough, aggregation, identity
// transforms) which read input directly.
type Executor interface {
	// Definition returns the static declaration for this step type.
	Definition() Definition
	// Execute runs the step against its already-template-resolved config.
	Execute(ctx context.Context, resolvedConfig map[string]interface{}, input interface{}, execCtx ExecContext) (Outcome, error)
	// ValidateConfig checks a raw (unresolved) configuration against the
	// type's schema, returning field-level errors.
	ValidateConfig(config map[string]interface{}) []FieldError
}

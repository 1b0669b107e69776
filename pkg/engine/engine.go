// Package engine implements the workflow execution runtime: Plan/Bind/Drive/
// Finalize over a workflow's step and connection set (§4.4).
//
// Grounded on the n8n-work engine-go/internal/engine/workflow_engine.go
// level-by-level dispatch loop found in original_source/, adapted from its
// single in-process queue to the graph-level-batching shape already
// established in pkg/graph, and on the teacher's functional-options
// construction idiom (see pkg/template.NewEngine).
package engine

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/coflow/coflow/pkg/domain"
	"github.com/coflow/coflow/pkg/domain/workflow"
	"github.com/coflow/coflow/pkg/graph"
	"github.com/coflow/coflow/pkg/steptype"
	"github.com/coflow/coflow/pkg/template"
)

// DefaultMaxConcurrency bounds the number of steps dispatched at once within
// a single topological level.
const DefaultMaxConcurrency = 8

// Engine drives one Execution of a workflow step/connection graph against a
// registry of step-type executors.
type Engine struct {
	registry       steptype.Registry
	tmpl           *template.Engine
	hooks          Hooks
	stepTimeout    time.Duration
	maxConcurrency int64
}

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithHooks installs lifecycle hooks fired around each step run.
func WithHooks(h Hooks) Option {
	return func(e *Engine) { e.hooks = h }
}

// WithMaxConcurrency overrides how many steps within one topological level
// may run concurrently.
func WithMaxConcurrency(n int64) Option {
	return func(e *Engine) { e.maxConcurrency = n }
}

// WithStepTimeout bounds how long a single step invocation may run before
// its context is cancelled. Zero disables the per-step deadline.
func WithStepTimeout(d time.Duration) Option {
	return func(e *Engine) { e.stepTimeout = d }
}

// NewEngine constructs an Engine against a step-type registry and template
// engine, applying options over sane defaults.
func NewEngine(registry steptype.Registry, tmpl *template.Engine, opts ...Option) *Engine {
	e := &Engine{
		registry:       registry,
		tmpl:           tmpl,
		hooks:          NoopHooks{},
		maxConcurrency: DefaultMaxConcurrency,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RunInput is everything Run needs to drive one Execution.
type RunInput struct {
	Execution       *workflow.Execution
	WorkflowVersion string
	Steps           []workflow.Step
	Connections     []workflow.Connection
	EditorState     *workflow.EditorState
	Variables       map[string]interface{}
	TriggerInput    interface{}
}

// RunResult is everything Run produced.
type RunResult struct {
	Status         workflow.ExecutionStatus
	StepExecutions []workflow.StepExecution
	Outputs        map[string]interface{}
}

// Run executes in.Execution end to end: Plan (exclude disabled-exclude
// steps, build the graph, compute levels), Bind (precompute each step's
// upstream ancestor set), Drive (run levels in order, steps within a level
// concurrently, bounded by maxConcurrency), Finalize (compute the terminal
// ExecutionStatus).
func (e *Engine) Run(ctx context.Context, in RunInput) (*RunResult, error) {
	editorState := in.EditorState
	if editorState == nil {
		editorState = workflow.NewEditorState()
	}

	if err := in.Execution.Transition(workflow.ExecRunning); err != nil {
		return nil, err
	}
	e.hooks.OnExecutionStatusChange(ctx, in.Execution.ID().String(), workflow.ExecRunning)

	// Plan: steps in DisableExclude mode are removed from the graph
	// entirely — connections touching them are naturally dropped as
	// invalid edges by graph.Build.
	planned := make([]workflow.Step, 0, len(in.Steps))
	for _, s := range in.Steps {
		if mode, disabled := editorState.DisabledSteps[s.ID]; disabled && mode == workflow.DisableExclude {
			continue
		}
		planned = append(planned, s)
	}

	g := graph.Build(planned, in.Connections)
	levels, err := g.Levels()
	if err != nil {
		return e.finalizeOnFatalError(ctx, in, string(ErrCycleDetected)+": "+err.Error())
	}

	// Bind: precompute each step's upstream ancestor set once, reused by
	// every invocation of that step (including every item of a map-mode
	// fan-out).
	upstream := make(map[string]map[string]bool, len(planned))
	for _, s := range planned {
		upstream[s.ID] = g.Upstream(s.ID)
	}

	info := execInfo{
		ExecutionID:     in.Execution.ID().String(),
		ExecutionType:   string(in.Execution.Type),
		WorkflowID:      in.Execution.WorkflowID.String(),
		WorkflowVersion: in.WorkflowVersion,
	}
	stepByID := make(map[string]workflow.Step, len(planned))
	for _, s := range planned {
		stepByID[s.ID] = s
	}

	outputs := make(map[string]stepOutput, len(planned))
	cache := newJoinCache()
	var allExecs []workflow.StepExecution
	aborted := false
	abortReason := ""

	sem := semaphore.NewWeighted(e.maxConcurrency)

	for _, level := range levels {
		if aborted {
			break
		}

		type levelResult struct {
			stepID string
			res    stepRunResult
		}
		results := make([]levelResult, len(level))
		var wg sync.WaitGroup

		for i, stepID := range level {
			wg.Add(1)
			go func(i int, stepID string) {
				defer wg.Done()
				if err := sem.Acquire(ctx, 1); err != nil {
					results[i] = levelResult{stepID: stepID, res: stepRunResult{
						execs: []workflow.StepExecution{*workflow.NewStepExecution(domain.EntityID(info.ExecutionID), stepID)},
						token: workflow.NewSkipToken(stepID, "cancelled"),
					}}
					return
				}
				defer sem.Release(1)

				step := stepByID[stepID]
				res := e.runStep(ctx, info, step, g, editorState, outputs, upstream[stepID], in.Variables, in.TriggerInput, cache)
				results[i] = levelResult{stepID: stepID, res: res}
			}(i, stepID)
		}
		wg.Wait()

		for _, r := range results {
			outputs[r.stepID] = stepOutput{token: r.res.token}
			allExecs = append(allExecs, r.res.execs...)
			if r.res.abortExecution && !aborted {
				aborted = true
				abortReason = r.res.abortReason
			}
		}
	}

	finalStatus := workflow.ExecCompleted
	if aborted {
		finalStatus = workflow.ExecFailed
		in.Execution.Error = abortReason
	}
	for i := range allExecs {
		if allExecs[i].Status == workflow.StepFailed && finalStatus == workflow.ExecCompleted {
			finalStatus = workflow.ExecFailed
		}
	}
	if err := in.Execution.Transition(finalStatus); err != nil {
		return nil, err
	}
	e.hooks.OnExecutionStatusChange(ctx, in.Execution.ID().String(), finalStatus)

	outMap := make(map[string]interface{}, len(outputs))
	for id, o := range outputs {
		outMap[id] = o.token.Data
	}
	return &RunResult{Status: finalStatus, StepExecutions: allExecs, Outputs: outMap}, nil
}

// finalizeOnFatalError transitions the execution straight to Failed without
// running any step. A cyclic graph is a fatal planning error (§7's fatal-
// error taxonomy): the session keeps running, but this execution cannot.
func (e *Engine) finalizeOnFatalError(ctx context.Context, in RunInput, reason string) (*RunResult, error) {
	in.Execution.Error = reason
	if err := in.Execution.Transition(workflow.ExecFailed); err != nil {
		return nil, err
	}
	e.hooks.OnExecutionStatusChange(ctx, in.Execution.ID().String(), workflow.ExecFailed)
	return &RunResult{Status: workflow.ExecFailed, StepExecutions: nil, Outputs: map[string]interface{}{}}, nil
}

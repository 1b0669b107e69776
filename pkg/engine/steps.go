package engine

import (
	"context"

	"github.com/coflow/coflow/pkg/domain"
	"github.com/coflow/coflow/pkg/domain/workflow"
	"github.com/coflow/coflow/pkg/graph"
	"github.com/coflow/coflow/pkg/steptype"
)

// stepRunResult is what runStep reports back to the Drive loop. A single
// step invocation may produce many StepExecutions (map mode, §4.4 "Fan-out
// expansion"), so execs is always a slice even in the common one-per-step
// case.
type stepRunResult struct {
	execs          []workflow.StepExecution
	token          workflow.Token
	abortExecution bool
	abortReason    string
}

// runStep executes one step against a read-only snapshot of every other
// step's output already computed earlier in this Run (outputs only ever
// holds entries from strictly prior topological levels — see engine.go —
// so no synchronization is needed here; the Drive loop merges the result
// back into the live map after every goroutine in the level completes).
func (e *Engine) runStep(
	ctx context.Context,
	info execInfo,
	step workflow.Step,
	g *graph.Graph,
	editorState *workflow.EditorState,
	outputs map[string]stepOutput,
	upstreamSet map[string]bool,
	variables map[string]interface{},
	triggerInput interface{},
	cache *joinCache,
) stepRunResult {
	if mode, disabled := editorState.DisabledSteps[step.ID]; disabled && mode == workflow.DisableSkip {
		se := workflow.NewStepExecution(domain.EntityID(info.ExecutionID), step.ID)
		se.Status = workflow.StepSkipped
		return stepRunResult{execs: []workflow.StepExecution{*se}, token: workflow.NewSkipToken(step.ID, "step disabled")}
	}

	if pinned, ok := editorState.PinnedOutputs[step.ID]; ok {
		se := workflow.NewStepExecution(domain.EntityID(info.ExecutionID), step.ID)
		se.Start(nil, nil)
		se.Complete(workflow.StepCompleted, pinned, "")
		return stepRunResult{execs: []workflow.StepExecution{*se}, token: workflow.NewDataToken(pinned)}
	}

	parents := g.Parents(step.ID)
	in := resolveStepInput(step, parents, outputs, cache)

	if in.kind == inputSkip {
		se := workflow.NewStepExecution(domain.EntityID(info.ExecutionID), step.ID)
		se.Status = workflow.StepSkipped
		return stepRunResult{execs: []workflow.StepExecution{*se}, token: workflow.NewSkipToken(step.ID, "upstream skipped")}
	}

	exec, found := e.registry.Get(step.TypeID)
	if !found {
		se := workflow.NewStepExecution(domain.EntityID(info.ExecutionID), step.ID)
		se.Start(nil, nil)
		se.Complete(workflow.StepFailed, nil, string(ErrUnknownStepType))
		return stepRunResult{
			execs: []workflow.StepExecution{*se}, token: workflow.NewSkipToken(step.ID, "unknown step type"),
			abortExecution: true, abortReason: string(ErrUnknownStepType) + ": " + step.TypeID,
		}
	}

	upstreamSnapshot := make(map[string]stepOutput, len(upstreamSet))
	for id := range upstreamSet {
		if o, ok := outputs[id]; ok {
			upstreamSnapshot[id] = o
		}
	}

	// Map mode: a fired items-kind input fans this step out to one
	// StepExecution per item, unless this step consumes the item stream as
	// a whole (aggregate_items — §4.3's documented aggregation exception).
	if in.kind == inputItems && exec.Definition().ID != "aggregate_items" {
		return e.runItemsMode(ctx, info, step, exec, in.itemsToken, upstreamSet, upstreamSnapshot, variables)
	}

	var input interface{}
	switch in.kind {
	case inputMerge:
		input = in.mergeInput
	case inputItems: // consumer is aggregate_items
		// Errored items are always carried through here, tagged with
		// "__error"; the executor's own include_errors config decides
		// whether to keep or drop them.
		input = itemValues(in.itemsToken, true)
	default:
		if exec.Definition().Kind == steptype.KindTrigger {
			input = triggerInput
		} else {
			input = in.scalar
		}
	}

	se := workflow.NewStepExecution(domain.EntityID(info.ExecutionID), step.ID)
	ctxData := buildContext(info, input, upstreamSet, upstreamSnapshot, variables)
	resolvedMap, err := resolveConfig(e.tmpl, ctxData, step.Config)
	if resolvedMap == nil {
		resolvedMap = map[string]interface{}{}
	}
	if err != nil {
		se.Start(input, resolvedMap)
		se.Complete(workflow.StepFailed, nil, "expression_error: "+err.Error())
		return e.routeFailure(g, step.ID, "expression_error", *se, nil)
	}

	if exec.Definition().ID == "split_items" {
		// field is a template expression naming the list to split; by the
		// time resolveConfig has run it already holds the resolved list.
		resolvedMap["__resolved_field_value"] = resolvedMap["field"]
	}

	se.Start(input, resolvedMap)
	e.hooks.BeforeStep(ctx, info.ExecutionID, step.ID, se)

	stepCtx := ctx
	if e.stepTimeout > 0 {
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(ctx, e.stepTimeout)
		defer cancel()
	}

	outcome, runErr := exec.Execute(stepCtx, resolvedMap, input, steptype.ExecContext{
		ExecutionID: info.ExecutionID, ExecutionType: info.ExecutionType,
		WorkflowID: info.WorkflowID, WorkflowVersion: info.WorkflowVersion,
	})
	if runErr != nil {
		outcome = steptype.Err(runErr.Error())
	}

	switch outcome.Kind {
	case steptype.OutcomeOK:
		se.Complete(workflow.StepCompleted, outcome.Output, "")
		e.hooks.AfterStep(ctx, info.ExecutionID, step.ID, se)
		token := outcomeToToken(outcome.Output, input)
		if exec.Definition().ID == "split_items" {
			token = splitOutputToToken(outcome.Output)
		}
		return stepRunResult{execs: []workflow.StepExecution{*se}, token: token}
	case steptype.OutcomeSkip:
		se.Complete(workflow.StepSkipped, nil, outcome.Reason)
		e.hooks.AfterStep(ctx, info.ExecutionID, step.ID, se)
		return stepRunResult{execs: []workflow.StepExecution{*se}, token: workflow.NewSkipToken(step.ID, outcome.Reason)}
	default: // steptype.OutcomeError
		se.Complete(workflow.StepFailed, outcome.Output, outcome.Reason)
		e.hooks.AfterStep(ctx, info.ExecutionID, step.ID, se)
		return e.routeFailure(g, step.ID, outcome.Reason, *se, outcome.Output)
	}
}

// runItemsMode runs one step once per item of an items token, producing a
// per-item StepExecution identified by (step_id, item_index) and a new
// items token for downstream propagation (§4.4 "Fan-out expansion").
func (e *Engine) runItemsMode(
	ctx context.Context,
	info execInfo,
	step workflow.Step,
	exec steptype.Executor,
	itemsToken workflow.Token,
	upstreamSet map[string]bool,
	upstreamSnapshot map[string]stepOutput,
	variables map[string]interface{},
) stepRunResult {
	n := len(itemsToken.Items)
	execs := make([]workflow.StepExecution, 0, n)
	outItems := make([]workflow.Item, 0, n)

	for _, it := range itemsToken.Items {
		idx, total := it.Index, n
		se := workflow.NewStepExecution(domain.EntityID(info.ExecutionID), step.ID)
		se.ItemIndex = &idx
		se.ItemTotal = &total

		if it.Error != "" {
			se.Start(it.Value, nil)
			se.Complete(workflow.StepFailed, nil, it.Error)
			execs = append(execs, *se)
			outItems = append(outItems, workflow.Item{Index: idx, Error: it.Error})
			continue
		}

		ctxData := buildContext(info, it.Value, upstreamSet, upstreamSnapshot, variables)
		resolvedMap, err := resolveConfig(e.tmpl, ctxData, step.Config)
		if resolvedMap == nil {
			resolvedMap = map[string]interface{}{}
		}
		if err != nil {
			se.Start(it.Value, resolvedMap)
			se.Complete(workflow.StepFailed, nil, "expression_error: "+err.Error())
			execs = append(execs, *se)
			outItems = append(outItems, workflow.Item{Index: idx, Error: "expression_error: " + err.Error()})
			continue
		}

		se.Start(it.Value, resolvedMap)
		e.hooks.BeforeStep(ctx, info.ExecutionID, step.ID, se)

		stepCtx := ctx
		var cancel context.CancelFunc
		if e.stepTimeout > 0 {
			stepCtx, cancel = context.WithTimeout(ctx, e.stepTimeout)
		}
		outcome, runErr := exec.Execute(stepCtx, resolvedMap, it.Value, steptype.ExecContext{
			ExecutionID: info.ExecutionID, ExecutionType: info.ExecutionType,
			WorkflowID: info.WorkflowID, WorkflowVersion: info.WorkflowVersion,
		})
		if cancel != nil {
			cancel()
		}
		if runErr != nil {
			outcome = steptype.Err(runErr.Error())
		}

		switch outcome.Kind {
		case steptype.OutcomeOK:
			se.Complete(workflow.StepCompleted, outcome.Output, "")
			outItems = append(outItems, workflow.Item{Index: idx, Value: outcome.Output})
		case steptype.OutcomeSkip:
			se.Complete(workflow.StepSkipped, nil, outcome.Reason)
			outItems = append(outItems, workflow.Item{Index: idx, Value: nil})
		default:
			se.Complete(workflow.StepFailed, outcome.Output, outcome.Reason)
			outItems = append(outItems, workflow.Item{Index: idx, Error: outcome.Reason})
		}
		e.hooks.AfterStep(ctx, info.ExecutionID, step.ID, se)
		execs = append(execs, *se)
	}

	return stepRunResult{execs: execs, token: workflow.NewItemsToken(outItems)}
}

// routeFailure implements §4.4 step 3g's error routing policy: if a
// downstream connection's source_output label equals the error category,
// the error-shaped output flows there and the execution continues;
// otherwise the whole execution is aborted.
func (e *Engine) routeFailure(g *graph.Graph, stepID, reason string, se workflow.StepExecution, errOutput interface{}) stepRunResult {
	if route, ok := errorRoute(g, stepID, reason); ok {
		return stepRunResult{
			execs: []workflow.StepExecution{se},
			token: workflow.Token{Kind: workflow.TokenData, Route: route, Data: errOutput},
		}
	}
	return stepRunResult{
		execs: []workflow.StepExecution{se}, token: workflow.NewSkipToken(stepID, reason),
		abortExecution: true, abortReason: reason,
	}
}

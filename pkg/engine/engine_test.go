package engine_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coflow/coflow/pkg/domain"
	"github.com/coflow/coflow/pkg/domain/workflow"
	"github.com/coflow/coflow/pkg/engine"
	"github.com/coflow/coflow/pkg/steptype"
	"github.com/coflow/coflow/pkg/steptype/builtins"
	"github.com/coflow/coflow/pkg/template"
)

func newTestEngine(t *testing.T) *engine.Engine {
	t.Helper()
	reg := steptype.NewRegistry()
	require.NoError(t, builtins.RegisterAll(reg))
	return engine.NewEngine(reg, template.NewEngine())
}

func conn(id, from, fromPort, to, toPort string) workflow.Connection {
	if fromPort == "" {
		fromPort = workflow.DefaultPort
	}
	if toPort == "" {
		toPort = workflow.DefaultPort
	}
	return workflow.Connection{ID: id, SourceStepID: from, SourceOutput: fromPort, TargetStepID: to, TargetInput: toPort}
}

func newExecution() *workflow.Execution {
	return workflow.NewExecution(domain.NewID(), "v1", workflow.ExecutionProduction, domain.TriggerManual)
}

func execOf(execs []workflow.StepExecution, stepID string) []workflow.StepExecution {
	var out []workflow.StepExecution
	for _, e := range execs {
		if e.StepID == stepID {
			out = append(out, e)
		}
	}
	return out
}

// Linear pipeline A -> B -> C: A multiplies by 2, B adds 1, C is debug.
func TestRunLinearPipeline(t *testing.T) {
	e := newTestEngine(t)

	steps := []workflow.Step{
		{ID: "A", TypeID: "math", Config: map[string]interface{}{"operation": "multiply", "value": 3.0, "operand": 2.0}},
		{ID: "B", TypeID: "math", Config: map[string]interface{}{"operation": "add", "value": "{{ nodes.A.json.result }}", "operand": 1.0}},
		{ID: "C", TypeID: "debug", Config: map[string]interface{}{}},
	}
	conns := []workflow.Connection{conn("A-B", "A", "", "B", ""), conn("B-C", "B", "", "C", "")}

	res, err := e.Run(context.Background(), engine.RunInput{
		Execution: newExecution(), Steps: steps, Connections: conns,
	})
	require.NoError(t, err)
	require.Equal(t, workflow.ExecCompleted, res.Status)

	b := res.Outputs["B"].(map[string]interface{})
	require.Equal(t, 7.0, b["result"])

	c := res.Outputs["C"].(map[string]interface{})
	require.Equal(t, 7.0, c["result"])
}

// Fan-in join: L, R -> Child (debug). Auto-join zips parent outputs in
// connection order; Child (a passthrough) receives [1, 2].
func TestRunFanInPreservesParentOrder(t *testing.T) {
	e := newTestEngine(t)

	steps := []workflow.Step{
		{ID: "L", TypeID: "math", Config: map[string]interface{}{"operation": "add", "value": 1.0, "operand": 0.0}},
		{ID: "R", TypeID: "math", Config: map[string]interface{}{"operation": "add", "value": 2.0, "operand": 0.0}},
		{ID: "Child", TypeID: "debug", Config: map[string]interface{}{}},
	}
	conns := []workflow.Connection{conn("L-Child", "L", "", "Child", ""), conn("R-Child", "R", "", "Child", "")}

	res, err := e.Run(context.Background(), engine.RunInput{
		Execution: newExecution(), Steps: steps, Connections: conns,
	})
	require.NoError(t, err)
	require.Equal(t, workflow.ExecCompleted, res.Status)

	child, ok := res.Outputs["Child"].([]interface{})
	require.True(t, ok)
	require.Len(t, child, 2)
	require.Equal(t, map[string]interface{}{"result": 1.0}, child[0])
	require.Equal(t, map[string]interface{}{"result": 2.0}, child[1])
}

// Branch routing: T (manual trigger) -> B (branch) -> E (debug, true route)
//                                               \-> S (debug, false route)
// Condition is true, so E runs and S is skipped.
func TestRunBranchRoutesAndSkips(t *testing.T) {
	e := newTestEngine(t)

	steps := []workflow.Step{
		{ID: "T", TypeID: "manual_trigger", Config: map[string]interface{}{}},
		{ID: "B", TypeID: "branch", Config: map[string]interface{}{"condition": true}},
		{ID: "E", TypeID: "debug", Config: map[string]interface{}{}},
		{ID: "S", TypeID: "debug", Config: map[string]interface{}{}},
	}
	conns := []workflow.Connection{
		conn("T-B", "T", "", "B", ""),
		conn("B-E", "B", "true", "E", ""),
		conn("B-S", "B", "false", "S", ""),
	}

	res, err := e.Run(context.Background(), engine.RunInput{
		Execution: newExecution(), Steps: steps, Connections: conns,
		TriggerInput: map[string]interface{}{"hello": "world"},
	})
	require.NoError(t, err)
	require.Equal(t, workflow.ExecCompleted, res.Status)

	eExec := execOf(res.StepExecutions, "E")
	require.Len(t, eExec, 1)
	require.Equal(t, workflow.StepCompleted, eExec[0].Status)

	sExec := execOf(res.StepExecutions, "S")
	require.Len(t, sExec, 1)
	require.Equal(t, workflow.StepSkipped, sExec[0].Status)
}

// Split + aggregate: T -> Split -> Pick -> Agg. Pick (a data_transform pick
// step) sits between the split and the aggregate and must run once per item,
// producing two separate StepExecutions with ItemIndex 0 and 1.
func TestRunSplitAggregateMapMode(t *testing.T) {
	e := newTestEngine(t)

	steps := []workflow.Step{
		{ID: "T", TypeID: "manual_trigger", Config: map[string]interface{}{}},
		{ID: "Split", TypeID: "split_items", Config: map[string]interface{}{"field": "{{ json.items }}"}},
		{ID: "Pick", TypeID: "data_transform", Config: map[string]interface{}{
			"mode": "pick", "fields": []interface{}{"id"}, "object": "{{ json }}",
		}},
		{ID: "Agg", TypeID: "aggregate_items", Config: map[string]interface{}{"mode": "array"}},
	}
	conns := []workflow.Connection{
		conn("T-Split", "T", "", "Split", ""),
		conn("Split-Pick", "Split", "", "Pick", ""),
		conn("Pick-Agg", "Pick", "", "Agg", ""),
	}

	triggerInput := map[string]interface{}{
		"items": []interface{}{
			map[string]interface{}{"id": "a", "extra": 1.0},
			map[string]interface{}{"id": "b", "extra": 2.0},
		},
	}

	res, err := e.Run(context.Background(), engine.RunInput{
		Execution: newExecution(), Steps: steps, Connections: conns,
		TriggerInput: triggerInput,
	})
	require.NoError(t, err)
	require.Equal(t, workflow.ExecCompleted, res.Status)

	pickExecs := execOf(res.StepExecutions, "Pick")
	require.Len(t, pickExecs, 2)
	for i, pe := range pickExecs {
		require.NotNil(t, pe.ItemIndex)
		require.Equal(t, i, *pe.ItemIndex)
		require.Equal(t, 2, *pe.ItemTotal)
		require.Equal(t, workflow.StepCompleted, pe.Status)
	}

	arr, ok := res.Outputs["Agg"].([]interface{})
	require.True(t, ok)
	require.Len(t, arr, 2)
}

func TestRunCyclicGraphFailsExecution(t *testing.T) {
	e := newTestEngine(t)

	steps := []workflow.Step{
		{ID: "A", TypeID: "debug"},
		{ID: "B", TypeID: "debug"},
	}
	conns := []workflow.Connection{conn("A-B", "A", "", "B", ""), conn("B-A", "B", "", "A", "")}

	res, err := e.Run(context.Background(), engine.RunInput{
		Execution: newExecution(), Steps: steps, Connections: conns,
	})
	require.NoError(t, err)
	require.Equal(t, workflow.ExecFailed, res.Status)
	require.Empty(t, res.StepExecutions)
}

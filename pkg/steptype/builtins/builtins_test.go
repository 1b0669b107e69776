package builtins

import (
	"context"
	"testing"

	"github.com/coflow/coflow/pkg/steptype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAllPopulatesRegistry(t *testing.T) {
	reg := steptype.NewRegistry()
	require.NoError(t, RegisterAll(reg))
	assert.Equal(t, 16, reg.Count())

	_, ok := reg.Get("http_request")
	assert.True(t, ok)
	_, ok = reg.Get("merge")
	assert.True(t, ok)
}

func TestBranchExecutorRoutesOnCondition(t *testing.T) {
	exec := newBranchExecutor()
	ctx := context.Background()

	out, err := exec.Execute(ctx, map[string]interface{}{"condition": true}, nil, steptype.ExecContext{})
	require.NoError(t, err)
	assert.Equal(t, steptype.OutcomeOK, out.Kind)
	assert.Equal(t, "true", out.Output.(map[string]interface{})["route"])

	out, err = exec.Execute(ctx, map[string]interface{}{"condition": "0"}, nil, steptype.ExecContext{})
	require.NoError(t, err)
	assert.Equal(t, "false", out.Output.(map[string]interface{})["route"])
}

func TestSwitchExecutorEqualsMode(t *testing.T) {
	exec := newSwitchExecutor()
	config := map[string]interface{}{
		"value": "gold",
		"mode":  "equals",
		"cases": []interface{}{
			map[string]interface{}{"match": "silver", "output": "silver_out"},
			map[string]interface{}{"match": "gold", "output": "gold_out"},
		},
		"default_output": "default",
	}
	out, err := exec.Execute(context.Background(), config, nil, steptype.ExecContext{})
	require.NoError(t, err)
	assert.Equal(t, "gold_out", out.Output.(map[string]interface{})["route"])
}

func TestSwitchExecutorFallsBackToDefault(t *testing.T) {
	exec := newSwitchExecutor()
	config := map[string]interface{}{
		"value":           "bronze",
		"cases":           []interface{}{map[string]interface{}{"match": "gold", "output": "gold_out"}},
		"default_output":  "default_out",
	}
	out, err := exec.Execute(context.Background(), config, nil, steptype.ExecContext{})
	require.NoError(t, err)
	assert.Equal(t, "default_out", out.Output.(map[string]interface{})["route"])
}

func TestMergeExecutorCombineStrategies(t *testing.T) {
	exec := newMergeExecutor()
	ctx := context.Background()

	parents := map[string]interface{}{
		"a": map[string]interface{}{"x": 1.0},
		"b": map[string]interface{}{"y": 2.0},
	}

	out, err := exec.Execute(ctx, map[string]interface{}{"combine_strategy": "merge"}, parents, steptype.ExecContext{})
	require.NoError(t, err)
	merged := out.Output.(map[string]interface{})
	assert.Equal(t, 1.0, merged["x"])
	assert.Equal(t, 2.0, merged["y"])

	out, err = exec.Execute(ctx, map[string]interface{}{"combine_strategy": "object"}, parents, steptype.ExecContext{})
	require.NoError(t, err)
	assert.Equal(t, parents, out.Output)
}

func TestMergeExecutorFirstSkipsSkippedParents(t *testing.T) {
	exec := newMergeExecutor()
	parents := map[string]interface{}{
		"a": map[string]interface{}{"__skip": true},
	}
	out, err := exec.Execute(context.Background(), map[string]interface{}{"combine_strategy": "first"}, parents, steptype.ExecContext{})
	require.NoError(t, err)
	assert.Equal(t, steptype.OutcomeSkip, out.Kind)
}

func TestMathExecutorBinaryAndUnary(t *testing.T) {
	exec := newMathExecutor()
	ctx := context.Background()

	out, err := exec.Execute(ctx, map[string]interface{}{"operation": "add", "value": 2.0, "operand": 3.0}, nil, steptype.ExecContext{})
	require.NoError(t, err)
	assert.Equal(t, 5.0, out.Output.(map[string]interface{})["result"])

	out, err = exec.Execute(ctx, map[string]interface{}{"operation": "abs", "value": -4.0}, nil, steptype.ExecContext{})
	require.NoError(t, err)
	assert.Equal(t, 4.0, out.Output.(map[string]interface{})["result"])
}

func TestMathExecutorDivideByZero(t *testing.T) {
	exec := newMathExecutor()
	out, err := exec.Execute(context.Background(), map[string]interface{}{"operation": "divide", "value": 1.0, "operand": 0.0}, nil, steptype.ExecContext{})
	require.NoError(t, err)
	assert.Equal(t, steptype.OutcomeError, out.Kind)
}

func TestAggregateItemsSummarize(t *testing.T) {
	exec := newAggregateItemsExecutor()
	config := map[string]interface{}{
		"mode":        "summarize",
		"field":       "amount",
		"operations":  []interface{}{"sum", "count", "avg"},
		"output_field": "stats",
	}
	items := []interface{}{
		map[string]interface{}{"amount": 10.0},
		map[string]interface{}{"amount": 20.0},
	}
	out, err := exec.Execute(context.Background(), config, items, steptype.ExecContext{})
	require.NoError(t, err)
	stats := out.Output.(map[string]interface{})["stats"].(map[string]interface{})
	assert.Equal(t, 30.0, stats["sum"])
	assert.Equal(t, 2.0, stats["count"])
	assert.Equal(t, 15.0, stats["avg"])
}

func TestDataTransformPickAndOmit(t *testing.T) {
	exec := newDataTransformExecutor()
	obj := map[string]interface{}{"a": 1.0, "b": 2.0, "c": 3.0}

	out, err := exec.Execute(context.Background(), map[string]interface{}{
		"mode": "pick", "object": obj, "fields": []interface{}{"a", "c"},
	}, nil, steptype.ExecContext{})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"a": 1.0, "c": 3.0}, out.Output)

	out, err = exec.Execute(context.Background(), map[string]interface{}{
		"mode": "omit", "object": obj, "fields": []interface{}{"b"},
	}, nil, steptype.ExecContext{})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"a": 1.0, "c": 3.0}, out.Output)
}

func TestStringOpsConcatenateAndSplit(t *testing.T) {
	exec := newStringOpsExecutor()

	out, err := exec.Execute(context.Background(), map[string]interface{}{
		"operation": "concatenate", "parts": []interface{}{"a", "b", "c"}, "separator": "-",
	}, nil, steptype.ExecContext{})
	require.NoError(t, err)
	assert.Equal(t, "a-b-c", out.Output.(map[string]interface{})["result"])

	out, err = exec.Execute(context.Background(), map[string]interface{}{
		"operation": "split", "value": "a,b,c", "separator": ",",
	}, nil, steptype.ExecContext{})
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"a", "b", "c"}, out.Output.(map[string]interface{})["result"])
}

func TestDebugExecutorPassesInputThrough(t *testing.T) {
	exec := newDebugExecutor()
	out, err := exec.Execute(context.Background(), nil, map[string]interface{}{"k": "v"}, steptype.ExecContext{})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"k": "v"}, out.Output)
}

func TestJSONParserExecutorRejectsInvalidJSON(t *testing.T) {
	exec := newJSONParserExecutor()
	out, err := exec.Execute(context.Background(), map[string]interface{}{"text": "{not json"}, nil, steptype.ExecContext{})
	require.NoError(t, err)
	assert.Equal(t, steptype.OutcomeError, out.Kind)
}

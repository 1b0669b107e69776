package graph

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coflow/coflow/pkg/domain/workflow"
)

func steps(ids ...string) []workflow.Step {
	out := make([]workflow.Step, len(ids))
	for i, id := range ids {
		out[i] = workflow.Step{ID: id}
	}
	return out
}

func conn(from, to string) workflow.Connection {
	return workflow.Connection{
		ID:           from + "-" + to,
		SourceStepID: from,
		TargetStepID: to,
		SourceOutput: workflow.DefaultPort,
		TargetInput:  workflow.DefaultPort,
	}
}

func TestTopologicalSortLinear(t *testing.T) {
	g := Build(steps("A", "B", "C"), []workflow.Connection{conn("A", "B"), conn("B", "C")})
	order, err := g.TopologicalSort()
	require.NoError(t, err)
	require.Equal(t, []string{"A", "B", "C"}, order)
}

func TestTopologicalSortCycleDetected(t *testing.T) {
	g := Build(steps("A", "B", "C"), []workflow.Connection{conn("A", "B"), conn("B", "C"), conn("C", "A")})
	_, err := g.TopologicalSort()
	require.Error(t, err)

	var cycleErr *ErrCycleDetected
	require.ErrorAs(t, err, &cycleErr)
	require.NotEmpty(t, cycleErr.Witness)
}

func TestWouldCreateCycle(t *testing.T) {
	ss := steps("A", "B", "C")
	cs := []workflow.Connection{conn("A", "B"), conn("B", "C")}
	require.True(t, WouldCreateCycle(ss, cs, "C", "A"))
	require.False(t, WouldCreateCycle(ss, cs, "A", "C"))
}

func TestUpstreamDownstream(t *testing.T) {
	g := Build(steps("A", "B", "C", "D"), []workflow.Connection{conn("A", "B"), conn("B", "C"), conn("A", "D")})
	up := g.Upstream("C")
	require.True(t, up["A"])
	require.True(t, up["B"])
	require.False(t, up["D"])

	down := g.Downstream("A")
	require.True(t, down["B"])
	require.True(t, down["C"])
	require.True(t, down["D"])
}

func TestInvalidEdgesRejected(t *testing.T) {
	g := Build(steps("A", "B"), []workflow.Connection{conn("A", "missing")})
	require.Len(t, g.InvalidEdges(), 1)
	require.Empty(t, g.Children("A"))
}

func TestExecutionSubgraphExcludes(t *testing.T) {
	g := Build(steps("A", "B", "C"), []workflow.Connection{conn("A", "B"), conn("B", "C")})
	sub := g.ExecutionSubgraph([]string{"C"}, SubgraphOptions{Exclude: map[string]bool{"B": true}})
	require.False(t, sub.HasStep("B"))
	require.True(t, sub.HasStep("A"))
	require.False(t, sub.HasStep("C"))
}

func TestLevelsGroupsIndependentSteps(t *testing.T) {
	g := Build(steps("A", "B", "C", "D"), []workflow.Connection{conn("A", "C"), conn("B", "C"), conn("C", "D")})
	levels, err := g.Levels()
	require.NoError(t, err)
	require.Len(t, levels, 3)
	require.ElementsMatch(t, []string{"A", "B"}, levels[0])
	require.Equal(t, []string{"C"}, levels[1])
	require.Equal(t, []string{"D"}, levels[2])
}

func TestLevelsCycleDetected(t *testing.T) {
	g := Build(steps("A", "B"), []workflow.Connection{conn("A", "B"), conn("B", "A")})
	_, err := g.Levels()
	require.Error(t, err)
}

func TestFanInParentOrderPreserved(t *testing.T) {
	g := Build(steps("L", "R", "Child"), []workflow.Connection{conn("L", "Child"), conn("R", "Child")})
	parents := g.Parents("Child")
	require.Len(t, parents, 2)
	require.Equal(t, "L", parents[0].SourceStepID)
	require.Equal(t, "R", parents[1].SourceStepID)
}

package sqlstore_test

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coflow/coflow/pkg/domain"
	"github.com/coflow/coflow/pkg/domain/workflow"
	"github.com/coflow/coflow/pkg/persistence/sqlstore"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sqlstore.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestDraftRepositorySaveAndFindByIDRoundTrips(t *testing.T) {
	db := openTestDB(t)
	repo := sqlstore.NewDraftRepository(db)

	draft := workflow.NewWorkflowDraft("Order intake", "handles new orders")
	draft.Steps = append(draft.Steps, workflow.Step{
		ID:     "A",
		TypeID: "manual_trigger",
		Name:   "Start",
		Config: map[string]interface{}{"foo": "bar"},
	})
	draft.Steps = append(draft.Steps, workflow.Step{ID: "B", TypeID: "debug"})
	draft.Connections = append(draft.Connections, workflow.Connection{
		ID: "c1", SourceStepID: "A", SourceOutput: "main", TargetStepID: "B", TargetInput: "main",
	})

	require.NoError(t, repo.Save(draft))

	loaded, err := repo.FindByID(draft.ID())
	require.NoError(t, err)
	require.Equal(t, "Order intake", loaded.Name)
	require.Len(t, loaded.Steps, 2)
	require.Len(t, loaded.Connections, 1)
	stepA := loaded.StepByID("A")
	require.NotNil(t, stepA)
	require.Equal(t, "bar", stepA.Config["foo"])
}

func TestDraftRepositoryFindByIDMissingReturnsNotFound(t *testing.T) {
	db := openTestDB(t)
	repo := sqlstore.NewDraftRepository(db)

	_, err := repo.FindByID(domain.NewID())
	require.ErrorIs(t, err, workflow.ErrDraftNotFound)
}

func TestOperationRepositoryAppendIsIdempotentOnDuplicateID(t *testing.T) {
	db := openTestDB(t)
	repo := sqlstore.NewOperationRepository(db)
	workflowID := domain.NewID()

	op := workflow.EditOperation{
		ID:         "op-1",
		WorkflowID: workflowID,
		Seq:        1,
		Type:       workflow.OpAddStep,
		Payload:    map[string]interface{}{"id": "A"},
		UserID:     "u1",
		InsertedAt: domain.Now(),
	}
	require.NoError(t, repo.Append([]workflow.EditOperation{op}))
	require.NoError(t, repo.Append([]workflow.EditOperation{op}))

	lastSeq, ops, err := repo.LoadPending(workflowID)
	require.NoError(t, err)
	require.Equal(t, int64(1), lastSeq)
	require.Len(t, ops, 1)
}

func TestExecutionRepositorySaveAndStepExecutionsRoundTrip(t *testing.T) {
	db := openTestDB(t)
	execRepo := sqlstore.NewExecutionRepository(db)

	workflowID := domain.NewID()
	exec := workflow.NewExecution(workflowID, "", workflow.ExecutionProduction, domain.TriggerManual)
	require.NoError(t, execRepo.Save(exec))

	require.NoError(t, exec.Transition(workflow.ExecRunning))
	require.NoError(t, execRepo.Save(exec))

	se := workflow.NewStepExecution(exec.ID(), "A")
	se.Start(map[string]interface{}{"x": 1.0}, map[string]interface{}{"op": "add"})
	se.Complete(workflow.StepCompleted, map[string]interface{}{"result": 2.0}, "")
	require.NoError(t, execRepo.AppendStepExecutions([]workflow.StepExecution{*se}))

	loadedExec, err := execRepo.FindByID(exec.ID())
	require.NoError(t, err)
	require.Equal(t, workflow.ExecRunning, loadedExec.Status)

	steps, err := execRepo.StepExecutionsFor(exec.ID())
	require.NoError(t, err)
	require.Len(t, steps, 1)
	require.Equal(t, workflow.StepCompleted, steps[0].Status)
	require.Equal(t, 2.0, steps[0].Output.(map[string]interface{})["result"])
}

package editsession_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coflow/coflow/pkg/domain"
	"github.com/coflow/coflow/pkg/domain/workflow"
	"github.com/coflow/coflow/pkg/editsession"
	"github.com/coflow/coflow/pkg/pubsub"
)

type fakeOperationRepo struct {
	mu  sync.Mutex
	ops []workflow.EditOperation
}

func (f *fakeOperationRepo) Append(ops []workflow.EditOperation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, ops...)
	return nil
}

func (f *fakeOperationRepo) LoadPending(workflowID domain.EntityID) (int64, []workflow.EditOperation, error) {
	return 0, nil, nil
}

func newTestSession(t *testing.T) (*editsession.Session, func()) {
	t.Helper()
	draft := workflow.NewWorkflowDraft("test", "")
	bus := pubsub.New()
	repo := &fakeOperationRepo{}
	sess := editsession.New(draft, bus, repo, 32, editsession.WithIdleTimeout(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		sess.Run(ctx)
	}()
	cleanup := func() {
		cancel()
		wg.Wait()
		bus.Close()
	}
	return sess, cleanup
}

func TestApplyAddStepThenUpdateConfig(t *testing.T) {
	sess, cleanup := newTestSession(t)
	defer cleanup()
	ctx := context.Background()

	_, applied, err := sess.ApplyOperation(ctx, workflow.EditOperation{
		ID:   "op-1",
		Type: workflow.OpAddStep,
		Payload: map[string]interface{}{
			"id":      "A",
			"type_id": "math",
			"name":    "Add",
			"config":  map[string]interface{}{"operation": "add"},
		},
	})
	require.NoError(t, err)
	require.True(t, applied)

	_, applied, err = sess.ApplyOperation(ctx, workflow.EditOperation{
		ID:   "op-2",
		Type: workflow.OpUpdateStepConfig,
		Payload: map[string]interface{}{
			"step_id": "A",
			"patch": []interface{}{
				map[string]interface{}{"op": "replace", "path": "/operation", "value": "multiply"},
				map[string]interface{}{"op": "add", "path": "/b", "value": 2.0},
			},
		},
	})
	require.NoError(t, err)
	require.True(t, applied)

	snap, err := sess.Snapshot(ctx)
	require.NoError(t, err)
	step := snap.Draft.StepByID("A")
	require.NotNil(t, step)
	require.Equal(t, "multiply", step.Config["operation"])
	require.Equal(t, 2.0, step.Config["b"])
}

func TestApplyOperationIsIdempotentOnDuplicateID(t *testing.T) {
	sess, cleanup := newTestSession(t)
	defer cleanup()
	ctx := context.Background()

	op := workflow.EditOperation{
		ID:   "dup-1",
		Type: workflow.OpAddStep,
		Payload: map[string]interface{}{
			"id":      "A",
			"type_id": "math",
		},
	}
	seq, applied, err := sess.ApplyOperation(ctx, op)
	require.NoError(t, err)
	require.True(t, applied)
	require.Equal(t, int64(1), seq)

	dupSeq, applied, err := sess.ApplyOperation(ctx, op)
	require.NoError(t, err)
	require.False(t, applied)
	require.Equal(t, seq, dupSeq)

	snap, err := sess.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Draft.Steps, 1)
}

func TestApplyAddConnectionRejectsCycle(t *testing.T) {
	sess, cleanup := newTestSession(t)
	defer cleanup()
	ctx := context.Background()

	for _, id := range []string{"A", "B"} {
		_, _, err := sess.ApplyOperation(ctx, workflow.EditOperation{
			ID:   "add-" + id,
			Type: workflow.OpAddStep,
			Payload: map[string]interface{}{
				"id":      id,
				"type_id": "debug",
			},
		})
		require.NoError(t, err)
	}

	_, _, err := sess.ApplyOperation(ctx, workflow.EditOperation{
		ID:   "conn-1",
		Type: workflow.OpAddConnection,
		Payload: map[string]interface{}{
			"id":             "c1",
			"source_step_id": "A",
			"target_step_id": "B",
		},
	})
	require.NoError(t, err)

	_, _, err = sess.ApplyOperation(ctx, workflow.EditOperation{
		ID:   "conn-2",
		Type: workflow.OpAddConnection,
		Payload: map[string]interface{}{
			"id":             "c2",
			"source_step_id": "B",
			"target_step_id": "A",
		},
	})
	require.ErrorIs(t, err, workflow.ErrWouldCreateCycle)
}

func TestUpdatePresenceMergesPerFieldAndLeaveClearsPresence(t *testing.T) {
	sess, cleanup := newTestSession(t)
	defer cleanup()
	ctx := context.Background()

	err := sess.UpdatePresence(ctx, workflow.UserPresence{
		UserID:      "u1",
		DisplayName: "Ada",
		Cursor:      &workflow.CursorPosition{X: 1, Y: 2},
	})
	require.NoError(t, err)

	err = sess.UpdatePresence(ctx, workflow.UserPresence{
		UserID:    "u1",
		FocusedID: "A",
	})
	require.NoError(t, err)

	snap, err := sess.Snapshot(ctx)
	require.NoError(t, err)
	p := snap.Presence["u1"]
	require.Equal(t, "Ada", p.DisplayName)
	require.Equal(t, "A", p.FocusedID)
	require.NotNil(t, p.Cursor)
	require.Equal(t, float64(1), p.Cursor.X)

	require.NoError(t, sess.UserLeft(ctx, "u1"))
	// UserLeft is fire-and-forget; round-trip a Snapshot to know it was processed
	// (the mailbox is FIFO, so Snapshot only runs after UserLeft has).
	snap, err = sess.Snapshot(ctx)
	require.NoError(t, err)
	_, stillPresent := snap.Presence["u1"]
	require.False(t, stillPresent)
}

package supervisor_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coflow/coflow/pkg/domain"
	"github.com/coflow/coflow/pkg/domain/workflow"
	"github.com/coflow/coflow/pkg/pubsub"
	"github.com/coflow/coflow/pkg/supervisor"
)

type fakeDraftRepo struct {
	mu     sync.Mutex
	drafts map[domain.EntityID]*workflow.WorkflowDraft
}

func newFakeDraftRepo() *fakeDraftRepo {
	return &fakeDraftRepo{drafts: make(map[domain.EntityID]*workflow.WorkflowDraft)}
}

func (f *fakeDraftRepo) FindByID(id domain.EntityID) (*workflow.WorkflowDraft, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.drafts[id]
	if !ok {
		return nil, workflow.ErrDraftNotFound
	}
	return d, nil
}

func (f *fakeDraftRepo) Save(d *workflow.WorkflowDraft) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.drafts[d.ID()] = d
	return nil
}

func (f *fakeDraftRepo) Delete(id domain.EntityID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.drafts, id)
	return nil
}

func (f *fakeDraftRepo) FindAll() ([]*workflow.WorkflowDraft, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*workflow.WorkflowDraft, 0, len(f.drafts))
	for _, d := range f.drafts {
		out = append(out, d)
	}
	return out, nil
}

type fakeOperationRepo struct{}

func (fakeOperationRepo) Append(ops []workflow.EditOperation) error { return nil }
func (fakeOperationRepo) LoadPending(workflowID domain.EntityID) (int64, []workflow.EditOperation, error) {
	return 0, nil, nil
}

func TestCreateDraftSpawnsSessionAndGetOrCreateReusesIt(t *testing.T) {
	draftRepo := newFakeDraftRepo()
	bus := pubsub.New()
	defer bus.Close()

	sup := supervisor.New(draftRepo, fakeOperationRepo{}, bus, supervisor.WithIdleTimeout(time.Hour))
	defer sup.Shutdown()

	draft, sess, err := sup.CreateDraft("New workflow", "")
	require.NoError(t, err)
	require.NotNil(t, sess)
	require.Equal(t, 1, sup.ActiveSessionCount())

	again, err := sup.GetOrCreateSession(draft.ID())
	require.NoError(t, err)
	require.Same(t, sess, again)
	require.Equal(t, 1, sup.ActiveSessionCount())
}

func TestGetOrCreateSessionUnknownWorkflowFails(t *testing.T) {
	draftRepo := newFakeDraftRepo()
	bus := pubsub.New()
	defer bus.Close()

	sup := supervisor.New(draftRepo, fakeOperationRepo{}, bus)
	defer sup.Shutdown()

	_, err := sup.GetOrCreateSession(domain.NewID())
	require.ErrorIs(t, err, workflow.ErrDraftNotFound)
}

func TestCloseSessionRemovesItFromRegistry(t *testing.T) {
	draftRepo := newFakeDraftRepo()
	bus := pubsub.New()
	defer bus.Close()

	sup := supervisor.New(draftRepo, fakeOperationRepo{}, bus, supervisor.WithIdleTimeout(time.Hour))
	defer sup.Shutdown()

	draft, _, err := sup.CreateDraft("Temp", "")
	require.NoError(t, err)
	require.Equal(t, 1, sup.ActiveSessionCount())

	sup.CloseSession(draft.ID())
	require.Eventually(t, func() bool {
		return sup.ActiveSessionCount() == 0
	}, time.Second, 5*time.Millisecond)
}

// Package supervisor owns the registry of live editsession.Session actors,
// one per workflow currently being edited, creating them on demand and
// reaping them once their Run loop exits (idle timeout or explicit
// shutdown). This is the "Supervisor" row of spec.md's component table:
// edit-session process lifecycle management, kept separate from
// pkg/editsession so a session never has to know how it was found or how
// many siblings exist.
//
// Grounded on pkg/app's application-service "get-or-create, orchestrate
// against a repository, publish resulting events" shape
// (session_service.go's GetOrCreateSession), generalized from a
// find-or-construct-a-struct pattern into find-or-spawn-a-goroutine.
package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/coflow/coflow/pkg/domain"
	"github.com/coflow/coflow/pkg/domain/workflow"
	"github.com/coflow/coflow/pkg/editsession"
	"github.com/coflow/coflow/pkg/logger"
	"github.com/coflow/coflow/pkg/pubsub"
)

const component = "supervisor"

// Supervisor creates and tracks one editsession.Session per workflow id
// actively being edited. Safe for concurrent use.
type Supervisor struct {
	mu       sync.Mutex
	sessions map[string]*trackedSession

	draftRepo workflow.DraftRepository
	opRepo    workflow.OperationRepository
	bus       *pubsub.Bus
	eventBus  domain.EventBus

	mailboxCapacity int
	idleTimeout     time.Duration

	rootCtx    context.Context
	rootCancel context.CancelFunc
	wg         sync.WaitGroup
}

type trackedSession struct {
	session *editsession.Session
	cancel  context.CancelFunc
}

// Option configures a Supervisor at construction time.
type Option func(*Supervisor)

// WithMailboxCapacity overrides the per-session command mailbox size.
func WithMailboxCapacity(n int) Option {
	return func(s *Supervisor) { s.mailboxCapacity = n }
}

// WithIdleTimeout overrides how long an unused session lives before its Run
// loop exits and the supervisor reaps it.
func WithIdleTimeout(d time.Duration) Option {
	return func(s *Supervisor) { s.idleTimeout = d }
}

// WithEventBus sets the domain event bus that newly created drafts' pending
// events (EventWorkflowDraftCreated) are published to. Left nil, event
// publication is skipped.
func WithEventBus(bus domain.EventBus) Option {
	return func(s *Supervisor) { s.eventBus = bus }
}

// New creates a Supervisor. The returned Supervisor owns a background
// context; call Shutdown to stop every tracked session.
func New(draftRepo workflow.DraftRepository, opRepo workflow.OperationRepository, bus *pubsub.Bus, opts ...Option) *Supervisor {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Supervisor{
		sessions:        make(map[string]*trackedSession),
		draftRepo:       draftRepo,
		opRepo:          opRepo,
		bus:             bus,
		mailboxCapacity: 256,
		idleTimeout:     10 * time.Minute,
		rootCtx:         ctx,
		rootCancel:      cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateDraft persists a brand-new empty draft and immediately spins up its
// edit session, since a freshly created workflow is assumed to be opened
// for editing right away.
func (s *Supervisor) CreateDraft(name, description string) (*workflow.WorkflowDraft, *editsession.Session, error) {
	draft := workflow.NewWorkflowDraft(name, description)
	if draft.Name == "" {
		return nil, nil, workflow.ErrEmptyName
	}
	if err := s.draftRepo.Save(draft); err != nil {
		return nil, nil, fmt.Errorf("supervisor: saving new draft: %w", err)
	}
	s.publishEvents(draft)
	sess := s.spawn(draft)
	return draft, sess, nil
}

// publishEvents drains draft's pending domain events to the event bus, if
// one is configured. Called after the draft's state is durably persisted.
func (s *Supervisor) publishEvents(draft *workflow.WorkflowDraft) {
	if s.eventBus == nil {
		return
	}
	for _, e := range draft.PullEvents() {
		s.eventBus.Publish(e)
	}
}

// GetOrCreateSession returns the live session for workflowID, loading its
// draft from the repository and spawning a new session goroutine if one is
// not already running.
func (s *Supervisor) GetOrCreateSession(workflowID domain.EntityID) (*editsession.Session, error) {
	s.mu.Lock()
	if tracked, ok := s.sessions[workflowID.String()]; ok {
		s.mu.Unlock()
		return tracked.session, nil
	}
	s.mu.Unlock()

	draft, err := s.draftRepo.FindByID(workflowID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if tracked, ok := s.sessions[workflowID.String()]; ok {
		return tracked.session, nil
	}
	return s.spawnLocked(draft), nil
}

// spawn acquires the lock and spawns, for callers that have not already
// checked the registry (CreateDraft always needs a fresh session).
func (s *Supervisor) spawn(draft *workflow.WorkflowDraft) *editsession.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.spawnLocked(draft)
}

func (s *Supervisor) spawnLocked(draft *workflow.WorkflowDraft) *editsession.Session {
	sessCtx, cancel := context.WithCancel(s.rootCtx)
	sess := editsession.New(draft, s.bus, s.opRepo, s.mailboxCapacity, editsession.WithIdleTimeout(s.idleTimeout))
	key := draft.ID().String()
	s.sessions[key] = &trackedSession{session: sess, cancel: cancel}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		sess.Run(sessCtx)
		s.reap(key)
		logger.InfoCF(component, "edit session stopped", map[string]interface{}{"workflow_id": key})
	}()

	logger.InfoCF(component, "edit session started", map[string]interface{}{"workflow_id": key})
	return sess
}

func (s *Supervisor) reap(workflowID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, workflowID)
}

// ActiveSessionCount reports how many sessions are currently tracked, for
// the /api/health response.
func (s *Supervisor) ActiveSessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// CloseSession stops workflowID's session, if one is running. It does not
// block for the goroutine to exit; use Shutdown to wait for all of them.
func (s *Supervisor) CloseSession(workflowID domain.EntityID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tracked, ok := s.sessions[workflowID.String()]; ok {
		tracked.session.Close()
		tracked.cancel()
	}
}

// Shutdown stops every tracked session and waits for their Run goroutines
// to return.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	for _, tracked := range s.sessions {
		tracked.session.Close()
	}
	s.mu.Unlock()

	s.rootCancel()
	s.wg.Wait()
}

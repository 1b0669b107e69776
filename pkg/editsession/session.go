// Package editsession models one workflow draft as a single-writer actor:
// all mutation of a WorkflowDraft, its EditorState, and its connected users'
// UserPresence flows through one goroutine consuming a bounded mailbox of
// typed commands, each carrying a reply channel (spec.md §4.6, "model each
// edit session as a structure owned by a goroutine that owns the only
// mutable reference to its draft").
//
// Grounded on pkg/bus.MessageBus's channel-select idioms — a buffered
// channel plus non-blocking select/default drops for taps — generalized
// here from a fixed inbound/outbound message pair into a single command
// mailbox with per-command reply channels, since an edit session needs
// request/response semantics (apply this operation, tell me if it
// succeeded) rather than fire-and-forget fan-out.
package editsession

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/coflow/coflow/pkg/domain"
	"github.com/coflow/coflow/pkg/domain/workflow"
	"github.com/coflow/coflow/pkg/logger"
	"github.com/coflow/coflow/pkg/pubsub"
)

const component = "editsession"

// Broadcast is published on "workflow:<id>:events" whenever the session's
// state changes, for the WebSocket hub to relay to connected clients.
type Broadcast struct {
	WorkflowID string      `json:"workflow_id"`
	Kind       string      `json:"kind"` // "operation_applied" | "presence_updated" | "user_left"
	Payload    interface{} `json:"payload"`
}

// Session owns one WorkflowDraft for as long as it is being edited. Every
// field below is touched only by the run goroutine; callers interact
// exclusively through the exported methods (ApplyOperation, UpdatePresence,
// UserLeft, Snapshot, Sync), which enqueue commands on the mailbox.
type Session struct {
	workflowID domain.EntityID
	draft      *workflow.WorkflowDraft
	editor     *workflow.EditorState
	presence   map[string]*workflow.UserPresence
	ops        *operationBuffer

	bus  *pubsub.Bus
	repo workflow.OperationRepository

	mailbox chan command
	done    chan struct{}
	closeOnce sync.Once

	idleTimeout time.Duration
}

// Option configures a Session at construction time.
type Option func(*Session)

// WithIdleTimeout sets how long the session's run loop waits on an empty
// mailbox before Run returns (observable through Done).
func WithIdleTimeout(d time.Duration) Option {
	return func(s *Session) { s.idleTimeout = d }
}

// New creates a Session over draft, wired to bus for broadcast and repo for
// durable append-only operation logging. mailboxCapacity bounds how many
// pending commands may queue before the exported methods block their caller.
func New(draft *workflow.WorkflowDraft, bus *pubsub.Bus, repo workflow.OperationRepository, mailboxCapacity int, opts ...Option) *Session {
	if mailboxCapacity <= 0 {
		mailboxCapacity = 256
	}
	s := &Session{
		workflowID: draft.ID(),
		draft:      draft,
		editor:     workflow.NewEditorState(),
		presence:   make(map[string]*workflow.UserPresence),
		ops:        newOperationBuffer(1000, time.Hour),
		bus:        bus,
		repo:       repo,
		mailbox:    make(chan command, mailboxCapacity),
		done:       make(chan struct{}),
		idleTimeout: 10 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WorkflowID returns the id of the draft this session owns.
func (s *Session) WorkflowID() domain.EntityID { return s.workflowID }

// Run drives the session's mailbox until ctx is canceled or the session
// goes idle for longer than its configured idle timeout. It must run in its
// own goroutine; it is the only goroutine allowed to touch s.draft/editor/
// presence/ops directly.
func (s *Session) Run(ctx context.Context) {
	defer close(s.done)
	timer := time.NewTimer(s.idleTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case cmd, ok := <-s.mailbox:
			if !ok {
				return
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			s.handle(cmd)
			timer.Reset(s.idleTimeout)
		case <-timer.C:
			logger.InfoCF(component, "session idle, shutting down", map[string]interface{}{
				"workflow_id": s.workflowID.String(),
			})
			return
		}
	}
}

// Done reports when Run has returned.
func (s *Session) Done() <-chan struct{} { return s.done }

// Close stops accepting new commands. Safe to call multiple times.
func (s *Session) Close() {
	s.closeOnce.Do(func() { close(s.mailbox) })
}

// command is one unit of work dispatched through the mailbox, with a
// type-erased reply channel the handler populates before returning.
type command struct {
	kind  string
	apply applyCmd
	presence presenceCmd
	leave    string // user id, for "leave"
	snapshot chan sessionSnapshot
	sync     syncCmd
}

type applyCmd struct {
	op    workflow.EditOperation
	reply chan applyResult
}

type applyResult struct {
	applied bool  // false if op.ID was a duplicate, already applied
	seq     int64 // the seq assigned on first application, newly or previously
	err     error
}

type presenceCmd struct {
	presence workflow.UserPresence
	reply    chan struct{}
}

// sessionSnapshot is a read-only copy of session state for Snapshot callers.
type sessionSnapshot struct {
	Draft    *workflow.WorkflowDraft
	Editor   *workflow.EditorState
	Presence map[string]workflow.UserPresence
}

// SyncKind classifies the response to a client's sync request (spec.md
// §4.8): a brand-new or far-behind client gets a FullSync, a briefly
// disconnected one gets Incremental, and one already caught up gets
// UpToDate.
type SyncKind string

const (
	SyncFull        SyncKind = "full_sync"
	SyncIncremental SyncKind = "incremental"
	SyncUpToDate    SyncKind = "up_to_date"
)

// SyncResult answers a client's GET .../sync?client_seq=N request.
type SyncResult struct {
	Kind       SyncKind
	Seq        int64
	Draft      *workflow.WorkflowDraft
	Editor     *workflow.EditorState
	Operations []workflow.EditOperation
}

type syncCmd struct {
	clientSeq int64
	reply     chan SyncResult
}

// ApplyOperation submits op for sequential application against the draft.
// It blocks until the session has processed it (or ctx is canceled) and
// returns the seq the operation holds plus whether this call newly applied
// it (false means op.ID had already been seen — idempotent resubmission,
// not an error — and seq is the one assigned the first time), per spec.md
// §4.2's {seq, status: applied | duplicate} response contract.
func (s *Session) ApplyOperation(ctx context.Context, op workflow.EditOperation) (seq int64, applied bool, err error) {
	reply := make(chan applyResult, 1)
	cmd := command{kind: "apply", apply: applyCmd{op: op, reply: reply}}
	select {
	case s.mailbox <- cmd:
	case <-ctx.Done():
		return 0, false, ctx.Err()
	}
	select {
	case res := <-reply:
		return res.seq, res.applied, res.err
	case <-ctx.Done():
		return 0, false, ctx.Err()
	}
}

// UpdatePresence merges p into the session's presence map on a last-write-
// wins-per-field basis (see presence.go) and broadcasts p, the update as
// received.
func (s *Session) UpdatePresence(ctx context.Context, p workflow.UserPresence) error {
	reply := make(chan struct{}, 1)
	cmd := command{kind: "presence", presence: presenceCmd{presence: p, reply: reply}}
	select {
	case s.mailbox <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-reply:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// UserLeft removes userID's presence entry and broadcasts a "user_left" event.
func (s *Session) UserLeft(ctx context.Context, userID string) error {
	cmd := command{kind: "leave", leave: userID}
	select {
	case s.mailbox <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot returns a consistent read of the draft, editor state, and
// presence map as of whenever the run loop processes this request.
func (s *Session) Snapshot(ctx context.Context) (sessionSnapshot, error) {
	reply := make(chan sessionSnapshot, 1)
	cmd := command{kind: "snapshot", snapshot: reply}
	select {
	case s.mailbox <- cmd:
	case <-ctx.Done():
		return sessionSnapshot{}, ctx.Err()
	}
	select {
	case snap := <-reply:
		return snap, nil
	case <-ctx.Done():
		return sessionSnapshot{}, ctx.Err()
	}
}

// Sync answers a client's reconnect/catch-up request for clientSeq, per the
// full_sync/incremental/up_to_date protocol of spec.md §4.8.
func (s *Session) Sync(ctx context.Context, clientSeq int64) (SyncResult, error) {
	reply := make(chan SyncResult, 1)
	cmd := command{kind: "sync", sync: syncCmd{clientSeq: clientSeq, reply: reply}}
	select {
	case s.mailbox <- cmd:
	case <-ctx.Done():
		return SyncResult{}, ctx.Err()
	}
	select {
	case res := <-reply:
		return res, nil
	case <-ctx.Done():
		return SyncResult{}, ctx.Err()
	}
}

func (s *Session) handle(cmd command) {
	switch cmd.kind {
	case "apply":
		res, err := s.applyOperation(cmd.apply.op)
		cmd.apply.reply <- applyResult{applied: res.applied, seq: res.seq, err: err}
		if res.applied && err == nil {
			cmd.apply.op.Seq = res.seq
			s.broadcast("operation_applied", cmd.apply.op)
		}
	case "presence":
		s.mergePresence(cmd.presence.presence)
		cmd.presence.reply <- struct{}{}
		s.broadcast("presence_updated", cmd.presence.presence)
	case "leave":
		delete(s.presence, cmd.leave)
		s.releaseLocksHeldBy(cmd.leave)
		s.broadcast("user_left", cmd.leave)
	case "snapshot":
		cmd.snapshot <- s.snapshotLocked()
	case "sync":
		cmd.sync.reply <- s.syncLocked(cmd.sync.clientSeq)
	default:
		logger.WarnCF(component, "unknown command kind", map[string]interface{}{"kind": cmd.kind})
	}
}

func (s *Session) snapshotLocked() sessionSnapshot {
	presenceCopy := make(map[string]workflow.UserPresence, len(s.presence))
	for k, v := range s.presence {
		presenceCopy[k] = *v
	}
	editorCopy := workflow.NewEditorState()
	for k, v := range s.editor.PinnedOutputs {
		editorCopy.PinnedOutputs[k] = v
	}
	for k, v := range s.editor.DisabledSteps {
		editorCopy.DisabledSteps[k] = v
	}
	for k, v := range s.editor.LockHolders {
		editorCopy.LockHolders[k] = v
	}
	for k, v := range s.editor.LockAcquired {
		editorCopy.LockAcquired[k] = v
	}
	return sessionSnapshot{
		Draft:    s.draft.Clone(),
		Editor:   editorCopy,
		Presence: presenceCopy,
	}
}

func (s *Session) syncLocked(clientSeq int64) SyncResult {
	currentSeq := s.ops.currentSeq()
	if clientSeq <= 0 || s.ops.truncatedBefore(clientSeq) {
		return SyncResult{Kind: SyncFull, Seq: currentSeq, Draft: s.draft.Clone(), Editor: s.editor}
	}
	if clientSeq == currentSeq {
		return SyncResult{Kind: SyncUpToDate, Seq: currentSeq, Editor: s.editor}
	}
	return SyncResult{Kind: SyncIncremental, Seq: currentSeq, Editor: s.editor, Operations: s.ops.Since(clientSeq)}
}

func (s *Session) broadcast(kind string, payload interface{}) {
	s.bus.Publish(topicEvents(s.workflowID.String()), Broadcast{
		WorkflowID: s.workflowID.String(),
		Kind:       kind,
		Payload:    payload,
	})
}

func (s *Session) releaseLocksHeldBy(userID string) {
	for stepID, holder := range s.editor.LockHolders {
		if holder == userID {
			delete(s.editor.LockHolders, stepID)
			delete(s.editor.LockAcquired, stepID)
		}
	}
}

func topicEvents(workflowID string) string { return fmt.Sprintf("workflow:%s:events", workflowID) }

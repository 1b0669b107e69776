// Package workflow defines the Workflow bounded context: the DAG of steps a
// user authors (WorkflowDraft), its immutable published snapshots
// (WorkflowVersion), and the records produced when that graph is run
// (Execution, StepExecution).
package workflow

import (
	"github.com/coflow/coflow/pkg/domain"
)

// ---------------------------------------------------------------------------
// WorkflowDraft aggregate root
// ---------------------------------------------------------------------------

// WorkflowDraft is the live, mutable authoring document for a workflow.
// It is owned exclusively by the edit-session process for its workflow id
// while that session is running.
type WorkflowDraft struct {
	domain.AggregateRoot

	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Steps       []Step       `json:"steps"`
	Connections []Connection `json:"connections"`
	Triggers    []Trigger    `json:"triggers,omitempty"`

	// Settings is a free-form map. The key "last_persisted_seq" records the
	// last operation sequence baked into the stored draft snapshot.
	Settings map[string]interface{} `json:"settings,omitempty"`

	CreatedAt domain.Timestamp `json:"created_at"`
	UpdatedAt domain.Timestamp `json:"updated_at"`
}

// NewWorkflowDraft creates an empty draft.
func NewWorkflowDraft(name, description string) *WorkflowDraft {
	d := &WorkflowDraft{
		Name:        name,
		Description: description,
		Steps:       make([]Step, 0),
		Connections: make([]Connection, 0),
		Settings:    map[string]interface{}{"last_persisted_seq": int64(0)},
		CreatedAt:   domain.Now(),
		UpdatedAt:   domain.Now(),
	}
	d.SetID(domain.NewID())
	d.RecordEvent(domain.NewEvent(domain.EventWorkflowDraftCreated, d.ID(), map[string]string{"name": name}))
	return d
}

// StepByID returns a pointer into Steps for in-place mutation, or nil.
func (d *WorkflowDraft) StepByID(id string) *Step {
	for i := range d.Steps {
		if d.Steps[i].ID == id {
			return &d.Steps[i]
		}
	}
	return nil
}

// ConnectionByID returns a pointer into Connections, or nil.
func (d *WorkflowDraft) ConnectionByID(id string) *Connection {
	for i := range d.Connections {
		if d.Connections[i].ID == id {
			return &d.Connections[i]
		}
	}
	return nil
}

// HasStep reports whether a step with the given id exists.
func (d *WorkflowDraft) HasStep(id string) bool {
	return d.StepByID(id) != nil
}

// LastPersistedSeq reads the settings bookkeeping key.
func (d *WorkflowDraft) LastPersistedSeq() int64 {
	v, ok := d.Settings["last_persisted_seq"]
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}

// SetLastPersistedSeq updates the settings bookkeeping key.
func (d *WorkflowDraft) SetLastPersistedSeq(seq int64) {
	if d.Settings == nil {
		d.Settings = make(map[string]interface{})
	}
	d.Settings["last_persisted_seq"] = seq
}

// Clone produces a deep-enough copy for pure structural-operation application:
// a new draft whose Steps/Connections/Triggers/Settings slices and maps are
// independent of the receiver's.
func (d *WorkflowDraft) Clone() *WorkflowDraft {
	out := &WorkflowDraft{
		Name:        d.Name,
		Description: d.Description,
		Steps:       make([]Step, len(d.Steps)),
		Connections: make([]Connection, len(d.Connections)),
		Triggers:    make([]Trigger, len(d.Triggers)),
		Settings:    make(map[string]interface{}, len(d.Settings)),
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
	out.SetID(d.ID())
	for i, s := range d.Steps {
		out.Steps[i] = s.clone()
	}
	copy(out.Connections, d.Connections)
	copy(out.Triggers, d.Triggers)
	for k, v := range d.Settings {
		out.Settings[k] = v
	}
	return out
}

// ---------------------------------------------------------------------------
// Step — a DAG vertex
// ---------------------------------------------------------------------------

// Step is a vertex in the workflow DAG. ID is stable and unique within a draft.
type Step struct {
	ID          string                 `json:"id"`
	TypeID      string                 `json:"type_id"`
	Name        string                 `json:"name"`
	Position    Position               `json:"position"`
	Config      map[string]interface{} `json:"config,omitempty"`
	Notes       string                 `json:"notes,omitempty"`
}

// Position is opaque to the core — canvas coordinates owned by the UI.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (s Step) clone() Step {
	out := s
	if s.Config != nil {
		out.Config = deepCopyValue(s.Config).(map[string]interface{})
	}
	return out
}

// ---------------------------------------------------------------------------
// Connection — a directed edge
// ---------------------------------------------------------------------------

// Connection is a directed edge between two steps' labeled ports.
type Connection struct {
	ID             string `json:"id"`
	SourceStepID   string `json:"source_step_id"`
	SourceOutput   string `json:"source_output"`
	TargetStepID   string `json:"target_step_id"`
	TargetInput    string `json:"target_input"`
}

// DefaultPort is the implicit label used when a connection omits one.
const DefaultPort = "main"

// ---------------------------------------------------------------------------
// Trigger
// ---------------------------------------------------------------------------

// Trigger describes how an execution of this workflow may be initiated.
type Trigger struct {
	StepID  string                 `json:"step_id"`
	Type    domain.TriggerChannel  `json:"type"`
	Path    string                 `json:"path,omitempty"`   // webhook path, default step id
	Cron    string                 `json:"cron,omitempty"`   // schedule expression
	EventType domain.EventType     `json:"event_type,omitempty"`
	Config  map[string]interface{} `json:"config,omitempty"`
}

// ---------------------------------------------------------------------------
// WorkflowVersion — immutable published snapshot
// ---------------------------------------------------------------------------

// WorkflowVersion is an immutable published snapshot of a draft.
type WorkflowVersion struct {
	ID          string       `json:"id"`
	WorkflowID  domain.EntityID `json:"workflow_id"`
	Tag         string       `json:"tag"`
	Changelog   string       `json:"changelog,omitempty"`
	Steps       []Step       `json:"steps"`
	Connections []Connection `json:"connections"`
	Triggers    []Trigger    `json:"triggers,omitempty"`
	Variables   map[string]interface{} `json:"variables,omitempty"`
	PublishedAt domain.Timestamp `json:"published_at"`
}

// PublishVersion snapshots a draft into an immutable version.
func PublishVersion(d *WorkflowDraft, tag, changelog string) *WorkflowVersion {
	steps := make([]Step, len(d.Steps))
	for i, s := range d.Steps {
		steps[i] = s.clone()
	}
	conns := make([]Connection, len(d.Connections))
	copy(conns, d.Connections)
	triggers := make([]Trigger, len(d.Triggers))
	copy(triggers, d.Triggers)
	v := &WorkflowVersion{
		ID:          string(domain.NewID()),
		WorkflowID:  d.ID(),
		Tag:         tag,
		Changelog:   changelog,
		Steps:       steps,
		Connections: conns,
		Triggers:    triggers,
		PublishedAt: domain.Now(),
	}
	d.RecordEvent(domain.NewEvent(domain.EventWorkflowPublished, d.ID(), map[string]string{
		"version_id": v.ID, "tag": tag,
	}))
	return v
}

// ---------------------------------------------------------------------------
// EditOperation — one client-originated change
// ---------------------------------------------------------------------------

// OperationType enumerates the closed set of operation kinds (§6.1).
type OperationType string

const (
	OpAddStep            OperationType = "add_step"
	OpRemoveStep         OperationType = "remove_step"
	OpUpdateStepConfig   OperationType = "update_step_config"
	OpUpdateStepPosition OperationType = "update_step_position"
	OpUpdateStepMetadata OperationType = "update_step_metadata"
	OpAddConnection      OperationType = "add_connection"
	OpRemoveConnection   OperationType = "remove_connection"
	OpPinStepOutput      OperationType = "pin_step_output"
	OpUnpinStepOutput    OperationType = "unpin_step_output"
	OpDisableStep        OperationType = "disable_step"
	OpEnableStep         OperationType = "enable_step"
)

// EditOperation is one client-originated change to a draft.
type EditOperation struct {
	ID         string                 `json:"id"` // client-provided, used for dedup
	WorkflowID domain.EntityID        `json:"workflow_id"`
	Seq        int64                  `json:"seq"`
	Type       OperationType          `json:"type"`
	Payload    map[string]interface{} `json:"payload"`
	UserID     string                 `json:"user_id"`
	ClientSeq  int64                  `json:"client_seq,omitempty"`
	InsertedAt domain.Timestamp       `json:"inserted_at"`
}

// ---------------------------------------------------------------------------
// EditorState — ephemeral, per session
// ---------------------------------------------------------------------------

// DisableMode controls how a disabled step behaves during execution.
type DisableMode string

const (
	DisableExclude DisableMode = "exclude" // drops the step from the subgraph
	DisableSkip    DisableMode = "skip"    // keeps the step but short-circuits it
)

// EditorState holds ephemeral per-session authoring state. Never persisted
// across host restarts.
type EditorState struct {
	PinnedOutputs map[string]interface{} `json:"pinned_outputs"`
	DisabledSteps map[string]DisableMode `json:"disabled_steps"`
	LockHolders   map[string]string      `json:"lock_holders"`   // step id -> user id
	LockAcquired  map[string]domain.Timestamp `json:"lock_acquired"` // step id -> acquisition time
}

// NewEditorState returns an empty editor state.
func NewEditorState() *EditorState {
	return &EditorState{
		PinnedOutputs: make(map[string]interface{}),
		DisabledSteps: make(map[string]DisableMode),
		LockHolders:   make(map[string]string),
		LockAcquired:  make(map[string]domain.Timestamp),
	}
}

// ---------------------------------------------------------------------------
// UserPresence — ephemeral
// ---------------------------------------------------------------------------

// UserPresence tracks one connected user's cursor/selection/focus within a
// single workflow edit session.
type UserPresence struct {
	UserID      string           `json:"user_id"`
	DisplayName string           `json:"display_name"`
	Cursor      *CursorPosition  `json:"cursor,omitempty"`
	SelectedIDs []string         `json:"selected_step_ids,omitempty"`
	FocusedID   string           `json:"focused_step_id,omitempty"`
	JoinedAt    domain.Timestamp `json:"joined_at"`
	UpdatedAt   domain.Timestamp `json:"updated_at"`
}

// CursorPosition is an opaque canvas-space coordinate pair.
type CursorPosition struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// ---------------------------------------------------------------------------
// Execution — one run of a workflow
// ---------------------------------------------------------------------------

// ExecutionType distinguishes a production run from a preview run.
type ExecutionType string

const (
	ExecutionProduction ExecutionType = "production"
	ExecutionPreview    ExecutionType = "preview"
)

// ExecutionStatus tracks the lifecycle state of an Execution.
type ExecutionStatus string

const (
	ExecPending   ExecutionStatus = "pending"
	ExecRunning   ExecutionStatus = "running"
	ExecCompleted ExecutionStatus = "completed"
	ExecFailed    ExecutionStatus = "failed"
	ExecCancelled ExecutionStatus = "cancelled"
	ExecTimeout   ExecutionStatus = "timeout"
)

// IsTerminal reports whether the status admits no further transitions.
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case ExecCompleted, ExecFailed, ExecCancelled, ExecTimeout:
		return true
	default:
		return false
	}
}

// Execution is one run of a workflow, against either a published version or
// the live draft (VersionID == "").
type Execution struct {
	domain.AggregateRoot

	WorkflowID  domain.EntityID `json:"workflow_id"`
	VersionID   string          `json:"version_id,omitempty"`
	Type        ExecutionType   `json:"type"`
	Status      ExecutionStatus `json:"status"`

	TriggerChannel domain.TriggerChannel  `json:"trigger_channel"`
	TriggerData    map[string]interface{} `json:"trigger_data,omitempty"`

	StartedAt   domain.Timestamp `json:"started_at"`
	CompletedAt domain.Timestamp `json:"completed_at,omitempty"`
	Error       string           `json:"error,omitempty"`
}

// NewExecution creates a new pending Execution.
func NewExecution(workflowID domain.EntityID, versionID string, execType ExecutionType, trigger domain.TriggerChannel) *Execution {
	e := &Execution{
		WorkflowID:     workflowID,
		VersionID:      versionID,
		Type:           execType,
		Status:         ExecPending,
		TriggerChannel: trigger,
		TriggerData:    make(map[string]interface{}),
		StartedAt:      domain.Now(),
	}
	e.SetID(domain.NewID())
	return e
}

// Transition moves the execution to a new status and records a domain event.
// It rejects any move out of a terminal status with ErrExecutionTerminal;
// moves between non-terminal statuses are not checked.
func (e *Execution) Transition(status ExecutionStatus) error {
	if e.Status.IsTerminal() {
		return ErrExecutionTerminal
	}
	e.Status = status
	if status.IsTerminal() {
		e.CompletedAt = domain.Now()
	}
	e.RecordEvent(domain.NewEvent(eventForExecutionStatus(status), e.ID(), map[string]string{
		"status": string(status),
	}))
	return nil
}

// eventForExecutionStatus maps an execution status to the domain event that
// announces reaching it.
func eventForExecutionStatus(status ExecutionStatus) domain.EventType {
	switch status {
	case ExecRunning:
		return domain.EventExecutionStarted
	case ExecCompleted:
		return domain.EventExecutionCompleted
	case ExecCancelled:
		return domain.EventExecutionCancelled
	default:
		return domain.EventExecutionFailed
	}
}

// ---------------------------------------------------------------------------
// StepExecution — one per step per execution (per item for fan-out)
// ---------------------------------------------------------------------------

// StepExecutionStatus tracks the lifecycle of a single step run.
type StepExecutionStatus string

const (
	StepPending   StepExecutionStatus = "pending"
	StepQueued    StepExecutionStatus = "queued"
	StepRunning   StepExecutionStatus = "running"
	StepCompleted StepExecutionStatus = "completed"
	StepFailed    StepExecutionStatus = "failed"
	StepSkipped   StepExecutionStatus = "skipped"
	StepCancelled StepExecutionStatus = "cancelled"
)

// IsTerminal reports whether the status admits no further transitions.
func (s StepExecutionStatus) IsTerminal() bool {
	switch s {
	case StepCompleted, StepFailed, StepSkipped, StepCancelled:
		return true
	default:
		return false
	}
}

// StepExecution is one record per step per execution (or per item, for
// split-map expansion — see ItemIndex/ItemTotal).
type StepExecution struct {
	ID          string                 `json:"id"`
	ExecutionID domain.EntityID        `json:"execution_id"`
	StepID      string                 `json:"step_id"`
	ItemIndex   *int                   `json:"item_index,omitempty"`
	ItemTotal   *int                   `json:"item_total,omitempty"`
	Status      StepExecutionStatus    `json:"status"`
	Input       interface{}            `json:"input,omitempty"`
	Output      interface{}            `json:"output,omitempty"`
	ResolvedConfig map[string]interface{} `json:"resolved_config,omitempty"`
	Error       string                 `json:"error,omitempty"`
	StartedAt   domain.Timestamp       `json:"started_at,omitempty"`
	CompletedAt domain.Timestamp       `json:"completed_at,omitempty"`
	DurationUS  int64                  `json:"duration_us,omitempty"`
}

// NewStepExecution creates a pending StepExecution.
func NewStepExecution(executionID domain.EntityID, stepID string) *StepExecution {
	return &StepExecution{
		ID:          string(domain.NewID()),
		ExecutionID: executionID,
		StepID:      stepID,
		Status:      StepPending,
	}
}

// Start transitions to running and records the start time.
func (se *StepExecution) Start(input interface{}, resolvedConfig map[string]interface{}) {
	se.Status = StepRunning
	se.Input = input
	se.ResolvedConfig = resolvedConfig
	se.StartedAt = domain.Now()
}

// Complete transitions to a terminal status and records duration.
// duration_us is defined iff the status is terminal and started_at was set.
func (se *StepExecution) Complete(status StepExecutionStatus, output interface{}, errMsg string) {
	se.Status = status
	se.Output = output
	se.Error = errMsg
	se.CompletedAt = domain.Now()
	if !se.StartedAt.IsZero() {
		se.DurationUS = se.CompletedAt.Sub(se.StartedAt.Time).Microseconds()
	}
}

// ---------------------------------------------------------------------------
// Token — the in-flight value flowing between steps
// ---------------------------------------------------------------------------

// TokenKind is the closed variant of Token shapes.
type TokenKind string

const (
	TokenData  TokenKind = "data"
	TokenItems TokenKind = "items"
	TokenSkip  TokenKind = "skip"
)

// Item is one element of a fan-out expansion, indexed within its Token.
type Item struct {
	Index int         `json:"index"`
	Value interface{} `json:"value"`
	Error string      `json:"error,omitempty"`
}

// Token is the value carried along a connection during execution.
type Token struct {
	Kind    TokenKind   `json:"kind"`
	Route   string      `json:"route"` // default "main"; set by branch/switch
	Data    interface{} `json:"data,omitempty"`
	Items   []Item      `json:"items,omitempty"`
	Skip    bool        `json:"skip,omitempty"`
	SkipReason string   `json:"skip_reason,omitempty"`
	Lineage []string    `json:"lineage,omitempty"` // step ids this token has passed through
}

// NewDataToken wraps a scalar/map payload.
func NewDataToken(data interface{}) Token {
	return Token{Kind: TokenData, Route: DefaultPort, Data: data}
}

// NewItemsToken wraps a collection of indexed items.
func NewItemsToken(items []Item) Token {
	return Token{Kind: TokenItems, Route: DefaultPort, Items: items}
}

// NewSkipToken marks a branch as "do not run downstream".
func NewSkipToken(stepID, reason string) Token {
	return Token{Kind: TokenSkip, Route: DefaultPort, Skip: true, SkipReason: reason, Lineage: []string{stepID}}
}

// WithRoute returns a copy of the token routed to a different label.
func (t Token) WithRoute(route string) Token {
	t.Route = route
	return t
}

// Visit appends a step id to the token's lineage, returning the new token.
func (t Token) Visit(stepID string) Token {
	t.Lineage = append(append([]string{}, t.Lineage...), stepID)
	return t
}

// ---------------------------------------------------------------------------
// Repository interfaces
// ---------------------------------------------------------------------------

// DraftRepository persists WorkflowDraft aggregates.
type DraftRepository interface {
	FindByID(id domain.EntityID) (*WorkflowDraft, error)
	Save(d *WorkflowDraft) error
	Delete(id domain.EntityID) error
	FindAll() ([]*WorkflowDraft, error)
}

// VersionRepository persists published WorkflowVersion snapshots.
type VersionRepository interface {
	FindByID(id string) (*WorkflowVersion, error)
	FindByWorkflow(workflowID domain.EntityID) ([]*WorkflowVersion, error)
	Save(v *WorkflowVersion) error
}

// OperationRepository persists the append-only EditOperation log.
type OperationRepository interface {
	// Append stores ops, ignoring duplicates on EditOperation.ID.
	Append(ops []EditOperation) error
	// LoadPending returns the last persisted seq and all ops with seq greater.
	LoadPending(workflowID domain.EntityID) (lastPersistedSeq int64, ops []EditOperation, err error)
}

// ExecutionRepository persists Execution aggregates and their StepExecutions.
type ExecutionRepository interface {
	FindByID(id domain.EntityID) (*Execution, error)
	FindByWorkflow(workflowID domain.EntityID) ([]*Execution, error)
	Save(e *Execution) error
	AppendStepExecutions(batch []StepExecution) error
	StepExecutionsFor(executionID domain.EntityID) ([]StepExecution, error)
}

// ---------------------------------------------------------------------------
// Domain errors
// ---------------------------------------------------------------------------

type WorkflowError string

func (e WorkflowError) Error() string { return string(e) }

const (
	ErrEmptyName         WorkflowError = "workflow name cannot be empty"
	ErrDraftNotFound     WorkflowError = "draft not found"
	ErrVersionNotFound    WorkflowError = "workflow version not found"
	ErrExecutionNotFound WorkflowError = "execution not found"
	ErrExecutionTerminal WorkflowError = "execution already in a terminal state"
	ErrStepNotFound      WorkflowError = "step not found"
	ErrStepAlreadyExists WorkflowError = "step already exists"
	ErrInvalidStepType   WorkflowError = "invalid step type"
	ErrConnectionExists  WorkflowError = "connection already exists"
	ErrConnectionNotFound WorkflowError = "connection not found"
	ErrSourceStepNotFound WorkflowError = "source step not found"
	ErrTargetStepNotFound WorkflowError = "target step not found"
	ErrSelfLoopNotAllowed WorkflowError = "self loop not allowed"
	ErrWouldCreateCycle  WorkflowError = "would create cycle"
)

// deepCopyValue recursively clones maps/slices produced by JSON decoding.
func deepCopyValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, e := range val {
			out[k] = deepCopyValue(e)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, e := range val {
			out[i] = deepCopyValue(e)
		}
		return out
	default:
		return v
	}
}

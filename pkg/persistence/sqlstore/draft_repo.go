package sqlstore

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/coflow/coflow/pkg/domain"
	"github.com/coflow/coflow/pkg/domain/workflow"
)

// DraftRepository is the SQLite-backed workflow.DraftRepository.
type DraftRepository struct {
	db *sql.DB
}

// NewDraftRepository wraps db as a workflow.DraftRepository.
func NewDraftRepository(db *sql.DB) *DraftRepository {
	return &DraftRepository{db: db}
}

func (r *DraftRepository) FindByID(id domain.EntityID) (*workflow.WorkflowDraft, error) {
	row := r.db.QueryRow(`
		SELECT id, name, description, triggers, settings, created_at, updated_at
		FROM workflow_drafts WHERE id = ?`, id.String())

	var d workflow.WorkflowDraft
	var idStr, triggersJSON, settingsJSON string
	var description sql.NullString
	if err := row.Scan(&idStr, &d.Name, &description, &triggersJSON, &settingsJSON, &d.CreatedAt.Time, &d.UpdatedAt.Time); err != nil {
		if err == sql.ErrNoRows {
			return nil, workflow.ErrDraftNotFound
		}
		return nil, fmt.Errorf("sqlstore: loading draft %s: %w", id, err)
	}
	d.SetID(domain.EntityID(idStr))
	d.Description = description.String

	if err := json.Unmarshal([]byte(triggersJSON), &d.Triggers); err != nil {
		return nil, fmt.Errorf("sqlstore: decoding triggers for %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(settingsJSON), &d.Settings); err != nil {
		return nil, fmt.Errorf("sqlstore: decoding settings for %s: %w", id, err)
	}

	steps, err := r.loadSteps(idStr)
	if err != nil {
		return nil, err
	}
	d.Steps = steps

	conns, err := r.loadConnections(idStr)
	if err != nil {
		return nil, err
	}
	d.Connections = conns

	return &d, nil
}

func (r *DraftRepository) loadSteps(workflowID string) ([]workflow.Step, error) {
	rows, err := r.db.Query(`
		SELECT id, type_id, name, position_x, position_y, config, notes
		FROM steps WHERE workflow_id = ?`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: loading steps for %s: %w", workflowID, err)
	}
	defer rows.Close()

	steps := make([]workflow.Step, 0)
	for rows.Next() {
		var s workflow.Step
		var configJSON string
		if err := rows.Scan(&s.ID, &s.TypeID, &s.Name, &s.Position.X, &s.Position.Y, &configJSON, &s.Notes); err != nil {
			return nil, fmt.Errorf("sqlstore: scanning step row: %w", err)
		}
		if configJSON != "" {
			if err := json.Unmarshal([]byte(configJSON), &s.Config); err != nil {
				return nil, fmt.Errorf("sqlstore: decoding config for step %s: %w", s.ID, err)
			}
		}
		steps = append(steps, s)
	}
	return steps, rows.Err()
}

func (r *DraftRepository) loadConnections(workflowID string) ([]workflow.Connection, error) {
	rows, err := r.db.Query(`
		SELECT id, source_step_id, source_output, target_step_id, target_input
		FROM connections WHERE workflow_id = ?`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: loading connections for %s: %w", workflowID, err)
	}
	defer rows.Close()

	conns := make([]workflow.Connection, 0)
	for rows.Next() {
		var c workflow.Connection
		if err := rows.Scan(&c.ID, &c.SourceStepID, &c.SourceOutput, &c.TargetStepID, &c.TargetInput); err != nil {
			return nil, fmt.Errorf("sqlstore: scanning connection row: %w", err)
		}
		conns = append(conns, c)
	}
	return conns, rows.Err()
}

// Save upserts the draft and fully replaces its steps and connections.
// Steps/connections are small per-workflow sets (tens, not millions), so a
// delete-then-reinsert is simpler and safer than a diff against existing
// rows, matching the teacher's own JSONStore.Put's whole-aggregate-at-a-time
// semantics.
func (r *DraftRepository) Save(d *workflow.WorkflowDraft) error {
	triggersJSON, err := json.Marshal(d.Triggers)
	if err != nil {
		return fmt.Errorf("sqlstore: encoding triggers: %w", err)
	}
	settingsJSON, err := json.Marshal(d.Settings)
	if err != nil {
		return fmt.Errorf("sqlstore: encoding settings: %w", err)
	}

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("sqlstore: starting transaction: %w", err)
	}
	defer tx.Rollback()

	idStr := d.ID().String()
	if _, err := tx.Exec(`
		INSERT INTO workflow_drafts (id, name, description, triggers, settings, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			triggers = excluded.triggers,
			settings = excluded.settings,
			updated_at = excluded.updated_at`,
		idStr, d.Name, d.Description, string(triggersJSON), string(settingsJSON), d.CreatedAt.Time, d.UpdatedAt.Time,
	); err != nil {
		return fmt.Errorf("sqlstore: upserting draft %s: %w", idStr, err)
	}

	if _, err := tx.Exec(`DELETE FROM steps WHERE workflow_id = ?`, idStr); err != nil {
		return fmt.Errorf("sqlstore: clearing steps for %s: %w", idStr, err)
	}
	for _, s := range d.Steps {
		configJSON, err := json.Marshal(s.Config)
		if err != nil {
			return fmt.Errorf("sqlstore: encoding config for step %s: %w", s.ID, err)
		}
		if _, err := tx.Exec(`
			INSERT INTO steps (workflow_id, id, type_id, name, position_x, position_y, config, notes)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			idStr, s.ID, s.TypeID, s.Name, s.Position.X, s.Position.Y, string(configJSON), s.Notes,
		); err != nil {
			return fmt.Errorf("sqlstore: inserting step %s: %w", s.ID, err)
		}
	}

	if _, err := tx.Exec(`DELETE FROM connections WHERE workflow_id = ?`, idStr); err != nil {
		return fmt.Errorf("sqlstore: clearing connections for %s: %w", idStr, err)
	}
	for _, c := range d.Connections {
		if _, err := tx.Exec(`
			INSERT INTO connections (workflow_id, id, source_step_id, source_output, target_step_id, target_input)
			VALUES (?, ?, ?, ?, ?, ?)`,
			idStr, c.ID, c.SourceStepID, c.SourceOutput, c.TargetStepID, c.TargetInput,
		); err != nil {
			return fmt.Errorf("sqlstore: inserting connection %s: %w", c.ID, err)
		}
	}

	return tx.Commit()
}

func (r *DraftRepository) Delete(id domain.EntityID) error {
	res, err := r.db.Exec(`DELETE FROM workflow_drafts WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("sqlstore: deleting draft %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlstore: checking delete result for %s: %w", id, err)
	}
	if n == 0 {
		return workflow.ErrDraftNotFound
	}
	return nil
}

func (r *DraftRepository) FindAll() ([]*workflow.WorkflowDraft, error) {
	rows, err := r.db.Query(`SELECT id FROM workflow_drafts`)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: listing drafts: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("sqlstore: scanning draft id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	drafts := make([]*workflow.WorkflowDraft, 0, len(ids))
	for _, id := range ids {
		d, err := r.FindByID(domain.EntityID(id))
		if err != nil {
			return nil, err
		}
		drafts = append(drafts, d)
	}
	return drafts, nil
}

var _ workflow.DraftRepository = (*DraftRepository)(nil)

package sqlstore

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/coflow/coflow/pkg/domain"
	"github.com/coflow/coflow/pkg/domain/workflow"
)

// ExecutionRepository is the SQLite-backed workflow.ExecutionRepository.
type ExecutionRepository struct {
	db *sql.DB
}

// NewExecutionRepository wraps db as a workflow.ExecutionRepository.
func NewExecutionRepository(db *sql.DB) *ExecutionRepository {
	return &ExecutionRepository{db: db}
}

func (r *ExecutionRepository) FindByID(id domain.EntityID) (*workflow.Execution, error) {
	row := r.db.QueryRow(`
		SELECT id, workflow_id, version_id, type, status, trigger_channel, trigger_data, started_at, completed_at, error
		FROM executions WHERE id = ?`, id.String())
	e, err := scanExecution(row)
	if err == sql.ErrNoRows {
		return nil, workflow.ErrExecutionNotFound
	}
	return e, err
}

func (r *ExecutionRepository) FindByWorkflow(workflowID domain.EntityID) ([]*workflow.Execution, error) {
	rows, err := r.db.Query(`
		SELECT id, workflow_id, version_id, type, status, trigger_channel, trigger_data, started_at, completed_at, error
		FROM executions WHERE workflow_id = ? ORDER BY started_at DESC`, workflowID.String())
	if err != nil {
		return nil, fmt.Errorf("sqlstore: listing executions for %s: %w", workflowID, err)
	}
	defer rows.Close()

	var out []*workflow.Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanExecution(row rowScanner) (*workflow.Execution, error) {
	var e workflow.Execution
	var idStr, workflowID string
	var triggerDataJSON string
	var completedAt sql.NullTime

	if err := row.Scan(&idStr, &workflowID, &e.VersionID, &e.Type, &e.Status, &e.TriggerChannel, &triggerDataJSON, &e.StartedAt.Time, &completedAt, &e.Error); err != nil {
		return nil, err
	}
	e.SetID(domain.EntityID(idStr))
	e.WorkflowID = domain.EntityID(workflowID)
	if completedAt.Valid {
		e.CompletedAt.Time = completedAt.Time
	}
	if err := json.Unmarshal([]byte(triggerDataJSON), &e.TriggerData); err != nil {
		return nil, fmt.Errorf("sqlstore: decoding trigger data for execution %s: %w", idStr, err)
	}
	return &e, nil
}

func (r *ExecutionRepository) Save(e *workflow.Execution) error {
	triggerDataJSON, err := json.Marshal(e.TriggerData)
	if err != nil {
		return fmt.Errorf("sqlstore: encoding trigger data for execution %s: %w", e.ID(), err)
	}

	var completedAt interface{}
	if !e.CompletedAt.IsZero() {
		completedAt = e.CompletedAt.Time
	}

	_, err = r.db.Exec(`
		INSERT INTO executions (id, workflow_id, version_id, type, status, trigger_channel, trigger_data, started_at, completed_at, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			completed_at = excluded.completed_at,
			error = excluded.error`,
		e.ID().String(), e.WorkflowID.String(), e.VersionID, string(e.Type), string(e.Status),
		string(e.TriggerChannel), string(triggerDataJSON), e.StartedAt.Time, completedAt, e.Error,
	)
	if err != nil {
		return fmt.Errorf("sqlstore: upserting execution %s: %w", e.ID(), err)
	}
	return nil
}

// AppendStepExecutions inserts a batch of StepExecution rows, upserting on
// id so a hook's retried write after a transient failure does not double
// the row.
func (r *ExecutionRepository) AppendStepExecutions(batch []workflow.StepExecution) error {
	if len(batch) == 0 {
		return nil
	}
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("sqlstore: starting transaction: %w", err)
	}
	defer tx.Rollback()

	for _, se := range batch {
		inputJSON, err := json.Marshal(se.Input)
		if err != nil {
			return fmt.Errorf("sqlstore: encoding input for step execution %s: %w", se.ID, err)
		}
		outputJSON, err := json.Marshal(se.Output)
		if err != nil {
			return fmt.Errorf("sqlstore: encoding output for step execution %s: %w", se.ID, err)
		}
		resolvedConfigJSON, err := json.Marshal(se.ResolvedConfig)
		if err != nil {
			return fmt.Errorf("sqlstore: encoding resolved config for step execution %s: %w", se.ID, err)
		}

		var startedAt, completedAt interface{}
		if !se.StartedAt.IsZero() {
			startedAt = se.StartedAt.Time
		}
		if !se.CompletedAt.IsZero() {
			completedAt = se.CompletedAt.Time
		}

		if _, err := tx.Exec(`
			INSERT INTO step_executions (id, execution_id, step_id, item_index, item_total, status, input, output, resolved_config, error, started_at, completed_at, duration_us)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				status = excluded.status,
				output = excluded.output,
				error = excluded.error,
				completed_at = excluded.completed_at,
				duration_us = excluded.duration_us`,
			se.ID, se.ExecutionID.String(), se.StepID, se.ItemIndex, se.ItemTotal, string(se.Status),
			string(inputJSON), string(outputJSON), string(resolvedConfigJSON), se.Error, startedAt, completedAt, se.DurationUS,
		); err != nil {
			return fmt.Errorf("sqlstore: upserting step execution %s: %w", se.ID, err)
		}
	}
	return tx.Commit()
}

func (r *ExecutionRepository) StepExecutionsFor(executionID domain.EntityID) ([]workflow.StepExecution, error) {
	rows, err := r.db.Query(`
		SELECT id, execution_id, step_id, item_index, item_total, status, input, output, resolved_config, error, started_at, completed_at, duration_us
		FROM step_executions WHERE execution_id = ?`, executionID.String())
	if err != nil {
		return nil, fmt.Errorf("sqlstore: loading step executions for %s: %w", executionID, err)
	}
	defer rows.Close()

	var out []workflow.StepExecution
	for rows.Next() {
		var se workflow.StepExecution
		var executionIDStr, inputJSON, outputJSON, resolvedConfigJSON string
		var startedAt, completedAt sql.NullTime

		if err := rows.Scan(&se.ID, &executionIDStr, &se.StepID, &se.ItemIndex, &se.ItemTotal, &se.Status,
			&inputJSON, &outputJSON, &resolvedConfigJSON, &se.Error, &startedAt, &completedAt, &se.DurationUS); err != nil {
			return nil, fmt.Errorf("sqlstore: scanning step execution row: %w", err)
		}
		se.ExecutionID = domain.EntityID(executionIDStr)
		if startedAt.Valid {
			se.StartedAt.Time = startedAt.Time
		}
		if completedAt.Valid {
			se.CompletedAt.Time = completedAt.Time
		}
		if inputJSON != "" {
			if err := json.Unmarshal([]byte(inputJSON), &se.Input); err != nil {
				return nil, fmt.Errorf("sqlstore: decoding input for step execution %s: %w", se.ID, err)
			}
		}
		if outputJSON != "" {
			if err := json.Unmarshal([]byte(outputJSON), &se.Output); err != nil {
				return nil, fmt.Errorf("sqlstore: decoding output for step execution %s: %w", se.ID, err)
			}
		}
		if resolvedConfigJSON != "" {
			if err := json.Unmarshal([]byte(resolvedConfigJSON), &se.ResolvedConfig); err != nil {
				return nil, fmt.Errorf("sqlstore: decoding resolved config for step execution %s: %w", se.ID, err)
			}
		}
		out = append(out, se)
	}
	return out, rows.Err()
}

var _ workflow.ExecutionRepository = (*ExecutionRepository)(nil)

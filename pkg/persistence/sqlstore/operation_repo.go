package sqlstore

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/coflow/coflow/pkg/domain"
	"github.com/coflow/coflow/pkg/domain/workflow"
)

// OperationRepository is the SQLite-backed workflow.OperationRepository: an
// append-only log deduplicated on (workflow_id, id).
type OperationRepository struct {
	db *sql.DB
}

// NewOperationRepository wraps db as a workflow.OperationRepository.
func NewOperationRepository(db *sql.DB) *OperationRepository {
	return &OperationRepository{db: db}
}

// Append stores ops, silently skipping any whose (workflow_id, id) already
// exists — the unique index on edit_operations makes a retried append
// idempotent rather than an error, matching the interface's documented
// contract.
func (r *OperationRepository) Append(ops []workflow.EditOperation) error {
	if len(ops) == 0 {
		return nil
	}
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("sqlstore: starting transaction: %w", err)
	}
	defer tx.Rollback()

	for _, op := range ops {
		payloadJSON, err := json.Marshal(op.Payload)
		if err != nil {
			return fmt.Errorf("sqlstore: encoding operation %s payload: %w", op.ID, err)
		}
		if _, err := tx.Exec(`
			INSERT INTO edit_operations (workflow_id, id, seq, type, payload, user_id, client_seq, inserted_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(workflow_id, id) DO NOTHING`,
			op.WorkflowID.String(), op.ID, op.Seq, string(op.Type), string(payloadJSON), op.UserID, op.ClientSeq, op.InsertedAt.Time,
		); err != nil {
			return fmt.Errorf("sqlstore: inserting operation %s: %w", op.ID, err)
		}
	}
	return tx.Commit()
}

// LoadPending returns the highest seq persisted for workflowID and every
// operation from seq 1 up to it, for rehydrating a Session on supervisor
// restart.
func (r *OperationRepository) LoadPending(workflowID domain.EntityID) (int64, []workflow.EditOperation, error) {
	rows, err := r.db.Query(`
		SELECT id, seq, type, payload, user_id, client_seq, inserted_at
		FROM edit_operations WHERE workflow_id = ? ORDER BY seq ASC`, workflowID.String())
	if err != nil {
		return 0, nil, fmt.Errorf("sqlstore: loading operations for %s: %w", workflowID, err)
	}
	defer rows.Close()

	var ops []workflow.EditOperation
	var lastSeq int64
	for rows.Next() {
		var op workflow.EditOperation
		var typeStr, payloadJSON string
		if err := rows.Scan(&op.ID, &op.Seq, &typeStr, &payloadJSON, &op.UserID, &op.ClientSeq, &op.InsertedAt.Time); err != nil {
			return 0, nil, fmt.Errorf("sqlstore: scanning operation row: %w", err)
		}
		op.WorkflowID = workflowID
		op.Type = workflow.OperationType(typeStr)
		if err := json.Unmarshal([]byte(payloadJSON), &op.Payload); err != nil {
			return 0, nil, fmt.Errorf("sqlstore: decoding payload for operation %s: %w", op.ID, err)
		}
		ops = append(ops, op)
		if op.Seq > lastSeq {
			lastSeq = op.Seq
		}
	}
	return lastSeq, ops, rows.Err()
}

var _ workflow.OperationRepository = (*OperationRepository)(nil)

package sqlstore

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/coflow/coflow/pkg/domain"
	"github.com/coflow/coflow/pkg/domain/workflow"
)

// VersionRepository is the SQLite-backed workflow.VersionRepository.
type VersionRepository struct {
	db *sql.DB
}

// NewVersionRepository wraps db as a workflow.VersionRepository.
func NewVersionRepository(db *sql.DB) *VersionRepository {
	return &VersionRepository{db: db}
}

func (r *VersionRepository) FindByID(id string) (*workflow.WorkflowVersion, error) {
	row := r.db.QueryRow(`
		SELECT id, workflow_id, tag, changelog, steps, connections, triggers, variables, published_at
		FROM workflow_versions WHERE id = ?`, id)
	v, err := scanVersion(row)
	if err == sql.ErrNoRows {
		return nil, workflow.ErrVersionNotFound
	}
	return v, err
}

func (r *VersionRepository) FindByWorkflow(workflowID domain.EntityID) ([]*workflow.WorkflowVersion, error) {
	rows, err := r.db.Query(`
		SELECT id, workflow_id, tag, changelog, steps, connections, triggers, variables, published_at
		FROM workflow_versions WHERE workflow_id = ? ORDER BY published_at ASC`, workflowID.String())
	if err != nil {
		return nil, fmt.Errorf("sqlstore: listing versions for %s: %w", workflowID, err)
	}
	defer rows.Close()

	var out []*workflow.WorkflowVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanVersion(row rowScanner) (*workflow.WorkflowVersion, error) {
	var v workflow.WorkflowVersion
	var workflowID string
	var changelog sql.NullString
	var stepsJSON, connsJSON, triggersJSON, variablesJSON string

	if err := row.Scan(&v.ID, &workflowID, &v.Tag, &changelog, &stepsJSON, &connsJSON, &triggersJSON, &variablesJSON, &v.PublishedAt.Time); err != nil {
		return nil, err
	}
	v.WorkflowID = domain.EntityID(workflowID)
	v.Changelog = changelog.String

	if err := json.Unmarshal([]byte(stepsJSON), &v.Steps); err != nil {
		return nil, fmt.Errorf("sqlstore: decoding version steps: %w", err)
	}
	if err := json.Unmarshal([]byte(connsJSON), &v.Connections); err != nil {
		return nil, fmt.Errorf("sqlstore: decoding version connections: %w", err)
	}
	if err := json.Unmarshal([]byte(triggersJSON), &v.Triggers); err != nil {
		return nil, fmt.Errorf("sqlstore: decoding version triggers: %w", err)
	}
	if err := json.Unmarshal([]byte(variablesJSON), &v.Variables); err != nil {
		return nil, fmt.Errorf("sqlstore: decoding version variables: %w", err)
	}
	return &v, nil
}

func (r *VersionRepository) Save(v *workflow.WorkflowVersion) error {
	stepsJSON, err := json.Marshal(v.Steps)
	if err != nil {
		return fmt.Errorf("sqlstore: encoding version steps: %w", err)
	}
	connsJSON, err := json.Marshal(v.Connections)
	if err != nil {
		return fmt.Errorf("sqlstore: encoding version connections: %w", err)
	}
	triggersJSON, err := json.Marshal(v.Triggers)
	if err != nil {
		return fmt.Errorf("sqlstore: encoding version triggers: %w", err)
	}
	variablesJSON, err := json.Marshal(v.Variables)
	if err != nil {
		return fmt.Errorf("sqlstore: encoding version variables: %w", err)
	}

	_, err = r.db.Exec(`
		INSERT INTO workflow_versions (id, workflow_id, tag, changelog, steps, connections, triggers, variables, published_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.WorkflowID.String(), v.Tag, v.Changelog, string(stepsJSON), string(connsJSON), string(triggersJSON), string(variablesJSON), v.PublishedAt.Time,
	)
	if err != nil {
		return fmt.Errorf("sqlstore: inserting version %s: %w", v.ID, err)
	}
	return nil
}

var _ workflow.VersionRepository = (*VersionRepository)(nil)

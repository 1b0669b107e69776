package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/coflow/coflow/pkg/domain"
	"github.com/coflow/coflow/pkg/domain/workflow"
	"github.com/coflow/coflow/pkg/engine"
	"github.com/coflow/coflow/pkg/logger"
)

type createExecutionRequest struct {
	VersionID    string                 `json:"version_id,omitempty"` // empty runs the live draft
	Variables    map[string]interface{} `json:"variables,omitempty"`
	TriggerInput interface{}            `json:"trigger_input,omitempty"`
}

// handleCreateExecution starts a new run of workflowID, against either a
// published WorkflowVersion or the live edit-session draft, and returns
// immediately with the pending Execution while the run proceeds in the
// background — clients follow along over the execution's WebSocket.
func (s *Server) handleCreateExecution(w http.ResponseWriter, r *http.Request) {
	workflowID := domain.EntityID(r.PathValue("id"))

	var req createExecutionRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}

	steps, connections, editorState, err := s.resolveRunnable(r, workflowID, req.VersionID)
	if err != nil {
		writeError(w, statusForWorkflowError(err), err)
		return
	}

	execution := workflow.NewExecution(workflowID, req.VersionID, workflow.ExecutionProduction, domain.TriggerAPI)
	if err := s.execRepo.Save(execution); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	go s.runExecution(execution, req.VersionID, steps, connections, editorState, req.Variables, req.TriggerInput)

	writeJSON(w, http.StatusAccepted, execution)
}

// resolveRunnable returns the step/connection/editor-state triple an
// execution should run against: a published version's frozen snapshot when
// versionID is set, otherwise the live edit session's current draft.
func (s *Server) resolveRunnable(r *http.Request, workflowID domain.EntityID, versionID string) ([]workflow.Step, []workflow.Connection, *workflow.EditorState, error) {
	if versionID != "" {
		version, err := s.versionRepo.FindByID(versionID)
		if err != nil {
			return nil, nil, nil, err
		}
		return version.Steps, version.Connections, workflow.NewEditorState(), nil
	}

	sess, err := s.sup.GetOrCreateSession(workflowID)
	if err != nil {
		return nil, nil, nil, err
	}
	snap, err := sess.Snapshot(r.Context())
	if err != nil {
		return nil, nil, nil, err
	}
	return snap.Draft.Steps, snap.Draft.Connections, snap.Editor, nil
}

func (s *Server) runExecution(
	execution *workflow.Execution,
	versionID string,
	steps []workflow.Step,
	connections []workflow.Connection,
	editorState *workflow.EditorState,
	variables map[string]interface{},
	triggerInput interface{},
) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Engine.MaxExecutionDuration)
	defer cancel()

	result, err := s.eng.Run(ctx, engine.RunInput{
		Execution:       execution,
		WorkflowVersion: versionID,
		Steps:           steps,
		Connections:     connections,
		EditorState:     editorState,
		Variables:       variables,
		TriggerInput:    triggerInput,
	})
	if err != nil {
		logger.ErrorCF(component, "execution run failed", map[string]interface{}{
			"execution_id": execution.ID().String(),
			"error":        err.Error(),
		})
		execution.Error = err.Error()
		_ = execution.Transition(workflow.ExecFailed)
	}

	s.hooks.RecordExecution(execution)
	if result != nil {
		if err := s.execRepo.AppendStepExecutions(result.StepExecutions); err != nil {
			logger.ErrorCF(component, "persisting step executions failed", map[string]interface{}{
				"execution_id": execution.ID().String(),
				"error":        err.Error(),
			})
		}
	}
	s.publishEvents(execution)
}

func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	id := domain.EntityID(r.PathValue("id"))
	execution, err := s.execRepo.FindByID(id)
	if err != nil {
		writeError(w, statusForWorkflowError(err), err)
		return
	}
	steps, err := s.execRepo.StepExecutionsFor(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"execution":       execution,
		"step_executions": steps,
	})
}

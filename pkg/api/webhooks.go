// Webhook ingestion — external HTTP calls that trigger a workflow run.
//
// Grounded on the teacher's handleWebhook (a single source-keyed endpoint
// that wraps an arbitrary JSON payload into a domain event and publishes
// it), generalized from "publish an event for some subscriber to pick up"
// into "look up which workflow registered this path as a Trigger and run
// it directly" — coflow's webhook triggers are a workflow concern, not a
// chat-bot one.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/coflow/coflow/pkg/domain"
	"github.com/coflow/coflow/pkg/domain/workflow"
)

// handleHook triggers a production execution of whichever workflow has a
// webhook Trigger registered at {path}.
func (s *Server) handleHook(w http.ResponseWriter, r *http.Request) {
	s.handleIncomingHook(w, r, workflow.ExecutionProduction)
}

// handleHookTest triggers a preview execution against the live edit-session
// draft, so an author can fire their webhook step while still iterating on
// the workflow.
func (s *Server) handleHookTest(w http.ResponseWriter, r *http.Request) {
	s.handleIncomingHook(w, r, workflow.ExecutionPreview)
}

func (s *Server) handleIncomingHook(w http.ResponseWriter, r *http.Request, execType workflow.ExecutionType) {
	path := r.PathValue("path")
	if path == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "hook path required"})
		return
	}

	var payload map[string]interface{}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON payload"})
			return
		}
	}

	workflowID, steps, connections, editorState, err := s.findHookTrigger(r, path)
	if err != nil {
		writeError(w, statusForWorkflowError(err), err)
		return
	}

	execution := workflow.NewExecution(workflowID, "", execType, domain.TriggerWebhook)
	execution.TriggerData = payload
	if err := s.execRepo.Save(execution); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	go s.runExecution(execution, "", steps, connections, editorState, nil, interface{}(payload))

	writeJSON(w, http.StatusAccepted, execution)
}

// findHookTrigger searches every draft for a webhook Trigger whose Path (or,
// absent a Path, StepID) matches, and resolves it against that workflow's
// live edit-session state — a trigger registration belongs to the draft
// being authored, not to any one published version.
func (s *Server) findHookTrigger(r *http.Request, path string) (domain.EntityID, []workflow.Step, []workflow.Connection, *workflow.EditorState, error) {
	drafts, err := s.draftRepo.FindAll()
	if err != nil {
		return "", nil, nil, nil, err
	}
	for _, d := range drafts {
		for _, t := range d.Triggers {
			if t.Type != domain.TriggerWebhook {
				continue
			}
			matchPath := t.Path
			if matchPath == "" {
				matchPath = t.StepID
			}
			if matchPath != path {
				continue
			}
			steps, connections, editorState, err := s.resolveRunnable(r, d.ID(), "")
			if err != nil {
				return "", nil, nil, nil, err
			}
			return d.ID(), steps, connections, editorState, nil
		}
	}
	return "", nil, nil, nil, workflow.ErrDraftNotFound
}

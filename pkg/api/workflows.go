package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/coflow/coflow/pkg/domain"
	"github.com/coflow/coflow/pkg/domain/workflow"
)

type createWorkflowRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// handleCreateWorkflow creates an empty draft and immediately spins up its
// edit session, since an authored workflow is assumed to be opened for
// editing right away.
func (s *Server) handleCreateWorkflow(w http.ResponseWriter, r *http.Request) {
	var req createWorkflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	draft, _, err := s.sup.CreateDraft(req.Name, req.Description)
	if err != nil {
		writeError(w, statusForWorkflowError(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, draft)
}

func (s *Server) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	drafts, err := s.draftRepo.FindAll()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, drafts)
}

func (s *Server) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	id := domain.EntityID(r.PathValue("id"))
	draft, err := s.draftRepo.FindByID(id)
	if err != nil {
		writeError(w, statusForWorkflowError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, draft)
}

type publishWorkflowRequest struct {
	Tag       string `json:"tag"`
	Changelog string `json:"changelog"`
}

// handlePublishWorkflow snapshots the current edit-session draft into an
// immutable WorkflowVersion (see currentDraft).
func (s *Server) handlePublishWorkflow(w http.ResponseWriter, r *http.Request) {
	id := domain.EntityID(r.PathValue("id"))
	var req publishWorkflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	draft, err := s.currentDraft(r, id)
	if err != nil {
		writeError(w, statusForWorkflowError(err), err)
		return
	}

	version := workflow.PublishVersion(draft, req.Tag, req.Changelog)
	if err := s.versionRepo.Save(version); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.publishEvents(draft)
	writeJSON(w, http.StatusCreated, version)
}

// currentDraft returns the draft held by the edit session for id. If no
// session is running, one is started from the repository copy first.
func (s *Server) currentDraft(r *http.Request, id domain.EntityID) (*workflow.WorkflowDraft, error) {
	sess, err := s.sup.GetOrCreateSession(id)
	if err != nil {
		return nil, err
	}
	snap, err := sess.Snapshot(r.Context())
	if err != nil {
		return nil, err
	}
	return snap.Draft, nil
}

// handleSyncWorkflow answers the edit session's reconnect/catch-up protocol
// (full_sync / incremental / up_to_date) for ?client_seq=N.
func (s *Server) handleSyncWorkflow(w http.ResponseWriter, r *http.Request) {
	id := domain.EntityID(r.PathValue("id"))
	sess, err := s.sup.GetOrCreateSession(id)
	if err != nil {
		writeError(w, statusForWorkflowError(err), err)
		return
	}

	var clientSeq int64
	if raw := r.URL.Query().Get("client_seq"); raw != "" {
		clientSeq, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}

	res, err := sess.Sync(r.Context(), clientSeq)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"kind":       res.Kind,
		"seq":        res.Seq,
		"draft":      res.Draft,
		"editor":     res.Editor,
		"operations": res.Operations,
	})
}

type applyOperationRequest struct {
	ID      string                 `json:"id"`
	Type    workflow.OperationType `json:"type"`
	Payload map[string]interface{} `json:"payload"`
	UserID  string                 `json:"user_id"`
}

// handleApplyOperation submits one EditOperation to the workflow's edit
// session and reports {seq, status: applied | duplicate}.
func (s *Server) handleApplyOperation(w http.ResponseWriter, r *http.Request) {
	id := domain.EntityID(r.PathValue("id"))
	sess, err := s.sup.GetOrCreateSession(id)
	if err != nil {
		writeError(w, statusForWorkflowError(err), err)
		return
	}

	var req applyOperationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	op := workflow.EditOperation{
		ID:         req.ID,
		WorkflowID: id,
		Type:       req.Type,
		Payload:    req.Payload,
		UserID:     req.UserID,
	}

	seq, applied, err := sess.ApplyOperation(r.Context(), op)
	if err != nil {
		writeError(w, statusForWorkflowError(err), err)
		return
	}

	status := "duplicate"
	if applied {
		status = "applied"
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"seq": seq, "status": status})
}

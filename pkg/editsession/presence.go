package editsession

import (
	"github.com/coflow/coflow/pkg/domain"
	"github.com/coflow/coflow/pkg/domain/workflow"
)

// mergePresence applies incoming per-field: only the fields incoming sets
// (non-empty) overwrite the stored ones, so a cursor-only update leaves the
// stored selection untouched. The last update to arrive through the mailbox
// wins for each field; incoming.UpdatedAt is not compared, and the entry's
// UpdatedAt is set to the time of the merge. A brand-new user is recorded
// wholesale.
func (s *Session) mergePresence(incoming workflow.UserPresence) {
	existing, ok := s.presence[incoming.UserID]
	if !ok {
		if incoming.JoinedAt.IsZero() {
			incoming.JoinedAt = domain.Now()
		}
		incoming.UpdatedAt = domain.Now()
		p := incoming
		s.presence[incoming.UserID] = &p
		return
	}

	if incoming.DisplayName != "" {
		existing.DisplayName = incoming.DisplayName
	}
	if incoming.Cursor != nil {
		existing.Cursor = incoming.Cursor
	}
	if incoming.SelectedIDs != nil {
		existing.SelectedIDs = incoming.SelectedIDs
	}
	if incoming.FocusedID != "" {
		existing.FocusedID = incoming.FocusedID
	}
	existing.UpdatedAt = domain.Now()
}

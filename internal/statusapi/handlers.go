// Package statusapi mounts a read-only HTTP surface over a running sync
// engine: current status, the active session, pending changes, unresolved
// conflicts, and a Server-Sent-Events stream of engine events. It owns no
// conflict-resolution logic; it only marshals state the engine already
// computed, so a UI stays an external collaborator.
package statusapi

import (
	"encoding/json"
	"net/http"

	"github.com/hyperengineering/synccore/internal/model"
	"github.com/hyperengineering/synccore/internal/syncengine"
)

// Engine is the subset of *syncengine.Engine this package depends on.
type Engine interface {
	GetStatus() syncengine.State
	GetCurrentSession() (model.Session, bool)
	GetPendingChanges() []model.Change
	GetUnresolvedConflicts() []model.Conflict
	On(kind syncengine.EventKind, l syncengine.Listener) syncengine.Unsubscribe
}

// Handler implements the status API handlers.
type Handler struct {
	engine Engine
}

// NewHandler builds a Handler backed by engine.
func NewHandler(engine Engine) *Handler {
	return &Handler{engine: engine}
}

type statusResponse struct {
	Status    syncengine.State `json:"status"`
	SessionID string           `json:"session_id,omitempty"`
}

// Status handles GET /v1/status.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{Status: h.engine.GetStatus()}
	if session, ok := h.engine.GetCurrentSession(); ok {
		resp.SessionID = session.ID
	}
	writeJSON(w, http.StatusOK, resp)
}

// Session handles GET /v1/session.
func (h *Handler) Session(w http.ResponseWriter, r *http.Request) {
	session, ok := h.engine.GetCurrentSession()
	if !ok {
		writeProblem(w, http.StatusNotFound, "no sync session is active")
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// PendingChanges handles GET /v1/changes/pending.
func (h *Handler) PendingChanges(w http.ResponseWriter, r *http.Request) {
	changes := h.engine.GetPendingChanges()
	if changes == nil {
		changes = []model.Change{}
	}
	writeJSON(w, http.StatusOK, changes)
}

// Conflicts handles GET /v1/conflicts.
func (h *Handler) Conflicts(w http.ResponseWriter, r *http.Request) {
	conflicts := h.engine.GetUnresolvedConflicts()
	if conflicts == nil {
		conflicts = []model.Conflict{}
	}
	writeJSON(w, http.StatusOK, conflicts)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

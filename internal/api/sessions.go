package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/duckmesh/sqlpilot/internal/history"
)

func handleClearSession(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.History == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "HISTORY_NOT_CONFIGURED", "session history is not configured", false, nil)
		return
	}
	tenantID, ok := authorizeReader(w, r)
	if !ok {
		return
	}
	key := history.Key{Tenant: tenantID, Session: strings.TrimSpace(r.PathValue("session"))}
	err := deps.History.Clear(r.Context(), key)
	if errors.Is(err, history.ErrInvalidKey) {
		writeError(r.Context(), w, http.StatusBadRequest, "SESSION_REQUIRED", "session id is required", false, nil)
		return
	}
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "HISTORY_ERROR", "failed to clear session", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "cleared", "session_id": key.Session})
}

package api

import (
	"errors"
	"net/http"

	"github.com/duckmesh/sqlpilot/internal/nl2sql"
)

type translateRequest struct {
	Prompt string `json:"prompt"`
}

func handleTranslate(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.QueryTranslator == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "TRANSLATE_NOT_CONFIGURED", "query translation is not configured", false, nil)
		return
	}
	tenantID, ok := authorizeReader(w, r)
	if !ok {
		return
	}

	var req translateRequest
	if !decodeJSONBody(w, r, &req, "translation") {
		return
	}
	if !allowRequest(deps, w, r, tenantID) {
		return
	}

	result, err := deps.QueryTranslator.Translate(r.Context(), nl2sql.Request{
		TenantID: tenantID,
		Question: req.Prompt,
	})
	if errors.Is(err, nl2sql.ErrEmptyQuestion) {
		writeError(r.Context(), w, http.StatusBadRequest, "PROMPT_REQUIRED", "prompt is required", false, nil)
		return
	}
	if err != nil {
		writeError(r.Context(), w, http.StatusBadGateway, "TRANSLATE_FAILED", "failed to translate query", true, map[string]any{"details": err.Error()})
		return
	}
	if result.Warnings == nil {
		result.Warnings = []string{}
	}
	writeJSON(w, http.StatusOK, result)
}

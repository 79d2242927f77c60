package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/duckmesh/sqlpilot/internal/query"
	"github.com/duckmesh/sqlpilot/internal/sqlcheck"
)

type queryRequest struct {
	SQL      string `json:"sql"`
	RowLimit int    `json:"row_limit"`
}

type queryResponse struct {
	Columns []string       `json:"columns"`
	Rows    [][]any        `json:"rows"`
	Stats   map[string]any `json:"stats"`
}

// handleQuery runs caller-written SQL. Only the read-only policy applies;
// there is no refinement.
func handleQuery(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.QueryEngine == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "QUERY_NOT_CONFIGURED", "query engine is not configured", false, nil)
		return
	}
	tenantID, ok := authorizeReader(w, r)
	if !ok {
		return
	}

	var req queryRequest
	if !decodeJSONBody(w, r, &req, "query") {
		return
	}
	if strings.TrimSpace(req.SQL) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "SQL_REQUIRED", "sql is required", false, nil)
		return
	}
	if req.RowLimit < 0 {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_ROW_LIMIT", "row_limit must be >= 0", false, nil)
		return
	}
	if outcome := sqlcheck.ReadOnly(req.SQL); !outcome.Valid {
		writeError(r.Context(), w, http.StatusBadRequest, "SQL_NOT_ALLOWED", outcome.Diagnostic, false, nil)
		return
	}

	result, err := deps.QueryEngine.Execute(r.Context(), query.Request{
		TenantID: tenantID,
		SQL:      req.SQL,
		RowLimit: req.RowLimit,
	})
	if errors.Is(err, query.ErrTableNotFound) {
		writeError(r.Context(), w, http.StatusNotFound, "TABLE_NOT_FOUND", err.Error(), false, nil)
		return
	}
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "QUERY_EXECUTION_FAILED", "query execution failed", false, map[string]any{"details": err.Error()})
		return
	}

	rows := result.Rows
	if rows == nil {
		rows = [][]any{}
	}
	writeJSON(w, http.StatusOK, queryResponse{
		Columns: result.Columns,
		Rows:    rows,
		Stats: map[string]any{
			"duration_ms":   result.Duration.Milliseconds(),
			"scanned_files": result.ScannedFiles,
			"scanned_bytes": result.ScannedBytes,
		},
	})
}

package api

import (
	"log/slog"
	"net/http"

	"github.com/duckmesh/sqlpilot/internal/observability"
)

func handleListTables(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.QueryEngine == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "TABLES_NOT_CONFIGURED", "query engine is not configured", false, nil)
		return
	}
	tenantID, ok := authorizeReader(w, r)
	if !ok {
		return
	}
	tables, err := deps.QueryEngine.ListTables(r.Context(), tenantID)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "CATALOG_ERROR", "failed to list tables", true, map[string]any{"details": err.Error()})
		return
	}
	if tables == nil {
		tables = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tenant_id": tenantID,
		"tables":    tables,
	})
}

// handleSchema lists every column as dataset.table.field. Tables that cannot
// be described are logged and left out.
func handleSchema(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.QueryEngine == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SCHEMA_NOT_CONFIGURED", "query engine is not configured", false, nil)
		return
	}
	tenantID, ok := authorizeReader(w, r)
	if !ok {
		return
	}
	tables, err := deps.QueryEngine.ListTables(r.Context(), tenantID)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "SCHEMA_FETCH_FAILED", "failed to list tables", true, map[string]any{"details": err.Error()})
		return
	}

	fields := []string{}
	for _, table := range tables {
		columns, err := deps.QueryEngine.DescribeTable(r.Context(), tenantID, table)
		if err != nil {
			if deps.Logger != nil {
				deps.Logger.WarnContext(r.Context(), "skipping table in schema listing",
					slog.String("trace_id", observability.TraceIDFromContext(r.Context())),
					slog.String("table", table),
					slog.Any("error", err),
				)
			}
			continue
		}
		for _, column := range columns {
			fields = append(fields, table+"."+column.Name)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tenant_id": tenantID,
		"fields":    fields,
	})
}

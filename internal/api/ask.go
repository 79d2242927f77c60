package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/duckmesh/sqlpilot/internal/assistant"
	"github.com/duckmesh/sqlpilot/internal/history"
	"github.com/duckmesh/sqlpilot/internal/observability"
	"github.com/duckmesh/sqlpilot/internal/stream"
)

type askRequest struct {
	Prompt    string `json:"prompt"`
	SessionID string `json:"session_id"`
}

func handleAsk(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Assistant == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "ASK_NOT_CONFIGURED", "assistant is not configured", false, nil)
		return
	}
	tenantID, ok := authorizeReader(w, r)
	if !ok {
		return
	}

	var req askRequest
	if !decodeJSONBody(w, r, &req, "ask") {
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "PROMPT_REQUIRED", "prompt is required", false, nil)
		return
	}
	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		sessionID = history.DefaultSession
	}
	if !allowRequest(deps, w, r, tenantID) {
		return
	}

	flusher, canFlush := w.(http.Flusher)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	emit := func(event stream.Event) {
		if err := stream.Encode(w, event); err != nil {
			return
		}
		if canFlush {
			flusher.Flush()
		}
	}

	_, err := deps.Assistant.Ask(r.Context(), assistant.Request{
		TenantID:  tenantID,
		SessionID: sessionID,
		Question:  req.Prompt,
	}, emit)
	if err == nil {
		return
	}
	if r.Context().Err() != nil {
		return
	}
	if deps.Logger != nil {
		deps.Logger.WarnContext(r.Context(), "ask failed",
			slog.String("trace_id", observability.TraceIDFromContext(r.Context())),
			slog.String("tenant_id", tenantID),
			slog.String("session_id", sessionID),
			slog.Any("error", err),
		)
	}
	message := err.Error()
	if errors.Is(err, history.ErrInvalidKey) {
		message = "invalid session"
	}
	emit(stream.Error("Error: " + message))
}

package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/duckmesh/sqlpilot/internal/auth"
)

const maxRequestBodyBytes = 1 << 20

// tenantFromRequest prefers the authenticated identity and falls back to
// X-Tenant-ID when auth is disabled.
func tenantFromRequest(r *http.Request) (string, error) {
	if identity, ok := auth.IdentityFromContext(r.Context()); ok {
		if strings.TrimSpace(identity.TenantID) != "" {
			return identity.TenantID, nil
		}
	}
	tenantID := strings.TrimSpace(r.Header.Get("X-Tenant-ID"))
	if tenantID == "" {
		return "", fmt.Errorf("tenant context is required")
	}
	return tenantID, nil
}

func requireRole(r *http.Request, role string) error {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		return nil
	}
	if identity.HasRole(role) {
		return nil
	}
	return fmt.Errorf("missing required role %q", role)
}

// authorizeReader resolves the tenant and checks the reader role, writing
// the error response itself when either fails.
func authorizeReader(w http.ResponseWriter, r *http.Request) (string, bool) {
	tenantID, err := tenantFromRequest(r)
	if err != nil {
		writeError(r.Context(), w, http.StatusUnauthorized, "TENANT_REQUIRED", err.Error(), false, nil)
		return "", false
	}
	if err := requireRole(r, auth.RoleQueryReader); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return "", false
	}
	return tenantID, true
}

func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any, what string) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid "+what+" request body", false, map[string]any{"details": err.Error()})
		return false
	}
	return true
}

func allowRequest(deps Dependencies, w http.ResponseWriter, r *http.Request, tenantID string) bool {
	if deps.RateLimiter == nil || deps.RateLimiter.Allow(tenantID) {
		return true
	}
	w.Header().Set("Retry-After", "1")
	writeError(r.Context(), w, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests for tenant", true, nil)
	return false
}

// Package auth resolves API keys to a tenant and a set of roles.
package auth

import (
	"context"
	"fmt"
	"slices"
	"strings"
)

// RoleQueryReader may ask questions, translate, run read-only SQL and manage
// its own chat sessions.
const RoleQueryReader = "query_reader"

type Identity struct {
	TenantID string
	Roles    []string
}

func (i Identity) HasRole(role string) bool {
	return slices.Contains(i.Roles, role)
}

type APIKeyValidator interface {
	Validate(ctx context.Context, apiKey string) (Identity, bool)
}

// StaticAPIKeyValidator holds keys parsed from a comma separated list of
// key:tenant:role|role entries.
type StaticAPIKeyValidator struct {
	keys map[string]Identity
}

func NewStaticAPIKeyValidator(spec string) (*StaticAPIKeyValidator, error) {
	validator := &StaticAPIKeyValidator{keys: map[string]Identity{}}
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return validator, nil
	}

	for _, entry := range strings.Split(spec, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		key, tenant, roles, err := parseKeyEntry(entry)
		if err != nil {
			return nil, err
		}
		if _, dup := validator.keys[key]; dup {
			return nil, fmt.Errorf("invalid static key entry %q: duplicate key", entry)
		}
		validator.keys[key] = Identity{TenantID: tenant, Roles: roles}
	}
	return validator, nil
}

func parseKeyEntry(entry string) (string, string, []string, error) {
	parts := strings.Split(entry, ":")
	if len(parts) != 3 {
		return "", "", nil, fmt.Errorf("invalid static key entry %q: expected key:tenant:role|role", entry)
	}
	key := strings.TrimSpace(parts[0])
	tenant := strings.TrimSpace(parts[1])
	if key == "" || tenant == "" {
		return "", "", nil, fmt.Errorf("invalid static key entry %q: empty key/tenant", entry)
	}
	var roles []string
	for _, role := range strings.Split(parts[2], "|") {
		role = strings.TrimSpace(role)
		if role != "" && !slices.Contains(roles, role) {
			roles = append(roles, role)
		}
	}
	if len(roles) == 0 {
		return "", "", nil, fmt.Errorf("invalid static key entry %q: at least one role is required", entry)
	}
	slices.Sort(roles)
	return key, tenant, roles, nil
}

func (v *StaticAPIKeyValidator) Validate(_ context.Context, apiKey string) (Identity, bool) {
	identity, ok := v.keys[apiKey]
	return identity, ok
}

// Len reports how many keys are configured.
func (v *StaticAPIKeyValidator) Len() int {
	return len(v.keys)
}

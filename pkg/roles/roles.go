// Package roles implements the GEvidence role registry. Four roles gate the
// privileged entry points across the engines; only ADMIN may mutate the
// registry, and the registry always retains at least one ADMIN.
package roles

import (
	"fmt"
	"sync"

	"github.com/gevidence-labs/gevidence/core/pkg/domain"
	"github.com/gevidence-labs/gevidence/core/pkg/eventlog"
)

// Role is one of the fixed GEvidence roles.
type Role string

const (
	RoleAdmin       Role = "ADMIN"
	RoleCompany     Role = "COMPANY"
	RoleVerifier    Role = "VERIFIER"
	RoleIoTOperator Role = "IOT_OPERATOR"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleCompany, RoleVerifier, RoleIoTOperator:
		return true
	}
	return false
}

// Scope is the event-log scope for role changes.
const Scope = "roles"

// Manager is the role registry.
type Manager struct {
	mu     sync.RWMutex
	grants map[Role]map[domain.Principal]struct{}
	log    *eventlog.Log
}

// NewManager creates a registry with the given initial admin. The initial
// grant satisfies the at-least-one-ADMIN invariant from the first call on.
func NewManager(initialAdmin domain.Principal, log *eventlog.Log) *Manager {
	m := &Manager{
		grants: make(map[Role]map[domain.Principal]struct{}),
		log:    log,
	}
	m.grants[RoleAdmin] = map[domain.Principal]struct{}{initialAdmin: {}}
	return m
}

// HasRole reports whether the principal holds the role.
func (m *Manager) HasRole(role Role, p domain.Principal) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.grants[role][p]
	return ok
}

// RolesOf returns every role the principal holds.
func (m *Manager) RolesOf(p domain.Principal) []Role {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Role, 0, 2)
	for _, role := range []Role{RoleAdmin, RoleCompany, RoleVerifier, RoleIoTOperator} {
		if _, ok := m.grants[role][p]; ok {
			out = append(out, role)
		}
	}
	return out
}

// GrantRole grants role to p. Caller must hold ADMIN. Granting an
// already-held role is a no-op, not an error.
func (m *Manager) GrantRole(caller domain.Principal, role Role, p domain.Principal) error {
	if !role.Valid() {
		return fmt.Errorf("grant %q: %w", role, domain.ErrInvalidArgument)
	}
	if p.Zero() {
		return fmt.Errorf("grant %s to empty principal: %w", role, domain.ErrInvalidArgument)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.grants[RoleAdmin][caller]; !ok {
		return fmt.Errorf("grant %s: caller %s: %w", role, caller, domain.ErrUnauthorized)
	}
	if m.grants[role] == nil {
		m.grants[role] = make(map[domain.Principal]struct{})
	}
	if _, held := m.grants[role][p]; held {
		return nil // idempotent
	}
	m.grants[role][p] = struct{}{}

	m.emit("RoleGranted", caller, role, p)
	return nil
}

// RevokeRole revokes role from p. Caller must hold ADMIN. Revoking a role
// the principal does not hold is a no-op. Revoking the final ADMIN fails:
// the registry must always retain at least one.
func (m *Manager) RevokeRole(caller domain.Principal, role Role, p domain.Principal) error {
	if !role.Valid() {
		return fmt.Errorf("revoke %q: %w", role, domain.ErrInvalidArgument)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.grants[RoleAdmin][caller]; !ok {
		return fmt.Errorf("revoke %s: caller %s: %w", role, caller, domain.ErrUnauthorized)
	}
	if _, held := m.grants[role][p]; !held {
		return nil // idempotent
	}
	if role == RoleAdmin && len(m.grants[RoleAdmin]) == 1 {
		return fmt.Errorf("revoke last ADMIN %s: %w", p, domain.ErrInvalidState)
	}
	delete(m.grants[role], p)

	m.emit("RoleRevoked", caller, role, p)
	return nil
}

func (m *Manager) emit(kind string, caller domain.Principal, role Role, p domain.Principal) {
	if m.log == nil {
		return
	}
	_, _ = m.log.Append(Scope, kind, string(caller), map[string]any{
		"role":      string(role),
		"principal": string(p),
	})
}

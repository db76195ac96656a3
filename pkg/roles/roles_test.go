package roles

import (
	"errors"
	"testing"

	"github.com/gevidence-labs/gevidence/core/pkg/domain"
	"github.com/gevidence-labs/gevidence/core/pkg/eventlog"
)

const (
	admin   = domain.Principal("0xadmin")
	company = domain.Principal("0xcompany")
	someone = domain.Principal("0xsomeone")
)

func TestInitialAdmin(t *testing.T) {
	m := NewManager(admin, nil)
	if !m.HasRole(RoleAdmin, admin) {
		t.Fatal("initial admin should hold ADMIN")
	}
	if m.HasRole(RoleCompany, admin) {
		t.Fatal("initial admin should not hold COMPANY")
	}
}

func TestGrantRequiresAdmin(t *testing.T) {
	m := NewManager(admin, nil)
	err := m.GrantRole(someone, RoleCompany, company)
	if !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected Unauthorized, got %v", err)
	}
	if err := m.GrantRole(admin, RoleCompany, company); err != nil {
		t.Fatal(err)
	}
	if !m.HasRole(RoleCompany, company) {
		t.Fatal("company role should be granted")
	}
}

func TestGrantIdempotent(t *testing.T) {
	log := eventlog.New()
	m := NewManager(admin, log)
	if err := m.GrantRole(admin, RoleVerifier, someone); err != nil {
		t.Fatal(err)
	}
	if err := m.GrantRole(admin, RoleVerifier, someone); err != nil {
		t.Fatalf("re-grant should be a no-op, got %v", err)
	}
	if got := len(log.Entries(Scope, 0)); got != 1 {
		t.Fatalf("re-grant should not emit a second event, got %d", got)
	}
}

func TestRevoke(t *testing.T) {
	m := NewManager(admin, nil)
	m.GrantRole(admin, RoleCompany, company)
	if err := m.RevokeRole(admin, RoleCompany, company); err != nil {
		t.Fatal(err)
	}
	if m.HasRole(RoleCompany, company) {
		t.Fatal("role should be revoked")
	}
	if err := m.RevokeRole(admin, RoleCompany, company); err != nil {
		t.Fatalf("re-revoke should be a no-op, got %v", err)
	}
}

func TestRevokeLastAdminFails(t *testing.T) {
	m := NewManager(admin, nil)
	err := m.RevokeRole(admin, RoleAdmin, admin)
	if !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("revoking last admin should fail with InvalidState, got %v", err)
	}
	m.GrantRole(admin, RoleAdmin, someone)
	if err := m.RevokeRole(someone, RoleAdmin, admin); err != nil {
		t.Fatalf("revoking one of two admins should work: %v", err)
	}
}

func TestUnknownRoleRejected(t *testing.T) {
	m := NewManager(admin, nil)
	if err := m.GrantRole(admin, Role("SUPERUSER"), someone); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("unknown role should be rejected, got %v", err)
	}
}

func TestRolesOf(t *testing.T) {
	m := NewManager(admin, nil)
	m.GrantRole(admin, RoleVerifier, someone)
	m.GrantRole(admin, RoleIoTOperator, someone)
	got := m.RolesOf(someone)
	if len(got) != 2 || got[0] != RoleVerifier || got[1] != RoleIoTOperator {
		t.Fatalf("unexpected roles: %v", got)
	}
}

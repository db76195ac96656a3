// Package auth authenticates API callers and carries their identity through
// request contexts. Tokens are HMAC-signed JWTs whose subject becomes the
// domain principal and whose roles claim mirrors the on-ledger role grants.
package auth

import (
	"github.com/gevidence-labs/gevidence/core/pkg/domain"
	"github.com/gevidence-labs/gevidence/core/pkg/roles"
)

// Identity is an authenticated caller.
type Identity struct {
	Principal domain.Principal `json:"principal"`
	Roles     []string         `json:"roles"`
}

// HasRole reports whether the token carried the given role claim. Advisory
// only: engines re-check grants against the role manager on every call.
func (id Identity) HasRole(role roles.Role) bool {
	for _, r := range id.Roles {
		if r == string(role) {
			return true
		}
	}
	return false
}

package auth

import (
	"context"
	"errors"

	"github.com/gevidence-labs/gevidence/core/pkg/domain"
)

type contextKey string

const identityKey contextKey = "identity"

// ErrNoIdentity is returned when a context carries no authenticated caller.
var ErrNoIdentity = errors.New("no identity in context")

// WithIdentity attaches an Identity to the context.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFrom retrieves the Identity from the context.
func IdentityFrom(ctx context.Context) (Identity, error) {
	id, ok := ctx.Value(identityKey).(Identity)
	if !ok {
		return Identity{}, ErrNoIdentity
	}
	return id, nil
}

// PrincipalFrom returns the caller's principal, or the zero principal when
// the request was not authenticated.
func PrincipalFrom(ctx context.Context) domain.Principal {
	id, err := IdentityFrom(ctx)
	if err != nil {
		return ""
	}
	return id.Principal
}

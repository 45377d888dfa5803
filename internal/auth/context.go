package auth

import (
	"context"

	"github.com/harrylevesque/memberhub/internal/models"
)

// Via records how a request was authenticated.
type Via string

const (
	ViaSession Via = "session"
	ViaBearer  Via = "bearer"
)

// Principal is the authenticated member attached to a request context.
type Principal struct {
	Member *models.Member
	Via    Via
}

type principalKey struct{}

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the principal set by RequireMember.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok && p.Member != nil
}

// MemberFrom is a shorthand for handlers behind RequireMember.
func MemberFrom(ctx context.Context) *models.Member {
	p, _ := PrincipalFrom(ctx)
	return p.Member
}

package auth

import (
	"context"
	"errors"

	"github.com/harrylevesque/memberhub/internal/models"
	"github.com/harrylevesque/memberhub/internal/utils"
)

// ErrInvalidCredentials is returned for an unknown email or a wrong password.
var ErrInvalidCredentials = utils.Unauthorized("invalid_credentials", "invalid email or password")

// MemberLookup is the member storage the authenticator needs.
type MemberLookup interface {
	GetMember(ctx context.Context, id string) (*models.Member, error)
	GetMemberByEmail(ctx context.Context, email string) (*models.Member, error)
}

// Authenticator verifies credentials and resolves the member behind a
// session cookie or bearer token.
type Authenticator struct {
	members  MemberLookup
	Sessions *Sessions
	Tokens   *Tokens
}

// NewAuthenticator creates an Authenticator.
func NewAuthenticator(members MemberLookup, sessions *Sessions, tokens *Tokens) *Authenticator {
	return &Authenticator{members: members, Sessions: sessions, Tokens: tokens}
}

// CheckCredentials returns the member owning email if password matches.
// Suspended members are refused even with the right password.
func (a *Authenticator) CheckCredentials(ctx context.Context, email, password string) (*models.Member, error) {
	m, err := a.members.GetMemberByEmail(ctx, utils.NormalizeEmail(email))
	if err != nil {
		if utils.IsKind(err, utils.KindNotFound) {
			CheckPasswordHash(password, "")
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !CheckPasswordHash(password, m.PasswordHash) {
		return nil, ErrInvalidCredentials
	}
	if m.Status == models.StatusSuspended {
		return nil, utils.Forbidden("account_suspended", "this account has been suspended")
	}
	return m, nil
}

// ActiveMember loads id and refuses suspended accounts. Every authenticated
// request goes through it, so role and status changes apply immediately.
func (a *Authenticator) ActiveMember(ctx context.Context, id string) (*models.Member, error) {
	m, err := a.members.GetMember(ctx, id)
	if err != nil {
		if utils.IsKind(err, utils.KindNotFound) {
			return nil, utils.Unauthorized("unauthenticated", "authentication required")
		}
		return nil, err
	}
	if m.Status == models.StatusSuspended {
		return nil, utils.Forbidden("account_suspended", "this account has been suspended")
	}
	return m, nil
}

// IsCredentialError reports whether err should count as a failed login
// attempt for auditing.
func IsCredentialError(err error) bool {
	return errors.Is(err, ErrInvalidCredentials) || utils.CodeOf(err) == "account_suspended"
}

package auth

import (
	"net/http"

	"github.com/harrylevesque/memberhub/internal/httpx"
	"github.com/harrylevesque/memberhub/internal/models"
	"github.com/harrylevesque/memberhub/internal/utils"
)

var errUnauthenticated = utils.Unauthorized("unauthenticated", "authentication required")

// RequireMember authenticates the request from a bearer access token or,
// failing that, a fully signed-in session cookie.
func (a *Authenticator) RequireMember(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var (
			memberID string
			via      Via
		)
		if token := ExtractTokenFromHeader(r); token != "" {
			claims, err := a.Tokens.Parse(token, TokenAccess)
			if err != nil {
				httpx.WriteError(w, r, err)
				return
			}
			memberID, via = claims.Subject, ViaBearer
		} else {
			id, err := a.Sessions.AuthenticatedMember(r)
			switch {
			case err == ErrMFAPending:
				httpx.WriteError(w, r, utils.Unauthorized("mfa_required", "second factor required"))
				return
			case err != nil:
				httpx.WriteError(w, r, errUnauthenticated)
				return
			}
			memberID, via = id, ViaSession
		}

		m, err := a.ActiveMember(r.Context(), memberID)
		if err != nil {
			httpx.WriteError(w, r, err)
			return
		}
		ctx := WithPrincipal(r.Context(), Principal{Member: m, Via: via})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole admits only members holding one of roles. It must run after
// RequireMember.
func RequireRole(roles ...models.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m := MemberFrom(r.Context())
			if m == nil {
				httpx.WriteError(w, r, errUnauthenticated)
				return
			}
			for _, role := range roles {
				if m.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			utils.SecurityEvent("access_denied").
				Str("member_id", m.ID).
				Str("role", string(m.Role)).
				Str("path", r.URL.Path).
				Msg("role check failed")
			httpx.WriteError(w, r, utils.Forbidden("forbidden", "insufficient permissions"))
		})
	}
}

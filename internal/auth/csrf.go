package auth

import (
	"crypto/hmac"
	"net/http"

	"github.com/harrylevesque/memberhub/internal/crypto"
	"github.com/harrylevesque/memberhub/internal/httpx"
	"github.com/harrylevesque/memberhub/internal/utils"
)

const (
	CSRFCookie = "csrf_token"
	CSRFHeader = "X-CSRF-Token"
)

// SetCSRFToken issues a new double-submit token. The cookie is readable by
// the dashboard script, which echoes it back in CSRFHeader.
func SetCSRFToken(w http.ResponseWriter, secure bool) (string, error) {
	token, err := crypto.RandomToken(32)
	if err != nil {
		return "", err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     CSRFCookie,
		Value:    token,
		Path:     "/",
		Secure:   secure,
		SameSite: http.SameSiteStrictMode,
	})
	return token, nil
}

// ValidateCSRFToken compares the header against the cookie.
func ValidateCSRFToken(r *http.Request) bool {
	cookie, err := r.Cookie(CSRFCookie)
	if err != nil || cookie.Value == "" {
		return false
	}
	header := r.Header.Get(CSRFHeader)
	return header != "" && hmac.Equal([]byte(header), []byte(cookie.Value))
}

// RequireCSRF rejects unsafe requests from cookie sessions that do not
// carry a matching token. Bearer-authenticated requests are exempt since
// browsers never attach the Authorization header on their own.
func RequireCSRF(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			next.ServeHTTP(w, r)
			return
		}
		if p, ok := PrincipalFrom(r.Context()); ok && p.Via == ViaBearer {
			next.ServeHTTP(w, r)
			return
		}
		if !ValidateCSRFToken(r) {
			httpx.WriteError(w, r, utils.Forbidden("csrf_failed", "missing or invalid CSRF token"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

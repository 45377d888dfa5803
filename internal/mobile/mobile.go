// Package mobile serves the bearer-token API used by the mobile app.
package mobile

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/harrylevesque/memberhub/internal/auth"
	"github.com/harrylevesque/memberhub/internal/httpx"
	"github.com/harrylevesque/memberhub/internal/ratelimit"
	"github.com/harrylevesque/memberhub/internal/twofactor"
	"github.com/harrylevesque/memberhub/internal/utils"
)

// TwoFactor is the part of the two-factor service used at login.
type TwoFactor interface {
	Enabled(ctx context.Context, memberID string) (bool, error)
	Verify(ctx context.Context, memberID, code string) (twofactor.Method, error)
}

type Handler struct {
	auth       *auth.Authenticator
	twoFactor  TwoFactor
	limiter    ratelimit.Limiter
	trustProxy bool
}

func New(a *auth.Authenticator, tf TwoFactor, limiter ratelimit.Limiter, trustProxy bool) *Handler {
	return &Handler{auth: a, twoFactor: tf, limiter: limiter, trustProxy: trustProxy}
}

// Register mounts the mobile routes on r, which is expected to be the
// /api/mobile subrouter.
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/auth/login", h.login).Methods(http.MethodPost)
	r.HandleFunc("/auth/2fa", h.verify2FA).Methods(http.MethodPost)
	r.HandleFunc("/auth/refresh", h.refresh).Methods(http.MethodPost)
	r.Handle("/me", h.auth.RequireMember(http.HandlerFunc(h.me))).Methods(http.MethodGet)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type mfaChallenge struct {
	MFARequired bool   `json:"mfa_required"`
	MFAToken    string `json:"mfa_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	ctx := r.Context()
	ip := utils.ClientIP(r, h.trustProxy)
	if err := ratelimit.Check(ctx, h.limiter, "mobile_login:ip:"+ip, "mobile_login:email:"+utils.NormalizeEmail(req.Email)); err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	m, err := h.auth.CheckCredentials(ctx, req.Email, req.Password)
	if err != nil {
		if auth.IsCredentialError(err) {
			utils.SecurityEvent("login_failed").Str("channel", "mobile").Str("ip", ip).Msg("mobile login rejected")
		}
		httpx.WriteError(w, r, err)
		return
	}

	enabled, err := h.twoFactor.Enabled(ctx, m.ID)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	if enabled {
		token, _, err := h.auth.Tokens.Issue(m, auth.TokenMFA)
		if err != nil {
			httpx.WriteError(w, r, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, mfaChallenge{
			MFARequired: true,
			MFAToken:    token,
			ExpiresIn:   int64(h.auth.Tokens.TTL(auth.TokenMFA).Seconds()),
		})
		return
	}
	h.issue(w, r, m.ID, "password")
}

type verifyRequest struct {
	MFAToken string `json:"mfa_token"`
	Code     string `json:"code"`
}

func (h *Handler) verify2FA(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	claims, err := h.auth.Tokens.Parse(req.MFAToken, auth.TokenMFA)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	ctx := r.Context()
	ip := utils.ClientIP(r, h.trustProxy)
	if err := ratelimit.Check(ctx, h.limiter, "2fa:ip:"+ip, "2fa:member:"+claims.Subject); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	if _, err := h.twoFactor.Verify(ctx, claims.Subject, req.Code); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	h.issue(w, r, claims.Subject, "2fa")
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	claims, err := h.auth.Tokens.Parse(req.RefreshToken, auth.TokenRefresh)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	h.issue(w, r, claims.Subject, "refresh")
}

// issue reloads the member so suspensions and role changes take effect
// before a new pair is signed.
func (h *Handler) issue(w http.ResponseWriter, r *http.Request, memberID, method string) {
	m, err := h.auth.ActiveMember(r.Context(), memberID)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	pair, err := h.auth.Tokens.IssuePair(m)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	if method != "refresh" {
		utils.SecurityEvent("login_succeeded").
			Str("channel", "mobile").
			Str("member_id", m.ID).
			Str("method", method).
			Msg("mobile login")
	}
	httpx.WriteJSON(w, http.StatusOK, pair)
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, auth.MemberFrom(r.Context()))
}

package api

import (
	"net/http"

	"github.com/harrylevesque/memberhub/internal/auth"
	"github.com/harrylevesque/memberhub/internal/httpx"
	"github.com/harrylevesque/memberhub/internal/members"
	"github.com/harrylevesque/memberhub/internal/models"
	"github.com/harrylevesque/memberhub/internal/ratelimit"
	"github.com/harrylevesque/memberhub/internal/utils"
)

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var in members.RegisterInput
	if err := httpx.DecodeJSON(w, r, &in); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	ip := utils.ClientIP(r, s.TrustProxy)
	if err := ratelimit.Check(r.Context(), s.Limiter, "register:ip:"+ip); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	m, err := s.Members.Register(r.Context(), in)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, m)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	MFARequired bool           `json:"mfa_required"`
	Member      *models.Member `json:"member,omitempty"`
	CSRFToken   string         `json:"csrf_token,omitempty"`
}

// login checks the password and opens a session. Members with two-factor
// get a pending session that only /auth/2fa accepts.
func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	ctx := r.Context()
	ip := utils.ClientIP(r, s.TrustProxy)
	if err := ratelimit.Check(ctx, s.Limiter, "login:ip:"+ip, "login:email:"+utils.NormalizeEmail(req.Email)); err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	m, err := s.Auth.CheckCredentials(ctx, req.Email, req.Password)
	if err != nil {
		if auth.IsCredentialError(err) {
			utils.SecurityEvent("login_failed").Str("channel", "web").Str("ip", ip).Msg("login rejected")
		}
		httpx.WriteError(w, r, err)
		return
	}
	enabled, err := s.TwoFactor.Enabled(ctx, m.ID)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	if err := s.Auth.Sessions.Begin(w, r, m.ID, enabled); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	if enabled {
		httpx.WriteJSON(w, http.StatusOK, loginResponse{MFARequired: true})
		return
	}
	s.signedIn(w, r, m, "password")
}

type verifyRequest struct {
	Code string `json:"code"`
}

func (s *Server) verify2FA(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	memberID, err := s.Auth.Sessions.PendingMember(r)
	if err != nil {
		httpx.WriteError(w, r, utils.Unauthorized("no_pending_login", "sign in with your password first"))
		return
	}
	ctx := r.Context()
	ip := utils.ClientIP(r, s.TrustProxy)
	if err := ratelimit.Check(ctx, s.Limiter, "2fa:ip:"+ip, "2fa:member:"+memberID); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	method, err := s.TwoFactor.Verify(ctx, memberID, req.Code)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	m, err := s.Auth.ActiveMember(ctx, memberID)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	if _, err := s.Auth.Sessions.CompleteMFA(w, r); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	s.signedIn(w, r, m, string(method))
}

// signedIn rotates the CSRF token and reports the member.
func (s *Server) signedIn(w http.ResponseWriter, r *http.Request, m *models.Member, method string) {
	token, err := auth.SetCSRFToken(w, s.SecureCookies)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	utils.SecurityEvent("login_succeeded").
		Str("channel", "web").
		Str("member_id", m.ID).
		Str("method", method).
		Msg("member signed in")
	httpx.WriteJSON(w, http.StatusOK, loginResponse{Member: m, CSRFToken: token})
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	if err := s.Auth.Sessions.End(w, r); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

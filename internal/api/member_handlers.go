package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/harrylevesque/memberhub/internal/auth"
	"github.com/harrylevesque/memberhub/internal/httpx"
	"github.com/harrylevesque/memberhub/internal/marketplace"
	"github.com/harrylevesque/memberhub/internal/members"
)

func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, auth.MemberFrom(r.Context()))
}

func (s *Server) updateMe(w http.ResponseWriter, r *http.Request) {
	var in members.ProfileUpdate
	if err := httpx.DecodeJSON(w, r, &in); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	m, err := s.Members.UpdateProfile(r.Context(), auth.MemberFrom(r.Context()).ID, in)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, m)
}

func (s *Server) dashboard(w http.ResponseWriter, r *http.Request) {
	d, err := s.Members.Dashboard(r.Context(), auth.MemberFrom(r.Context()).ID)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, d)
}

func (s *Server) myBadges(w http.ResponseWriter, r *http.Request) {
	badges, err := s.Challenges.MemberBadges(r.Context(), auth.MemberFrom(r.Context()).ID)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"badges": orEmpty(badges)})
}

func (s *Server) myOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := s.Marketplace.MemberOrders(r.Context(), auth.MemberFrom(r.Context()).ID)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"orders": orders})
}

type placeOrderRequest struct {
	Items []marketplace.ItemInput `json:"items"`
}

func (s *Server) placeOrder(w http.ResponseWriter, r *http.Request) {
	var req placeOrderRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	o, err := s.Marketplace.PlaceOrder(r.Context(), auth.MemberFrom(r.Context()).ID, req.Items)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, o)
}

func (s *Server) cancelOrder(w http.ResponseWriter, r *http.Request) {
	o, err := s.Marketplace.CancelOrder(r.Context(), auth.MemberFrom(r.Context()).ID, mux.Vars(r)["id"])
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, o)
}

func (s *Server) joinChallenge(w http.ResponseWriter, r *http.Request) {
	p, err := s.Challenges.Join(r.Context(), auth.MemberFrom(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, p)
}

func (s *Server) leaveChallenge(w http.ResponseWriter, r *http.Request) {
	if err := s.Challenges.Leave(r.Context(), auth.MemberFrom(r.Context()), mux.Vars(r)["id"]); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) completeChallenge(w http.ResponseWriter, r *http.Request) {
	res, err := s.Challenges.Complete(r.Context(), auth.MemberFrom(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}

func (s *Server) twoFactorStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.TwoFactor.Status(r.Context(), auth.MemberFrom(r.Context()).ID)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, st)
}

func (s *Server) twoFactorSetup(w http.ResponseWriter, r *http.Request) {
	e, err := s.TwoFactor.Setup(r.Context(), auth.MemberFrom(r.Context()))
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, e)
}

type codeRequest struct {
	Code string `json:"code"`
}

type backupCodesResponse struct {
	BackupCodes []string `json:"backup_codes"`
}

func (s *Server) twoFactorEnable(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	codes, err := s.TwoFactor.Enable(r.Context(), auth.MemberFrom(r.Context()).ID, req.Code)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, backupCodesResponse{BackupCodes: codes})
}

func (s *Server) twoFactorDisable(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	if err := s.TwoFactor.Disable(r.Context(), auth.MemberFrom(r.Context()).ID, req.Code); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) twoFactorBackupCodes(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	codes, err := s.TwoFactor.RegenerateBackupCodes(r.Context(), auth.MemberFrom(r.Context()).ID, req.Code)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, backupCodesResponse{BackupCodes: codes})
}

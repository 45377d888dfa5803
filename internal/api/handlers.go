package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/harrylevesque/memberhub/internal/auth"
	"github.com/harrylevesque/memberhub/internal/httpx"
	"github.com/harrylevesque/memberhub/internal/models"
	"github.com/harrylevesque/memberhub/internal/utils"
)

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// serverTime returns the current server time in RFC3339 format.
func (s *Server) serverTime(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"time": s.Now().UTC().Format(time.RFC3339)})
}

// csrf issues a fresh double-submit token for the dashboard script.
func (s *Server) csrf(w http.ResponseWriter, r *http.Request) {
	token, err := auth.SetCSRFToken(w, s.SecureCookies)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"csrf_token": token})
}

func (s *Server) listNews(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := paging(r)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	posts, err := s.News.List(r.Context(), true, limit, offset)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"posts": posts, "limit": limit, "offset": offset})
}

func (s *Server) getNews(w http.ResponseWriter, r *http.Request) {
	post, err := s.News.BySlug(r.Context(), mux.Vars(r)["slug"])
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, post)
}

func (s *Server) listChallenges(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	status := models.ChallengeStatus(r.URL.Query().Get("status"))
	list, err := s.Challenges.List(r.Context(), status, limit)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"challenges": orEmpty(list)})
}

func (s *Server) getChallenge(w http.ResponseWriter, r *http.Request) {
	c, err := s.Challenges.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, c)
}

func (s *Server) leaderboard(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	entries, err := s.Challenges.Leaderboard(r.Context(), limit)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *Server) listProducts(w http.ResponseWriter, r *http.Request) {
	products, err := s.Marketplace.Products(r.Context(), true)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"products": products})
}

func (s *Server) publicSettings(w http.ResponseWriter, r *http.Request) {
	m, err := s.Settings.Public(r.Context())
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, m)
}

// queryInt reads an optional non-negative integer query parameter.
func queryInt(r *http.Request, name string) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, utils.Validation("invalid_"+name, name+" must be a non-negative integer")
	}
	return n, nil
}

func paging(r *http.Request) (limit, offset int, err error) {
	if limit, err = queryInt(r, "limit"); err != nil {
		return 0, 0, err
	}
	if offset, err = queryInt(r, "offset"); err != nil {
		return 0, 0, err
	}
	return limit, offset, nil
}

func orEmpty[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

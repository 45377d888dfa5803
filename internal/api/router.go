// Package api wires the memberhub HTTP surface: public pages, web session
// auth, the member dashboard API and the admin back-office.
package api

import (
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gorilla/mux"

	"github.com/harrylevesque/memberhub/internal/auth"
	"github.com/harrylevesque/memberhub/internal/challenges"
	"github.com/harrylevesque/memberhub/internal/httpx"
	"github.com/harrylevesque/memberhub/internal/marketplace"
	"github.com/harrylevesque/memberhub/internal/members"
	"github.com/harrylevesque/memberhub/internal/mobile"
	"github.com/harrylevesque/memberhub/internal/models"
	"github.com/harrylevesque/memberhub/internal/news"
	"github.com/harrylevesque/memberhub/internal/ratelimit"
	"github.com/harrylevesque/memberhub/internal/settings"
	"github.com/harrylevesque/memberhub/internal/twofactor"
	"github.com/harrylevesque/memberhub/internal/utils"
)

// Deps are the services behind the HTTP handlers.
type Deps struct {
	Auth        *auth.Authenticator
	Members     *members.Service
	TwoFactor   *twofactor.Service
	Challenges  *challenges.Service
	Marketplace *marketplace.Service
	News        *news.Service
	Settings    *settings.Service
	Limiter     ratelimit.Limiter

	StaticDir     string
	TrustProxy    bool
	SecureCookies bool
	// Now defaults to time.Now.
	Now func() time.Time
}

type Server struct {
	Deps
}

func NewRouter(d Deps) *mux.Router {
	if d.Now == nil {
		d.Now = time.Now
	}
	s := &Server{Deps: d}

	r := mux.NewRouter()
	r.Use(httpx.RequestID, httpx.Logging, httpx.Recover, httpx.SecurityHeaders)
	r.NotFoundHandler = http.HandlerFunc(notFound)
	r.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowed)

	r.HandleFunc("/health", s.health).Methods(http.MethodGet)
	r.HandleFunc("/time", s.serverTime).Methods(http.MethodGet)

	pub := r.PathPrefix("/api").Subrouter()
	pub.HandleFunc("/csrf", s.csrf).Methods(http.MethodGet)
	pub.HandleFunc("/news", s.listNews).Methods(http.MethodGet)
	pub.HandleFunc("/news/{slug}", s.getNews).Methods(http.MethodGet)
	pub.HandleFunc("/challenges", s.listChallenges).Methods(http.MethodGet)
	pub.HandleFunc("/challenges/{id}", s.getChallenge).Methods(http.MethodGet)
	pub.HandleFunc("/leaderboard", s.leaderboard).Methods(http.MethodGet)
	pub.HandleFunc("/products", s.listProducts).Methods(http.MethodGet)
	pub.HandleFunc("/settings/public", s.publicSettings).Methods(http.MethodGet)

	authR := r.PathPrefix("/auth").Subrouter()
	authR.HandleFunc("/register", s.register).Methods(http.MethodPost)
	authR.HandleFunc("/login", s.login).Methods(http.MethodPost)
	authR.HandleFunc("/2fa", s.verify2FA).Methods(http.MethodPost)
	authR.HandleFunc("/logout", s.logout).Methods(http.MethodPost)

	member := func(h http.HandlerFunc) http.Handler {
		return d.Auth.RequireMember(auth.RequireCSRF(h))
	}
	pub.Handle("/me", member(s.me)).Methods(http.MethodGet)
	pub.Handle("/me", member(s.updateMe)).Methods(http.MethodPatch)
	pub.Handle("/me/dashboard", member(s.dashboard)).Methods(http.MethodGet)
	pub.Handle("/me/badges", member(s.myBadges)).Methods(http.MethodGet)
	pub.Handle("/me/orders", member(s.myOrders)).Methods(http.MethodGet)
	pub.Handle("/me/2fa", member(s.twoFactorStatus)).Methods(http.MethodGet)
	pub.Handle("/me/2fa/setup", member(s.twoFactorSetup)).Methods(http.MethodPost)
	pub.Handle("/me/2fa/enable", member(s.twoFactorEnable)).Methods(http.MethodPost)
	pub.Handle("/me/2fa/disable", member(s.twoFactorDisable)).Methods(http.MethodPost)
	pub.Handle("/me/2fa/backup-codes", member(s.twoFactorBackupCodes)).Methods(http.MethodPost)
	pub.Handle("/orders", member(s.placeOrder)).Methods(http.MethodPost)
	pub.Handle("/orders/{id}/cancel", member(s.cancelOrder)).Methods(http.MethodPost)
	pub.Handle("/challenges/{id}/join", member(s.joinChallenge)).Methods(http.MethodPost)
	pub.Handle("/challenges/{id}/leave", member(s.leaveChallenge)).Methods(http.MethodPost)
	pub.Handle("/challenges/{id}/complete", member(s.completeChallenge)).Methods(http.MethodPost)

	mobile.New(d.Auth, d.TwoFactor, d.Limiter, d.TrustProxy).Register(pub.PathPrefix("/mobile").Subrouter())

	// Moderators reach the admin subrouter for news and challenges only.
	admin := pub.PathPrefix("/admin").Subrouter()
	admin.Use(d.Auth.RequireMember, auth.RequireCSRF, auth.RequireRole(models.RoleAdmin, models.RoleModerator))
	adminOnly := func(h http.HandlerFunc) http.Handler {
		return auth.RequireRole(models.RoleAdmin)(h)
	}

	admin.Handle("/members", adminOnly(s.adminListMembers)).Methods(http.MethodGet)
	admin.Handle("/members/import", adminOnly(s.adminImportMembers)).Methods(http.MethodPost)
	admin.Handle("/members/{id}", adminOnly(s.adminGetMember)).Methods(http.MethodGet)
	admin.Handle("/members/{id}/role", adminOnly(s.adminSetRole)).Methods(http.MethodPut)
	admin.Handle("/members/{id}/status", adminOnly(s.adminSetStatus)).Methods(http.MethodPut)

	admin.HandleFunc("/news", s.adminListNews).Methods(http.MethodGet)
	admin.HandleFunc("/news", s.adminCreateNews).Methods(http.MethodPost)
	admin.HandleFunc("/news/{id}", s.adminUpdateNews).Methods(http.MethodPut)
	admin.HandleFunc("/news/{id}", s.adminDeleteNews).Methods(http.MethodDelete)
	admin.HandleFunc("/news/{id}/publish", s.adminPublishNews).Methods(http.MethodPost)
	admin.HandleFunc("/news/{id}/unpublish", s.adminUnpublishNews).Methods(http.MethodPost)

	admin.Handle("/settings", adminOnly(s.adminListSettings)).Methods(http.MethodGet)
	admin.Handle("/settings/{key}", adminOnly(s.adminPutSetting)).Methods(http.MethodPut)
	admin.Handle("/settings/{key}", adminOnly(s.adminDeleteSetting)).Methods(http.MethodDelete)

	admin.HandleFunc("/challenges", s.adminCreateChallenge).Methods(http.MethodPost)
	admin.HandleFunc("/challenges/sync", s.adminSyncChallenges).Methods(http.MethodPost)
	admin.HandleFunc("/challenges/{id}", s.adminUpdateChallenge).Methods(http.MethodPut)
	admin.HandleFunc("/challenges/{id}/status", s.adminChallengeStatus).Methods(http.MethodPost)
	admin.HandleFunc("/badges", s.adminListBadges).Methods(http.MethodGet)
	admin.HandleFunc("/badges", s.adminCreateBadge).Methods(http.MethodPost)

	admin.Handle("/products", adminOnly(s.adminCreateProduct)).Methods(http.MethodPost)
	admin.Handle("/products/{id}", adminOnly(s.adminUpdateProduct)).Methods(http.MethodPut)
	admin.Handle("/orders", adminOnly(s.adminListOrders)).Methods(http.MethodGet)
	admin.Handle("/orders/{id}/status", adminOnly(s.adminOrderStatus)).Methods(http.MethodPost)

	// Unmatched API paths get a JSON 404 instead of the static site.
	pub.PathPrefix("/").HandlerFunc(notFound)

	if d.StaticDir != "" {
		r.PathPrefix("/").Handler(staticSite(d.StaticDir)).Methods(http.MethodGet, http.MethodHead)
	}
	return r
}

// staticSite serves the marketing pages. Paths that do not exist fall back
// to index.html so client-side routes resolve.
func staticSite(dir string) http.Handler {
	files := http.FileServer(http.Dir(dir))
	index := filepath.Join(dir, "index.html")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := filepath.Join(dir, filepath.FromSlash(filepath.Clean("/"+r.URL.Path)))
		if info, err := os.Stat(name); err != nil || (info.IsDir() && r.URL.Path != "/") {
			http.ServeFile(w, r, index)
			return
		}
		files.ServeHTTP(w, r)
	})
}

func notFound(w http.ResponseWriter, r *http.Request) {
	httpx.WriteError(w, r, utils.NotFound("route_not_found", "no such endpoint"))
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusMethodNotAllowed, map[string]map[string]string{"error": {
		"code":    "method_not_allowed",
		"message": "method not allowed",
	}})
}

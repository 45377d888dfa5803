// Package app wires configuration, backends and services into a running
// memberhub server.
package app

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/harrylevesque/memberhub/internal/api"
	"github.com/harrylevesque/memberhub/internal/auth"
	"github.com/harrylevesque/memberhub/internal/cache"
	"github.com/harrylevesque/memberhub/internal/certs"
	"github.com/harrylevesque/memberhub/internal/challenges"
	"github.com/harrylevesque/memberhub/internal/config"
	"github.com/harrylevesque/memberhub/internal/crypto"
	"github.com/harrylevesque/memberhub/internal/marketplace"
	"github.com/harrylevesque/memberhub/internal/members"
	"github.com/harrylevesque/memberhub/internal/news"
	"github.com/harrylevesque/memberhub/internal/ratelimit"
	"github.com/harrylevesque/memberhub/internal/settings"
	"github.com/harrylevesque/memberhub/internal/store"
	"github.com/harrylevesque/memberhub/internal/twofactor"
	"github.com/harrylevesque/memberhub/internal/utils"
)

// ShutdownTimeout bounds how long in-flight requests get after a stop
// signal.
const ShutdownTimeout = 15 * time.Second

// Backends are the shared stateful dependencies of the server and the
// maintenance commands.
type Backends struct {
	Store   *store.Store
	Cache   cache.Cache
	Limiter ratelimit.Limiter

	closers []func()
}

// OpenBackends connects to Postgres and, when configured, Redis. Without
// Redis the cache and rate limiter are process-local.
func OpenBackends(ctx context.Context, cfg *config.Config) (*Backends, error) {
	st, err := store.Open(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		return nil, err
	}
	b := &Backends{Store: st}
	b.closers = append(b.closers, st.Close)

	if cfg.Redis.Addr == "" {
		mem := ratelimit.NewMemory(cfg.RateLimit.LoginPerWindow, cfg.RateLimit.Window)
		b.closers = append(b.closers, func() { _ = mem.Close() })
		b.Cache = cache.NewMemory()
		b.Limiter = mem
		log.Info().Msg("redis not configured, using in-memory cache and rate limiter")
		return b, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	b.closers = append(b.closers, func() { _ = rdb.Close() })
	if err := rdb.Ping(ctx).Err(); err != nil {
		b.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Redis.Addr, err)
	}
	b.Cache = cache.NewRedis(rdb)
	b.Limiter = ratelimit.NewRedis(rdb, cfg.RateLimit.LoginPerWindow, cfg.RateLimit.Window)
	log.Info().Str("addr", cfg.Redis.Addr).Msg("redis connected")
	return b, nil
}

// Close releases backends in reverse order of opening.
func (b *Backends) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
	b.closers = nil
}

// NewHandler builds every service on top of b and returns the HTTP router.
func NewHandler(cfg *config.Config, b *Backends) (http.Handler, error) {
	master, err := crypto.ReadMasterKey(cfg.Auth.MasterKeyHex, utils.ResolvePath(cfg.Auth.MasterKeyFile))
	if err != nil {
		return nil, err
	}
	sealer, err := crypto.NewSealerFromMaster(master, "totp")
	if err != nil {
		return nil, err
	}

	sessions := auth.NewSessions([]byte(cfg.Auth.SessionKey), cfg.Auth.SessionMaxAge, cfg.Auth.MFATTL, cfg.Auth.SecureCookies)
	tokens := auth.NewTokens([]byte(cfg.Auth.JWTSecret), cfg.Auth.Issuer,
		cfg.Auth.AccessTTL, cfg.Auth.RefreshTTL, cfg.Auth.MFATTL)

	ch := challenges.NewService(b.Store, b.Cache, cfg.Leaderboard.CacheTTL)
	mem := members.NewService(b.Store, b.Store)
	mem.SetLeaderboard(ch)

	return api.NewRouter(api.Deps{
		Auth:          auth.NewAuthenticator(b.Store, sessions, tokens),
		Members:       mem,
		TwoFactor:     twofactor.NewService(b.Store, sealer, cfg.Auth.Issuer),
		Challenges:    ch,
		Marketplace:   marketplace.NewService(b.Store),
		News:          news.NewService(b.Store),
		Settings:      settings.NewService(b.Store),
		Limiter:       b.Limiter,
		StaticDir:     utils.ResolvePath(cfg.HTTP.StaticDir),
		TrustProxy:    cfg.HTTP.TrustProxy,
		SecureCookies: cfg.Auth.SecureCookies,
	}), nil
}

// NewServer returns an http.Server for h using the configured timeouts and,
// when both files are set, the TLS key pair.
func NewServer(cfg *config.Config, h http.Handler) (*http.Server, error) {
	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           h,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
	}
	if cfg.HTTP.TLSCert == "" {
		return srv, nil
	}
	pair, err := certs.Load(utils.ResolvePath(cfg.HTTP.TLSCert), utils.ResolvePath(cfg.HTTP.TLSKey))
	if err != nil {
		return nil, err
	}
	srv.TLSConfig = &tls.Config{
		Certificates: []tls.Certificate{*pair},
		MinVersion:   tls.VersionTLS12,
	}
	return srv, nil
}

// Serve runs srv until ctx is cancelled, then shuts it down gracefully.
// A listener failure cancels the shutdown watcher and is returned.
func Serve(ctx context.Context, srv *http.Server) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if srv.TLSConfig != nil {
			log.Info().Str("addr", srv.Addr).Msg("listening (tls)")
			err = srv.ListenAndServeTLS("", "")
		} else {
			log.Info().Str("addr", srv.Addr).Msg("listening")
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		log.Info().Msg("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// Run opens the backends, migrates the schema and serves until ctx is
// cancelled.
func Run(ctx context.Context, cfg *config.Config) error {
	b, err := OpenBackends(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.Close()

	if err := b.Store.Migrate(ctx); err != nil {
		return err
	}
	h, err := NewHandler(cfg, b)
	if err != nil {
		return err
	}
	srv, err := NewServer(cfg, h)
	if err != nil {
		return err
	}
	return Serve(ctx, srv)
}

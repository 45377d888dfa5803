package mobile

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/crypto/bcrypt"

	"github.com/harrylevesque/memberhub/internal/auth"
	"github.com/harrylevesque/memberhub/internal/crypto"
	"github.com/harrylevesque/memberhub/internal/models"
	"github.com/harrylevesque/memberhub/internal/ratelimit"
	"github.com/harrylevesque/memberhub/internal/testutil"
	"github.com/harrylevesque/memberhub/internal/twofactor"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const password = "correct horse battery"

var key = []byte("0123456789abcdef0123456789abcdef")

type fixture struct {
	router *mux.Router
	store  *testutil.MemStore
	tokens *auth.Tokens
	tf     *twofactor.Service
	clock  *testutil.Clock
}

func newFixture(t *testing.T, loginLimit int) *fixture {
	t.Helper()
	store := testutil.NewMemStore()
	clock := testutil.NewClock(time.Now().UTC().Truncate(time.Second))
	tokens := auth.NewTokens(key, "memberhub", 15*time.Minute, time.Hour, 5*time.Minute)
	tokens.SetClock(clock.Now)
	sealer, err := crypto.NewSealer(key)
	require.NoError(t, err)
	tf := twofactor.NewService(store, sealer, "memberhub", twofactor.WithClock(clock.Now), twofactor.WithBackupCodeCost(bcrypt.MinCost))
	limiter := ratelimit.NewMemory(loginLimit, time.Minute)
	t.Cleanup(func() { limiter.Close() })

	a := auth.NewAuthenticator(store, nil, tokens)
	r := mux.NewRouter()
	New(a, tf, limiter, false).Register(r.PathPrefix("/api/mobile").Subrouter())

	hash, err := auth.HashPassword(password)
	require.NoError(t, err)
	require.NoError(t, store.CreateMember(context.Background(), &models.Member{
		ID: "ana", Email: "ana@example.org", FirstName: "Ana", Status: models.StatusActive,
		Role: models.RoleMember, PasswordHash: hash,
	}))
	return &fixture{router: r, store: store, tokens: tokens, tf: tf, clock: clock}
}

func (f *fixture) post(t *testing.T, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	var out map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &out)
	return rec, out
}

func errorCode(body map[string]any) string {
	e, _ := body["error"].(map[string]any)
	code, _ := e["code"].(string)
	return code
}

func TestLoginWithoutTwoFactor(t *testing.T) {
	f := newFixture(t, 10)

	rec, body := f.post(t, "/api/mobile/auth/login", map[string]string{"email": "ANA@example.org", "password": password})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotEmpty(t, body["access_token"])
	assert.NotEmpty(t, body["refresh_token"])
	assert.EqualValues(t, 900, body["expires_in"])

	req := httptest.NewRequest(http.MethodGet, "/api/mobile/me", nil)
	req.Header.Set("Authorization", "Bearer "+body["access_token"].(string))
	me := httptest.NewRecorder()
	f.router.ServeHTTP(me, req)
	require.Equal(t, http.StatusOK, me.Code)
	assert.Contains(t, me.Body.String(), `"email":"ana@example.org"`)
	assert.NotContains(t, me.Body.String(), "password")

	rec, body = f.post(t, "/api/mobile/auth/login", map[string]string{"email": "ana@example.org", "password": "wrong password!"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid_credentials", errorCode(body))
}

func TestLoginWithTwoFactor(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()
	m, err := f.store.GetMember(ctx, "ana")
	require.NoError(t, err)
	e, err := f.tf.Setup(ctx, m)
	require.NoError(t, err)
	code, err := totp.GenerateCode(e.Secret, f.clock.Now())
	require.NoError(t, err)
	backup, err := f.tf.Enable(ctx, m.ID, code)
	require.NoError(t, err)

	rec, body := f.post(t, "/api/mobile/auth/login", map[string]string{"email": "ana@example.org", "password": password})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["mfa_required"])
	assert.Nil(t, body["access_token"])
	mfaToken := body["mfa_token"].(string)

	// the mfa token is not an access token
	req := httptest.NewRequest(http.MethodGet, "/api/mobile/me", nil)
	req.Header.Set("Authorization", "Bearer "+mfaToken)
	me := httptest.NewRecorder()
	f.router.ServeHTTP(me, req)
	assert.Equal(t, http.StatusUnauthorized, me.Code)

	rec, body = f.post(t, "/api/mobile/auth/2fa", map[string]string{"mfa_token": mfaToken, "code": "000000"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid_2fa_code", errorCode(body))

	rec, body = f.post(t, "/api/mobile/auth/2fa", map[string]string{"mfa_token": mfaToken, "code": backup[0]})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotEmpty(t, body["access_token"])

	f.clock.Advance(6 * time.Minute)
	rec, body = f.post(t, "/api/mobile/auth/2fa", map[string]string{"mfa_token": mfaToken, "code": backup[1]})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "token_expired", errorCode(body))
}

func TestRefresh(t *testing.T) {
	f := newFixture(t, 10)
	m, err := f.store.GetMember(context.Background(), "ana")
	require.NoError(t, err)
	pair, err := f.tokens.IssuePair(m)
	require.NoError(t, err)

	rec, body := f.post(t, "/api/mobile/auth/refresh", map[string]string{"refresh_token": pair.AccessToken})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "wrong_token_type", errorCode(body))

	rec, body = f.post(t, "/api/mobile/auth/refresh", map[string]string{"refresh_token": pair.RefreshToken})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, body["access_token"])

	m.Status = models.StatusSuspended
	require.NoError(t, f.store.UpdateMember(context.Background(), m))
	rec, body = f.post(t, "/api/mobile/auth/refresh", map[string]string{"refresh_token": pair.RefreshToken})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "account_suspended", errorCode(body))
}

func TestLoginRateLimited(t *testing.T) {
	f := newFixture(t, 2)
	creds := map[string]string{"email": "ana@example.org", "password": "not the password"}

	for i := 0; i < 2; i++ {
		rec, _ := f.post(t, "/api/mobile/auth/login", creds)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	}
	rec, body := f.post(t, "/api/mobile/auth/login", creds)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "rate_limited", errorCode(body))
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestLoginRejectsUnknownFields(t *testing.T) {
	f := newFixture(t, 10)
	rec, body := f.post(t, "/api/mobile/auth/login", map[string]string{"email": "a@b.c", "password": "x", "remember": "yes"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_json", errorCode(body))
}

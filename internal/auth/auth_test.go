package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrylevesque/memberhub/internal/models"
	"github.com/harrylevesque/memberhub/internal/testutil"
	"github.com/harrylevesque/memberhub/internal/utils"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

func seedMember(t *testing.T, store *testutil.MemStore, email, password string, role models.Role) *models.Member {
	t.Helper()
	hash, err := HashPassword(password)
	require.NoError(t, err)
	m := &models.Member{
		ID: email, Email: email, FirstName: "Test", Status: models.StatusActive,
		Role: role, PasswordHash: hash, CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	require.NoError(t, store.CreateMember(context.Background(), m))
	return m
}

func withCookies(r *http.Request, rec *httptest.ResponseRecorder) *http.Request {
	for _, c := range rec.Result().Cookies() {
		r.AddCookie(c)
	}
	return r
}

func TestValidatePassword(t *testing.T) {
	assert.Error(t, ValidatePassword("short"))
	assert.NoError(t, ValidatePassword("long enough pw"))
	assert.Error(t, ValidatePassword(string(make([]byte, 80))))
}

func TestHashPassword(t *testing.T) {
	hash, err := HashPassword("correct horse battery")
	require.NoError(t, err)
	assert.True(t, CheckPasswordHash("correct horse battery", hash))
	assert.False(t, CheckPasswordHash("wrong horse battery", hash))
	assert.False(t, CheckPasswordHash("anything", ""))
}

func TestCheckCredentials(t *testing.T) {
	store := testutil.NewMemStore()
	m := seedMember(t, store, "ana@example.org", "correct horse battery", models.RoleMember)
	a := NewAuthenticator(store, nil, nil)
	ctx := context.Background()

	got, err := a.CheckCredentials(ctx, " ANA@example.org ", "correct horse battery")
	require.NoError(t, err)
	assert.Equal(t, m.ID, got.ID)

	_, err = a.CheckCredentials(ctx, "ana@example.org", "wrong password!")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = a.CheckCredentials(ctx, "nobody@example.org", "correct horse battery")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	m.Status = models.StatusSuspended
	require.NoError(t, store.UpdateMember(ctx, m))
	_, err = a.CheckCredentials(ctx, "ana@example.org", "correct horse battery")
	assert.Equal(t, "account_suspended", utils.CodeOf(err))
	assert.True(t, IsCredentialError(err))
}

func TestTokens(t *testing.T) {
	clock := testutil.NewClock(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	tokens := NewTokens(testKey, "memberhub", 15*time.Minute, 24*time.Hour, 5*time.Minute)
	tokens.SetClock(clock.Now)
	m := &models.Member{ID: "m1", Role: models.RoleModerator}

	pair, err := tokens.IssuePair(m)
	require.NoError(t, err)
	assert.Equal(t, "Bearer", pair.TokenType)

	claims, err := tokens.Parse(pair.AccessToken, TokenAccess)
	require.NoError(t, err)
	assert.Equal(t, "m1", claims.Subject)
	assert.Equal(t, models.RoleModerator, claims.Role)

	_, err = tokens.Parse(pair.RefreshToken, TokenAccess)
	assert.Equal(t, "wrong_token_type", utils.CodeOf(err))

	clock.Advance(16 * time.Minute)
	_, err = tokens.Parse(pair.AccessToken, TokenAccess)
	assert.Equal(t, "token_expired", utils.CodeOf(err))
	_, err = tokens.Parse(pair.RefreshToken, TokenRefresh)
	assert.NoError(t, err)

	other := NewTokens([]byte("another-secret-another-secret!!"), "memberhub", time.Minute, time.Minute, time.Minute)
	other.SetClock(clock.Now)
	forged, _, err := other.Issue(m, TokenAccess)
	require.NoError(t, err)
	_, err = tokens.Parse(forged, TokenAccess)
	assert.Equal(t, "invalid_token", utils.CodeOf(err))

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{Type: TokenAccess,
		RegisteredClaims: jwt.RegisteredClaims{Subject: "m1", Issuer: "memberhub"}}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = tokens.Parse(none, TokenAccess)
	assert.True(t, utils.IsKind(err, utils.KindUnauthorized))
}

func TestExtractTokenFromHeader(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Empty(t, ExtractTokenFromHeader(r))
	r.Header.Set("Authorization", "Basic abc")
	assert.Empty(t, ExtractTokenFromHeader(r))
	r.Header.Set("Authorization", "bearer abc.def")
	assert.Equal(t, "abc.def", ExtractTokenFromHeader(r))
}

func TestSessions_MFAFlow(t *testing.T) {
	clock := testutil.NewClock(time.Now())
	s := NewSessions(testKey, time.Hour, 5*time.Minute, false)
	s.now = clock.Now

	rec := httptest.NewRecorder()
	require.NoError(t, s.Begin(rec, httptest.NewRequest(http.MethodPost, "/auth/login", nil), "m1", true))

	r := withCookies(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	_, err := s.AuthenticatedMember(r)
	assert.ErrorIs(t, err, ErrMFAPending)
	id, err := s.PendingMember(r)
	require.NoError(t, err)
	assert.Equal(t, "m1", id)

	rec2 := httptest.NewRecorder()
	id, err = s.CompleteMFA(rec2, withCookies(httptest.NewRequest(http.MethodPost, "/auth/2fa", nil), rec))
	require.NoError(t, err)
	assert.Equal(t, "m1", id)

	r = withCookies(httptest.NewRequest(http.MethodGet, "/", nil), rec2)
	id, err = s.AuthenticatedMember(r)
	require.NoError(t, err)
	assert.Equal(t, "m1", id)

	rec3 := httptest.NewRecorder()
	require.NoError(t, s.End(rec3, withCookies(httptest.NewRequest(http.MethodPost, "/auth/logout", nil), rec2)))
	cookies := rec3.Result().Cookies()
	require.NotEmpty(t, cookies)
	assert.Less(t, cookies[0].MaxAge, 0)
}

func TestSessions_PendingExpires(t *testing.T) {
	clock := testutil.NewClock(time.Now())
	s := NewSessions(testKey, time.Hour, 5*time.Minute, false)
	s.now = clock.Now

	rec := httptest.NewRecorder()
	require.NoError(t, s.Begin(rec, httptest.NewRequest(http.MethodPost, "/", nil), "m1", true))
	clock.Advance(6 * time.Minute)

	_, err := s.PendingMember(withCookies(httptest.NewRequest(http.MethodGet, "/", nil), rec))
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSessions_TamperedCookie(t *testing.T) {
	s := NewSessions(testKey, time.Hour, 5*time.Minute, false)
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(&http.Cookie{Name: sessionName, Value: "forged"})
	_, err := s.AuthenticatedMember(r)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRequireMember(t *testing.T) {
	store := testutil.NewMemStore()
	m := seedMember(t, store, "ana@example.org", "correct horse battery", models.RoleMember)
	sessions := NewSessions(testKey, time.Hour, 5*time.Minute, false)
	tokens := NewTokens(testKey, "memberhub", time.Minute, time.Hour, time.Minute)
	a := NewAuthenticator(store, sessions, tokens)

	var seen Principal
	h := a.RequireMember(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = PrincipalFrom(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/me", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	access, _, err := tokens.Issue(m, TokenAccess)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set("Authorization", "Bearer "+access)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, ViaBearer, seen.Via)
	assert.Equal(t, m.ID, seen.Member.ID)

	login := httptest.NewRecorder()
	require.NoError(t, sessions.Begin(login, httptest.NewRequest(http.MethodPost, "/", nil), m.ID, true))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, withCookies(httptest.NewRequest(http.MethodGet, "/api/me", nil), login))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "mfa_required")

	login = httptest.NewRecorder()
	require.NoError(t, sessions.Begin(login, httptest.NewRequest(http.MethodPost, "/", nil), m.ID, false))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, withCookies(httptest.NewRequest(http.MethodGet, "/api/me", nil), login))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, ViaSession, seen.Via)

	m.Status = models.StatusSuspended
	require.NoError(t, store.UpdateMember(context.Background(), m))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, withCookies(httptest.NewRequest(http.MethodGet, "/api/me", nil), login))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRequireRole(t *testing.T) {
	h := RequireRole(models.RoleAdmin, models.RoleModerator)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	serve := func(role models.Role) int {
		r := httptest.NewRequest(http.MethodGet, "/api/admin/news", nil)
		if role != "" {
			r = r.WithContext(WithPrincipal(r.Context(), Principal{Member: &models.Member{ID: "x", Role: role}}))
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, r)
		return rec.Code
	}
	assert.Equal(t, http.StatusNoContent, serve(models.RoleModerator))
	assert.Equal(t, http.StatusNoContent, serve(models.RoleAdmin))
	assert.Equal(t, http.StatusForbidden, serve(models.RoleMember))
	assert.Equal(t, http.StatusUnauthorized, serve(""))
}

func TestRequireCSRF(t *testing.T) {
	h := RequireCSRF(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	token, err := SetCSRFToken(rec, false)
	require.NoError(t, err)
	assert.Len(t, token, 64)

	rec2 := httptest.NewRecorder()
	h.ServeHTTP(rec2, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNoContent, rec2.Code)

	rec2 = httptest.NewRecorder()
	h.ServeHTTP(rec2, withCookies(httptest.NewRequest(http.MethodPost, "/", nil), rec))
	assert.Equal(t, http.StatusForbidden, rec2.Code)

	req := withCookies(httptest.NewRequest(http.MethodPost, "/", nil), rec)
	req.Header.Set(CSRFHeader, token)
	rec2 = httptest.NewRecorder()
	h.ServeHTTP(rec2, req)
	assert.Equal(t, http.StatusNoContent, rec2.Code)

	req = withCookies(httptest.NewRequest(http.MethodPost, "/", nil), rec)
	req.Header.Set(CSRFHeader, "nope")
	rec2 = httptest.NewRecorder()
	h.ServeHTTP(rec2, req)
	assert.Equal(t, http.StatusForbidden, rec2.Code)

	req = httptest.NewRequest(http.MethodPost, "/", nil)
	req = req.WithContext(WithPrincipal(req.Context(), Principal{Member: &models.Member{ID: "x"}, Via: ViaBearer}))
	rec2 = httptest.NewRecorder()
	h.ServeHTTP(rec2, req)
	assert.Equal(t, http.StatusNoContent, rec2.Code)
}

func TestTokens_TypeClaim(t *testing.T) {
	tokens := NewTokens(testKey, "memberhub", 15*time.Minute, 24*time.Hour, 5*time.Minute)
	signed, _, err := tokens.Issue(&models.Member{ID: "m1", Role: models.RoleMember}, TokenMFA)
	require.NoError(t, err)

	raw := jwt.MapClaims{}
	_, _, err = jwt.NewParser().ParseUnverified(signed, raw)
	require.NoError(t, err)
	assert.Equal(t, "mfa", raw["typ"])
	assert.NotContains(t, raw, "token_type")
	assert.Equal(t, "m1", raw["sub"])
}

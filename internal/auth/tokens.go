package auth

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/harrylevesque/memberhub/internal/models"
	"github.com/harrylevesque/memberhub/internal/utils"
)

// TokenType separates the three kinds of bearer token so one can never be
// used in place of another.
type TokenType string

const (
	TokenAccess  TokenType = "access"
	TokenRefresh TokenType = "refresh"
	TokenMFA     TokenType = "mfa"
)

// Claims are the JWT claims issued to the mobile app.
type Claims struct {
	Type TokenType   `json:"typ"`
	Role models.Role `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// TokenPair is returned by a successful mobile login or refresh.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	ExpiresIn        int64     `json:"expires_in"`
	ExpiresAt        time.Time `json:"expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// Tokens issues and verifies HS256 tokens.
type Tokens struct {
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	mfaTTL     time.Duration
	now        func() time.Time
}

// NewTokens creates a token issuer.
func NewTokens(secret []byte, issuer string, accessTTL, refreshTTL, mfaTTL time.Duration) *Tokens {
	return &Tokens{
		secret:     secret,
		issuer:     issuer,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		mfaTTL:     mfaTTL,
		now:        time.Now,
	}
}

// SetClock replaces the time source.
func (t *Tokens) SetClock(now func() time.Time) { t.now = now }

// TTL is the lifetime of tokens of type typ.
func (t *Tokens) TTL(typ TokenType) time.Duration {
	switch typ {
	case TokenRefresh:
		return t.refreshTTL
	case TokenMFA:
		return t.mfaTTL
	}
	return t.accessTTL
}

// Issue signs a token of the given type for m.
func (t *Tokens) Issue(m *models.Member, typ TokenType) (string, time.Time, error) {
	now := t.now()
	exp := now.Add(t.TTL(typ))
	claims := Claims{
		Type: typ,
		Role: m.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   m.ID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// IssuePair signs a fresh access and refresh token.
func (t *Tokens) IssuePair(m *models.Member) (*TokenPair, error) {
	access, accessExp, err := t.Issue(m, TokenAccess)
	if err != nil {
		return nil, err
	}
	refresh, refreshExp, err := t.Issue(m, TokenRefresh)
	if err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		TokenType:        "Bearer",
		ExpiresIn:        int64(t.accessTTL.Seconds()),
		ExpiresAt:        accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// Parse verifies a token and checks that it is of the wanted type.
func (t *Tokens) Parse(token string, want TokenType) (*Claims, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (interface{}, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(t.issuer),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, utils.Wrap(utils.KindUnauthorized, err, "token_expired", "token has expired")
		}
		return nil, utils.Wrap(utils.KindUnauthorized, err, "invalid_token", "token is invalid")
	}
	if claims.ExpiresAt == nil || claims.Subject == "" {
		return nil, utils.Unauthorized("invalid_token", "token is invalid")
	}
	if claims.Type != want {
		return nil, utils.Unauthorized("wrong_token_type", "token cannot be used here")
	}
	return &claims, nil
}

// ExtractTokenFromHeader extracts the token from the Authorization header.
func ExtractTokenFromHeader(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(authHeader, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

package auth

import (
	"crypto/sha256"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/sessions"
)

const sessionName = "memberhub_session"

var (
	// ErrSessionNotFound is returned when the request carries no usable session.
	ErrSessionNotFound = errors.New("session not found")
	// ErrMFAPending is returned when a session still awaits its second factor.
	ErrMFAPending = errors.New("second factor pending")
)

// SessionState is what the session cookie says about its holder.
type SessionState struct {
	MemberID      string
	Authenticated bool
	MFAPending    bool
	// IssuedAt bounds how long an MFA-pending session stays usable.
	IssuedAt time.Time
}

// Sessions wraps a gorilla session store for the web dashboard.
type Sessions struct {
	store  sessions.Store
	mfaTTL time.Duration
	now    func() time.Time
}

// NewSessions builds a cookie store from key. The signing key is key itself
// and the encryption key is derived from it.
func NewSessions(key []byte, maxAge, mfaTTL time.Duration, secure bool) *Sessions {
	block := sha256.Sum256(append([]byte("memberhub/session-encryption/"), key...))
	store := sessions.NewCookieStore(key, block[:])
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   int(maxAge.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
	store.MaxAge(int(maxAge.Seconds()))
	return NewSessionsWithStore(store, mfaTTL)
}

// NewSessionsWithStore uses an existing store.
func NewSessionsWithStore(store sessions.Store, mfaTTL time.Duration) *Sessions {
	return &Sessions{store: store, mfaTTL: mfaTTL, now: time.Now}
}

// Begin starts a fresh session for memberID. With mfaPending the session
// only unlocks the second-factor endpoint until CompleteMFA is called.
func (s *Sessions) Begin(w http.ResponseWriter, r *http.Request, memberID string, mfaPending bool) error {
	sess, err := s.store.New(r, sessionName)
	if sess == nil {
		return err
	}
	// a stale or tampered cookie yields an error alongside a usable new session
	sess.Values = map[interface{}]interface{}{
		"member_id":     memberID,
		"authenticated": !mfaPending,
		"mfa_pending":   mfaPending,
		"issued_at":     s.now().Unix(),
	}
	sess.IsNew = true
	return sess.Save(r, w)
}

// Current returns the session state of r.
func (s *Sessions) Current(r *http.Request) (SessionState, error) {
	sess, err := s.store.Get(r, sessionName)
	if err != nil || sess == nil || sess.IsNew {
		return SessionState{}, ErrSessionNotFound
	}
	id, _ := sess.Values["member_id"].(string)
	if id == "" {
		return SessionState{}, ErrSessionNotFound
	}
	authenticated, _ := sess.Values["authenticated"].(bool)
	pending, _ := sess.Values["mfa_pending"].(bool)
	issued, _ := sess.Values["issued_at"].(int64)
	st := SessionState{
		MemberID:      id,
		Authenticated: authenticated,
		MFAPending:    pending,
		IssuedAt:      time.Unix(issued, 0),
	}
	if st.MFAPending && s.now().Sub(st.IssuedAt) > s.mfaTTL {
		return SessionState{}, ErrSessionNotFound
	}
	return st, nil
}

// PendingMember returns the member id of a session that passed the password
// step and is waiting for its second factor.
func (s *Sessions) PendingMember(r *http.Request) (string, error) {
	st, err := s.Current(r)
	if err != nil {
		return "", err
	}
	if !st.MFAPending {
		return "", ErrSessionNotFound
	}
	return st.MemberID, nil
}

// AuthenticatedMember returns the member id of a fully signed-in session.
func (s *Sessions) AuthenticatedMember(r *http.Request) (string, error) {
	st, err := s.Current(r)
	if err != nil {
		return "", err
	}
	if st.MFAPending {
		return "", ErrMFAPending
	}
	if !st.Authenticated {
		return "", ErrSessionNotFound
	}
	return st.MemberID, nil
}

// CompleteMFA upgrades a pending session to an authenticated one.
func (s *Sessions) CompleteMFA(w http.ResponseWriter, r *http.Request) (string, error) {
	id, err := s.PendingMember(r)
	if err != nil {
		return "", err
	}
	return id, s.Begin(w, r, id, false)
}

// End expires the session cookie.
func (s *Sessions) End(w http.ResponseWriter, r *http.Request) error {
	sess, _ := s.store.Get(r, sessionName)
	if sess == nil {
		return nil
	}
	sess.Values = map[interface{}]interface{}{}
	sess.Options = &sessions.Options{Path: "/", MaxAge: -1, HttpOnly: true}
	return sess.Save(r, w)
}

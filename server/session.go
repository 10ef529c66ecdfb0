package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/sambeau/sorrel/config"
	"github.com/sambeau/sorrel/pkg/asp"
)

// SessionStore defines the interface for session storage backends
type SessionStore interface {
	// Load retrieves the session for the request, or a fresh one
	Load(r *http.Request) (*asp.Session, error)
	// Save persists the session to the response
	Save(w http.ResponseWriter, session *asp.Session) error
	// Clear removes the session
	Clear(w http.ResponseWriter) error
}

// CookieSessionStore stores sessions in encrypted cookies
type CookieSessionStore struct {
	config *config.SessionConfig
	key    []byte
	secure bool
}

// NewCookieSessionStore creates a new cookie-based session store. secure is
// the default for the cookie's Secure flag when the config does not set it.
func NewCookieSessionStore(cfg *config.SessionConfig, secret string, secure bool) (*CookieSessionStore, error) {
	key, err := deriveKey(secret)
	if err != nil {
		return nil, err
	}
	return &CookieSessionStore{config: cfg, key: key, secure: secure}, nil
}

// Load retrieves and decrypts session data from the cookie
func (s *CookieSessionStore) Load(r *http.Request) (*asp.Session, error) {
	cookie, err := r.Cookie(s.config.CookieName)
	if err == http.ErrNoCookie {
		return s.fresh(), nil
	}
	if err != nil {
		return nil, err
	}

	data, err := decryptSession(cookie.Value, s.key)
	if err != nil {
		// Invalid/tampered cookie or old key - start over
		return s.fresh(), nil
	}
	if data.IsExpired() || data.ID == "" {
		return s.fresh(), nil
	}
	return asp.NewSession(data.ID, data.Values, data.Timeout), nil
}

func (s *CookieSessionStore) fresh() *asp.Session {
	return asp.NewSession(uuid.NewString(), nil, int(s.config.MaxAge/time.Minute))
}

// Save encrypts and stores session data in a cookie
func (s *CookieSessionStore) Save(w http.ResponseWriter, session *asp.Session) error {
	lifetime := time.Duration(session.Timeout()) * time.Minute
	data := &SessionData{
		ID:        session.SessionID(),
		Values:    session.Values(),
		Timeout:   session.Timeout(),
		ExpiresAt: time.Now().Add(lifetime),
	}
	encrypted, err := encryptSession(data, s.key)
	if err != nil {
		return fmt.Errorf("failed to encrypt session: %w", err)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     s.config.CookieName,
		Value:    encrypted,
		Path:     "/",
		MaxAge:   int(lifetime.Seconds()),
		Secure:   s.isSecure(),
		HttpOnly: s.config.HttpOnly,
		SameSite: parseSameSite(s.config.SameSite),
	})
	return nil
}

// Clear removes the session cookie
func (s *CookieSessionStore) Clear(w http.ResponseWriter) error {
	http.SetCookie(w, &http.Cookie{
		Name:     s.config.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1, // Delete cookie
		Secure:   s.isSecure(),
		HttpOnly: s.config.HttpOnly,
		SameSite: parseSameSite(s.config.SameSite),
	})
	return nil
}

// isSecure returns the Secure flag, falling back to the store default
func (s *CookieSessionStore) isSecure() bool {
	if s.config.Secure != nil {
		return *s.config.Secure
	}
	return s.secure
}

// parseSameSite converts string to http.SameSite
func parseSameSite(s string) http.SameSite {
	switch s {
	case "Strict":
		return http.SameSiteStrictMode
	case "None":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}

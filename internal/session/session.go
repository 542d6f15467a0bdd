// Package session issues and reads the JWT cookie that represents an
// authenticated browser session on the test SP and test IdP.
package session

import (
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Session is the authenticated principal carried by the cookie.
type Session struct {
	Username string
}

// Manager signs and verifies session cookies with an HMAC secret.
type Manager struct {
	cookieName string
	secret     []byte
	ttl        time.Duration
}

// NewManager creates a session manager. The cookie name keeps SP and IdP
// sessions distinct when both run on localhost.
func NewManager(cookieName, secret string, ttl time.Duration) *Manager {
	return &Manager{
		cookieName: cookieName,
		secret:     []byte(secret),
		ttl:        ttl,
	}
}

// Issue signs a session token for username and sets it as an HTTP-only
// cookie.
func (m *Manager) Issue(w http.ResponseWriter, username string) error {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   username,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return fmt.Errorf("failed to sign session token: %w", err)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     m.cookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(m.ttl.Seconds()),
	})
	return nil
}

// Read verifies the session cookie and returns the session it carries.
func (m *Manager) Read(r *http.Request) (Session, error) {
	cookie, err := r.Cookie(m.cookieName)
	if err != nil {
		return Session{}, fmt.Errorf("no session cookie: %w", err)
	}

	claims := &jwt.RegisteredClaims{}
	_, err = jwt.ParseWithClaims(cookie.Value, claims, func(*jwt.Token) (any, error) {
		return m.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return Session{}, fmt.Errorf("invalid session token: %w", err)
	}
	if claims.Subject == "" {
		return Session{}, fmt.Errorf("session token has no subject")
	}

	return Session{Username: claims.Subject}, nil
}

// Clear expires the session cookie.
func (m *Manager) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     m.cookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}

package middleware

import (
	"net/http"
	"time"

	"github.com/aryan0dhankhar/gatekeeper/internal/domain"
)

// DefaultCookieName is deliberately not a framework default
const DefaultCookieName = "gk_session"

// SessionCookies moves session ids between the client and server
type SessionCookies struct {
	Name   string
	Secure bool
	now    func() time.Time
}

// NewSessionCookies creates the cookie codec
func NewSessionCookies(name string, secure bool) *SessionCookies {
	if name == "" {
		name = DefaultCookieName
	}
	return &SessionCookies{Name: name, Secure: secure, now: time.Now}
}

// WithClock sets the time source used for Max-Age
func (c *SessionCookies) WithClock(now func() time.Time) *SessionCookies {
	c.now = now
	return c
}

// Token returns the session id presented by the client, or ""
func (c *SessionCookies) Token(r *http.Request) string {
	cookie, err := r.Cookie(c.Name)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// Set issues s as the session cookie. Max-Age is the remaining lifetime, so
// a rotated id keeps the original deadline.
func (c *SessionCookies) Set(w http.ResponseWriter, s *domain.Session) {
	maxAge := int(s.Remaining(c.now()).Seconds())
	if maxAge < 1 {
		maxAge = 1
	}
	http.SetCookie(w, &http.Cookie{
		Name:     c.Name,
		Value:    s.ID,
		Path:     "/",
		MaxAge:   maxAge,
		Expires:  s.ExpiresAt.UTC(),
		Secure:   c.Secure,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
}

// Clear tells the client to drop the cookie
func (c *SessionCookies) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.Name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		Secure:   c.Secure,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
}

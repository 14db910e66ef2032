package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aryan0dhankhar/gatekeeper/internal/domain"
	"github.com/aryan0dhankhar/gatekeeper/internal/infrastructure/logger"
	"github.com/aryan0dhankhar/gatekeeper/internal/security/middleware"
	"github.com/aryan0dhankhar/gatekeeper/internal/service"
)

var testNow = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

type fakeAuth struct {
	loginResult *service.LoginResult
	loginErr    error
	gotIP       string

	logoutErr   error
	loggedOut   string
	principal   *service.Principal
	user        *domain.UserSummary
	currentErr  error
	perms       []string
	changeErr   error
	updateErr   error
	gotTargetID int64
	gotValue    string
}

func (f *fakeAuth) Login(_ context.Context, identifier, password, clientIP string) (*service.LoginResult, error) {
	f.gotIP = clientIP
	return f.loginResult, f.loginErr
}

func (f *fakeAuth) Logout(_ context.Context, token string) error {
	f.loggedOut = token
	return f.logoutErr
}

func (f *fakeAuth) CurrentUser(context.Context, string) (*service.Principal, *domain.UserSummary, error) {
	return f.principal, f.user, f.currentErr
}

func (f *fakeAuth) Permissions(context.Context, *service.Principal) ([]string, error) {
	return f.perms, nil
}

func (f *fakeAuth) ChangePassword(context.Context, *service.Principal, string, string, string) error {
	return f.changeErr
}

func (f *fakeAuth) UpdateUserRole(_ context.Context, _ *service.Principal, targetID int64, role string) (*domain.UserSummary, error) {
	f.gotTargetID, f.gotValue = targetID, role
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	return &domain.UserSummary{ID: targetID, Role: domain.Role(role)}, nil
}

func (f *fakeAuth) UpdateUserStatus(_ context.Context, _ *service.Principal, targetID int64, status string) (*domain.UserSummary, error) {
	f.gotTargetID, f.gotValue = targetID, status
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	return &domain.UserSummary{ID: targetID, Status: domain.Status(status)}, nil
}

func newAuthHandler(auth AuthAPI) *AuthHandler {
	cookies := middleware.NewSessionCookies("", true).WithClock(func() time.Time { return testNow })
	return NewAuthHandler(auth, cookies, logger.Discard())
}

func withRequestContext(h http.HandlerFunc) http.Handler {
	return middleware.RequestContext(false)(h)
}

func withPrincipal(r *http.Request, p *service.Principal) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), middleware.PrincipalContextKey{}, p))
}

func loginRequest(body string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	r.RemoteAddr = "10.0.0.5:4000"
	return r
}

func TestLoginSuccess(t *testing.T) {
	sess := &domain.Session{ID: "sid", UserID: 7, ExpiresAt: testNow.Add(30 * time.Minute)}
	auth := &fakeAuth{loginResult: &service.LoginResult{
		Session: sess,
		User:    domain.UserSummary{ID: 7, Username: "alice", Role: domain.RoleUser},
	}}
	h := withRequestContext(newAuthHandler(auth).Login)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, loginRequest(`{"identifier":"alice","password":"correct-horse"}`))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if auth.gotIP != "10.0.0.5" {
		t.Fatalf("expected client ip 10.0.0.5, got %q", auth.gotIP)
	}
	cookies := w.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Value != "sid" || cookies[0].MaxAge != 1800 {
		t.Fatalf("unexpected cookies %+v", cookies)
	}

	var resp LoginResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.User.Username != "alice" || !resp.ExpiresAt.Equal(sess.ExpiresAt) {
		t.Fatalf("unexpected body %+v", resp)
	}
	if strings.Contains(w.Body.String(), "sid") {
		t.Fatalf("session id must only travel in the cookie")
	}
}

func TestLoginErrors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		err        error
		wantStatus int
		wantRetry  string
	}{
		{"malformed", `{`, nil, http.StatusBadRequest, ""},
		{"missing fields", `{"identifier":"alice"}`, nil, http.StatusBadRequest, ""},
		{"bad credentials", `{"identifier":"alice","password":"x"}`, domain.ErrInvalidCredentials, http.StatusUnauthorized, ""},
		{"locked out", `{"identifier":"alice","password":"x"}`, &domain.RateLimitedError{RetryAfter: 899500 * time.Millisecond}, http.StatusTooManyRequests, "900"},
		{"store down", `{"identifier":"alice","password":"x"}`, domain.Unavailable("create session", errors.New("dial tcp")), http.StatusServiceUnavailable, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := withRequestContext(newAuthHandler(&fakeAuth{loginErr: tt.err}).Login)
			w := httptest.NewRecorder()
			h.ServeHTTP(w, loginRequest(tt.body))
			if w.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d", tt.wantStatus, w.Code)
			}
			if got := w.Header().Get("Retry-After"); got != tt.wantRetry {
				t.Fatalf("expected Retry-After %q, got %q", tt.wantRetry, got)
			}
			if len(w.Result().Cookies()) != 0 {
				t.Fatalf("failed login must not set a cookie")
			}
		})
	}
}

func TestLogoutClearsCookie(t *testing.T) {
	auth := &fakeAuth{}
	h := newAuthHandler(auth)

	r := httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil)
	r.AddCookie(&http.Cookie{Name: middleware.DefaultCookieName, Value: "sid"})
	w := httptest.NewRecorder()
	h.Logout(w, r)

	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	if auth.loggedOut != "sid" {
		t.Fatalf("expected token sid, got %q", auth.loggedOut)
	}
	c := w.Result().Cookies()
	if len(c) != 1 || c[0].MaxAge != -1 {
		t.Fatalf("expected clearing cookie, got %+v", c)
	}
}

func TestMe(t *testing.T) {
	t.Run("reissues rotated cookie", func(t *testing.T) {
		sess := &domain.Session{ID: "rotated", ExpiresAt: testNow.Add(10 * time.Minute), Rotated: true}
		auth := &fakeAuth{
			principal: &service.Principal{Session: sess, UserID: 7, Role: domain.RoleUser},
			user:      &domain.UserSummary{ID: 7, Username: "alice"},
		}
		w := httptest.NewRecorder()
		newAuthHandler(auth).Me(w, httptest.NewRequest(http.MethodGet, "/api/auth/me", nil))

		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
		c := w.Result().Cookies()
		if len(c) != 1 || c[0].Value != "rotated" || c[0].MaxAge != 600 {
			t.Fatalf("unexpected cookies %+v", c)
		}
	})

	t.Run("expired session", func(t *testing.T) {
		w := httptest.NewRecorder()
		newAuthHandler(&fakeAuth{currentErr: domain.ErrSessionExpired}).Me(w, httptest.NewRequest(http.MethodGet, "/api/auth/me", nil))
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", w.Code)
		}
		if c := w.Result().Cookies(); len(c) != 1 || c[0].MaxAge != -1 {
			t.Fatalf("expected clearing cookie, got %+v", c)
		}
	})
}

func TestPermissions(t *testing.T) {
	auth := &fakeAuth{perms: []string{"reports.view", "users.manage"}}
	h := newAuthHandler(auth)

	r := withPrincipal(httptest.NewRequest(http.MethodGet, "/api/auth/permissions", nil), &service.Principal{UserID: 7})
	w := httptest.NewRecorder()
	h.Permissions(w, r)

	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"reports.view","users.manage"`) {
		t.Fatalf("unexpected response %d %s", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	h.Permissions(w, httptest.NewRequest(http.MethodGet, "/api/auth/permissions", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without principal, got %d", w.Code)
	}
}

func TestChangePassword(t *testing.T) {
	p := &service.Principal{UserID: 7}
	body := `{"oldPassword":"correct-horse","newPassword":"battery-staple"}`

	tests := []struct {
		name string
		body string
		err  error
		want int
	}{
		{"success", body, nil, http.StatusOK},
		{"missing", `{"oldPassword":"x"}`, nil, http.StatusBadRequest},
		{"wrong current", body, domain.ErrInvalidCredentials, http.StatusUnauthorized},
		{"weak new", body, domain.ErrInvalidInput, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newAuthHandler(&fakeAuth{changeErr: tt.err})
			r := withPrincipal(httptest.NewRequest(http.MethodPost, "/api/auth/change-password", strings.NewReader(tt.body)), p)
			w := httptest.NewRecorder()
			h.ChangePassword(w, r)
			if w.Code != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, w.Code)
			}
		})
	}
}

func TestUsersHandler(t *testing.T) {
	p := &service.Principal{UserID: 8, Role: domain.RoleAdmin}

	serve := func(auth *fakeAuth, method, path, body string) *httptest.ResponseRecorder {
		h := NewUsersHandler(auth, logger.Discard())
		mux := http.NewServeMux()
		mux.HandleFunc("PUT /api/users/{id}/role", h.UpdateRole)
		mux.HandleFunc("PUT /api/users/{id}/status", h.UpdateStatus)
		r := withPrincipal(httptest.NewRequest(method, path, strings.NewReader(body)), p)
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, r)
		return w
	}

	auth := &fakeAuth{}
	w := serve(auth, http.MethodPut, "/api/users/7/role", `{"role":"admin"}`)
	if w.Code != http.StatusOK || auth.gotTargetID != 7 || auth.gotValue != "admin" {
		t.Fatalf("unexpected role update %d %+v", w.Code, auth)
	}

	auth = &fakeAuth{}
	w = serve(auth, http.MethodPut, "/api/users/7/status", `{"status":"suspended"}`)
	if w.Code != http.StatusOK || auth.gotValue != "suspended" {
		t.Fatalf("unexpected status update %d %+v", w.Code, auth)
	}

	if w := serve(&fakeAuth{}, http.MethodPut, "/api/users/abc/role", `{"role":"admin"}`); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad id, got %d", w.Code)
	}
	if w := serve(&fakeAuth{updateErr: domain.ErrForbidden}, http.MethodPut, "/api/users/9/role", `{"role":"user"}`); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
	if w := serve(&fakeAuth{updateErr: domain.ErrNotFound}, http.MethodPut, "/api/users/99/status", `{"status":"active"}`); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestReady(t *testing.T) {
	ok := pingerFunc(func(context.Context) error { return nil })
	down := pingerFunc(func(context.Context) error { return errors.New("connection refused") })

	h := NewHealthHandler(map[string]Pinger{"redis": ok, "postgres": ok}, logger.Discard())
	w := httptest.NewRecorder()
	h.Ready(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	h = NewHealthHandler(map[string]Pinger{"redis": down, "postgres": ok}, logger.Discard())
	w = httptest.NewRecorder()
	h.Ready(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
	var resp ReadinessResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Checks["postgres"] != "ok" || !strings.HasPrefix(resp.Checks["redis"], "error:") {
		t.Fatalf("unexpected checks %+v", resp.Checks)
	}

	h = NewHealthHandler(map[string]Pinger{"redis": nil}, logger.Discard())
	w = httptest.NewRecorder()
	h.Ready(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("unconfigured dependency must not fail readiness, got %d", w.Code)
	}
}

func TestHealth(t *testing.T) {
	w := httptest.NewRecorder()
	NewHealthHandler(nil, logger.Discard()).Health(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

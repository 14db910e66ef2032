package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/aryan0dhankhar/gatekeeper/internal/domain"
	"github.com/aryan0dhankhar/gatekeeper/internal/security/middleware"
	"github.com/aryan0dhankhar/gatekeeper/internal/service"
)

// AuthAPI is the slice of the auth service the HTTP layer drives
type AuthAPI interface {
	Login(ctx context.Context, identifier, password, clientIP string) (*service.LoginResult, error)
	Logout(ctx context.Context, token string) error
	CurrentUser(ctx context.Context, token string) (*service.Principal, *domain.UserSummary, error)
	Permissions(ctx context.Context, p *service.Principal) ([]string, error)
	ChangePassword(ctx context.Context, p *service.Principal, current, next, clientIP string) error
	UpdateUserRole(ctx context.Context, p *service.Principal, targetID int64, role string) (*domain.UserSummary, error)
	UpdateUserStatus(ctx context.Context, p *service.Principal, targetID int64, status string) (*domain.UserSummary, error)
}

// AuthHandler handles authentication endpoints
type AuthHandler struct {
	auth    AuthAPI
	cookies *middleware.SessionCookies
	logger  *slog.Logger
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(auth AuthAPI, cookies *middleware.SessionCookies, logger *slog.Logger) *AuthHandler {
	if logger == nil {
		logger = slog.Default()
	}

	return &AuthHandler{
		auth:    auth,
		cookies: cookies,
		logger:  logger,
	}
}

// LoginRequest represents login request
type LoginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

// LoginResponse is returned with the session cookie
type LoginResponse struct {
	User      domain.UserSummary `json:"user"`
	ExpiresAt time.Time          `json:"expiresAt"`
}

// Login handles POST /api/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("failed to decode login request",
			slog.String("error", err.Error()),
		)
		badRequest(w, "invalid request")
		return
	}

	if req.Identifier == "" || req.Password == "" {
		badRequest(w, "identifier and password are required")
		return
	}

	result, err := h.auth.Login(r.Context(), req.Identifier, req.Password, middleware.ClientIPFromContext(r.Context()))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	h.logger.Info("user logged in",
		slog.Int64("user_id", result.User.ID),
	)

	h.cookies.Set(w, result.Session)
	writeJSON(w, http.StatusOK, LoginResponse{User: result.User, ExpiresAt: result.Session.ExpiresAt})
}

// Logout handles POST /api/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.auth.Logout(r.Context(), h.cookies.Token(r)); err != nil {
		writeError(w, h.logger, err)
		return
	}
	h.cookies.Clear(w)
	w.WriteHeader(http.StatusNoContent)
}

// Me handles GET /api/auth/me. It validates the cookie itself so that a
// rotated id is issued exactly once.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	p, user, err := h.auth.CurrentUser(r.Context(), h.cookies.Token(r))
	if err != nil {
		if domain.IsUnauthenticated(err) {
			h.cookies.Clear(w)
		}
		writeError(w, h.logger, err)
		return
	}
	if p.Session.Rotated {
		h.cookies.Set(w, p.Session)
	}
	writeJSON(w, http.StatusOK, user)
}

// Permissions handles GET /api/auth/permissions
func (h *AuthHandler) Permissions(w http.ResponseWriter, r *http.Request) {
	p := middleware.GetPrincipalFromContext(r.Context())
	if p == nil {
		writeError(w, h.logger, domain.ErrNoSession)
		return
	}

	names, err := h.auth.Permissions(r.Context(), p)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"permissions": names})
}

// ChangePasswordRequest represents change password request
type ChangePasswordRequest struct {
	OldPassword string `json:"oldPassword"`
	NewPassword string `json:"newPassword"`
}

// ChangePassword handles POST /api/auth/change-password
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	p := middleware.GetPrincipalFromContext(r.Context())
	if p == nil {
		writeError(w, h.logger, domain.ErrNoSession)
		return
	}

	var req ChangePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request")
		return
	}

	if req.OldPassword == "" || req.NewPassword == "" {
		badRequest(w, "oldPassword and newPassword are required")
		return
	}

	err := h.auth.ChangePassword(r.Context(), p, req.OldPassword, req.NewPassword, middleware.ClientIPFromContext(r.Context()))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	h.logger.Info("user changed password",
		slog.Int64("user_id", p.UserID),
	)

	writeJSON(w, http.StatusOK, map[string]string{"message": "password changed successfully"})
}

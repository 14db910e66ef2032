package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/aryan0dhankhar/gatekeeper/internal/domain"
	"github.com/aryan0dhankhar/gatekeeper/internal/security/middleware"
)

// UsersHandler handles account administration
type UsersHandler struct {
	auth   AuthAPI
	logger *slog.Logger
}

// NewUsersHandler creates a new users handler
func NewUsersHandler(auth AuthAPI, logger *slog.Logger) *UsersHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &UsersHandler{auth: auth, logger: logger}
}

type roleRequest struct {
	Role string `json:"role"`
}

type statusRequest struct {
	Status string `json:"status"`
}

// UpdateRole handles PUT /api/users/{id}/role
func (h *UsersHandler) UpdateRole(w http.ResponseWriter, r *http.Request) {
	p := middleware.GetPrincipalFromContext(r.Context())
	if p == nil {
		writeError(w, h.logger, domain.ErrNoSession)
		return
	}
	targetID, ok := pathUserID(w, r)
	if !ok {
		return
	}

	var req roleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Role == "" {
		badRequest(w, "role is required")
		return
	}

	user, err := h.auth.UpdateUserRole(r.Context(), p, targetID, req.Role)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	h.logger.Info("user role updated",
		slog.Int64("actor_id", p.UserID),
		slog.Int64("target_id", targetID),
		slog.String("role", string(user.Role)),
	)
	writeJSON(w, http.StatusOK, user)
}

// UpdateStatus handles PUT /api/users/{id}/status
func (h *UsersHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	p := middleware.GetPrincipalFromContext(r.Context())
	if p == nil {
		writeError(w, h.logger, domain.ErrNoSession)
		return
	}
	targetID, ok := pathUserID(w, r)
	if !ok {
		return
	}

	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Status == "" {
		badRequest(w, "status is required")
		return
	}

	user, err := h.auth.UpdateUserStatus(r.Context(), p, targetID, req.Status)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	h.logger.Info("user status updated",
		slog.Int64("actor_id", p.UserID),
		slog.Int64("target_id", targetID),
		slog.String("status", string(user.Status)),
	)
	writeJSON(w, http.StatusOK, user)
}

func pathUserID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		badRequest(w, "invalid user id")
		return 0, false
	}
	return id, true
}

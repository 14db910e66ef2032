package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/aryan0dhankhar/gatekeeper/internal/domain"
	"github.com/aryan0dhankhar/gatekeeper/internal/observability/metrics"
	"github.com/aryan0dhankhar/gatekeeper/internal/observability/tracing"
	"github.com/aryan0dhankhar/gatekeeper/internal/security"
	"github.com/aryan0dhankhar/gatekeeper/internal/security/audit"
	"github.com/aryan0dhankhar/gatekeeper/internal/security/auth"
	"github.com/aryan0dhankhar/gatekeeper/internal/security/ratelimit"
	"github.com/aryan0dhankhar/gatekeeper/internal/security/session"
)

// Rate-limited actions
const (
	ActionLogin          = "login"
	ActionChangePassword = "change_password"
)

// Requirement is what Authorize checks: a minimum role, a permission, or both
type Requirement struct {
	Role       domain.Role
	Permission string
}

// ManageUsers guards account administration: an admin who also holds the
// users.manage grant
var ManageUsers = Requirement{Role: domain.RoleAdmin, Permission: domain.PermissionManageUsers}

// RequireRole builds a role requirement
func RequireRole(role domain.Role) Requirement {
	return Requirement{Role: role}
}

// RequirePermission builds a permission requirement
func RequirePermission(name string) Requirement {
	return Requirement{Permission: name}
}

func (r Requirement) String() string {
	switch {
	case r.Role != "" && r.Permission != "":
		return fmt.Sprintf("role:%s+permission:%s", r.Role, r.Permission)
	case r.Role != "":
		return "role:" + string(r.Role)
	case r.Permission != "":
		return "permission:" + r.Permission
	default:
		return "authenticated"
	}
}

// Principal is an authenticated caller. Session may carry a rotated id that
// the transport must hand back to the client.
type Principal struct {
	Session *domain.Session
	UserID  int64
	Role    domain.Role
}

// LoginResult is returned by a successful login
type LoginResult struct {
	Session *domain.Session
	User    domain.UserSummary
}

// AuthService orchestrates login, logout and authorization over the
// credential store, rate limiter, session manager, permission resolver and
// audit emitter.
type AuthService struct {
	credentials *auth.CredentialStore
	accounts    domain.CredentialRepository
	limiter     *ratelimit.Limiter
	sessions    *session.Manager
	resolver    *security.Resolver
	audit       *audit.Emitter
	logger      *slog.Logger
}

// NewAuthService creates a new authentication service
func NewAuthService(
	credentials *auth.CredentialStore,
	accounts domain.CredentialRepository,
	limiter *ratelimit.Limiter,
	sessions *session.Manager,
	resolver *security.Resolver,
	emitter *audit.Emitter,
	logger *slog.Logger,
) *AuthService {
	if logger == nil {
		logger = slog.Default()
	}

	return &AuthService{
		credentials: credentials,
		accounts:    accounts,
		limiter:     limiter,
		sessions:    sessions,
		resolver:    resolver,
		audit:       emitter,
		logger:      logger,
	}
}

// Login authenticates identifier/password from clientIP and starts a
// session. Credential failures are reported only as
// domain.ErrInvalidCredentials; a locked-out client gets a
// *domain.RateLimitedError whatever the password.
func (s *AuthService) Login(ctx context.Context, identifier, password, clientIP string) (_ *LoginResult, err error) {
	start := time.Now()
	ctx, span := tracing.Start(ctx, "auth.Login", attribute.String("client_ip", clientIP))
	defer func() { tracing.End(span, err) }()

	result := "error"
	defer func() { metrics.ObserveLogin(result, time.Since(start)) }()

	status, err := s.limiter.Check(ctx, clientIP, ActionLogin)
	if err != nil {
		s.logger.Error("rate limit check failed", slog.String("error", err.Error()))
		return nil, err
	}
	if status.Locked {
		result = "locked"
		s.audit.Emit(ctx, nil, domain.ActionLoginBlocked, "Login attempt while locked out", map[string]any{
			"identifier":          identifier,
			"retry_after_seconds": int(status.RetryAfter.Seconds()),
		})
		return nil, &domain.RateLimitedError{RetryAfter: status.RetryAfter}
	}

	cred, err := s.credentials.Verify(ctx, identifier, password)
	if err != nil {
		if errors.Is(err, domain.ErrStorageUnavailable) {
			s.logger.Error("credential lookup failed", slog.String("error", err.Error()))
			return nil, err
		}
		result = "invalid"
		s.loginFailed(ctx, identifier, clientIP, err)
		return nil, domain.ErrInvalidCredentials
	}

	sess, err := s.sessions.Create(ctx, cred.UserID, cred.Role)
	if err != nil {
		s.logger.Error("failed to create session",
			slog.Int64("user_id", cred.UserID),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	if err := s.limiter.Reset(ctx, clientIP, ActionLogin); err != nil {
		s.logger.Warn("failed to reset rate limit", slog.String("error", err.Error()))
	}

	result = "success"
	s.audit.Emit(ctx, &cred.UserID, domain.ActionLogin, "User logged in", map[string]any{
		"username": cred.Username,
	})
	s.logger.Info("user logged in", slog.Int64("user_id", cred.UserID))

	return &LoginResult{Session: sess, User: cred.Summary()}, nil
}

func (s *AuthService) loginFailed(ctx context.Context, identifier, clientIP string, cause error) {
	reason := "unknown"
	switch {
	case errors.Is(cause, domain.ErrNotFound):
		reason = "not_found"
	case errors.Is(cause, domain.ErrPasswordMismatch):
		reason = "password_mismatch"
	case errors.Is(cause, domain.ErrAccountInactive):
		reason = "inactive"
	}

	st, err := s.limiter.RecordFailure(ctx, clientIP, ActionLogin)
	if err != nil {
		s.logger.Error("failed to record login failure", slog.String("error", err.Error()))
	}

	s.audit.Emit(ctx, nil, domain.ActionLoginFailed, "Failed login attempt", map[string]any{
		"identifier": identifier,
		"reason":     reason,
		"attempts":   st.Attempts,
	})
	if st.JustLocked {
		s.audit.Emit(ctx, nil, domain.ActionLockout, "Client locked out after repeated failures", map[string]any{
			"action":           ActionLogin,
			"attempts":         st.Attempts,
			"lockout_seconds":  int(st.RetryAfter.Seconds()),
			"locked_client_ip": clientIP,
		})
	}
}

// Logout destroys the session behind token. Unknown tokens are not an error.
func (s *AuthService) Logout(ctx context.Context, token string) error {
	sess, err := s.sessions.Lookup(ctx, token)
	switch {
	case err == nil:
	case domain.IsUnauthenticated(err):
		return nil
	default:
		return err
	}

	if err := s.sessions.Destroy(ctx, sess.ID); err != nil {
		return err
	}
	s.audit.Emit(ctx, &sess.UserID, domain.ActionLogout, "User logged out", nil)
	return nil
}

// CurrentUser validates token and returns the caller with a fresh account
// summary. Sessions of accounts that are no longer active are destroyed.
func (s *AuthService) CurrentUser(ctx context.Context, token string) (*Principal, *domain.UserSummary, error) {
	p, cred, err := s.authenticate(ctx, token)
	if err != nil {
		return nil, nil, err
	}

	summary := cred.Summary()
	return p, &summary, nil
}

// Authorize validates token and checks req. A denial is audited and returned
// as domain.ErrForbidden.
func (s *AuthService) Authorize(ctx context.Context, token string, req Requirement) (_ *Principal, err error) {
	ctx, span := tracing.Start(ctx, "auth.Authorize", attribute.String("requirement", req.String()))
	defer func() { tracing.End(span, err) }()

	p, _, err := s.authenticate(ctx, token)
	if err != nil {
		return nil, err
	}

	allowed, err := s.allowed(ctx, p, req)
	if err != nil {
		return nil, err
	}
	metrics.ObserveAuthorization(allowed)
	if !allowed {
		s.audit.Emit(ctx, &p.UserID, domain.ActionPermissionDenied, "Access denied", map[string]any{
			"requirement": req.String(),
			"role":        string(p.Role),
		})
		// p is still returned so a rotated cookie can be re-issued
		return p, fmt.Errorf("%w: requires %s", domain.ErrForbidden, req)
	}
	return p, nil
}

func (s *AuthService) allowed(ctx context.Context, p *Principal, req Requirement) (bool, error) {
	if req.Role != "" && !security.HasRole(p.Role, req.Role) {
		return false, nil
	}
	if req.Permission != "" {
		return s.resolver.HasPermission(ctx, p.UserID, req.Permission)
	}
	return true, nil
}

// Permissions lists the caller's effective permission names, sorted
func (s *AuthService) Permissions(ctx context.Context, p *Principal) ([]string, error) {
	set, err := s.resolver.EffectivePermissions(ctx, p.UserID)
	if err != nil {
		return nil, err
	}
	return set.Names(), nil
}

// ChangePassword replaces the caller's password. Wrong current passwords
// count towards the change_password lockout for clientIP.
func (s *AuthService) ChangePassword(ctx context.Context, p *Principal, current, next, clientIP string) error {
	status, err := s.limiter.Check(ctx, clientIP, ActionChangePassword)
	if err != nil {
		return err
	}
	if status.Locked {
		s.audit.Emit(ctx, &p.UserID, domain.ActionLoginBlocked, "Password change while locked out", map[string]any{
			"action": ActionChangePassword,
		})
		return &domain.RateLimitedError{RetryAfter: status.RetryAfter}
	}

	if err := s.credentials.ChangePassword(ctx, p.UserID, current, next); err != nil {
		if errors.Is(err, domain.ErrPasswordMismatch) {
			if _, rerr := s.limiter.RecordFailure(ctx, clientIP, ActionChangePassword); rerr != nil {
				s.logger.Error("failed to record failure", slog.String("error", rerr.Error()))
			}
			s.audit.Emit(ctx, &p.UserID, domain.ActionPasswordChange, "Password change rejected", map[string]any{
				"result": "password_mismatch",
			})
			return domain.ErrInvalidCredentials
		}
		return err
	}

	if err := s.limiter.Reset(ctx, clientIP, ActionChangePassword); err != nil {
		s.logger.Warn("failed to reset rate limit", slog.String("error", err.Error()))
	}
	s.audit.Emit(ctx, &p.UserID, domain.ActionPasswordChange, "Password changed", map[string]any{
		"result": "success",
	})
	return nil
}

// UpdateUserRole sets targetID's role. Only a superadmin may grant
// superadmin or modify a superadmin account.
func (s *AuthService) UpdateUserRole(ctx context.Context, p *Principal, targetID int64, role string) (*domain.UserSummary, error) {
	newRole, err := domain.ParseRole(role)
	if err != nil {
		return nil, err
	}

	target, err := s.credentials.Lookup(ctx, targetID)
	if err != nil {
		return nil, err
	}

	if err := s.resolver.CanManageAccount(p.Role, target.Role, newRole); err != nil {
		s.audit.Emit(ctx, &p.UserID, domain.ActionPermissionDenied, "Role change denied", map[string]any{
			"target_user_id": targetID,
			"from":           string(target.Role),
			"to":             string(newRole),
		})
		return nil, err
	}

	if err := s.accounts.UpdateRole(ctx, targetID, newRole); err != nil {
		return nil, err
	}
	s.audit.Emit(ctx, &p.UserID, domain.ActionRoleChange, "User role changed", map[string]any{
		"target_user_id": targetID,
		"from":           string(target.Role),
		"to":             string(newRole),
	})

	target.Role = newRole
	summary := target.Summary()
	return &summary, nil
}

// UpdateUserStatus sets targetID's status. Callers cannot change their own
// status.
func (s *AuthService) UpdateUserStatus(ctx context.Context, p *Principal, targetID int64, status string) (*domain.UserSummary, error) {
	newStatus, err := domain.ParseStatus(status)
	if err != nil {
		return nil, err
	}
	if targetID == p.UserID {
		return nil, fmt.Errorf("%w: cannot change your own status", domain.ErrInvalidInput)
	}

	target, err := s.credentials.Lookup(ctx, targetID)
	if err != nil {
		return nil, err
	}

	if err := s.resolver.CanManageAccount(p.Role, target.Role, ""); err != nil {
		s.audit.Emit(ctx, &p.UserID, domain.ActionPermissionDenied, "Status change denied", map[string]any{
			"target_user_id": targetID,
			"to":             string(newStatus),
		})
		return nil, err
	}

	if err := s.accounts.UpdateStatus(ctx, targetID, newStatus); err != nil {
		return nil, err
	}
	s.audit.Emit(ctx, &p.UserID, domain.ActionStatusChange, "User status changed", map[string]any{
		"target_user_id": targetID,
		"from":           string(target.Status),
		"to":             string(newStatus),
	})

	target.Status = newStatus
	summary := target.Summary()
	return &summary, nil
}

// authenticate resolves token to a principal carrying the account's current
// role. The session is destroyed when the account is gone or not active.
func (s *AuthService) authenticate(ctx context.Context, token string) (*Principal, *domain.Credential, error) {
	sess, err := s.sessions.Validate(ctx, token)
	if err != nil {
		return nil, nil, err
	}

	cred, err := s.credentials.Lookup(ctx, sess.UserID)
	switch {
	case err == nil && cred.Status == domain.StatusActive:
	case err == nil, errors.Is(err, domain.ErrNotFound):
		s.revoke(ctx, sess)
		return nil, nil, domain.ErrNoSession
	default:
		return nil, nil, err
	}

	if cred.Role != sess.Role {
		s.logger.Debug("session role differs from account",
			slog.Int64("user_id", cred.UserID),
			slog.String("session_role", string(sess.Role)),
			slog.String("account_role", string(cred.Role)),
		)
	}
	return &Principal{Session: sess, UserID: cred.UserID, Role: cred.Role}, cred, nil
}

func (s *AuthService) revoke(ctx context.Context, sess *domain.Session) {
	if err := s.sessions.Destroy(ctx, sess.ID); err != nil {
		s.logger.Warn("failed to destroy session of inactive account",
			slog.Int64("user_id", sess.UserID),
			slog.String("error", err.Error()),
		)
		return
	}
	s.logger.Info("session revoked", slog.Int64("user_id", sess.UserID))
}

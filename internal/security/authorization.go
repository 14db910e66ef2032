package security

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/aryan0dhankhar/gatekeeper/internal/domain"
)

// PermissionSet is a deduplicated set of permission names
type PermissionSet map[string]struct{}

// Has reports whether name is in the set
func (p PermissionSet) Has(name string) bool {
	_, ok := p[name]
	return ok
}

// Names returns the permission names in sorted order
func (p PermissionSet) Names() []string {
	names := make([]string, 0, len(p))
	for name := range p {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HasRole reports whether role is at or above required in the hierarchy
// user < admin < superadmin. Unknown roles satisfy nothing.
func HasRole(role, required domain.Role) bool {
	if !role.Valid() || !required.Valid() {
		return false
	}
	return role.Level() >= required.Level()
}

// Resolver computes a user's effective permissions as the union of the
// permissions of every group the user belongs to. Results are never cached
// across requests; WithRequestCache memoizes them within one.
type Resolver struct {
	repo   domain.PermissionRepository
	logger *slog.Logger
}

// NewResolver creates a permission resolver
func NewResolver(repo domain.PermissionRepository, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{repo: repo, logger: logger}
}

// EffectivePermissions returns the union of group permissions for userID.
// A user with no groups has an empty set.
func (r *Resolver) EffectivePermissions(ctx context.Context, userID int64) (PermissionSet, error) {
	cache := requestCacheFrom(ctx)
	if cache != nil {
		if set, ok := cache.get(userID); ok {
			return set, nil
		}
	}

	groups, err := r.repo.GroupsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	set := PermissionSet{}
	for _, g := range groups {
		perms, err := r.repo.PermissionsForGroup(ctx, g.ID)
		if err != nil {
			return nil, err
		}
		for _, p := range perms {
			set[p.Name] = struct{}{}
		}
	}

	if cache != nil {
		cache.put(userID, set)
	}
	return set, nil
}

// HasPermission reports whether userID holds the named permission
func (r *Resolver) HasPermission(ctx context.Context, userID int64, name string) (bool, error) {
	set, err := r.EffectivePermissions(ctx, userID)
	if err != nil {
		return false, err
	}
	return set.Has(name), nil
}

// CanManageAccount decides whether actorRole may change an account that
// currently holds targetRole to newRole. newRole is empty for changes that
// do not touch the role. Only a superadmin may touch a superadmin account or
// grant superadmin, and nobody below admin may manage accounts.
func (r *Resolver) CanManageAccount(actorRole, targetRole, newRole domain.Role) error {
	if !HasRole(actorRole, domain.RoleAdmin) {
		return fmt.Errorf("%w: %s cannot manage accounts", domain.ErrForbidden, actorRole)
	}
	if actorRole == domain.RoleSuperadmin {
		return nil
	}
	if targetRole == domain.RoleSuperadmin || newRole == domain.RoleSuperadmin {
		r.logger.Warn("superadmin change denied",
			slog.String("actor_role", string(actorRole)),
			slog.String("target_role", string(targetRole)),
			slog.String("new_role", string(newRole)),
		)
		return fmt.Errorf("%w: only a superadmin may manage superadmin accounts", domain.ErrForbidden)
	}
	return nil
}

type requestCacheKey struct{}

type requestCache struct {
	mu   sync.Mutex
	sets map[int64]PermissionSet
}

func (c *requestCache) get(userID int64) (PermissionSet, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	set, ok := c.sets[userID]
	return set, ok
}

func (c *requestCache) put(userID int64, set PermissionSet) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sets[userID] = set
}

// WithRequestCache returns a context that memoizes permission lookups for
// its lifetime. Attach it once per request.
func WithRequestCache(ctx context.Context) context.Context {
	if requestCacheFrom(ctx) != nil {
		return ctx
	}
	return context.WithValue(ctx, requestCacheKey{}, &requestCache{sets: map[int64]PermissionSet{}})
}

func requestCacheFrom(ctx context.Context) *requestCache {
	c, _ := ctx.Value(requestCacheKey{}).(*requestCache)
	return c
}

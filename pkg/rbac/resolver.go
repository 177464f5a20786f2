package rbac

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"time"

	"github.com/platinummonkey/gatekeeper/pkg/cache"
	"github.com/platinummonkey/gatekeeper/pkg/observability"
)

// DefaultPermissionTTL is how long computed permission and role sets stay
// cached before a forced recompute.
const DefaultPermissionTTL = 30 * time.Minute

// Resolver computes a user's effective roles and permissions from the
// Directory, with read-through caching and an explicit invalidation
// contract. It never propagates backend failures: an unreachable Directory
// degrades to an empty set, an unreachable cache to a recompute.
type Resolver struct {
	directory Directory
	cache     *cache.Cache
	ttl       time.Duration
	logger    *observability.Logger
	metrics   *observability.Metrics
}

// NewResolver creates a new permission resolver. A non-positive cacheTTL
// selects DefaultPermissionTTL. The metrics parameter may be nil.
func NewResolver(directory Directory, c *cache.Cache, cacheTTL time.Duration, logger *observability.Logger, metrics *observability.Metrics) *Resolver {
	if cacheTTL <= 0 {
		cacheTTL = DefaultPermissionTTL
	}
	return &Resolver{
		directory: directory,
		cache:     c,
		ttl:       cacheTTL,
		logger:    logger,
		metrics:   metrics,
	}
}

// GetPermissions returns the user's effective permission names: the union
// of permission names across all assigned roles. Read-through cached under
// permissions:{userID}.
func (r *Resolver) GetPermissions(ctx context.Context, userID int64) map[string]struct{} {
	key := cache.Key(cache.NamespacePermissions, strconv.FormatInt(userID, 10))
	if set, ok := r.getCachedSet(ctx, key); ok {
		return set
	}

	roles, err := r.directory.GetUserRoles(ctx, userID)
	if err != nil {
		r.logger.WithError(err).WithField("user_id", userID).Error("failed to load user roles, denying permissions")
		return map[string]struct{}{}
	}

	set := make(map[string]struct{})
	for _, role := range roles {
		perms, err := r.directory.GetRolePermissions(ctx, role.ID)
		if err != nil {
			r.logger.WithError(err).WithField("role", role.Name).Error("failed to load role permissions, denying permissions")
			return map[string]struct{}{}
		}
		for _, perm := range perms {
			set[perm.Name] = struct{}{}
		}
	}

	r.putCachedSet(ctx, key, set)
	return set
}

// GetRoles returns the user's role names, read-through cached under
// roles:{userID}.
func (r *Resolver) GetRoles(ctx context.Context, userID int64) map[string]struct{} {
	key := cache.Key(cache.NamespaceRoles, strconv.FormatInt(userID, 10))
	if set, ok := r.getCachedSet(ctx, key); ok {
		return set
	}

	roles, err := r.directory.GetUserRoles(ctx, userID)
	if err != nil {
		r.logger.WithError(err).WithField("user_id", userID).Error("failed to load user roles")
		return map[string]struct{}{}
	}

	set := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		set[role.Name] = struct{}{}
	}

	r.putCachedSet(ctx, key, set)
	return set
}

// HasPermission reports whether the user holds the named permission.
// Superusers hold every permission, including names that do not exist,
// without consulting the cache or role graph.
func (r *Resolver) HasPermission(ctx context.Context, userID int64, name string) bool {
	user, err := r.directory.GetUser(ctx, userID)
	if err != nil {
		r.logger.WithError(err).WithField("user_id", userID).Error("failed to load user, denying permission")
		r.countCheck(false)
		return false
	}
	if user == nil {
		r.countCheck(false)
		return false
	}
	if user.IsSuperuser {
		r.countCheck(true)
		return true
	}

	_, ok := r.GetPermissions(ctx, userID)[name]
	r.countCheck(ok)
	return ok
}

// HasRole reports whether the user holds the named role.
func (r *Resolver) HasRole(ctx context.Context, userID int64, name string) bool {
	_, ok := r.GetRoles(ctx, userID)[name]
	return ok
}

// HasAnyPermission reports whether the user holds at least one of the
// named permissions.
func (r *Resolver) HasAnyPermission(ctx context.Context, userID int64, names ...string) bool {
	for _, name := range names {
		if r.HasPermission(ctx, userID, name) {
			return true
		}
	}
	return false
}

// HasAllPermissions reports whether the user holds every named permission.
func (r *Resolver) HasAllPermissions(ctx context.Context, userID int64, names ...string) bool {
	for _, name := range names {
		if !r.HasPermission(ctx, userID, name) {
			return false
		}
	}
	return true
}

// InvalidateUser evicts the user's cached identity, permission, and role
// entries. Every mutation of a user's role set, a role's permission set,
// or the permission table must be followed by a call here.
func (r *Resolver) InvalidateUser(ctx context.Context, userID int64) {
	id := strconv.FormatInt(userID, 10)
	r.cache.Delete(ctx, cache.Key(cache.NamespaceUser, id))
	r.cache.Delete(ctx, cache.Key(cache.NamespacePermissions, id))
	r.cache.Delete(ctx, cache.Key(cache.NamespaceRoles, id))
}

// InvalidateRole bulk-evicts every cached permission and role set. The
// cache keeps no reverse index from role to affected users, so every user
// recomputes on next access. Correctness over precision; do not narrow
// this to a targeted eviction.
func (r *Resolver) InvalidateRole(ctx context.Context, roleName string) {
	r.logger.WithField("role", roleName).Info("bulk-evicting permission caches after role change")
	r.cache.DeleteByPattern(ctx, cache.NamespacePermissions+":*")
	r.cache.DeleteByPattern(ctx, cache.NamespaceRoles+":*")
}

func (r *Resolver) getCachedSet(ctx context.Context, key string) (map[string]struct{}, bool) {
	raw, ok := r.cache.Get(ctx, key)
	if !ok {
		return nil, false
	}

	var names []string
	if err := json.Unmarshal([]byte(raw), &names); err != nil {
		r.logger.WithError(err).WithField("key", key).Warn("corrupt cache entry, recomputing")
		r.cache.Delete(ctx, key)
		return nil, false
	}

	set := make(map[string]struct{}, len(names))
	for _, name := range names {
		set[name] = struct{}{}
	}
	return set, true
}

func (r *Resolver) putCachedSet(ctx context.Context, key string, set map[string]struct{}) {
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)

	data, err := json.Marshal(names)
	if err != nil {
		return
	}
	r.cache.Set(ctx, key, string(data), r.ttl)
}

func (r *Resolver) countCheck(allowed bool) {
	if r.metrics == nil {
		return
	}
	if allowed {
		r.metrics.PermissionChecksTotal.WithLabelValues("allowed").Inc()
	} else {
		r.metrics.PermissionChecksTotal.WithLabelValues("denied").Inc()
	}
}

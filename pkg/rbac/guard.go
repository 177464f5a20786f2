package rbac

import (
	"context"
	"net/http"

	"github.com/platinummonkey/gatekeeper/pkg/httputil"
)

type principalKeyType struct{}

var principalKey principalKeyType

// WithPrincipal stores the authenticated user id in the request context.
// The authentication middleware (outside this core) is expected to call
// this before any guarded handler runs.
func WithPrincipal(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, principalKey, userID)
}

// PrincipalFromContext returns the authenticated user id, if any.
func PrincipalFromContext(ctx context.Context) (int64, bool) {
	userID, ok := ctx.Value(principalKey).(int64)
	return userID, ok
}

// Guard gates HTTP handlers on permission and role requirements. It reads
// the principal explicitly from the request context rather than inspecting
// handler arguments.
type Guard struct {
	resolver *Resolver
}

// NewGuard creates a new guard over the given resolver
func NewGuard(resolver *Resolver) *Guard {
	return &Guard{resolver: resolver}
}

// RequirePermission rejects requests whose principal lacks the named
// permission: 401 without a principal, 403 on denial.
func (g *Guard) RequirePermission(name string) func(http.Handler) http.Handler {
	return g.require(func(ctx context.Context, userID int64) bool {
		return g.resolver.HasPermission(ctx, userID, name)
	})
}

// RequireRole rejects requests whose principal lacks the named role.
func (g *Guard) RequireRole(name string) func(http.Handler) http.Handler {
	return g.require(func(ctx context.Context, userID int64) bool {
		return g.resolver.HasRole(ctx, userID, name)
	})
}

// RequireAny rejects requests whose principal holds none of the named
// permissions.
func (g *Guard) RequireAny(names ...string) func(http.Handler) http.Handler {
	return g.require(func(ctx context.Context, userID int64) bool {
		return g.resolver.HasAnyPermission(ctx, userID, names...)
	})
}

// RequireAll rejects requests whose principal is missing any of the named
// permissions.
func (g *Guard) RequireAll(names ...string) func(http.Handler) http.Handler {
	return g.require(func(ctx context.Context, userID int64) bool {
		return g.resolver.HasAllPermissions(ctx, userID, names...)
	})
}

func (g *Guard) require(allow func(ctx context.Context, userID int64) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := PrincipalFromContext(r.Context())
			if !ok {
				httputil.WriteErrorMessage(w, http.StatusUnauthorized, "authentication required")
				return
			}

			if !allow(r.Context(), userID) {
				httputil.WriteErrorMessage(w, http.StatusForbidden, "insufficient permissions")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

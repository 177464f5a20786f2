package rbac

import (
	"encoding/json"
	"net/http"
	"sort"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/gatekeeper/pkg/httputil"
	"github.com/platinummonkey/gatekeeper/pkg/observability"
)

// Handlers provides the role-management HTTP surface. Every mutation path
// invalidates the resolver's caches before responding; that pairing is the
// system's central cache-coherence obligation.
type Handlers struct {
	store    Management
	resolver *Resolver
	logger   *observability.Logger
}

// NewHandlers creates new RBAC management handlers
func NewHandlers(store Management, resolver *Resolver, logger *observability.Logger) *Handlers {
	return &Handlers{
		store:    store,
		resolver: resolver,
		logger:   logger,
	}
}

// RegisterRoutes registers RBAC routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/roles", h.createRole).Methods("POST")
	router.HandleFunc("/roles/{name}", h.deleteRole).Methods("DELETE")
	router.HandleFunc("/roles/{name}/permissions", h.grantPermission).Methods("POST")
	router.HandleFunc("/roles/{name}/permissions/{permission}", h.revokePermission).Methods("DELETE")
	router.HandleFunc("/users/{id}/roles", h.listUserRoles).Methods("GET")
	router.HandleFunc("/users/{id}/roles/{name}", h.assignRole).Methods("POST")
	router.HandleFunc("/users/{id}/roles/{name}", h.removeRole).Methods("DELETE")
	router.HandleFunc("/users/{id}/permissions", h.listUserPermissions).Methods("GET")
}

// createRole handles POST /roles
func (h *Handlers) createRole(w http.ResponseWriter, r *http.Request) {
	var role Role
	if err := json.NewDecoder(r.Body).Decode(&role); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err)
		return
	}
	if role.Name == "" {
		httputil.WriteErrorMessage(w, http.StatusBadRequest, "role name is required")
		return
	}

	if err := h.store.CreateRole(r.Context(), &role); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err)
		return
	}

	httputil.WriteCreated(w, role)
}

// deleteRole handles DELETE /roles/{name}
func (h *Handlers) deleteRole(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	if IsProtectedRole(name) {
		httputil.WriteErrorMessage(w, http.StatusForbidden, "protected roles cannot be deleted")
		return
	}

	if err := h.store.DeleteRole(r.Context(), name); err != nil {
		httputil.WriteError(w, http.StatusNotFound, err)
		return
	}

	h.resolver.InvalidateRole(r.Context(), name)
	httputil.WriteNoContent(w)
}

// grantPermission handles POST /roles/{name}/permissions
func (h *Handlers) grantPermission(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	var body struct {
		Permission string `json:"permission"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err)
		return
	}
	if body.Permission == "" {
		httputil.WriteErrorMessage(w, http.StatusBadRequest, "permission is required")
		return
	}

	role, err := h.store.GetRoleByName(r.Context(), name)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, err)
		return
	}
	if role == nil {
		httputil.WriteErrorMessage(w, http.StatusNotFound, "role not found")
		return
	}

	if err := h.store.GrantPermission(r.Context(), name, body.Permission); err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, err)
		return
	}

	h.resolver.InvalidateRole(r.Context(), name)
	httputil.WriteSuccess(w, map[string]string{"role": name, "permission": body.Permission})
}

// revokePermission handles DELETE /roles/{name}/permissions/{permission}
func (h *Handlers) revokePermission(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	name := vars["name"]
	permission := vars["permission"]

	if err := h.store.RevokePermission(r.Context(), name, permission); err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, err)
		return
	}

	h.resolver.InvalidateRole(r.Context(), name)
	httputil.WriteNoContent(w)
}

// assignRole handles POST /users/{id}/roles/{name}
func (h *Handlers) assignRole(w http.ResponseWriter, r *http.Request) {
	userID, name, ok := h.userAndRole(w, r)
	if !ok {
		return
	}

	if IsProtectedRole(name) && !h.callerMayManageProtected(r) {
		httputil.WriteErrorMessage(w, http.StatusForbidden, "assigning a protected role requires elevated privileges")
		return
	}

	if err := h.store.AssignRole(r.Context(), userID, name); err != nil {
		httputil.WriteError(w, http.StatusNotFound, err)
		return
	}

	h.resolver.InvalidateUser(r.Context(), userID)
	httputil.WriteSuccess(w, map[string]interface{}{"user_id": userID, "role": name})
}

// removeRole handles DELETE /users/{id}/roles/{name}
func (h *Handlers) removeRole(w http.ResponseWriter, r *http.Request) {
	userID, name, ok := h.userAndRole(w, r)
	if !ok {
		return
	}

	if IsProtectedRole(name) && !h.callerMayManageProtected(r) {
		httputil.WriteErrorMessage(w, http.StatusForbidden, "removing a protected role requires elevated privileges")
		return
	}

	if err := h.store.RemoveRole(r.Context(), userID, name); err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, err)
		return
	}

	h.resolver.InvalidateUser(r.Context(), userID)
	httputil.WriteNoContent(w)
}

// listUserRoles handles GET /users/{id}/roles
func (h *Handlers) listUserRoles(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	roles := h.resolver.GetRoles(r.Context(), userID)
	httputil.WriteSuccess(w, setToSlice(roles))
}

// listUserPermissions handles GET /users/{id}/permissions
func (h *Handlers) listUserPermissions(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	permissions := h.resolver.GetPermissions(r.Context(), userID)
	httputil.WriteSuccess(w, setToSlice(permissions))
}

func (h *Handlers) userID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	userID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		httputil.WriteErrorMessage(w, http.StatusBadRequest, "invalid user id")
		return 0, false
	}
	return userID, true
}

func (h *Handlers) userAndRole(w http.ResponseWriter, r *http.Request) (int64, string, bool) {
	userID, ok := h.userID(w, r)
	if !ok {
		return 0, "", false
	}
	return userID, mux.Vars(r)["name"], true
}

// callerMayManageProtected reports whether the request's principal may
// change protected role membership: superusers and superadmin holders.
func (h *Handlers) callerMayManageProtected(r *http.Request) bool {
	callerID, ok := PrincipalFromContext(r.Context())
	if !ok {
		return false
	}

	caller, err := h.store.GetUser(r.Context(), callerID)
	if err != nil {
		h.logger.WithError(err).WithField("user_id", callerID).Error("failed to load caller for protected role check")
		return false
	}
	if caller == nil {
		return false
	}
	if caller.IsSuperuser {
		return true
	}
	return h.resolver.HasRole(r.Context(), callerID, RoleSuperAdmin)
}

func setToSlice(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

package httpapi

import (
	"net/http"
	"time"

	authcore "github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/middleware"
	"github.com/MrEthical07/authcore/permission"
)

// RBAC routes are admin-only. The engine checks the actor's permissions
// against the live catalog for every call.
func (a *API) registerRBACRoutes() {
	admin := func(h http.HandlerFunc) http.Handler {
		return middleware.Guard(a.engine)(middleware.RequireKind(authcore.KindAdmin)(h))
	}

	a.mux.Handle("GET /roles", admin(a.listRoles))
	a.mux.Handle("POST /roles", admin(a.createRole))
	a.mux.Handle("GET /roles/{id}", admin(a.getRole))
	a.mux.Handle("PATCH /roles/{id}", admin(a.updateRole))
	a.mux.Handle("PUT /roles/{id}/permissions", admin(a.setRolePermissions))
	a.mux.Handle("DELETE /roles/{id}", admin(a.deleteRole))

	a.mux.Handle("GET /permissions", admin(a.listPermissions))
	a.mux.Handle("POST /permissions", admin(a.createPermission))
	a.mux.Handle("PATCH /permissions/{code}", admin(a.updatePermission))
	a.mux.Handle("DELETE /permissions/{code}", admin(a.deletePermission))

	a.mux.Handle("POST /admins", admin(a.createAdmin))
	a.mux.Handle("PUT /users/{id}/role", admin(a.assignRole))
	a.mux.Handle("PUT /users/{id}/override", admin(a.setOverride))
	a.mux.Handle("POST /users/{id}/deactivate", admin(a.deactivateUser))
	a.mux.Handle("POST /users/{id}/reactivate", admin(a.reactivateUser))
	a.mux.Handle("GET /users/{id}/permissions",
		middleware.RequirePermissions(a.engine, permission.UsersRead)(middleware.RequireKind(authcore.KindAdmin)(http.HandlerFunc(a.userPermissions))))
}

func actorID(r *http.Request) string {
	res, _ := middleware.AuthResultFromContext(r.Context())
	return res.UserID
}

type roleJSON struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	IsSystem    bool      `json:"is_system"`
	Permissions []string  `json:"permissions"`
	CreatedAt   time.Time `json:"created_at"`
}

func toRoleJSON(r permission.Role) roleJSON {
	perms := r.Permissions
	if perms == nil {
		perms = []string{}
	}
	return roleJSON{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		IsSystem:    r.IsSystem,
		Permissions: perms,
		CreatedAt:   r.CreatedAt.UTC(),
	}
}

type permissionJSON struct {
	Code        string `json:"code"`
	Resource    string `json:"resource"`
	Action      string `json:"action"`
	Description string `json:"description"`
}

func toPermissionJSON(p permission.Permission) permissionJSON {
	return permissionJSON{Code: p.Code, Resource: p.Resource, Action: p.Action, Description: p.Description}
}

func (a *API) listRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := a.engine.ListRoles(r.Context(), actorID(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	out := make([]roleJSON, 0, len(roles))
	for _, role := range roles {
		out = append(out, toRoleJSON(role))
	}
	writeJSON(w, http.StatusOK, map[string]any{"roles": out})
}

type createRoleRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Permissions []string `json:"permissions"`
}

func (a *API) createRole(w http.ResponseWriter, r *http.Request) {
	var req createRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	role, err := a.engine.CreateRole(r.Context(), actorID(r), req.Name, req.Description, req.Permissions)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRoleJSON(role))
}

func (a *API) getRole(w http.ResponseWriter, r *http.Request) {
	role, err := a.engine.GetRole(r.Context(), actorID(r), r.PathValue("id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRoleJSON(role))
}

type updateRoleRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (a *API) updateRole(w http.ResponseWriter, r *http.Request) {
	var req updateRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	if err := a.engine.UpdateRole(r.Context(), actorID(r), r.PathValue("id"), req.Name, req.Description); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type codesRequest struct {
	Permissions []string `json:"permissions"`
}

func (a *API) setRolePermissions(w http.ResponseWriter, r *http.Request) {
	var req codesRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	if err := a.engine.SetRolePermissions(r.Context(), actorID(r), r.PathValue("id"), req.Permissions); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) deleteRole(w http.ResponseWriter, r *http.Request) {
	if err := a.engine.DeleteRole(r.Context(), actorID(r), r.PathValue("id")); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) listPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := a.engine.ListPermissions(r.Context(), actorID(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	out := make([]permissionJSON, 0, len(perms))
	for _, p := range perms {
		out = append(out, toPermissionJSON(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{"permissions": out})
}

type createPermissionRequest struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

func (a *API) createPermission(w http.ResponseWriter, r *http.Request) {
	var req createPermissionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	p, err := a.engine.CreatePermission(r.Context(), actorID(r), req.Code, req.Description)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPermissionJSON(p))
}

type describeRequest struct {
	Description string `json:"description"`
}

func (a *API) updatePermission(w http.ResponseWriter, r *http.Request) {
	var req describeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	if err := a.engine.UpdatePermissionDescription(r.Context(), actorID(r), r.PathValue("code"), req.Description); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) deletePermission(w http.ResponseWriter, r *http.Request) {
	if err := a.engine.DeletePermission(r.Context(), actorID(r), r.PathValue("code")); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type assignRoleRequest struct {
	RoleID string `json:"role_id"`
}

func (a *API) assignRole(w http.ResponseWriter, r *http.Request) {
	var req assignRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	if err := a.engine.AssignRole(r.Context(), actorID(r), r.PathValue("id"), req.RoleID); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type createAdminRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	RoleID   string `json:"role_id"`
}

func (a *API) createAdmin(w http.ResponseWriter, r *http.Request) {
	var req createAdminRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	user, err := a.engine.CreateAdmin(r.Context(), actorID(r), req.Email, req.Password, req.RoleID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"user_id": user.UserID,
		"email":   user.Email,
		"kind":    user.Kind,
		"role_id": req.RoleID,
	})
}

type overrideRequest struct {
	Add    []string `json:"add"`
	Remove []string `json:"remove"`
}

func (a *API) setOverride(w http.ResponseWriter, r *http.Request) {
	var req overrideRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	ov := permission.Override{Add: req.Add, Remove: req.Remove}
	if err := a.engine.SetOverride(r.Context(), actorID(r), r.PathValue("id"), ov); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// userPermissions reports the effective set; callers need users:read.
func (a *API) userPermissions(w http.ResponseWriter, r *http.Request) {
	codes, err := a.engine.EffectivePermissions(r.Context(), r.PathValue("id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user_id": r.PathValue("id"), "permissions": codes})
}

func (a *API) deactivateUser(w http.ResponseWriter, r *http.Request) {
	if err := a.engine.DeactivateAccount(r.Context(), actorID(r), r.PathValue("id")); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) reactivateUser(w http.ResponseWriter, r *http.Request) {
	if err := a.engine.ReactivateAccount(r.Context(), actorID(r), r.PathValue("id")); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"idvault.org/internal/auth"
)

type createRoleRequest struct {
	Name          string   `json:"name"`
	PermissionIDs []string `json:"permission_ids"`
}

type updateRoleRequest struct {
	Name          string    `json:"name"`
	PermissionIDs *[]string `json:"permission_ids"`
}

type roleDetailResponse struct {
	*auth.Role
	Permissions []auth.Permission `json:"permissions"`
}

func (a *API) handleRoles(w http.ResponseWriter, r *http.Request) {
	p, ok := a.principal(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		roles, err := a.svc.ListRoles(r.Context(), p)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": roles})
	case http.MethodPost:
		var req createRoleRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		role, err := a.svc.CreateRole(r.Context(), p, req.Name, req.PermissionIDs)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		a.audit(r.Context(), "role.create", "role", role.ID, map[string]string{
			"name":  role.Name,
			"count": strconv.Itoa(len(req.PermissionIDs)),
		})
		w.Header().Set("Location", "/v1/roles/"+role.ID)
		writeJSON(w, http.StatusCreated, role)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleRoleResource(w http.ResponseWriter, r *http.Request) {
	roleID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/roles/"), "/")
	if roleID == "" || strings.Contains(roleID, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	p, ok := a.principal(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		role, perms, err := a.svc.GetRole(r.Context(), p, roleID)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, roleDetailResponse{Role: role, Permissions: perms})
	case http.MethodPatch:
		var req updateRoleRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if req.PermissionIDs == nil {
			writeError(w, r, http.StatusBadRequest, "permission_ids is required")
			return
		}
		role, err := a.svc.UpdateRole(r.Context(), p, roleID, req.Name, *req.PermissionIDs)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		a.audit(r.Context(), "role.update", "role", role.ID, map[string]string{
			"name":  role.Name,
			"count": strconv.Itoa(len(*req.PermissionIDs)),
		})
		writeJSON(w, http.StatusOK, role)
	case http.MethodDelete:
		if err := a.svc.DeleteRole(r.Context(), p, roleID); err != nil {
			handleAuthError(w, r, err)
			return
		}
		a.audit(r.Context(), "role.delete", "role", roleID, nil)
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch, http.MethodDelete)
	}
}

func (a *API) handlePermissions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	p, ok := a.principal(w, r)
	if !ok {
		return
	}
	perms, err := a.svc.ListPermissions(r.Context(), p)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": perms})
}

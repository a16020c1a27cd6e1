package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"idvault.org/internal/auth"
)

type updateUserRequest struct {
	Name       *string `json:"name"`
	Username   *string `json:"username"`
	EmployeeID *string `json:"employee_id"`
	Email      *string `json:"email"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type resetPasswordRequest struct {
	Password string `json:"password"`
}

type changeStatusRequest struct {
	Active *bool `json:"active"`
}

type syncRolesRequest struct {
	// Pointer distinguishes an absent field from an explicit empty list;
	// the empty list deliberately clears all assignments.
	RoleIDs *[]string `json:"role_ids"`
}

type syncPermissionsRequest struct {
	PermissionIDs *[]string `json:"permission_ids"`
}

func (a *API) handleUsers(w http.ResponseWriter, r *http.Request) {
	p, ok := a.principal(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		filter := auth.UserFilter{}
		if raw := r.URL.Query().Get("active"); raw != "" {
			active, err := strconv.ParseBool(raw)
			if err != nil {
				writeError(w, r, http.StatusBadRequest, "active must be a boolean")
				return
			}
			filter.Active = &active
		}
		if raw := r.URL.Query().Get("include_deleted"); raw != "" {
			include, err := strconv.ParseBool(raw)
			if err != nil {
				writeError(w, r, http.StatusBadRequest, "include_deleted must be a boolean")
				return
			}
			filter.IncludeDeleted = include
		}
		users, err := a.svc.ListUsers(r.Context(), p, filter)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": users})
	case http.MethodPost:
		var req registerRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		user, err := a.svc.CreateUser(r.Context(), p, auth.RegisterInput{
			Name:       req.Name,
			Username:   req.Username,
			EmployeeID: req.EmployeeID,
			Email:      req.Email,
			Password:   req.Password,
		})
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		a.audit(r.Context(), "user.create", "user", user.ID, map[string]string{
			"username": user.Username,
		})
		w.Header().Set("Location", "/v1/users/"+user.ID)
		writeJSON(w, http.StatusCreated, user)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	p, ok := a.principal(w, r)
	if !ok {
		return
	}
	user, err := a.svc.GetUser(r.Context(), p, p.User.ID)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (a *API) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	p, ok := a.principal(w, r)
	if !ok {
		return
	}
	var req changePasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.svc.ChangePassword(r.Context(), p, req.CurrentPassword, req.NewPassword); err != nil {
		handleAuthError(w, r, err)
		return
	}
	a.audit(r.Context(), "user.password.change", "user", p.User.ID, nil)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleUserResource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/users/"), "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	p, ok := a.principal(w, r)
	if !ok {
		return
	}
	parts := strings.Split(path, "/")
	userID := parts[0]

	switch {
	case len(parts) == 1:
		a.handleUserByID(w, r, p, userID)
	case len(parts) == 2 && parts[1] == "restore":
		a.handleUserRestore(w, r, p, userID)
	case len(parts) == 2 && parts[1] == "permanent":
		a.handleUserPermanentDelete(w, r, p, userID)
	case len(parts) == 2 && parts[1] == "status":
		a.handleUserStatus(w, r, p, userID)
	case len(parts) == 2 && parts[1] == "reset-password":
		a.handleUserResetPassword(w, r, p, userID)
	case len(parts) == 2 && parts[1] == "roles":
		a.handleUserRoles(w, r, p, userID)
	case len(parts) == 2 && parts[1] == "permissions":
		a.handleUserPermissions(w, r, p, userID)
	case len(parts) == 2 && parts[1] == "sessions":
		a.handleUserSessions(w, r, p, userID)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleUserByID(w http.ResponseWriter, r *http.Request, p auth.Principal, userID string) {
	switch r.Method {
	case http.MethodGet:
		user, err := a.svc.GetUser(r.Context(), p, userID)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, user)
	case http.MethodPatch:
		var req updateUserRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		user, err := a.svc.UpdateUser(r.Context(), p, userID, auth.UserUpdate{
			Name:       req.Name,
			Username:   req.Username,
			EmployeeID: req.EmployeeID,
			Email:      req.Email,
		})
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		a.audit(r.Context(), "user.update", "user", user.ID, nil)
		writeJSON(w, http.StatusOK, user)
	case http.MethodDelete:
		if err := a.svc.DeleteUser(r.Context(), p, userID); err != nil {
			handleAuthError(w, r, err)
			return
		}
		a.audit(r.Context(), "user.delete", "user", userID, nil)
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch, http.MethodDelete)
	}
}

func (a *API) handleUserRestore(w http.ResponseWriter, r *http.Request, p auth.Principal, userID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if err := a.svc.RestoreUser(r.Context(), p, userID); err != nil {
		handleAuthError(w, r, err)
		return
	}
	a.audit(r.Context(), "user.restore", "user", userID, nil)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleUserPermanentDelete(w http.ResponseWriter, r *http.Request, p auth.Principal, userID string) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodDelete)
		return
	}
	if err := a.svc.HardDeleteUser(r.Context(), p, userID); err != nil {
		handleAuthError(w, r, err)
		return
	}
	a.audit(r.Context(), "user.delete.permanent", "user", userID, nil)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleUserStatus(w http.ResponseWriter, r *http.Request, p auth.Principal, userID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req changeStatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.Active == nil {
		writeError(w, r, http.StatusBadRequest, "active is required")
		return
	}
	if err := a.svc.ChangeStatus(r.Context(), p, userID, *req.Active); err != nil {
		handleAuthError(w, r, err)
		return
	}
	a.audit(r.Context(), "user.status.change", "user", userID, map[string]string{
		"active": strconv.FormatBool(*req.Active),
	})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleUserResetPassword(w http.ResponseWriter, r *http.Request, p auth.Principal, userID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req resetPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.svc.ResetPassword(r.Context(), p, userID, req.Password); err != nil {
		handleAuthError(w, r, err)
		return
	}
	a.audit(r.Context(), "user.password.reset", "user", userID, nil)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleUserRoles(w http.ResponseWriter, r *http.Request, p auth.Principal, userID string) {
	switch r.Method {
	case http.MethodGet:
		roles, err := a.svc.UserRoles(r.Context(), p, userID)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": roles})
	case http.MethodPut:
		var req syncRolesRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if req.RoleIDs == nil {
			writeError(w, r, http.StatusBadRequest, "role_ids is required")
			return
		}
		if err := a.svc.SyncUserRoles(r.Context(), p, userID, *req.RoleIDs); err != nil {
			handleAuthError(w, r, err)
			return
		}
		a.audit(r.Context(), "user.roles.sync", "user", userID, map[string]string{
			"count": strconv.Itoa(len(*req.RoleIDs)),
		})
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPut)
	}
}

func (a *API) handleUserPermissions(w http.ResponseWriter, r *http.Request, p auth.Principal, userID string) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r, http.MethodPut)
		return
	}
	var req syncPermissionsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.PermissionIDs == nil {
		writeError(w, r, http.StatusBadRequest, "permission_ids is required")
		return
	}
	if err := a.svc.SyncUserPermissions(r.Context(), p, userID, *req.PermissionIDs); err != nil {
		handleAuthError(w, r, err)
		return
	}
	a.audit(r.Context(), "user.permissions.sync", "user", userID, map[string]string{
		"count": strconv.Itoa(len(*req.PermissionIDs)),
	})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleUserSessions(w http.ResponseWriter, r *http.Request, p auth.Principal, userID string) {
	switch r.Method {
	case http.MethodGet:
		sessions, err := a.svc.Sessions(r.Context(), p, userID)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": sessions})
	case http.MethodDelete:
		if err := a.svc.RevokeUserSessions(r.Context(), p, userID); err != nil {
			handleAuthError(w, r, err)
			return
		}
		a.audit(r.Context(), "user.sessions.revoke_all", "user", userID, nil)
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodDelete)
	}
}

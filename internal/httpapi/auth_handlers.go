package httpapi

import (
	"net/http"
	"strings"

	"idvault.org/internal/auth"
	"idvault.org/internal/obs"
)

type registerRequest struct {
	Name       string `json:"name"`
	Username   string `json:"username"`
	EmployeeID string `json:"employee_id"`
	Email      string `json:"email"`
	Password   string `json:"password"`
}

type loginRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

type sessionResponse struct {
	User  *auth.User `json:"user"`
	Token string     `json:"token"`
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	user, token, err := a.svc.Register(r.Context(), auth.RegisterInput{
		Name:       req.Name,
		Username:   req.Username,
		EmployeeID: req.EmployeeID,
		Email:      req.Email,
		Password:   req.Password,
	}, clientMeta(r))
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	obs.TokenIssued()
	a.audit(r.Context(), "auth.register", "user", user.ID, map[string]string{
		"username": user.Username,
	})
	writeJSON(w, http.StatusCreated, sessionResponse{User: user, Token: token})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	user, token, err := a.svc.Login(r.Context(), auth.Credentials{
		Login:    req.Login,
		Password: req.Password,
	}, clientMeta(r))
	if err != nil {
		obs.AuthFailure("bad_credentials")
		handleAuthError(w, r, err)
		return
	}
	obs.TokenIssued()
	a.audit(r.Context(), "auth.login", "user", user.ID, map[string]string{
		"username": user.Username,
	})
	writeJSON(w, http.StatusOK, sessionResponse{User: user, Token: token})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	p, ok := a.principal(w, r)
	if !ok {
		return
	}
	if err := a.svc.RevokeCurrent(r.Context(), p); err != nil {
		handleAuthError(w, r, err)
		return
	}
	a.audit(r.Context(), "auth.logout", "token", p.TokenID, nil)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleOwnSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	p, ok := a.principal(w, r)
	if !ok {
		return
	}
	sessions, err := a.svc.Sessions(r.Context(), p, "")
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items":   sessions,
		"current": p.TokenID,
	})
}

func (a *API) handleSessionResource(w http.ResponseWriter, r *http.Request) {
	tokenID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/auth/sessions/"), "/")
	if tokenID == "" || strings.Contains(tokenID, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodDelete)
		return
	}
	p, ok := a.principal(w, r)
	if !ok {
		return
	}
	if err := a.svc.RevokeSession(r.Context(), p, tokenID); err != nil {
		handleAuthError(w, r, err)
		return
	}
	a.audit(r.Context(), "auth.session.revoke", "token", tokenID, nil)
	w.WriteHeader(http.StatusNoContent)
}

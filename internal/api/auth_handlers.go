package api

import (
	"net/http"

	"github.com/gravitational/trace"
	"github.com/julienschmidt/httprouter"

	"github.com/iu2frl/cloudshell/internal/audit"
	"github.com/iu2frl/cloudshell/internal/auth"
	"github.com/iu2frl/cloudshell/internal/httplib"
)

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresAt   string `json:"expires_at"`
}

// authToken implements POST /api/auth/token. A successful login writes
// exactly one LOGIN audit row; a failed one writes none.
func (h *Handler) authToken(w http.ResponseWriter, r *http.Request, _ httprouter.Params) (interface{}, error) {
	if err := r.ParseForm(); err != nil {
		return nil, trace.BadParameter("invalid form body: %v", err)
	}
	username := r.FormValue("username")
	password := r.FormValue("password")

	ok, err := h.Auth.VerifyPassword(r.Context(), username, password)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if !ok {
		return nil, &auth.TokenError{Reason: auth.ReasonInvalidCredentials}
	}

	token, expiresAt, err := h.Auth.Issue(username)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	h.Audit.Write(r.Context(), username, audit.ActionLogin, sourceIP(r), "")
	return tokenResponse{AccessToken: token, TokenType: "bearer", ExpiresAt: expiresAt.Format(httplib.TimeFormat)}, nil
}

func (h *Handler) authRefresh(w http.ResponseWriter, r *http.Request, _ httprouter.Params, principal *auth.Principal) (interface{}, error) {
	token, expiresAt, err := h.Auth.Refresh(r.Context(), bearerToken(r))
	if err != nil {
		return nil, err
	}
	return tokenResponse{AccessToken: token, TokenType: "bearer", ExpiresAt: expiresAt.Format(httplib.TimeFormat)}, nil
}

// authLogout is deliberately not behind withAuth: an invalid, expired, or
// already-revoked token must still return 204 (idempotent logout), and
// withAuth's Validate would reject those with 401 before Logout's own
// lenient handling ever ran. Only a missing token is rejected.
func (h *Handler) authLogout(w http.ResponseWriter, r *http.Request, _ httprouter.Params) (interface{}, error) {
	token := bearerToken(r)
	if token == "" {
		return nil, &auth.TokenError{Reason: auth.ReasonMalformed}
	}
	principal, _ := h.Auth.Validate(r.Context(), token)
	if err := h.Auth.Logout(r.Context(), token); err != nil {
		return nil, err
	}
	if principal != nil {
		h.Audit.Write(r.Context(), principal.Subject, audit.ActionLogout, sourceIP(r), "")
	}
	w.WriteHeader(http.StatusNoContent)
	return nil, nil
}

type meResponse struct {
	Username  string `json:"username"`
	ExpiresAt string `json:"expires_at"`
}

func (h *Handler) authMe(w http.ResponseWriter, r *http.Request, _ httprouter.Params, principal *auth.Principal) (interface{}, error) {
	return meResponse{Username: principal.Subject, ExpiresAt: principal.Expires.Format(httplib.TimeFormat)}, nil
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

func (h *Handler) authChangePassword(w http.ResponseWriter, r *http.Request, _ httprouter.Params, principal *auth.Principal) (interface{}, error) {
	var req changePasswordRequest
	if err := httplib.ReadJSON(r, &req); err != nil {
		return nil, err
	}
	if err := h.Auth.ChangePassword(r.Context(), principal.Subject, req.CurrentPassword, req.NewPassword); err != nil {
		return nil, err
	}
	h.Audit.Write(r.Context(), principal.Subject, audit.ActionPasswordChanged, sourceIP(r), "")
	w.WriteHeader(http.StatusNoContent)
	return nil, nil
}

package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/iu2frl/cloudshell/internal/audit"
	"github.com/iu2frl/cloudshell/internal/auth"
	"github.com/iu2frl/cloudshell/internal/credentials"
	"github.com/iu2frl/cloudshell/internal/devices"
	"github.com/iu2frl/cloudshell/internal/hostkeys"
	"github.com/iu2frl/cloudshell/internal/session"
	"github.com/iu2frl/cloudshell/internal/store"
	"github.com/iu2frl/cloudshell/internal/vault"
)

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	dir := t.TempDir()

	db, err := store.Open(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	v, err := vault.New("test-secret-key", filepath.Join(dir, "keys"))
	require.NoError(t, err)

	credMat, err := credentials.New(v, filepath.Join(dir, "keys", "tmp"))
	require.NoError(t, err)

	policy, err := hostkeys.New("")
	require.NoError(t, err)

	authStore, err := auth.New(auth.Config{
		DB:              db,
		SecretKey:       "test-secret-key",
		DefaultUsername: "admin",
		DefaultPassword: "admin",
	})
	require.NoError(t, err)

	h := New(7)
	h.Auth = authStore
	h.Devices = devices.New(db)
	h.Credentials = credMat
	h.Vault = v
	h.Policy = policy
	h.Sessions = session.NewRegistry()
	h.Audit = audit.New(db)
	return h
}

func TestHealthIsPublic(t *testing.T) {
	h := newTestHandler(t)
	srv := httptest.NewServer(h.NewRouter([]string{"*"}, ""))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestLoginRefreshLogoutFlow(t *testing.T) {
	h := newTestHandler(t)
	srv := httptest.NewServer(h.NewRouter([]string{"*"}, ""))
	defer srv.Close()

	form := url.Values{"username": {"admin"}, "password": {"admin"}}
	resp, err := http.PostForm(srv.URL+"/api/auth/token", form)
	require.NoError(t, err)
	var tok tokenResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&tok))
	resp.Body.Close()
	require.Equal(t, "bearer", tok.TokenType)
	require.NotEmpty(t, tok.AccessToken)

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/auth/refresh", nil)
	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	var refreshed tokenResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&refreshed))
	resp.Body.Close()
	require.NotEqual(t, tok.AccessToken, refreshed.AccessToken)

	meReq, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/auth/me", nil)
	meReq.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	resp, err = http.DefaultClient.Do(meReq)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	logoutReq, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/auth/logout", nil)
	logoutReq.Header.Set("Authorization", "Bearer "+refreshed.AccessToken)
	resp, err = http.DefaultClient.Do(logoutReq)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, err = http.DefaultClient.Do(logoutReq)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestLogoutWithInvalidTokenIsNoOp(t *testing.T) {
	h := newTestHandler(t)
	srv := httptest.NewServer(h.NewRouter([]string{"*"}, ""))
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/auth/logout", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt-at-all")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestLogoutWithMissingTokenReturns401(t *testing.T) {
	h := newTestHandler(t)
	srv := httptest.NewServer(h.NewRouter([]string{"*"}, ""))
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/auth/logout", nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	h := newTestHandler(t)
	srv := httptest.NewServer(h.NewRouter([]string{"*"}, ""))
	defer srv.Close()

	form := url.Values{"username": {"admin"}, "password": {"wrong"}}
	resp, err := http.PostForm(srv.URL+"/api/auth/token", form)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestDeviceCRUDFlow(t *testing.T) {
	h := newTestHandler(t)
	srv := httptest.NewServer(h.NewRouter([]string{"*"}, ""))
	defer srv.Close()

	token := loginAndGetToken(t, srv.URL)

	body, _ := json.Marshal(deviceRequest{
		Name: "box1", Hostname: "10.0.0.1", Port: 22, Username: "root",
		AuthType: "password", Password: "hunter2",
	})
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/devices", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	var created deviceView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	resp.Body.Close()
	require.NotZero(t, created.ID)
	require.Equal(t, "box1", created.Name)

	listReq, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/devices", nil)
	listReq.Header.Set("Authorization", "Bearer "+token)
	resp, err = http.DefaultClient.Do(listReq)
	require.NoError(t, err)
	var list []deviceView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	resp.Body.Close()
	require.Len(t, list, 1)

	delReq, _ := http.NewRequest(http.MethodDelete, srv.URL+"/api/devices/1", nil)
	delReq.Header.Set("Authorization", "Bearer "+token)
	resp, err = http.DefaultClient.Do(delReq)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func loginAndGetToken(t *testing.T, baseURL string) string {
	t.Helper()
	form := url.Values{"username": {"admin"}, "password": {"admin"}}
	resp, err := http.PostForm(baseURL+"/api/auth/token", form)
	require.NoError(t, err)
	defer resp.Body.Close()
	var tok tokenResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&tok))
	return tok.AccessToken
}

package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBearerToken(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	require.Empty(t, bearerToken(r))

	r.Header.Set("Authorization", "Bearer abc.def.ghi")
	require.Equal(t, "abc.def.ghi", bearerToken(r))

	r.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	require.Empty(t, bearerToken(r))
}

func TestSourceIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.5:1234"
	require.Equal(t, "10.0.0.5:1234", sourceIP(r))

	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	require.Equal(t, "203.0.113.9", sourceIP(r))

	r2 := httptest.NewRequest(http.MethodGet, "/", nil)
	r2.Header.Set("X-Real-IP", "198.51.100.7")
	require.Equal(t, "198.51.100.7", sourceIP(r2))
}

func TestLastSlash(t *testing.T) {
	require.Equal(t, 10, lastSlash("/home/user/file.txt"))
	require.Equal(t, -1, lastSlash("file.txt"))
}

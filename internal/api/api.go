// Package api wires every component into the HTTP/WebSocket edge: routing,
// the bearer-auth gate, CORS, and static SPA hosting.
package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"

	"github.com/iu2frl/cloudshell/internal/audit"
	"github.com/iu2frl/cloudshell/internal/auth"
	"github.com/iu2frl/cloudshell/internal/credentials"
	"github.com/iu2frl/cloudshell/internal/devices"
	"github.com/iu2frl/cloudshell/internal/hostkeys"
	"github.com/iu2frl/cloudshell/internal/httplib"
	"github.com/iu2frl/cloudshell/internal/session"
	"github.com/iu2frl/cloudshell/internal/vault"
)

var log = logrus.WithField("component", "api")

// Version is the build version reported by /api/health.
const Version = "1.0.0"

// Handler holds every component the HTTP edge dispatches into. It carries
// no package-level state; the caller in cmd/cloudshelld constructs exactly
// one of these.
type Handler struct {
	Auth        *auth.Store
	Devices     *devices.Repository
	Credentials *credentials.Materializer
	Vault       *vault.Vault
	Policy      *hostkeys.Policy
	Sessions    *session.Registry
	Audit       *audit.Log

	startedAt          time.Time
	auditRetentionDays int
}

// New returns a Handler with its start time recorded for /api/health and
// auditRetentionDays as the default used when /api/audit/prune is called
// without an explicit override.
func New(auditRetentionDays int) *Handler {
	return &Handler{startedAt: time.Now(), auditRetentionDays: auditRetentionDays}
}

// NewRouter builds the full httprouter.Router and wraps it with CORS,
// matching the original's permissive-by-default, configurable-allowlist
// CORSMiddleware.
func (h *Handler) NewRouter(corsOrigins []string, staticDir string) http.Handler {
	r := httprouter.New()
	r.PanicHandler = panicHandler

	r.GET("/api/health", httplib.MakeHandler(h.health))

	r.POST("/api/auth/token", httplib.MakeHandler(h.authToken))
	r.POST("/api/auth/refresh", httplib.MakeHandler(h.withAuth(h.authRefresh)))
	r.POST("/api/auth/logout", httplib.MakeHandler(h.authLogout))
	r.GET("/api/auth/me", httplib.MakeHandler(h.withAuth(h.authMe)))
	r.POST("/api/auth/change-password", httplib.MakeHandler(h.withAuth(h.authChangePassword)))

	r.POST("/api/keys/generate", httplib.MakeHandler(h.withAuth(h.keysGenerate)))

	r.GET("/api/devices", httplib.MakeHandler(h.withAuth(h.devicesList)))
	r.POST("/api/devices", httplib.MakeHandler(h.withAuth(h.devicesCreate)))
	r.GET("/api/devices/:id", httplib.MakeHandler(h.withAuth(h.devicesGet)))
	r.PUT("/api/devices/:id", httplib.MakeHandler(h.withAuth(h.devicesUpdate)))
	r.DELETE("/api/devices/:id", httplib.MakeHandler(h.withAuth(h.devicesDelete)))

	r.GET("/api/audit/logs", httplib.MakeHandler(h.withAuth(h.auditList)))
	r.POST("/api/audit/prune", httplib.MakeHandler(h.withAuth(h.auditPrune)))

	r.POST("/api/terminal/session/:device_id", httplib.MakeHandler(h.withAuth(h.terminalOpen)))
	r.GET("/api/terminal/ws/:session_id", httplib.MakeHandler(h.terminalWS))

	r.POST("/api/sftp/session/:device_id", httplib.MakeHandler(h.withAuth(h.sftpOpen)))
	r.DELETE("/api/sftp/session/:session_id", httplib.MakeHandler(h.withAuth(h.sftpClose)))
	r.GET("/api/sftp/:sid/list", httplib.MakeHandler(h.withAuth(h.sftpList)))
	r.GET("/api/sftp/:sid/download", httplib.MakeHandler(h.withAuth(h.sftpDownload)))
	r.POST("/api/sftp/:sid/upload", httplib.MakeHandler(h.withAuth(h.sftpUpload)))
	r.POST("/api/sftp/:sid/delete", httplib.MakeHandler(h.withAuth(h.sftpDelete)))
	r.POST("/api/sftp/:sid/rename", httplib.MakeHandler(h.withAuth(h.sftpRename)))
	r.POST("/api/sftp/:sid/mkdir", httplib.MakeHandler(h.withAuth(h.sftpMkdir)))

	var handler http.Handler = r
	if staticDir != "" {
		handler = withStatic(r, staticDir)
	}

	c := cors.New(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	})
	return c.Handler(handler)
}

// panicHandler recovers a panic from any route, logs it with the request
// method and path, and returns the standard {detail, type} 500 envelope
// instead of letting net/http abort the connection bare.
func panicHandler(w http.ResponseWriter, r *http.Request, rcv interface{}) {
	log.WithFields(logrus.Fields{
		"method": r.Method,
		"path":   r.URL.Path,
		"panic":  rcv,
	}).Error("panic recovered")
	httplib.WriteErrorEnvelope(w, http.StatusInternalServerError, "internal server error", "internal")
}

// withStatic serves the SPA build from dir on disk for any path outside
// /api/, mirroring the original's conditional StaticFiles mount at "/".
func withStatic(api *httprouter.Router, dir string) http.Handler {
	fs := http.FileServer(http.Dir(dir))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") {
			api.ServeHTTP(w, r)
			return
		}
		fs.ServeHTTP(w, r)
	})
}

type principalKey struct{}

// withPrincipal is the shape every authenticated handler implements: the
// validated Principal is resolved once by withAuth and handed down instead
// of every handler re-parsing the Authorization header.
type withPrincipal func(w http.ResponseWriter, r *http.Request, p httprouter.Params, principal *auth.Principal) (interface{}, error)

// withAuth validates the bearer token and passes the resolved principal to
// handler, matching the teacher's withAuth(handler) shape in
// lib/auth/apiserver.go, generalized from a cluster Authorizer to this
// gateway's single JWT store.
func (h *Handler) withAuth(handler withPrincipal) httplib.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) (interface{}, error) {
		token := bearerToken(r)
		principal, err := h.Auth.Validate(r.Context(), token)
		if err != nil {
			return nil, err
		}
		ctx := context.WithValue(r.Context(), principalKey{}, principal)
		return handler(w, r.WithContext(ctx), p, principal)
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}

// sourceIP extracts the client address per §4.8: leftmost X-Forwarded-For
// entry, else X-Real-IP, else the direct peer address, truncated to 45
// characters (the longest valid IPv6 text form plus margin).
func sourceIP(r *http.Request) string {
	ip := r.RemoteAddr
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ip = strings.TrimSpace(strings.Split(xff, ",")[0])
	} else if xri := r.Header.Get("X-Real-IP"); xri != "" {
		ip = xri
	}
	if len(ip) > 45 {
		ip = ip[:45]
	}
	return ip
}

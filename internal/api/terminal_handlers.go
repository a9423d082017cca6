package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/gravitational/trace"
	"github.com/julienschmidt/httprouter"

	"github.com/iu2frl/cloudshell/internal/audit"
	"github.com/iu2frl/cloudshell/internal/auth"
	"github.com/iu2frl/cloudshell/internal/bridge"
	"github.com/iu2frl/cloudshell/internal/session"
)

// upgrader accepts any origin: the gateway's real access control is the
// bearer token carried on the query string, not same-origin browser policy.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type sessionResponse struct {
	SessionID string `json:"session_id"`
}

func (h *Handler) terminalOpen(w http.ResponseWriter, r *http.Request, p httprouter.Params, principal *auth.Principal) (interface{}, error) {
	id, err := openSessionDial(h, r, p, principal, session.KindShell)
	if err != nil {
		return nil, err
	}
	return sessionResponse{SessionID: id}, nil
}

// terminalWS upgrades the connection unconditionally (a browser cannot act
// on a rejected upgrade's status code), then validates the ?token=
// parameter with the auth store, closing with 4001 before
// running the bridge if it's missing or invalid, per §4.9/§6.
func (h *Handler) terminalWS(w http.ResponseWriter, r *http.Request, p httprouter.Params) (interface{}, error) {
	sessionID := p.ByName("session_id")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	principal, err := h.Auth.Validate(r.Context(), r.URL.Query().Get("token"))
	if err != nil {
		closeWithCode(conn, 4001, "invalid or missing token")
		return nil, nil
	}

	meta := h.Sessions.Meta(sessionID)
	bridge.Run(conn, h.Sessions, sessionID)
	h.Sessions.Close(sessionID)

	if meta.DeviceLabel != "" {
		h.Audit.Write(r.Context(), principal.Subject, audit.ActionSessionEnded, meta.SourceIP, meta.DeviceLabel)
	}
	return nil, nil
}

func closeWithCode(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
	_ = conn.Close()
}

// openSessionDial resolves the device, materializes its credential, dials,
// and registers a session of kind. The ephemeral credential is guaranteed
// to be cleaned up before this function returns, matching §5's "bounded by
// the connect call" resource-ownership rule.
func openSessionDial(h *Handler, r *http.Request, p httprouter.Params, principal *auth.Principal, kind session.Kind) (string, error) {
	deviceID, err := strconv.ParseInt(p.ByName("device_id"), 10, 64)
	if err != nil {
		return "", trace.BadParameter("invalid device id")
	}
	d, err := h.Devices.Get(r.Context(), deviceID)
	if err != nil {
		return "", err
	}

	cred, err := h.Credentials.Resolve(d)
	if err != nil {
		return "", trace.Wrap(err)
	}
	defer cred.Cleanup()

	dial := session.DialParams{
		Hostname: d.Hostname,
		Port:     d.Port,
		Username: d.Username,
		Cred:     cred,
		Policy:   h.Policy,
	}

	var id string
	switch kind {
	case session.KindSFTP:
		id, err = h.Sessions.OpenSFTP(d.Name, principal.Subject, sourceIP(r), dial)
	default:
		id, err = h.Sessions.OpenShell(d.Name, principal.Subject, sourceIP(r), dial)
	}
	if err != nil {
		return "", err
	}

	h.Audit.Write(r.Context(), principal.Subject, audit.ActionSessionStarted, sourceIP(r), d.Name)
	return id, nil
}

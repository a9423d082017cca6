// Package httplib adapts handlers that return (interface{}, error) into
// httprouter.Handle, centralizing the kind→status mapping so individual
// handlers never repeat it.
package httplib

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gravitational/trace"
	"github.com/julienschmidt/httprouter"
	"github.com/sirupsen/logrus"

	"github.com/iu2frl/cloudshell/internal/auth"
	"github.com/iu2frl/cloudshell/internal/session"
)

var log = logrus.WithField("component", "httplib")

// TimeFormat is the timestamp layout used for every expires_at field the
// API returns.
const TimeFormat = time.RFC3339

// HandlerFunc is the shape every route handler implements. A nil, nil
// return means the handler has already written the response itself (used
// for raw downloads and the WebSocket upgrade).
type HandlerFunc func(w http.ResponseWriter, r *http.Request, p httprouter.Params) (interface{}, error)

// MakeHandler wraps fn as an httprouter.Handle, writing the JSON result or
// mapping the error to a status code and an error envelope.
func MakeHandler(fn HandlerFunc) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		out, err := fn(w, r, p)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if out == nil {
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// ReadJSON decodes the request body into v.
func ReadJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return trace.BadParameter("invalid request body: %v", err)
	}
	return nil
}

// WriteJSON writes v as a JSON body with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	writeJSON(w, status, v)
}

// WriteErrorEnvelope writes the {detail, type} envelope spec §7 requires,
// for callers outside MakeHandler's error path (a router's PanicHandler).
func WriteErrorEnvelope(w http.ResponseWriter, status int, detail, kind string) {
	writeJSON(w, status, errorBody{Detail: detail, Type: kind})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Error("failed to encode response body")
	}
}

// errorBody is the {detail, type} envelope spec requires for unhandled
// errors, reused for every mapped kind so clients get one consistent shape.
type errorBody struct {
	Detail string `json:"detail"`
	Type   string `json:"type"`
}

// writeError maps a trace-wrapped error to the status codes spec.md §7
// requires and writes the {detail, type} envelope. Unrecognized errors
// fall back to 500 and are logged with the request method and path.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, kind := classify(err)
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", "Bearer")
	}
	if status == http.StatusInternalServerError {
		log.WithError(err).WithFields(logrus.Fields{
			"method": r.Method,
			"path":   r.URL.Path,
		}).Error("unhandled error")
	}
	writeJSON(w, status, errorBody{Detail: err.Error(), Type: kind})
}

func classify(err error) (status int, kind string) {
	var tokenErr *auth.TokenError
	if errors.As(err, &tokenErr) {
		return http.StatusUnauthorized, string(tokenErr.Reason)
	}

	var dialErr *session.DialError
	if errors.As(err, &dialErr) {
		switch dialErr.Kind {
		case session.DialKindAuthDenied:
			return http.StatusUnauthorized, string(dialErr.Kind)
		case session.DialKindHostKeyUnverified:
			return http.StatusBadGateway, string(dialErr.Kind)
		case session.DialKindConnectionLost:
			return http.StatusGatewayTimeout, string(dialErr.Kind)
		default:
			return http.StatusBadGateway, string(dialErr.Kind)
		}
	}

	switch {
	case trace.IsNotFound(err):
		return http.StatusNotFound, "not-found"
	case trace.IsBadParameter(err):
		return http.StatusUnprocessableEntity, "validation"
	case trace.IsAccessDenied(err):
		return http.StatusUnauthorized, "access-denied"
	case trace.IsAlreadyExists(err):
		return http.StatusConflict, "already-exists"
	case trace.IsConnectionProblem(err):
		return http.StatusGatewayTimeout, "connection-lost"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

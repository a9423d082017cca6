package api

import (
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
)

type healthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// health implements GET /api/health, which requires no bearer token.
func (h *Handler) health(w http.ResponseWriter, r *http.Request, _ httprouter.Params) (interface{}, error) {
	return healthResponse{
		Status:        "ok",
		Version:       Version,
		UptimeSeconds: int64(time.Since(h.startedAt).Seconds()),
	}, nil
}

package api

import (
	"net/http"
	"strconv"

	"github.com/julienschmidt/httprouter"

	"github.com/iu2frl/cloudshell/internal/auth"
	"github.com/iu2frl/cloudshell/internal/httplib"
)

func (h *Handler) auditList(w http.ResponseWriter, r *http.Request, _ httprouter.Params, _ *auth.Principal) (interface{}, error) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	p, err := h.Audit.List(r.Context(), page, pageSize)
	if err != nil {
		return nil, err
	}
	return p, nil
}

type pruneResponse struct {
	Deleted       int64 `json:"deleted"`
	RetentionDays int   `json:"retention_days"`
}

func (h *Handler) auditPrune(w http.ResponseWriter, r *http.Request, _ httprouter.Params, _ *auth.Principal) (interface{}, error) {
	var req struct {
		RetentionDays int `json:"retention_days"`
	}
	// Body is optional; a missing/empty one falls back to the configured
	// default, so a decode failure only matters when there's content.
	if r.ContentLength > 0 {
		if err := httplib.ReadJSON(r, &req); err != nil {
			return nil, err
		}
	}
	if req.RetentionDays == 0 {
		req.RetentionDays = h.auditRetentionDays
	}
	deleted, err := h.Audit.Prune(r.Context(), req.RetentionDays)
	if err != nil {
		return nil, err
	}
	return pruneResponse{Deleted: deleted, RetentionDays: req.RetentionDays}, nil
}

package api

import (
	"fmt"
	"io"
	"net/http"

	"github.com/gravitational/trace"
	"github.com/julienschmidt/httprouter"
	"github.com/pkg/sftp"

	"github.com/iu2frl/cloudshell/internal/audit"
	"github.com/iu2frl/cloudshell/internal/auth"
	"github.com/iu2frl/cloudshell/internal/httplib"
	"github.com/iu2frl/cloudshell/internal/session"
	"github.com/iu2frl/cloudshell/internal/sftpops"
)

func (h *Handler) sftpOpen(w http.ResponseWriter, r *http.Request, p httprouter.Params, principal *auth.Principal) (interface{}, error) {
	id, err := openSessionDial(h, r, p, principal, session.KindSFTP)
	if err != nil {
		return nil, err
	}
	return sessionResponse{SessionID: id}, nil
}

func (h *Handler) sftpClose(w http.ResponseWriter, r *http.Request, p httprouter.Params, principal *auth.Principal) (interface{}, error) {
	id := p.ByName("session_id")
	meta := h.Sessions.Meta(id)
	h.Sessions.Close(id)
	if meta.DeviceLabel != "" {
		h.Audit.Write(r.Context(), principal.Subject, audit.ActionSessionEnded, meta.SourceIP, meta.DeviceLabel)
	}
	w.WriteHeader(http.StatusNoContent)
	return nil, nil
}

// sftpClientFor resolves the *sftp.Client for the sid path parameter,
// returning a not-found error if the session doesn't exist or isn't an
// SFTP session.
func (h *Handler) sftpClientFor(p httprouter.Params) (*sftp.Client, error) {
	id := p.ByName("sid")
	sess := h.Sessions.Get(id)
	if sess == nil || sess.Kind != session.KindSFTP {
		return nil, trace.NotFound("sftp session %q not found", id)
	}
	return sess.SFTPClient(), nil
}

type listResponse struct {
	Path    string          `json:"path"`
	Entries []sftpops.Entry `json:"entries"`
}

func (h *Handler) sftpList(w http.ResponseWriter, r *http.Request, p httprouter.Params, _ *auth.Principal) (interface{}, error) {
	client, err := h.sftpClientFor(p)
	if err != nil {
		return nil, err
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		path = "."
	}
	entries, err := sftpops.List(client, path)
	if err != nil {
		return nil, err
	}
	return listResponse{Path: path, Entries: entries}, nil
}

func (h *Handler) sftpDownload(w http.ResponseWriter, r *http.Request, p httprouter.Params, _ *auth.Principal) (interface{}, error) {
	client, err := h.sftpClientFor(p)
	if err != nil {
		return nil, err
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		return nil, trace.BadParameter("path is required")
	}
	data, err := sftpops.Read(client, path)
	if err != nil {
		return nil, err
	}

	filename := path
	if idx := lastSlash(path); idx >= 0 {
		filename = path[idx+1:]
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		log.WithError(err).Debug("failed writing download response")
	}
	return nil, nil
}

func lastSlash(path string) int {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return i
		}
	}
	return -1
}

type uploadResponse struct {
	Uploaded string `json:"uploaded"`
	Size     int64  `json:"size"`
}

func (h *Handler) sftpUpload(w http.ResponseWriter, r *http.Request, p httprouter.Params, _ *auth.Principal) (interface{}, error) {
	client, err := h.sftpClientFor(p)
	if err != nil {
		return nil, err
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		return nil, trace.BadParameter("path is required")
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		return nil, trace.BadParameter("missing multipart file: %v", err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if err := sftpops.Write(client, path, data); err != nil {
		return nil, err
	}
	return uploadResponse{Uploaded: path, Size: int64(len(data))}, nil
}

type pathRequest struct {
	Path string `json:"path"`
}

func (h *Handler) sftpDelete(w http.ResponseWriter, r *http.Request, p httprouter.Params, _ *auth.Principal) (interface{}, error) {
	client, err := h.sftpClientFor(p)
	if err != nil {
		return nil, err
	}
	var req struct {
		Path  string `json:"path"`
		IsDir bool   `json:"is_dir"`
	}
	if err := httplib.ReadJSON(r, &req); err != nil {
		return nil, err
	}
	if err := sftpops.Delete(client, req.Path, req.IsDir); err != nil {
		return nil, err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil, nil
}

func (h *Handler) sftpRename(w http.ResponseWriter, r *http.Request, p httprouter.Params, _ *auth.Principal) (interface{}, error) {
	client, err := h.sftpClientFor(p)
	if err != nil {
		return nil, err
	}
	var req struct {
		OldPath string `json:"old_path"`
		NewPath string `json:"new_path"`
	}
	if err := httplib.ReadJSON(r, &req); err != nil {
		return nil, err
	}
	if err := sftpops.Rename(client, req.OldPath, req.NewPath); err != nil {
		return nil, err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil, nil
}

func (h *Handler) sftpMkdir(w http.ResponseWriter, r *http.Request, p httprouter.Params, _ *auth.Principal) (interface{}, error) {
	client, err := h.sftpClientFor(p)
	if err != nil {
		return nil, err
	}
	var req pathRequest
	if err := httplib.ReadJSON(r, &req); err != nil {
		return nil, err
	}
	if err := sftpops.Mkdir(client, req.Path); err != nil {
		return nil, err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil, nil
}

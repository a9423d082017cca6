package api

import (
	"net/http"
	"strconv"

	"github.com/gravitational/trace"
	"github.com/julienschmidt/httprouter"

	"github.com/iu2frl/cloudshell/internal/auth"
	"github.com/iu2frl/cloudshell/internal/devices"
	"github.com/iu2frl/cloudshell/internal/httplib"
)

// deviceView is the device representation returned to clients: secret
// material (encrypted password, key handle) never leaves the gateway.
type deviceView struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Hostname  string `json:"hostname"`
	Port      int    `json:"port"`
	Username  string `json:"username"`
	AuthType  string `json:"auth_type"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

func toView(d *devices.Device) deviceView {
	return deviceView{
		ID:        d.ID,
		Name:      d.Name,
		Hostname:  d.Hostname,
		Port:      d.Port,
		Username:  d.Username,
		AuthType:  string(d.AuthType),
		CreatedAt: d.CreatedAt.Format(httplib.TimeFormat),
		UpdatedAt: d.UpdatedAt.Format(httplib.TimeFormat),
	}
}

// deviceRequest is the create/update body. Exactly one of Password or
// PrivateKeyPEM is set, matching AuthType.
type deviceRequest struct {
	Name          string `json:"name"`
	Hostname      string `json:"hostname"`
	Port          int    `json:"port"`
	Username      string `json:"username"`
	AuthType      string `json:"auth_type"`
	Password      string `json:"password,omitempty"`
	PrivateKeyPEM string `json:"private_key,omitempty"`
}

func (h *Handler) devicesList(w http.ResponseWriter, r *http.Request, _ httprouter.Params, _ *auth.Principal) (interface{}, error) {
	list, err := h.Devices.List(r.Context())
	if err != nil {
		return nil, err
	}
	views := make([]deviceView, 0, len(list))
	for i := range list {
		views = append(views, toView(&list[i]))
	}
	return views, nil
}

func (h *Handler) devicesGet(w http.ResponseWriter, r *http.Request, p httprouter.Params, _ *auth.Principal) (interface{}, error) {
	id, err := deviceID(p)
	if err != nil {
		return nil, err
	}
	d, err := h.Devices.Get(r.Context(), id)
	if err != nil {
		return nil, err
	}
	return toView(d), nil
}

func (h *Handler) devicesCreate(w http.ResponseWriter, r *http.Request, _ httprouter.Params, _ *auth.Principal) (interface{}, error) {
	var req deviceRequest
	if err := httplib.ReadJSON(r, &req); err != nil {
		return nil, err
	}
	if req.Port == 0 {
		req.Port = 22
	}

	d := &devices.Device{
		Name:     req.Name,
		Hostname: req.Hostname,
		Port:     req.Port,
		Username: req.Username,
		AuthType: devices.AuthType(req.AuthType),
	}

	switch d.AuthType {
	case devices.AuthPassword:
		enc, err := h.Vault.Encrypt(req.Password)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		d.EncryptedPassword = enc
	case devices.AuthKey:
		// handle persisted after Create, once the device id is known.
	default:
		return nil, trace.BadParameter("unknown auth_type %q", req.AuthType)
	}

	created, err := h.Devices.Create(r.Context(), d)
	if err != nil {
		return nil, err
	}

	if d.AuthType == devices.AuthKey {
		handle, err := h.Vault.SaveKey(created.ID, []byte(req.PrivateKeyPEM))
		if err != nil {
			return nil, trace.Wrap(err)
		}
		created.KeyFilename = handle
		if _, err := h.Devices.Update(r.Context(), created); err != nil {
			return nil, err
		}
	}

	return toView(created), nil
}

func (h *Handler) devicesUpdate(w http.ResponseWriter, r *http.Request, p httprouter.Params, _ *auth.Principal) (interface{}, error) {
	id, err := deviceID(p)
	if err != nil {
		return nil, err
	}
	existing, err := h.Devices.Get(r.Context(), id)
	if err != nil {
		return nil, err
	}

	var req deviceRequest
	if err := httplib.ReadJSON(r, &req); err != nil {
		return nil, err
	}
	if req.Port == 0 {
		req.Port = 22
	}

	existing.Name = req.Name
	existing.Hostname = req.Hostname
	existing.Port = req.Port
	existing.Username = req.Username
	existing.AuthType = devices.AuthType(req.AuthType)

	switch existing.AuthType {
	case devices.AuthPassword:
		enc, err := h.Vault.Encrypt(req.Password)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		existing.EncryptedPassword = enc
		if existing.KeyFilename != "" {
			h.deleteKeyBestEffort(existing.KeyFilename)
			existing.KeyFilename = ""
		}
	case devices.AuthKey:
		if req.PrivateKeyPEM != "" {
			if existing.KeyFilename != "" {
				h.deleteKeyBestEffort(existing.KeyFilename)
			}
			handle, err := h.Vault.SaveKey(existing.ID, []byte(req.PrivateKeyPEM))
			if err != nil {
				return nil, trace.Wrap(err)
			}
			existing.KeyFilename = handle
		}
		existing.EncryptedPassword = ""
	default:
		return nil, trace.BadParameter("unknown auth_type %q", req.AuthType)
	}

	updated, err := h.Devices.Update(r.Context(), existing)
	if err != nil {
		return nil, err
	}
	return toView(updated), nil
}

func (h *Handler) devicesDelete(w http.ResponseWriter, r *http.Request, p httprouter.Params, _ *auth.Principal) (interface{}, error) {
	id, err := deviceID(p)
	if err != nil {
		return nil, err
	}
	d, err := h.Devices.Get(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if err := h.Devices.Delete(r.Context(), id); err != nil {
		return nil, err
	}
	if d.KeyFilename != "" {
		h.deleteKeyBestEffort(d.KeyFilename)
	}
	w.WriteHeader(http.StatusNoContent)
	return nil, nil
}

func (h *Handler) deleteKeyBestEffort(handle string) {
	if err := h.Vault.DeleteKey(handle); err != nil {
		log.WithError(err).WithField("handle", handle).Warn("failed to remove stored key")
	}
}

func deviceID(p httprouter.Params) (int64, error) {
	id, err := strconv.ParseInt(p.ByName("id"), 10, 64)
	if err != nil {
		return 0, trace.BadParameter("invalid device id")
	}
	return id, nil
}

package api

import (
	"net/http"

	"github.com/gravitational/trace"
	"github.com/julienschmidt/httprouter"

	"github.com/iu2frl/cloudshell/internal/auth"
	"github.com/iu2frl/cloudshell/internal/vault"
)

type keyPairResponse struct {
	PrivateKey string `json:"private_key"`
	PublicKey  string `json:"public_key"`
}

// keysGenerate implements POST /api/keys/generate: a fresh RSA-4096
// keypair for the caller to paste into a device's key field. The gateway
// never stores it until a device is created with it.
func (h *Handler) keysGenerate(w http.ResponseWriter, r *http.Request, _ httprouter.Params, _ *auth.Principal) (interface{}, error) {
	kp, err := vault.GenerateKeyPair()
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return keyPairResponse{
		PrivateKey: string(kp.PrivateKeyPEM),
		PublicKey:  string(kp.PublicKeyAuthorized),
	}, nil
}

// Package vault encrypts device secrets at rest and mints SSH keypairs.
//
// Key derivation and the AES-GCM wire format are a direct port of the
// static-salt PBKDF2 scheme the gateway has always used: the secret key
// configured by the operator is stretched once per call into a 256-bit AES
// key, and encrypted values are stored as base64(nonce || ciphertext).
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/gravitational/trace"
	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/crypto/ssh"
)

const (
	pbkdf2Iterations = 260_000
	keyLenBytes      = 32
	gcmNonceSize     = 12
	rsaKeyBits       = 4096
)

var staticSalt = []byte("cloudshell-static-salt-v1")

// Vault derives an encryption key from a configured secret and uses it to
// protect device credentials at rest.
type Vault struct {
	secretKey string
	keysDir   string
}

// New returns a Vault that derives its AES key from secretKey on every
// operation, storing private key material under keysDir. secretKey must
// not be empty. keysDir may be empty if SaveKey/LoadKey/DeleteKey are
// never called.
func New(secretKey, keysDir string) (*Vault, error) {
	if secretKey == "" {
		return nil, trace.BadParameter("secret key is required")
	}
	if keysDir != "" {
		if err := os.MkdirAll(keysDir, 0o700); err != nil {
			return nil, trace.Wrap(err)
		}
	}
	return &Vault{secretKey: secretKey, keysDir: keysDir}, nil
}

func (v *Vault) deriveKey() []byte {
	return pbkdf2.Key([]byte(v.secretKey), staticSalt, pbkdf2Iterations, keyLenBytes, sha256.New)
}

func (v *Vault) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(v.deriveKey())
	if err != nil {
		return nil, trace.Wrap(err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return aead, nil
}

// Encrypt returns the base64-encoded nonce+ciphertext for plaintext.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	aead, err := v.aead()
	if err != nil {
		return "", trace.Wrap(err)
	}
	nonce := make([]byte, gcmNonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", trace.Wrap(err)
	}
	ct := aead.Seal(nil, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(append(nonce, ct...)), nil
}

// Decrypt reverses Encrypt. It returns a BadParameter error if token is
// malformed or the authentication tag does not verify.
func (v *Vault) Decrypt(token string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return "", trace.BadParameter("malformed ciphertext: %v", err)
	}
	if len(raw) < gcmNonceSize {
		return "", trace.BadParameter("ciphertext too short")
	}
	aead, err := v.aead()
	if err != nil {
		return "", trace.Wrap(err)
	}
	nonce, ct := raw[:gcmNonceSize], raw[gcmNonceSize:]
	pt, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", trace.BadParameter("decryption failed: %v", err)
	}
	return string(pt), nil
}

// keyHandle returns the deterministic filename for a device's stored key.
func (v *Vault) keyHandle(deviceID int64) string {
	return filepath.Join(v.keysDir, fmt.Sprintf("device_%d.enc", deviceID))
}

// SaveKey encrypts pem and writes it to a file named deterministically
// from deviceID, mode owner-read-only. Returns the handle to pass to
// LoadKey/DeleteKey.
func (v *Vault) SaveKey(deviceID int64, pemBytes []byte) (string, error) {
	token, err := v.Encrypt(string(pemBytes))
	if err != nil {
		return "", trace.Wrap(err)
	}
	handle := v.keyHandle(deviceID)
	if err := os.WriteFile(handle, []byte(token), 0o600); err != nil {
		return "", trace.Wrap(err)
	}
	return handle, nil
}

// LoadKey reads and decrypts the PEM stored at handle.
func (v *Vault) LoadKey(handle string) ([]byte, error) {
	raw, err := os.ReadFile(handle)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, trace.NotFound("key %q not found", handle)
		}
		return nil, trace.Wrap(err)
	}
	pt, err := v.Decrypt(string(raw))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return []byte(pt), nil
}

// DeleteKey removes the file at handle. A missing file is not an error.
func (v *Vault) DeleteKey(handle string) error {
	err := os.Remove(handle)
	if err != nil && !os.IsNotExist(err) {
		return trace.Wrap(err)
	}
	return nil
}

// KeyPair is a freshly generated RSA-4096 SSH keypair, never persisted by
// the vault itself — callers decide whether to store it.
type KeyPair struct {
	// PrivateKeyPEM is the OpenSSH-format PEM-encoded private key.
	PrivateKeyPEM []byte
	// PublicKeyAuthorized is the "ssh-rsa AAAA..." authorized-keys line.
	PublicKeyAuthorized []byte
}

// GenerateKeyPair creates a new RSA-4096 SSH keypair. The private key is
// never written to disk by this function; callers are responsible for
// persisting or discarding it.
func GenerateKeyPair() (*KeyPair, error) {
	priv, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	privPEM, err := ssh.MarshalPrivateKey(priv, "")
	if err != nil {
		return nil, trace.Wrap(err)
	}
	pub, err := ssh.NewPublicKey(&priv.PublicKey)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &KeyPair{
		PrivateKeyPEM:       pem.EncodeToMemory(privPEM),
		PublicKeyAuthorized: ssh.MarshalAuthorizedKey(pub),
	}, nil
}

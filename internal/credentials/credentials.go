// Package credentials turns a device record plus the vault into a
// connector-ready credential, materializing key material on disk for the
// shortest possible window.
package credentials

import (
	"os"

	"github.com/gravitational/trace"

	"github.com/iu2frl/cloudshell/internal/devices"
	"github.com/iu2frl/cloudshell/internal/vault"
)

// Resolved is a connector-ready credential. Exactly one of Password or
// KeyPath is set, matching the device's AuthType.
type Resolved struct {
	Password string
	KeyPath  string
	// Cleanup must be invoked exactly once, on every exit path, whether or
	// not the connect attempt using this credential succeeded.
	Cleanup func()
}

// Materializer resolves device credentials through the vault.
type Materializer struct {
	v       *vault.Vault
	tempDir string
}

// New returns a Materializer that writes ephemeral key files under
// tempDir. tempDir is created with 0700 permissions if missing.
func New(v *vault.Vault, tempDir string) (*Materializer, error) {
	if err := os.MkdirAll(tempDir, 0o700); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Materializer{v: v, tempDir: tempDir}, nil
}

// Resolve produces a Resolved credential for d. Callers must call
// Resolved.Cleanup exactly once.
func (m *Materializer) Resolve(d *devices.Device) (*Resolved, error) {
	switch d.AuthType {
	case devices.AuthPassword:
		pw, err := m.v.Decrypt(d.EncryptedPassword)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		return &Resolved{Password: pw, Cleanup: func() {}}, nil
	case devices.AuthKey:
		return m.resolveKey(d)
	default:
		return nil, trace.BadParameter("unknown auth type %q", d.AuthType)
	}
}

func (m *Materializer) resolveKey(d *devices.Device) (*Resolved, error) {
	pem, err := m.v.LoadKey(d.KeyFilename)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	f, err := os.CreateTemp(m.tempDir, "cloudshell-key-*")
	if err != nil {
		return nil, trace.Wrap(err)
	}
	path := f.Name()
	cleanup := func() { os.Remove(path) }

	if err := f.Chmod(0o600); err != nil {
		f.Close()
		cleanup()
		return nil, trace.Wrap(err)
	}
	if _, err := f.Write(pem); err != nil {
		f.Close()
		cleanup()
		return nil, trace.Wrap(err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return nil, trace.Wrap(err)
	}

	return &Resolved{KeyPath: path, Cleanup: cleanup}, nil
}

package credentials

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/iu2frl/cloudshell/internal/devices"
	"github.com/iu2frl/cloudshell/internal/vault"
)

func TestResolvePassword(t *testing.T) {
	v, err := vault.New("secret", t.TempDir())
	require.NoError(t, err)
	m, err := New(v, t.TempDir())
	require.NoError(t, err)

	enc, err := v.Encrypt("hunter2")
	require.NoError(t, err)

	r, err := m.Resolve(&devices.Device{AuthType: devices.AuthPassword, EncryptedPassword: enc})
	require.NoError(t, err)
	require.Equal(t, "hunter2", r.Password)
	require.Empty(t, r.KeyPath)
	r.Cleanup()
}

func TestResolveKeyWritesAndCleansUpTempFile(t *testing.T) {
	v, err := vault.New("secret", t.TempDir())
	require.NoError(t, err)
	m, err := New(v, t.TempDir())
	require.NoError(t, err)

	handle, err := v.SaveKey(7, []byte("fake-pem-contents"))
	require.NoError(t, err)

	r, err := m.Resolve(&devices.Device{AuthType: devices.AuthKey, KeyFilename: handle})
	require.NoError(t, err)
	require.NotEmpty(t, r.KeyPath)

	data, err := os.ReadFile(r.KeyPath)
	require.NoError(t, err)
	require.Equal(t, "fake-pem-contents", string(data))

	info, err := os.Stat(r.KeyPath)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	r.Cleanup()
	_, err = os.Stat(r.KeyPath)
	require.True(t, os.IsNotExist(err))
}

package hostkeys

import (
	"crypto/ed25519"
	"crypto/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

func genKey(t *testing.T) ssh.PublicKey {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	sshPub, err := ssh.NewPublicKey(pub)
	require.NoError(t, err)
	return sshPub
}

func TestAcceptNewThenStrictMatch(t *testing.T) {
	p, err := New(filepath.Join(t.TempDir(), "known_hosts"))
	require.NoError(t, err)

	key := genKey(t)
	require.NoError(t, p.Check("example.com", 22, key))
	// Same key on a second connection must still succeed.
	require.NoError(t, p.Check("example.com", 22, key))
}

func TestMismatchRejectsAndDoesNotModifyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "known_hosts")
	p, err := New(path)
	require.NoError(t, err)

	key1 := genKey(t)
	key2 := genKey(t)
	require.NoError(t, p.Check("example.com", 22, key1))

	before, err := p.readEntries("example.com")
	require.NoError(t, err)

	err = p.Check("example.com", 22, key2)
	require.Error(t, err)

	after, err := p.readEntries("example.com")
	require.NoError(t, err)
	require.Equal(t, before, after)
}

func TestDisabledWithoutPath(t *testing.T) {
	p, err := New("")
	require.NoError(t, err)
	require.True(t, p.Disabled())
	require.NoError(t, p.Check("anything", 22, genKey(t)))
}

package session

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistryMetaAndCloseLifecycle(t *testing.T) {
	r := NewRegistry()
	id := r.register(nil, nil, KindShell, "web-1", "admin", "10.0.0.5")
	require.NotEmpty(t, id)

	m := r.Meta(id)
	require.Equal(t, "web-1", m.DeviceLabel)
	require.Equal(t, "admin", m.Principal)
	require.Equal(t, "10.0.0.5", m.SourceIP)

	require.NotNil(t, r.Get(id))

	r.Close(id)
	require.Nil(t, r.Get(id))
	require.Equal(t, Meta{}, r.Meta(id))
}

func TestCloseUnknownIDIsNoOp(t *testing.T) {
	r := NewRegistry()
	require.NotPanics(t, func() { r.Close("does-not-exist") })
}

func TestCloseAllRemovesEverySession(t *testing.T) {
	r := NewRegistry()
	id1 := r.register(nil, nil, KindShell, "a", "admin", "")
	id2 := r.register(nil, nil, KindSFTP, "b", "admin", "")

	r.CloseAll()
	require.Nil(t, r.Get(id1))
	require.Nil(t, r.Get(id2))
}

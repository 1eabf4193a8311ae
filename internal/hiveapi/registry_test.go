package hiveapi

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cspellhq/hivenode/internal/syncproto"
)

func TestNodeRegistryRegisterGetIsOnline(t *testing.T) {
	r := NewNodeRegistry()
	require.False(t, r.IsOnline("node-1"))

	conn := syncproto.NewConn(nil, nil)
	r.Register("node-1", conn)

	require.True(t, r.IsOnline("node-1"))
	got, ok := r.Get("node-1")
	require.True(t, ok)
	require.Same(t, conn, got)
}

func TestNodeRegistryReconnectSupersedesStaleEntry(t *testing.T) {
	r := NewNodeRegistry()
	stale := syncproto.NewConn(nil, nil)
	fresh := syncproto.NewConn(nil, nil)

	r.Register("node-1", stale)
	r.Register("node-1", fresh)

	got, ok := r.Get("node-1")
	require.True(t, ok)
	require.Same(t, fresh, got)

	// A delayed unregister from the superseded stale connection must not
	// clobber the new one.
	r.Unregister("node-1", stale)
	got, ok = r.Get("node-1")
	require.True(t, ok)
	require.Same(t, fresh, got)

	r.Unregister("node-1", fresh)
	require.False(t, r.IsOnline("node-1"))
}

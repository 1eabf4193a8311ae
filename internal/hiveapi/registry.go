package hiveapi

import (
	"sync"

	"github.com/cspellhq/hivenode/internal/syncproto"
)

// NodeRegistry tracks the currently connected nodes' sync connections, so a
// shared-task mutation originating from one node (or the Hive's own REST
// API) can be pushed to the node(s) that need to know about it.
type NodeRegistry struct {
	mu    sync.RWMutex
	conns map[string]*syncproto.Conn
}

// NewNodeRegistry creates an empty registry.
func NewNodeRegistry() *NodeRegistry {
	return &NodeRegistry{conns: make(map[string]*syncproto.Conn)}
}

// Register records nodeID's live connection, replacing any prior one (a
// reconnect supersedes the stale socket rather than being rejected).
func (r *NodeRegistry) Register(nodeID string, conn *syncproto.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[nodeID] = conn
}

// Unregister drops nodeID's connection if conn is still the registered one
// (a superseded stale entry must not unregister the new connection).
func (r *NodeRegistry) Unregister(nodeID string, conn *syncproto.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conns[nodeID] == conn {
		delete(r.conns, nodeID)
	}
}

// Get returns nodeID's live connection, if any.
func (r *NodeRegistry) Get(nodeID string) (*syncproto.Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[nodeID]
	return conn, ok
}

// IsOnline reports whether nodeID currently has a live connection.
func (r *NodeRegistry) IsOnline(nodeID string) bool {
	_, ok := r.Get(nodeID)
	return ok
}

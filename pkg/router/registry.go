package router

import (
	"sync"

	"github.com/onlitec/remotebroker/pkg/session"
)

// Registry tracks the Peer currently attached to each (session_id,
// role) pair (spec §4.5, §5 "Connection registry: RW lock; role-scoped
// keys").
type Registry struct {
	mu    sync.RWMutex
	peers map[string]map[session.Role]*Peer
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{peers: make(map[string]map[session.Role]*Peer)}
}

// Register attaches peer for (sessionID, role), returning any peer it
// displaces (the caller is responsible for closing it).
func (r *Registry) Register(sessionID string, role session.Role, peer *Peer) *Peer {
	r.mu.Lock()
	defer r.mu.Unlock()

	byRole, ok := r.peers[sessionID]
	if !ok {
		byRole = make(map[session.Role]*Peer)
		r.peers[sessionID] = byRole
	}
	displaced := byRole[role]
	byRole[role] = peer
	return displaced
}

// Unregister removes peer if it is still the one registered for
// (sessionID, role); a stale unregister for an already-displaced peer
// is a no-op.
func (r *Registry) Unregister(sessionID string, role session.Role, peer *Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	byRole, ok := r.peers[sessionID]
	if !ok {
		return
	}
	if byRole[role] == peer {
		delete(byRole, role)
	}
	if len(byRole) == 0 {
		delete(r.peers, sessionID)
	}
}

// Get returns the peer currently registered for (sessionID, role), if any.
func (r *Registry) Get(sessionID string, role session.Role) (*Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	byRole, ok := r.peers[sessionID]
	if !ok {
		return nil, false
	}
	p, ok := byRole[role]
	return p, ok
}

// Count returns the total number of registered peers across all sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, byRole := range r.peers {
		n += len(byRole)
	}
	return n
}

// Other returns the peer for the opposite role of role on sessionID,
// used to mirror peer-relevant events to "the other role on the same
// session" (spec §4.5.3).
func (r *Registry) Other(sessionID string, role session.Role) (*Peer, bool) {
	if role == session.RoleClient {
		return r.Get(sessionID, session.RoleTechnician)
	}
	return r.Get(sessionID, session.RoleClient)
}

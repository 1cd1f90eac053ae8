package mcp

import "sync"

// SessionRegistry maps share IDs to the MCP session that created them.
// Populated when a client calls flowsketch.share.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]string // shareID → sessionID
}

// NewSessionRegistry creates a new empty SessionRegistry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: make(map[string]string)}
}

// Register associates a share ID with a session ID.
func (r *SessionRegistry) Register(shareID, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[shareID] = sessionID
}

// SessionFor returns the session that owns shareID, if still known.
func (r *SessionRegistry) SessionFor(shareID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sid, ok := r.sessions[shareID]
	return sid, ok
}

// Remove deletes every share mapped to sessionID.
func (r *SessionRegistry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, sid := range r.sessions {
		if sid == sessionID {
			delete(r.sessions, id)
		}
	}
}

// Len reports the number of tracked shares.
func (r *SessionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

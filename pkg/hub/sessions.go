package hub

import (
	"github.com/grumble-cluster/grumble/pkg/clusterproto"
	"github.com/puzpuzpuz/xsync/v4"
)

// SessionRegistry is the hub's cluster-wide view of every connected
// session, keyed by session id, kept current from edge.reportSession,
// the UserState/UserRemove forwards and edge loss (§3 "Session table"
// is edge-local; this is the hub's aggregate of those tables, needed
// to answer edge.fullSync for a (re)joining edge).
type SessionRegistry struct {
	sessions *xsync.Map[uint32, clusterproto.SessionSnapshot]
}

// NewSessionRegistry returns an empty registry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: xsync.NewMap[uint32, clusterproto.SessionSnapshot]()}
}

// Upsert records or updates one session's snapshot.
func (r *SessionRegistry) Upsert(s clusterproto.SessionSnapshot) {
	r.sessions.Store(s.SessionID, s)
}

// Remove drops a session (disconnect, kick, ban).
func (r *SessionRegistry) Remove(sessionID uint32) {
	r.sessions.Delete(sessionID)
}

// Get returns one session's current snapshot.
func (r *SessionRegistry) Get(sessionID uint32) (clusterproto.SessionSnapshot, bool) {
	return r.sessions.Load(sessionID)
}

// All returns every currently tracked session.
func (r *SessionRegistry) All() []clusterproto.SessionSnapshot {
	var out []clusterproto.SessionSnapshot
	r.sessions.Range(func(_ uint32, s clusterproto.SessionSnapshot) bool {
		out = append(out, s)
		return true
	})
	return out
}

// ClearListening empties sessionID's mirrored listening-channel set
// and returns exactly what was removed, computed under this map's own
// atomicity rather than trusting a client-supplied snapshot (§9
// decision 2).
func (r *SessionRegistry) ClearListening(sessionID uint32) []uint32 {
	s, ok := r.sessions.Load(sessionID)
	if !ok || len(s.ListeningChannels) == 0 {
		return nil
	}
	removed := s.ListeningChannels
	s.ListeningChannels = nil
	r.sessions.Store(sessionID, s)
	return removed
}

// RemoveForEdge drops every session owned by edgeID, used when that
// edge's connection drops without a clean per-session teardown.
func (r *SessionRegistry) RemoveForEdge(edgeID string) []uint32 {
	var removed []uint32
	r.sessions.Range(func(id uint32, s clusterproto.SessionSnapshot) bool {
		if s.EdgeID == edgeID {
			removed = append(removed, id)
		}
		return true
	})
	for _, id := range removed {
		r.sessions.Delete(id)
	}
	return removed
}

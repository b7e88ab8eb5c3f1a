package edge

import (
	"net"
	"sync"
)

// Peer is one other edge's cluster voice endpoint, as learned from
// `edge.peerJoined` (§4.6 "every edge learns peers' voice endpoints
// via cluster notifications edge.peerJoined/edge.peerLeft").
type Peer struct {
	EdgeID    string
	VoiceAddr *net.UDPAddr
}

// PeerTable is this edge's view of the rest of the cluster's voice
// endpoints, written only by the hub-notification consumer goroutine
// (§5 "Shared-resource policy", same pattern as Mirror).
type PeerTable struct {
	mu    sync.RWMutex
	peers map[string]Peer
}

// NewPeerTable returns an empty peer table.
func NewPeerTable() *PeerTable {
	return &PeerTable{peers: make(map[string]Peer)}
}

// Upsert applies an edge.peerJoined notification.
func (t *PeerTable) Upsert(p Peer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.peers[p.EdgeID] = p
}

// Remove applies an edge.peerLeft notification.
func (t *PeerTable) Remove(edgeID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.peers, edgeID)
}

// All returns every known peer.
func (t *PeerTable) All() []Peer {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Peer, 0, len(t.peers))
	for _, p := range t.peers {
		out = append(out, p)
	}
	return out
}

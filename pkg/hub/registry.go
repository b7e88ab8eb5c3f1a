package hub

import (
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
)

// EdgeInfo is what the hub remembers about one alive edge (§3
// "Registry... alive-edge table").
type EdgeInfo struct {
	EdgeID      string
	ControlAddr string
	VoiceAddr   string
	LastSeen    time.Time
}

// Registry is the hub's alive-edge table, consulted by the join
// coordinator (§4.7) and by broadcast fan-out (§4.3, §5).
type Registry struct {
	edges *xsync.Map[string, *EdgeInfo]

	mu        sync.RWMutex
	onJoin    []func(EdgeInfo)
	onLeave   []func(string)
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{edges: xsync.NewMap[string, *EdgeInfo]()}
}

// OnJoin/OnLeave register callbacks fired when an edge is added or
// removed, letting the cluster-notification layer drive
// edge.peerJoined/edge.peerLeft without this package depending on
// pkg/clusterproto.
func (r *Registry) OnJoin(fn func(EdgeInfo)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onJoin = append(r.onJoin, fn)
}

func (r *Registry) OnLeave(fn func(string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onLeave = append(r.onLeave, fn)
}

// Add records a newly joined edge and fires OnJoin callbacks.
func (r *Registry) Add(info EdgeInfo) {
	info.LastSeen = time.Now()
	r.edges.Store(info.EdgeID, &info)

	r.mu.RLock()
	callbacks := append([]func(EdgeInfo){}, r.onJoin...)
	r.mu.RUnlock()
	for _, fn := range callbacks {
		fn(info)
	}
}

// Remove drops an edge (heartbeat timeout or graceful leave, §4.7)
// and fires OnLeave callbacks.
func (r *Registry) Remove(edgeID string) {
	if _, ok := r.edges.LoadAndDelete(edgeID); !ok {
		return
	}
	r.mu.RLock()
	callbacks := append([]func(string){}, r.onLeave...)
	r.mu.RUnlock()
	for _, fn := range callbacks {
		fn(edgeID)
	}
}

// Touch refreshes an edge's LastSeen on heartbeat (§4.7, 30 s period).
func (r *Registry) Touch(edgeID string) bool {
	info, ok := r.edges.Load(edgeID)
	if !ok {
		return false
	}
	updated := *info
	updated.LastSeen = time.Now()
	r.edges.Store(edgeID, &updated)
	return true
}

// Peers returns a snapshot of every currently alive edge.
func (r *Registry) Peers() []EdgeInfo {
	var out []EdgeInfo
	r.edges.Range(func(_ string, info *EdgeInfo) bool {
		out = append(out, *info)
		return true
	})
	return out
}

// Get returns one edge's info.
func (r *Registry) Get(edgeID string) (EdgeInfo, bool) {
	info, ok := r.edges.Load(edgeID)
	if !ok {
		return EdgeInfo{}, false
	}
	return *info, true
}

// Expired returns the edge ids whose LastSeen is older than timeout,
// the set the heartbeat-absence monitor (§4.7, default 90 s) should
// remove.
func (r *Registry) Expired(timeout time.Duration) []string {
	var out []string
	cutoff := time.Now().Add(-timeout)
	r.edges.Range(func(id string, info *EdgeInfo) bool {
		if info.LastSeen.Before(cutoff) {
			out = append(out, id)
		}
		return true
	})
	return out
}

package hub

import (
	"sync"

	"github.com/puzpuzpuz/xsync/v4"
)

// SessionAllocator issues cluster-unique session_id values (§3
// "Session | session_id (u32) | Hub allocates") and tracks which are
// currently live, so a released id can be reused once free.
type SessionAllocator struct {
	live *xsync.Map[uint32, struct{}]

	mu   sync.Mutex
	next uint32
}

// NewSessionAllocator returns an allocator starting at session_id 1
// (0 is reserved, matching channel_id's "0 = root" convention not
// applying to sessions but keeping 0 out of circulation regardless).
func NewSessionAllocator() *SessionAllocator {
	return &SessionAllocator{
		live: xsync.NewMap[uint32, struct{}](),
		next: 1,
	}
}

// Allocate returns a fresh session id, preferring the smallest
// released id over growing the counter.
func (a *SessionAllocator) Allocate() uint32 {
	a.mu.Lock()
	defer a.mu.Unlock()

	for id := uint32(1); id < a.next; id++ {
		if _, ok := a.live.Load(id); !ok {
			a.live.Store(id, struct{}{})
			return id
		}
	}
	id := a.next
	a.next++
	a.live.Store(id, struct{}{})
	return id
}

// Release frees a session id so it can be reallocated (§3 "ends on
// TCP close or kick/ban").
func (a *SessionAllocator) Release(id uint32) {
	a.live.Delete(id)
}

// IsLive reports whether id is currently allocated.
func (a *SessionAllocator) IsLive(id uint32) bool {
	_, ok := a.live.Load(id)
	return ok
}

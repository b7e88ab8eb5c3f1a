package edge

import (
	"net"
	"sync"
)

// SessionTable is the edge's local `session_id -> *Client` mapping
// (§2 L1 "Session table"), covering only clients whose TLS connection
// terminates on this edge; remote sessions live in Mirror instead.
type SessionTable struct {
	mu      sync.RWMutex
	clients map[uint32]*Client
}

// NewSessionTable returns an empty local session table.
func NewSessionTable() *SessionTable {
	return &SessionTable{clients: make(map[uint32]*Client)}
}

// Add registers a locally-terminated client under its hub-assigned
// session id.
func (t *SessionTable) Add(c *Client) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clients[c.Session] = c
}

// Remove drops a client from the table, e.g. on disconnect.
func (t *SessionTable) Remove(session uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.clients, session)
}

// Get returns the locally-terminated client for session, if any.
func (t *SessionTable) Get(session uint32) (*Client, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.clients[session]
	return c, ok
}

// Count returns the number of locally-terminated clients, for heartbeat
// load reporting (§4.7).
func (t *SessionTable) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.clients)
}

// All returns every locally-terminated client.
func (t *SessionTable) All() []*Client {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Client, 0, len(t.clients))
	for _, c := range t.clients {
		out = append(out, c)
	}
	return out
}

// InChannel returns every locally-terminated client currently in
// channelID (§4.6 step 4 target-0 recipient set).
func (t *SessionTable) InChannel(channelID uint32) []*Client {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []*Client
	for _, c := range t.clients {
		if c.ChannelID == channelID {
			out = append(out, c)
		}
	}
	return out
}

// Listening returns every locally-terminated client listening to
// channelID without being present in it (§4.6 step 4, `listenersPerChannel`).
func (t *SessionTable) Listening(channelID uint32) []*Client {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []*Client
	for _, c := range t.clients {
		if c.ChannelID != channelID && c.ListeningChannels[channelID] {
			out = append(out, c)
		}
	}
	return out
}

// SameIP returns every locally-terminated, UDP-addressed client that
// shares addr's IP — the candidate set for the same-IP brute-force
// owner search when a UDP packet arrives from an unrecognized address
// (§4.6 step 1).
func (t *SessionTable) SameIP(addr *net.UDPAddr) []*Client {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []*Client
	for _, c := range t.clients {
		if c.udpaddr != nil && c.udpaddr.IP.Equal(addr.IP) {
			out = append(out, c)
		}
	}
	return out
}

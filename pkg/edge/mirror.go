package edge

import (
	"net"
	"sync"

	"github.com/grumble-cluster/grumble/pkg/acl"
	"github.com/grumble-cluster/grumble/pkg/clusterproto"
)

// Mirror is the edge's read-mostly view of the hub's authoritative
// state: the channel tree, ACL entries, and remote sessions. It is
// written only by the single hub-broadcast consumer goroutine per
// edge (§5 "Shared-resource policy"); every client-handling goroutine
// only reads it.
type Mirror struct {
	mu sync.RWMutex

	channels map[uint32]clusterproto.ChannelSnapshot
	acls     map[uint32][]clusterproto.ACLEntrySnapshot
	sessions map[uint32]clusterproto.SessionSnapshot
	links    map[uint32]map[uint32]bool
	bans     []clusterproto.BanSnapshot
}

// NewMirror returns an empty mirror, populated by a subsequent
// edge.fullSync (§4.5).
func NewMirror() *Mirror {
	return &Mirror{
		channels: make(map[uint32]clusterproto.ChannelSnapshot),
		acls:     make(map[uint32][]clusterproto.ACLEntrySnapshot),
		sessions: make(map[uint32]clusterproto.SessionSnapshot),
		links:    make(map[uint32]map[uint32]bool),
	}
}

// SetLinks replaces channelID's full set of linked channels, keeping
// the adjacency symmetric (a ChannelState.Links broadcast names one
// side only; linking is mutual for voice routing purposes, §4.6 step
// 4 "channels linked to it").
func (m *Mirror) SetLinks(channelID uint32, linked []uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for other := range m.links[channelID] {
		delete(m.links[other], channelID)
	}
	set := make(map[uint32]bool, len(linked))
	for _, id := range linked {
		set[id] = true
		if m.links[id] == nil {
			m.links[id] = make(map[uint32]bool)
		}
		m.links[id][channelID] = true
	}
	m.links[channelID] = set
}

// LinkedChannels returns every channel linked to channelID.
func (m *Mirror) LinkedChannels(channelID uint32) []uint32 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]uint32, 0, len(m.links[channelID]))
	for id := range m.links[channelID] {
		out = append(out, id)
	}
	return out
}

// ReplaceChannels installs a fresh channel snapshot, e.g. from
// edge.fullSync/edge.getChannels.
func (m *Mirror) ReplaceChannels(channels []clusterproto.ChannelSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels = make(map[uint32]clusterproto.ChannelSnapshot, len(channels))
	for _, c := range channels {
		m.channels[c.ChannelID] = c
	}
}

// UpsertChannel applies one hub.channelStateBroadcast notification.
func (m *Mirror) UpsertChannel(c clusterproto.ChannelSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[c.ChannelID] = c
}

// RemoveChannel applies one hub.channelRemoveBroadcast notification.
func (m *Mirror) RemoveChannel(channelID uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.channels, channelID)
	delete(m.acls, channelID)
}

// Channel returns one channel's current snapshot.
func (m *Mirror) Channel(channelID uint32) (clusterproto.ChannelSnapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.channels[channelID]
	return c, ok
}

// Channels returns every channel currently mirrored, in no particular
// order; callers needing the two-pass dissemination order (§4.5)
// derive it themselves from ParentID.
func (m *Mirror) Channels() []clusterproto.ChannelSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]clusterproto.ChannelSnapshot, 0, len(m.channels))
	for _, c := range m.channels {
		out = append(out, c)
	}
	return out
}

// SetACL replaces one channel's ACL entry list (edge.getACLs result
// or edge.aclUpdated notification).
func (m *Mirror) SetACL(channelID uint32, entries []clusterproto.ACLEntrySnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acls[channelID] = entries
}

// UpsertSession applies hub.userJoined/userStateBroadcast.
func (m *Mirror) UpsertSession(s clusterproto.SessionSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.SessionID] = s
}

// RemoveSession applies hub.userLeft/userRemoveBroadcast.
func (m *Mirror) RemoveSession(sessionID uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
}

// Session returns one remote session's current snapshot.
func (m *Mirror) Session(sessionID uint32) (clusterproto.SessionSnapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	return s, ok
}

// Sessions returns every session currently mirrored, local or remote.
func (m *Mirror) Sessions() []clusterproto.SessionSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]clusterproto.SessionSnapshot, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

// SetBans installs the hub's current ban table, replacing whatever was
// mirrored before (edge.fullSync's Bans, or an edge.banListUpdated
// notify; §4.2 step 2).
func (m *Mirror) SetBans(bans []clusterproto.BanSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bans = bans
}

// Banned reports whether addr or certHash matches an entry in the
// mirrored ban list (§4.2 step 2: "IP and fingerprint are matched
// against the mirrored ban list. A match closes the connection.").
func (m *Mirror) Banned(addr net.IP, certHash string) (bool, string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, b := range m.bans {
		if certHash != "" && b.Hash != "" && b.Hash == certHash {
			return true, b.Reason
		}
		if addr != nil && banMatchesIP(b, addr) {
			return true, b.Reason
		}
	}
	return false, ""
}

// banMatchesIP reports whether addr falls within b's address/mask
// range, mirroring teacher's Ban.Match CIDR-style comparison (ban
// masks are bit counts over the stored address's byte width: 32 for
// IPv4, 128 for IPv6).
func banMatchesIP(b clusterproto.BanSnapshot, addr net.IP) bool {
	if len(b.Address) == 0 {
		return false
	}
	banIP := net.IP(b.Address)
	var ip net.IP
	if v4 := banIP.To4(); v4 != nil {
		banIP = v4
		ip = addr.To4()
	} else {
		ip = addr.To16()
	}
	if ip == nil {
		return false
	}
	mask := b.Mask
	if mask <= 0 || mask > len(ip)*8 {
		mask = len(ip) * 8
	}
	bits := net.CIDRMask(mask, len(ip)*8)
	return banIP.Mask(bits).Equal(ip.Mask(bits))
}

// mirrorChannel adapts the mirror's flat maps into pkg/acl.Channel
// for the edge's advisory ACL evaluation (§4.4, shared algorithm with
// hub.ACLEval).
type mirrorChannel struct {
	id     uint32
	mirror *Mirror
}

func (c *mirrorChannel) ID() uint32 { return c.id }

func (c *mirrorChannel) Parent() (acl.Channel, bool) {
	row, ok := c.mirror.Channel(c.id)
	if !ok || row.ParentID == nil {
		return nil, false
	}
	return &mirrorChannel{id: *row.ParentID, mirror: c.mirror}, true
}

func (c *mirrorChannel) InheritACL() bool {
	row, ok := c.mirror.Channel(c.id)
	return ok && row.InheritACL
}

func (c *mirrorChannel) Entries() []acl.Entry {
	c.mirror.mu.RLock()
	rows := c.mirror.acls[c.id]
	c.mirror.mu.RUnlock()
	out := make([]acl.Entry, len(rows))
	for i, r := range rows {
		e := acl.Entry{ApplyHere: r.ApplyHere, ApplySubs: r.ApplySubs, Group: r.Group,
			Allow: acl.Permission(r.Allow), Deny: acl.Permission(r.Deny)}
		if r.UserID != nil {
			e.HasUser = true
			e.UserID = *r.UserID
		}
		out[i] = e
	}
	return out
}

func (c *mirrorChannel) Groups() []acl.Group { return nil }

// Evaluate computes a user's advisory effective permission mask on
// channelID against the mirror, the same algorithm hub.ACLEval runs
// authoritatively (§4.4).
func (m *Mirror) Evaluate(channelID uint32, userID int32, hasUser bool) acl.Permission {
	target := &mirrorChannel{id: channelID, mirror: m}
	return acl.EffectivePermission(target, acl.Context{UserID: userID, HasUser: hasUser}, nil)
}

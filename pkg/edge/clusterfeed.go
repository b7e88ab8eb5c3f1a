package edge

import (
	"encoding/json"
	"net"

	"github.com/grumble-cluster/grumble/pkg/acl"
	"github.com/grumble-cluster/grumble/pkg/clusterproto"
	"github.com/grumble-cluster/grumble/pkg/mumbleproto"
)

// ClusterFeed is the single goroutine per edge that consumes
// notifications arriving on the hub↔edge channel and applies them to
// Mirror/PeerTable, then relays the resulting state to every locally
// terminated client (§5 "Shared-resource policy": Mirror is written
// only here, read everywhere else). It is the missing half of
// Dispatcher: Dispatcher forwards a local mutation to the hub;
// ClusterFeed is what turns the hub's authoritative echo back into
// client-visible messages.
type ClusterFeed struct {
	edgeID string
	local  *SessionTable
	mirror *Mirror
	peers  *PeerTable
	ninja  *Ninja
}

// NewClusterFeed wires the consumer to this edge's local state.
func NewClusterFeed(edgeID string, local *SessionTable, mirror *Mirror, peers *PeerTable, ninja *Ninja) *ClusterFeed {
	return &ClusterFeed{edgeID: edgeID, local: local, mirror: mirror, peers: peers, ninja: ninja}
}

// Handle applies one notification envelope. Requests/responses on the
// same channel (edge.*, hub.handle*) are answered by the RPC layer
// that owns the outstanding call; Handle only sees IsNotify() envelopes.
func (f *ClusterFeed) Handle(env *clusterproto.Envelope) error {
	switch env.Method {
	case clusterproto.MethodHubUserJoined:
		var n clusterproto.UserJoinedNotify
		if err := json.Unmarshal(env.Params, &n); err != nil {
			return err
		}
		return f.userJoined(n)
	case clusterproto.MethodHubUserLeft:
		var n clusterproto.UserLeftNotify
		if err := json.Unmarshal(env.Params, &n); err != nil {
			return err
		}
		return f.userLeft(n)
	case clusterproto.MethodHubUserStateBroadcast:
		var n clusterproto.UserStateBroadcastNotify
		if err := json.Unmarshal(env.Params, &n); err != nil {
			return err
		}
		return f.userStateBroadcast(n)
	case clusterproto.MethodHubUserRemoveBroadcast:
		var n clusterproto.UserRemoveBroadcastNotify
		if err := json.Unmarshal(env.Params, &n); err != nil {
			return err
		}
		return f.userRemoveBroadcast(n)
	case clusterproto.MethodHubChannelStateBroadcast:
		var n clusterproto.ChannelStateBroadcastNotify
		if err := json.Unmarshal(env.Params, &n); err != nil {
			return err
		}
		f.mirror.UpsertChannel(n.Channel)
		return f.broadcastLocal(channelStateMessage(n.Channel))
	case clusterproto.MethodHubChannelRemoveBroadcast:
		var n clusterproto.ChannelRemoveBroadcastNotify
		if err := json.Unmarshal(env.Params, &n); err != nil {
			return err
		}
		f.mirror.RemoveChannel(n.ChannelID)
		id := n.ChannelID
		return f.broadcastLocal(&mumbleproto.ChannelRemove{ChannelId: &id})
	case clusterproto.MethodHubTextMessageBroadcast:
		var n clusterproto.TextMessageBroadcastNotify
		if err := json.Unmarshal(env.Params, &n); err != nil {
			return err
		}
		return f.textMessageBroadcast(n)
	case clusterproto.MethodEdgePeerJoined:
		var n clusterproto.PeerJoinedNotify
		if err := json.Unmarshal(env.Params, &n); err != nil {
			return err
		}
		addr, err := net.ResolveUDPAddr("udp", n.VoiceAddr)
		if err != nil {
			return err
		}
		f.peers.Upsert(Peer{EdgeID: n.EdgeID, VoiceAddr: addr})
		return nil
	case clusterproto.MethodEdgePeerLeft:
		var n clusterproto.PeerLeftNotify
		if err := json.Unmarshal(env.Params, &n); err != nil {
			return err
		}
		f.peers.Remove(n.EdgeID)
		return nil
	case clusterproto.MethodEdgeACLUpdated:
		var n clusterproto.ACLUpdatedNotify
		if err := json.Unmarshal(env.Params, &n); err != nil {
			return err
		}
		f.mirror.SetACL(n.ChannelID, n.Entries)
		return f.refreshSuppressBits(n.ChannelID)
	case clusterproto.MethodEdgeBanListUpdated:
		var n clusterproto.BanListUpdatedNotify
		if err := json.Unmarshal(env.Params, &n); err != nil {
			return err
		}
		f.mirror.SetBans(n.Bans)
		return nil
	}
	return nil
}

// refreshSuppressBits applies the "permission refresh on ACL change"
// contract (§4.4): every locally-authenticated client in channelID has
// its suppress bit recomputed from the now-current ACL, and any change
// is broadcast as a UserState update.
func (f *ClusterFeed) refreshSuppressBits(channelID uint32) error {
	for _, c := range f.local.InChannel(channelID) {
		if c.state != StateClientReady {
			continue
		}
		hasSpeak := f.mirror.Evaluate(channelID, c.UserID, c.Registered)&acl.Speak != 0
		suppress := !hasSpeak && !c.SelfMute
		if suppress == c.Suppress {
			continue
		}
		c.Suppress = suppress
		session := c.Session
		if err := c.SendMessage(&mumbleproto.UserState{Session: &session, Suppress: &c.Suppress}); err != nil {
			return err
		}
	}
	return nil
}

func (f *ClusterFeed) userJoined(n clusterproto.UserJoinedNotify) error {
	f.mirror.UpsertSession(n.Session)
	session := n.Session.SessionID
	name := n.Session.UserName
	channel := n.Session.ChannelID
	return f.broadcastLocal(&mumbleproto.UserState{Session: &session, Name: &name, ChannelId: &channel})
}

func (f *ClusterFeed) userLeft(n clusterproto.UserLeftNotify) error {
	f.mirror.RemoveSession(n.Session)
	f.ninja.Forget(n.Session)
	session := n.Session
	var reasonPtr *string
	if n.Reason != "" {
		reasonPtr = &n.Reason
	}
	ban := n.Ban
	return f.broadcastLocal(&mumbleproto.UserRemove{Session: &session, Ban: &ban, Reason: reasonPtr})
}

// userStateBroadcast applies the hub's echoed UserState and relays it,
// routing a channel move through Ninja so viewers without Enter on the
// destination see a synthetic remove instead (§7).
func (f *ClusterFeed) userStateBroadcast(n clusterproto.UserStateBroadcastNotify) error {
	existing, _ := f.mirror.Session(n.Session)
	name := existing.UserName
	if n.Name != nil {
		name = *n.Name
	}
	moved := n.ChannelID != nil && *n.ChannelID != existing.ChannelID
	channel := existing.ChannelID
	if n.ChannelID != nil {
		channel = *n.ChannelID
	}
	f.mirror.UpsertSession(clusterproto.SessionSnapshot{
		SessionID: n.Session, UserName: name, ChannelID: channel, EdgeID: existing.EdgeID,
	})

	// The hub's echo is the only place a post-connect self-mute/deaf
	// toggle reaches the owning edge's *Client; apply it here so
	// refreshSuppressBits (§4.4) sees a current SelfMute, not the
	// value frozen at PreConnectUserState time.
	if owner, ok := f.local.Get(n.Session); ok {
		if n.SelfMute != nil {
			owner.SelfMute = *n.SelfMute
		}
		if n.SelfDeaf != nil {
			owner.SelfDeaf = *n.SelfDeaf
		}
	}

	session := n.Session
	full := &mumbleproto.UserState{Session: &session, Name: &name, ChannelId: &channel, Mute: n.Mute, Deaf: n.Deaf,
		SelfMute: n.SelfMute, SelfDeaf: n.SelfDeaf,
		Texture: n.Texture, TextureHash: n.TextureHash, Comment: n.Comment, CommentHash: n.CommentHash}

	for _, viewer := range f.local.All() {
		if viewer.state != StateClientReady {
			continue
		}
		// Promiscuous viewers see every move verbatim, bypassing Ninja
		// filtering entirely (§9 decision 3).
		if viewer.Promiscuous {
			if err := viewer.SendMessage(full); err != nil {
				return err
			}
			continue
		}
		if moved {
			switch out := f.ninja.FilterMove(viewer, session, name, channel).(type) {
			case noForward:
				continue
			case nil:
				if err := viewer.SendMessage(full); err != nil {
					return err
				}
			default:
				if err := viewer.SendMessage(out); err != nil {
					return err
				}
			}
			continue
		}
		if f.ninja.Suppressed(viewer.Session, session) {
			continue
		}
		if err := viewer.SendMessage(full); err != nil {
			return err
		}
	}
	return nil
}

func (f *ClusterFeed) userRemoveBroadcast(n clusterproto.UserRemoveBroadcastNotify) error {
	f.mirror.RemoveSession(n.Session)
	f.ninja.Forget(n.Session)
	session, actor, ban := n.Session, n.Actor, n.Ban
	var reasonPtr *string
	if n.Reason != "" {
		reasonPtr = &n.Reason
	}
	return f.broadcastLocal(&mumbleproto.UserRemove{Session: &session, Actor: &actor, Ban: &ban, Reason: reasonPtr})
}

func (f *ClusterFeed) textMessageBroadcast(n clusterproto.TextMessageBroadcastNotify) error {
	sender := n.Session
	msg := &mumbleproto.TextMessage{Actor: &sender, Message: &n.Message}
	for _, ch := range n.ChannelIDs {
		id := ch
		msg.ChannelId = append(msg.ChannelId, id)
	}
	sent := make(map[uint32]bool)
	for _, target := range n.Targets {
		if c, ok := f.local.Get(target); ok && !sent[target] {
			sent[target] = true
			if err := c.SendMessage(msg); err != nil {
				return err
			}
		}
	}
	for _, ch := range n.ChannelIDs {
		for _, c := range f.local.InChannel(ch) {
			if sent[c.Session] || c.state != StateClientReady {
				continue
			}
			sent[c.Session] = true
			if err := c.SendMessage(msg); err != nil {
				return err
			}
		}
	}
	return nil
}

func (f *ClusterFeed) broadcastLocal(msg interface{}) error {
	for _, c := range f.local.All() {
		if c.state != StateClientReady {
			continue
		}
		if err := c.SendMessage(msg); err != nil {
			return err
		}
	}
	return nil
}

func channelStateMessage(ch clusterproto.ChannelSnapshot) *mumbleproto.ChannelState {
	id := ch.ChannelID
	name := ch.Name
	desc := ch.Description
	pos := ch.Position
	return &mumbleproto.ChannelState{ChannelId: &id, Parent: ch.ParentID, Name: &name, Description: &desc, Position: &pos}
}

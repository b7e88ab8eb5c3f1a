package edge

import (
	"context"
	"errors"
	"math"
	"strings"

	"github.com/grumble-cluster/grumble/pkg/acl"
	"github.com/grumble-cluster/grumble/pkg/clusterproto"
	"github.com/grumble-cluster/grumble/pkg/mumbleproto"
)

// listenAllSentinel is a client-side convention: a UserState whose
// ListeningChannelRemove contains exactly this value means "stop
// listening to everything", resolved against the hub's own bookkeeping
// rather than trusting the client's view of what it was listening to
// (§9 decision 2).
const listenAllSentinel = math.MaxUint32

// ErrPermissionDenied is returned by a HubForwarder method when the
// hub's response carries a permission-denied flag (§4.3 step 5, §7
// propagation policy: "edge handlers surface hub responses verbatim
// when they carry a permission_denied flag").
var ErrPermissionDenied = errors.New("edge: hub denied the request")

// ErrHubUnavailable is returned when the forwarding RPC itself cannot
// reach the hub, distinct from a hub-issued denial (§7 "Hub
// unavailable... synthetic permission denial").
var ErrHubUnavailable = errors.New("edge: hub unavailable")

// HubForwarder is the subset of the cluster channel the dispatcher
// uses to forward each mutating message kind to the hub (§4.3 step 2).
// Implementations package the request as the matching clusterproto
// params type and wait for the hub's handling to complete; the
// broadcast echo that actually updates state arrives separately via
// whatever applies Mirror updates, not through these return values.
type HubForwarder interface {
	ForwardUserState(ctx context.Context, p clusterproto.UserStateParams) error
	ForwardUserRemove(ctx context.Context, p clusterproto.UserRemoveParams) error
	ForwardChannelState(ctx context.Context, p clusterproto.ChannelStateParams) error
	ForwardChannelRemove(ctx context.Context, p clusterproto.ChannelRemoveParams) error
	ForwardACL(ctx context.Context, p clusterproto.HandleACLParams) error
	ForwardTextMessage(ctx context.Context, p clusterproto.TextMessageParams) error
	ForwardBanList(ctx context.Context, p clusterproto.BanListParams) ([]clusterproto.BanSnapshot, error)
	ClearListeningChannels(ctx context.Context, session uint32) ([]uint32, error)
}

// Dispatcher applies §4.3's uniform forward pattern to every
// mutating control message an authenticated client sends. The edge
// never applies the mutation itself (step 4's "on receiving the
// broadcast" is handled elsewhere, by whatever consumes the hub's
// notify stream and calls Mirror's Upsert/Remove methods); Dispatcher
// only validates, forwards, and turns a hub failure into the client-
// facing PermissionDenied reply.
type Dispatcher struct {
	edgeID    string
	forwarder HubForwarder
	mirror    *Mirror
}

// NewDispatcher builds a Dispatcher that forwards through fwd,
// tagging every request with this edge's id. mirror resolves the
// advisory ACL check the "!promiscuous" chat command needs.
func NewDispatcher(edgeID string, fwd HubForwarder, mirror *Mirror) *Dispatcher {
	return &Dispatcher{edgeID: edgeID, forwarder: fwd, mirror: mirror}
}

// Dispatch routes one decoded control message from an authenticated
// client. Ping, PermissionQuery, and UserStats are the named §4.3
// exceptions and are not routed here — the caller answers Ping and
// PermissionQuery locally and drops UserStats before reaching Dispatch.
func (d *Dispatcher) Dispatch(ctx context.Context, c *Client, msg interface{}) error {
	if c.state != StateClientReady {
		return nil
	}

	var err error
	switch m := msg.(type) {
	case *mumbleproto.UserState:
		if clear, ok := clearAllSentinel(m); ok {
			removed, cerr := d.forwarder.ClearListeningChannels(ctx, clear)
			_ = removed
			err = cerr
			break
		}
		err = d.forwarder.ForwardUserState(ctx, d.userStateParams(c, m))
	case *mumbleproto.UserRemove:
		err = d.forwarder.ForwardUserRemove(ctx, d.userRemoveParams(c, m))
	case *mumbleproto.ChannelState:
		err = d.forwarder.ForwardChannelState(ctx, d.channelStateParams(c, m))
	case *mumbleproto.ChannelRemove:
		if m.ChannelId != nil {
			err = d.forwarder.ForwardChannelRemove(ctx, clusterproto.ChannelRemoveParams{
				EdgeID: d.edgeID, Session: c.Session, ChannelID: *m.ChannelId,
			})
		}
	case *mumbleproto.ACL:
		err = d.forwarder.ForwardACL(ctx, d.aclParams(c, m))
	case *mumbleproto.TextMessage:
		if d.handlePromiscuousCommand(c, m) {
			return nil
		}
		err = d.forwarder.ForwardTextMessage(ctx, d.textMessageParams(c, m))
	case *mumbleproto.VoiceTarget:
		d.applyVoiceTarget(c, m)
		return nil
	case *mumbleproto.BanList:
		return d.handleBanList(ctx, c, m)
	case *mumbleproto.CryptSetup:
		return d.handleCryptSetup(c, m)
	default:
		return nil
	}

	if err == nil {
		return nil
	}
	return d.deny(c, err)
}

// clearAllSentinel reports whether m is a UserState encoding the
// clear-all-listening-channels convention (§9 decision 2), returning
// the acting session.
func clearAllSentinel(m *mumbleproto.UserState) (uint32, bool) {
	if len(m.ListeningChannelRemove) != 1 || m.ListeningChannelRemove[0] != listenAllSentinel {
		return 0, false
	}
	if m.Session != nil {
		return *m.Session, true
	}
	return 0, false
}

// applyVoiceTarget populates one of the sender's 1..30 whisper-routing
// slots from a VoiceTarget control message (§3 "Voice target"). This is
// purely edge-local bookkeeping — no hub forward, since whisper
// routing only matters to the originating edge's VoiceRouter.
func (d *Dispatcher) applyVoiceTarget(c *Client, m *mumbleproto.VoiceTarget) {
	if m.Id == nil {
		return
	}
	vt := &VoiceTarget{}
	for _, t := range m.Targets {
		vt.Sessions = append(vt.Sessions, t.Session...)
		if t.ChannelId != nil {
			vt.ChannelIDs = append(vt.ChannelIDs, *t.ChannelId)
		}
	}
	c.VoiceTargets[*m.Id] = vt
}

// handleBanList applies §3 Ban's query/update path: Query asks the hub
// for the current table and replies with it; a populated message
// replaces the table outright (§4.3, §4.2 step 2's mirrored copy is
// refreshed by the hub's broadcast echo, not here).
func (d *Dispatcher) handleBanList(ctx context.Context, c *Client, m *mumbleproto.BanList) error {
	p := clusterproto.BanListParams{EdgeID: d.edgeID}
	if m.Query != nil {
		p.Query = *m.Query
	}
	for _, b := range m.Bans {
		snap := clusterproto.BanSnapshot{Address: b.Address, Name: strOrEmpty(b.Name), Reason: strOrEmpty(b.Reason)}
		if b.Mask != nil {
			snap.Mask = int(*b.Mask)
		}
		if b.Hash != nil {
			snap.Hash = *b.Hash
		}
		if b.Start != nil {
			snap.Start = *b.Start
		}
		if b.Duration != nil {
			snap.Duration = *b.Duration
		}
		p.Bans = append(p.Bans, snap)
	}

	bans, err := d.forwarder.ForwardBanList(ctx, p)
	if err != nil {
		return d.deny(c, err)
	}
	if !p.Query {
		return nil
	}

	reply := &mumbleproto.BanList{}
	for _, b := range bans {
		b := b
		mask := uint32(b.Mask)
		duration := b.Duration
		entry := mumbleproto.BanList_BanEntry{
			Address: b.Address, Name: &b.Name, Reason: &b.Reason, Start: &b.Start,
			Mask: &mask, Duration: &duration,
		}
		if b.Hash != "" {
			hash := b.Hash
			entry.Hash = &hash
		}
		reply.Bans = append(reply.Bans, entry)
	}
	return c.SendMessage(reply)
}

func strOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// handleCryptSetup answers the client-initiated crypt resync
// direction: an empty ClientNonce asks the edge to resend its current
// server nonce (§3 CryptSetup), a populated one resynchronizes the
// decrypt IV against the nonce the client now reports.
func (d *Dispatcher) handleCryptSetup(c *Client, m *mumbleproto.CryptSetup) error {
	if c.Crypt == nil {
		return nil
	}
	if len(m.ClientNonce) == 0 {
		return c.SendMessage(&mumbleproto.CryptSetup{ServerNonce: c.Crypt.EncryptIV[:]})
	}
	var iv [16]byte
	copy(iv[:], m.ClientNonce)
	c.Crypt.Resync(iv)
	return nil
}

// handlePromiscuousCommand intercepts the "!promiscuous on"/"!promiscuous
// off" chat-command convention (§9 decision 3), gated on Register
// permission over the root channel since no new wire message is
// allowed. Reports whether it consumed m.
func (d *Dispatcher) handlePromiscuousCommand(c *Client, m *mumbleproto.TextMessage) bool {
	if m.Message == nil {
		return false
	}
	switch strings.TrimSpace(*m.Message) {
	case "!promiscuous on":
	case "!promiscuous off":
	default:
		return false
	}
	if d.mirror.Evaluate(0, c.UserID, c.Registered)&acl.Register == 0 {
		return true
	}
	c.Promiscuous = strings.TrimSpace(*m.Message) == "!promiscuous on"
	return true
}

// deny translates a forwarding failure into the client-facing
// PermissionDenied reply (§4.3 step 5, §7).
func (d *Dispatcher) deny(c *Client, cause error) error {
	denyType := mumbleproto.PermissionDenied_Permission
	reason := cause.Error()
	if errors.Is(cause, ErrHubUnavailable) {
		reason = "Server must be connected to Hub"
	}
	return c.SendMessage(&mumbleproto.PermissionDenied{
		Type:   denyType.Enum(),
		Reason: &reason,
	})
}

func (d *Dispatcher) userStateParams(c *Client, m *mumbleproto.UserState) clusterproto.UserStateParams {
	p := clusterproto.UserStateParams{EdgeID: d.edgeID, Session: c.Session}
	if m.Session != nil {
		p.Session = *m.Session
	}
	p.ChannelID = m.ChannelId
	p.Mute = m.Mute
	p.Deaf = m.Deaf
	p.SelfMute = m.SelfMute
	p.SelfDeaf = m.SelfDeaf
	p.Name = m.Name
	p.Texture = m.Texture
	p.Comment = m.Comment
	p.ListeningChannelAdd = m.ListeningChannelAdd
	p.ListeningChannelRemove = m.ListeningChannelRemove
	return p
}

func (d *Dispatcher) userRemoveParams(c *Client, m *mumbleproto.UserRemove) clusterproto.UserRemoveParams {
	p := clusterproto.UserRemoveParams{EdgeID: d.edgeID, Actor: c.Session}
	if m.Session != nil {
		p.Session = *m.Session
	}
	if m.Reason != nil {
		p.Reason = *m.Reason
	}
	if m.Ban != nil {
		p.Ban = *m.Ban
	}
	return p
}

func (d *Dispatcher) channelStateParams(c *Client, m *mumbleproto.ChannelState) clusterproto.ChannelStateParams {
	snap := clusterproto.ChannelSnapshot{InheritACL: true}
	if m.ChannelId != nil {
		snap.ChannelID = *m.ChannelId
	}
	snap.ParentID = m.Parent
	if m.Name != nil {
		snap.Name = *m.Name
	}
	if m.Description != nil {
		snap.Description = *m.Description
	}
	if m.Position != nil {
		snap.Position = *m.Position
	}
	if m.Temporary != nil {
		snap.Temporary = *m.Temporary
	}
	if m.MaxUsers != nil {
		snap.MaxUsers = *m.MaxUsers
	}
	return clusterproto.ChannelStateParams{EdgeID: d.edgeID, Session: c.Session, Channel: snap}
}

func (d *Dispatcher) aclParams(c *Client, m *mumbleproto.ACL) clusterproto.HandleACLParams {
	p := clusterproto.HandleACLParams{EdgeID: d.edgeID, Session: c.Session}
	if m.ChannelId != nil {
		p.ChannelID = *m.ChannelId
	}
	for _, a := range m.Acls {
		entry := clusterproto.ACLEntrySnapshot{}
		if a.ApplyHere != nil {
			entry.ApplyHere = *a.ApplyHere
		}
		if a.ApplySubs != nil {
			entry.ApplySubs = *a.ApplySubs
		}
		entry.UserID = a.UserId
		if a.Group != nil {
			entry.Group = *a.Group
		}
		if a.Grant != nil {
			entry.Allow = *a.Grant
		}
		if a.Deny != nil {
			entry.Deny = *a.Deny
		}
		p.Entries = append(p.Entries, entry)
	}
	return p
}

func (d *Dispatcher) textMessageParams(c *Client, m *mumbleproto.TextMessage) clusterproto.TextMessageParams {
	p := clusterproto.TextMessageParams{
		EdgeID:     d.edgeID,
		Session:    c.Session,
		Targets:    m.Session,
		ChannelIDs: m.ChannelId,
		TreeIDs:    m.TreeId,
	}
	if m.Message != nil {
		p.Message = *m.Message
	}
	return p
}

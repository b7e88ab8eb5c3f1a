package hub

import (
	"log"
	"time"

	"github.com/grumble-cluster/grumble/pkg/blobstore"
	"github.com/grumble-cluster/grumble/pkg/clusterproto"
	"github.com/grumble-cluster/grumble/pkg/database"
)

// blobThreshold is the §3 UserState invariant's size cutoff: textures
// and comments at or under this many bytes ride along in the
// broadcast verbatim, larger ones are written to pkg/blobstore and
// replaced with a content-hash reference.
const blobThreshold = 128

// Sender delivers one envelope to a specific, currently-connected
// edge. The cluster-channel transport (outside this package) supplies
// the implementation; Handlers only needs to know how to reach an
// edge by id.
type Sender interface {
	Send(edgeID string, env *clusterproto.Envelope) error
}

// Handlers implements §4.3's uniform forward pattern: validate,
// mutate the store, persist, then broadcast to every edge — via
// Sender when connected, via MessageCache when not (§4.8).
type Handlers struct {
	store    *Store
	registry *Registry
	sessions *SessionRegistry
	cache    *MessageCache
	sender   Sender
	blobs    *blobstore.BlobStore
}

// NewHandlers wires a Handlers instance for one hub process. blobs may
// be nil, in which case oversized textures/comments are broadcast
// verbatim instead of hash-substituted (no store configured to hold
// them).
func NewHandlers(store *Store, registry *Registry, sessions *SessionRegistry, cache *MessageCache, sender Sender, blobs *blobstore.BlobStore) *Handlers {
	return &Handlers{store: store, registry: registry, sessions: sessions, cache: cache, sender: sender, blobs: blobs}
}

// broadcast fans a notify envelope out to every edge except origin
// (empty origin means "all edges", used for hub-initiated events like
// heartbeat timeout cleanup). A Send failure queues the message into
// that edge's offline cache instead of dropping it (§4.8).
func (h *Handlers) broadcast(origin string, method clusterproto.Method, payload interface{}) error {
	env, err := clusterproto.NewNotify(method, payload)
	if err != nil {
		return err
	}
	for _, peer := range h.registry.Peers() {
		if peer.EdgeID == origin {
			continue
		}
		if sendErr := h.sender.Send(peer.EdgeID, env); sendErr != nil {
			h.cache.Enqueue(peer.EdgeID, env)
		}
	}
	return nil
}

// HandleChannelState applies a ChannelState forward: persist then
// broadcast (§4.3).
func (h *Handlers) HandleChannelState(p clusterproto.ChannelStateParams) (clusterproto.ChannelSnapshot, error) {
	row := database.Channel{
		ChannelID:   p.Channel.ChannelID,
		ParentID:    p.Channel.ParentID,
		Name:        p.Channel.Name,
		Description: p.Channel.Description,
		Position:    p.Channel.Position,
		MaxUsers:    p.Channel.MaxUsers,
		Temporary:   p.Channel.Temporary,
		InheritACL:  p.Channel.InheritACL,
	}
	if err := h.store.SaveChannel(row); err != nil {
		return clusterproto.ChannelSnapshot{}, err
	}
	if err := h.broadcast(p.EdgeID, clusterproto.MethodHubChannelStateBroadcast,
		clusterproto.ChannelStateBroadcastNotify{Channel: p.Channel}); err != nil {
		return clusterproto.ChannelSnapshot{}, err
	}
	return p.Channel, nil
}

// HandleChannelRemove applies a ChannelRemove forward (§4.3, §3
// cascade-to-descendants is resolved by the caller before invoking
// this once per removed node).
func (h *Handlers) HandleChannelRemove(p clusterproto.ChannelRemoveParams) error {
	if err := h.store.RemoveChannel(p.ChannelID); err != nil {
		return err
	}
	return h.broadcast(p.EdgeID, clusterproto.MethodHubChannelRemoveBroadcast,
		clusterproto.ChannelRemoveBroadcastNotify{ChannelID: p.ChannelID})
}

// HandleACL applies an ACL save forward (§4.3, §4.4).
func (h *Handlers) HandleACL(p clusterproto.HandleACLParams) ([]clusterproto.ACLEntrySnapshot, error) {
	rows := make([]database.ACLEntry, len(p.Entries))
	for i, e := range p.Entries {
		rows[i] = database.ACLEntry{
			Index:     i,
			ApplyHere: e.ApplyHere,
			ApplySubs: e.ApplySubs,
			UserID:    e.UserID,
			Group:     e.Group,
			Allow:     e.Allow,
			Deny:      e.Deny,
		}
	}
	if err := h.store.SaveACL(p.ChannelID, rows); err != nil {
		return nil, err
	}
	if err := h.broadcast(p.EdgeID, clusterproto.MethodEdgeACLUpdated,
		clusterproto.ACLUpdatedNotify{ChannelID: p.ChannelID, Entries: p.Entries}); err != nil {
		return nil, err
	}
	return p.Entries, nil
}

// HandleUserState applies a UserState forward — move/mute/deaf/rename
// — broadcasting the change verbatim (§4.3; the hub holds no
// per-session row beyond what the edge already tracks, so there is no
// store write here beyond session bookkeeping the edge reports via
// edge.reportSession). Texture/Comment over blobThreshold bytes are
// written to pkg/blobstore and replaced with their content hash before
// the broadcast goes out (§3).
func (h *Handlers) HandleUserState(p clusterproto.UserStateParams) error {
	notify := clusterproto.UserStateBroadcastNotify{
		Session:   p.Session,
		ChannelID: p.ChannelID,
		Mute:      p.Mute,
		Deaf:      p.Deaf,
		SelfMute:  p.SelfMute,
		SelfDeaf:  p.SelfDeaf,
		Name:      p.Name,
	}

	if len(p.Texture) > 0 {
		if hash, ok, err := h.storeBlobIfOversized(p.Texture); err != nil {
			return err
		} else if ok {
			notify.TextureHash = []byte(hash)
		} else {
			notify.Texture = p.Texture
		}
	}
	if p.Comment != nil {
		if hash, ok, err := h.storeBlobIfOversized([]byte(*p.Comment)); err != nil {
			return err
		} else if ok {
			notify.CommentHash = []byte(hash)
		} else {
			notify.Comment = p.Comment
		}
	}

	return h.broadcast(p.EdgeID, clusterproto.MethodHubUserStateBroadcast, notify)
}

// storeBlobIfOversized writes data to the blob store and returns its
// hash when data exceeds blobThreshold; ok is false (hash empty) when
// data should instead ride along verbatim.
func (h *Handlers) storeBlobIfOversized(data []byte) (hash string, ok bool, err error) {
	if len(data) <= blobThreshold || h.blobs == nil {
		return "", false, nil
	}
	hash, err = h.blobs.Put(data)
	if err != nil {
		return "", false, err
	}
	if err := h.store.SaveBlob(hash, int64(len(data))); err != nil {
		return "", false, err
	}
	return hash, true, nil
}

// HandleUserRemove applies a UserRemove forward (kick, or ban when
// p.Ban is set, in which case BanSession writes the ban entry before
// the removal is relayed) (§4.3, §9 decision 1).
func (h *Handlers) HandleUserRemove(p clusterproto.UserRemoveParams) error {
	if p.Ban {
		if err := h.BanSession(p.Session, p.Reason, 0); err != nil {
			return err
		}
	}
	return h.broadcast(p.EdgeID, clusterproto.MethodHubUserRemoveBroadcast, clusterproto.UserRemoveBroadcastNotify{
		Session: p.Session,
		Actor:   p.Actor,
		Ban:     p.Ban,
		Reason:  p.Reason,
	})
}

// BanSession implements hub.BanSession (§9 decision 1): bans a live or
// recently-seen session by resolving its last-known address/cert hash
// from the session registry, appending a row to the ban table, and
// broadcasting the updated table to every edge. A known session with
// no recorded address gets a cert-hash-only row; for a session already
// gone from the registry neither address nor hash is known, and the
// row carries only the reason and duration.
func (h *Handlers) BanSession(session uint32, reason string, duration uint32) error {
	snap, known := h.sessions.Get(session)

	ban := database.Ban{Reason: reason, Start: time.Now(), Duration: int(duration)}
	if known && len(snap.Address) > 0 {
		ban.Base = snap.Address
		ban.Mask = 128
		ban.Name = snap.UserName
	} else {
		log.Printf("hub: ban session %d: no known address, hash-only ban", session)
	}
	if known && snap.CertHash != "" {
		ban.Hash = []byte(snap.CertHash)
	}

	rows, _, err := h.store.BanList(1<<20, 0)
	if err != nil {
		return err
	}
	rows = append(rows, ban)
	if err := h.store.SaveBans(rows); err != nil {
		return err
	}
	return h.broadcast("", clusterproto.MethodEdgeBanListUpdated, clusterproto.BanListUpdatedNotify{Bans: banSnapshots(rows)})
}

// HandleBanList applies a BanList forward: Query returns the current
// table, otherwise Bans replaces it outright, and every edge is told
// about the change (§3 Ban, §4.3).
func (h *Handlers) HandleBanList(p clusterproto.BanListParams) ([]clusterproto.BanSnapshot, error) {
	if p.Query {
		rows, _, err := h.store.BanList(1<<20, 0)
		if err != nil {
			return nil, err
		}
		return banSnapshots(rows), nil
	}

	rows := make([]database.Ban, len(p.Bans))
	for i, b := range p.Bans {
		row := database.Ban{
			Base: b.Address, Mask: b.Mask, Name: b.Name,
			Reason: b.Reason, Duration: int(b.Duration), Start: time.Now(),
		}
		if b.Hash != "" {
			row.Hash = []byte(b.Hash)
		}
		if b.Start != "" {
			if t, err := time.Parse(time.RFC3339, b.Start); err == nil {
				row.Start = t
			}
		}
		rows[i] = row
	}
	if err := h.store.SaveBans(rows); err != nil {
		return nil, err
	}
	snaps := banSnapshots(rows)
	if err := h.broadcast(p.EdgeID, clusterproto.MethodEdgeBanListUpdated, clusterproto.BanListUpdatedNotify{Bans: snaps}); err != nil {
		return nil, err
	}
	return snaps, nil
}

func banSnapshots(rows []database.Ban) []clusterproto.BanSnapshot {
	out := make([]clusterproto.BanSnapshot, len(rows))
	for i, r := range rows {
		out[i] = clusterproto.BanSnapshot{
			Address: r.Base, Mask: r.Mask, Name: r.Name, Hash: string(r.Hash),
			Reason: r.Reason, Start: r.Start.Format(time.RFC3339), Duration: uint32(r.Duration),
		}
	}
	return out
}

// HandleTextMessage applies a TextMessage forward (§4.3; text is not
// persisted — only relayed).
func (h *Handlers) HandleTextMessage(p clusterproto.TextMessageParams) error {
	return h.broadcast(p.EdgeID, clusterproto.MethodHubTextMessageBroadcast, clusterproto.TextMessageBroadcastNotify{
		Session:    p.Session,
		Targets:    p.Targets,
		ChannelIDs: p.ChannelIDs,
		Message:    p.Message,
	})
}

// UserJoined/UserLeft announce session lifecycle to the rest of the
// cluster (§4.2 step 9, §4.3).
func (h *Handlers) UserJoined(origin string, session clusterproto.SessionSnapshot) error {
	return h.broadcast(origin, clusterproto.MethodHubUserJoined, clusterproto.UserJoinedNotify{Session: session})
}

func (h *Handlers) UserLeft(origin string, session uint32, ban bool, reason string) error {
	return h.broadcast(origin, clusterproto.MethodHubUserLeft, clusterproto.UserLeftNotify{
		Session: session, Ban: ban, Reason: reason,
	})
}

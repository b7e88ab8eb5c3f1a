package clusterproto

// RegisterParams is edge.register's request: an edge announces itself
// and its reachable addresses at cluster-join time (§4.7).
type RegisterParams struct {
	EdgeID        string `json:"edgeId"`
	ServerID      uint64 `json:"serverId"`
	ControlAddr   string `json:"controlAddr"`
	VoiceAddr     string `json:"voiceAddr"`
	JoinToken     string `json:"joinToken"`
}

// RegisterResult hands the new edge its view of the cluster.
type RegisterResult struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

// HeartbeatParams is edge.heartbeat's periodic liveness ping (§4.7,
// registry.heartbeatInterval).
type HeartbeatParams struct {
	EdgeID     string `json:"edgeId"`
	ActiveUsers int   `json:"activeUsers"`
}

type HeartbeatResult struct {
	OK bool `json:"ok"`
}

// AllocateSessionIDParams requests one cluster-unique session_id.
type AllocateSessionIDParams struct {
	EdgeID string `json:"edgeId"`
}

type AllocateSessionIDResult struct {
	SessionID uint32 `json:"sessionId"`
}

// FullSyncParams requests the complete channel/ACL/group/user/ban
// snapshot an edge needs after (re)connecting (§4.5).
type FullSyncParams struct {
	EdgeID string `json:"edgeId"`
}

type FullSyncResult struct {
	Channels []ChannelSnapshot `json:"channels"`
	Sessions []SessionSnapshot `json:"sessions"`
	Bans     []BanSnapshot     `json:"bans,omitempty"`
}

// ChannelSnapshot is the wire shape of one channel row, enough for an
// edge to rebuild its mirror without a direct database.DbTx
// dependency.
type ChannelSnapshot struct {
	ChannelID  uint32  `json:"channelId"`
	ParentID   *uint32 `json:"parentId,omitempty"`
	Name       string  `json:"name"`
	Description string `json:"description"`
	Position   int32   `json:"position"`
	MaxUsers   uint32  `json:"maxUsers"`
	Temporary  bool    `json:"temporary"`
	InheritACL bool    `json:"inheritAcl"`
}

// SessionSnapshot mirrors one remote session for an edge's §3 "Remote
// session mirror" table. Address/CertHash/UserID/Registered are
// reported once at edge.reportSession time and carried forward by
// Server.applyUserStateToRegistry, used by hub.BanSession (§9 decision
// 1) and the last-known-channel lookup (§4.2 step 8f) respectively.
type SessionSnapshot struct {
	SessionID uint32 `json:"sessionId"`
	UserName  string `json:"userName"`
	ChannelID uint32 `json:"channelId"`
	EdgeID    string `json:"edgeId"`

	Address    []byte   `json:"address,omitempty"`
	CertHash   string   `json:"certHash,omitempty"`
	UserID     int32    `json:"userId,omitempty"`
	Registered bool     `json:"registered,omitempty"`

	// ListeningChannels is the hub's mirror of the session's
	// listening-channel set, kept current from UserStateParams'
	// ListeningChannelAdd/Remove so ClearListeningChannels can compute
	// the removed set authoritatively (§9 decision 2).
	ListeningChannels []uint32 `json:"listeningChannels,omitempty"`
}

// BanSnapshot is the wire shape of one ban entry, carried over
// edge.handleBanList/edge.banListUpdated and edge.fullSync (§3 Ban).
type BanSnapshot struct {
	Address  []byte `json:"address,omitempty"`
	Mask     int    `json:"mask,omitempty"`
	Name     string `json:"name,omitempty"`
	Hash     string `json:"hash,omitempty"`
	Reason   string `json:"reason,omitempty"`
	Start    string `json:"start,omitempty"`
	Duration uint32 `json:"duration,omitempty"`
}

// BanListParams forwards a BanList message: Query asks for the
// current table back, otherwise Bans replaces it outright (mirroring
// the wire BanList message's own query-vs-push shape, §4.3).
type BanListParams struct {
	EdgeID string        `json:"edgeId"`
	Query  bool          `json:"query"`
	Bans   []BanSnapshot `json:"bans,omitempty"`
}

type BanListResult struct {
	Bans []BanSnapshot `json:"bans"`
}

// BanListUpdatedNotify tells every edge the authoritative ban table
// changed, whether from an explicit BanList push or hub.BanSession.
type BanListUpdatedNotify struct {
	Bans []BanSnapshot `json:"bans"`
}

// ClearListeningChannelsParams/Result implement the hub-side
// ClearListeningChannels(session) operation (§9 decision 2).
type ClearListeningChannelsParams struct {
	EdgeID  string `json:"edgeId"`
	Session uint32 `json:"session"`
}

type ClearListeningChannelsResult struct {
	ChannelIDs []uint32 `json:"channelIds"`
}

// GetChannelsParams/GetACLsParams request a single channel subtree or
// ACL set, used for incremental refresh rather than a full resync.
type GetChannelsParams struct {
	ServerID uint64 `json:"serverId"`
}

type GetChannelsResult struct {
	Channels []ChannelSnapshot `json:"channels"`
}

type GetACLsParams struct {
	ChannelID uint32 `json:"channelId"`
}

type ACLEntrySnapshot struct {
	ApplyHere bool   `json:"applyHere"`
	ApplySubs bool   `json:"applySubs"`
	UserID    *int32 `json:"userId,omitempty"`
	Group     string `json:"group,omitempty"`
	Allow     uint32 `json:"allow"`
	Deny      uint32 `json:"deny"`
}

type GetACLsResult struct {
	Entries []ACLEntrySnapshot `json:"entries"`
}

// SaveChannelParams forwards a ChannelState mutation for hub
// authority (§4.3).
type SaveChannelParams struct {
	EdgeID  string          `json:"edgeId"`
	Session uint32          `json:"session"`
	Channel ChannelSnapshot `json:"channel"`
}

type SaveChannelResult struct {
	Channel ChannelSnapshot `json:"channel"`
}

// ReportSessionParams tells the hub a session moved/changed on an
// edge, ahead of the hub's authoritative broadcast.
type ReportSessionParams struct {
	EdgeID  string          `json:"edgeId"`
	Session SessionSnapshot `json:"session"`
}

type ReportSessionResult struct {
	OK bool `json:"ok"`
}

// HandleACLParams forwards an ACL edit for hub authority.
type HandleACLParams struct {
	EdgeID    string             `json:"edgeId"`
	Session   uint32             `json:"session"`
	ChannelID uint32             `json:"channelId"`
	Entries   []ACLEntrySnapshot `json:"entries"`
}

type HandleACLResult struct {
	Entries []ACLEntrySnapshot `json:"entries"`
}

// UserStateParams/UserRemoveParams/ChannelStateParams/
// ChannelRemoveParams/TextMessageParams are the forwarded-mutation
// request shapes for hub.handle* (§4.3's uniform forward pattern).
type UserStateParams struct {
	EdgeID    string `json:"edgeId"`
	Session   uint32 `json:"session"`
	ChannelID *uint32 `json:"channelId,omitempty"`
	Mute      *bool  `json:"mute,omitempty"`
	Deaf      *bool  `json:"deaf,omitempty"`
	SelfMute  *bool  `json:"selfMute,omitempty"`
	SelfDeaf  *bool  `json:"selfDeaf,omitempty"`
	Name      *string `json:"name,omitempty"`

	// Texture/Comment carry the raw uploaded bytes for the hub to
	// apply the §3 blob-substitution threshold against; never echoed
	// back verbatim once over the threshold (see
	// UserStateBroadcastNotify).
	Texture []byte  `json:"texture,omitempty"`
	Comment *string `json:"comment,omitempty"`

	ListeningChannelAdd    []uint32 `json:"listeningChannelAdd,omitempty"`
	ListeningChannelRemove []uint32 `json:"listeningChannelRemove,omitempty"`
}

type UserRemoveParams struct {
	EdgeID  string `json:"edgeId"`
	Session uint32 `json:"session"`
	Actor   uint32 `json:"actor"`
	Ban     bool   `json:"ban"`
	Reason  string `json:"reason"`
}

type ChannelStateParams struct {
	EdgeID  string          `json:"edgeId"`
	Session uint32          `json:"session"`
	Channel ChannelSnapshot `json:"channel"`
}

type ChannelRemoveParams struct {
	EdgeID    string `json:"edgeId"`
	Session   uint32 `json:"session"`
	ChannelID uint32 `json:"channelId"`
}

type TextMessageParams struct {
	EdgeID    string   `json:"edgeId"`
	Session   uint32   `json:"session"`
	Targets   []uint32 `json:"targets,omitempty"`
	ChannelIDs []uint32 `json:"channelIds,omitempty"`
	TreeIDs   []uint32 `json:"treeIds,omitempty"`
	Message   string   `json:"message"`
}

// HandleAck is the shared {ok} reply for the hub.handle* forwards
// that don't need to echo back a richer value than success/failure.
type HandleAck struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
}

// AuthenticateParams carries the credentials a connecting client
// presented, forwarded to the hub for resolution against its
// authoritative user store (§4.2 step 6-7).
type AuthenticateParams struct {
	Name     string `json:"name"`
	Password string `json:"password"`
	CertHash string `json:"certHash"`
}

// AuthenticateResult is the hub's verdict on AuthenticateParams.
// LastChannelID is the registered user's remembered channel (§4.2 step
// 8f, §9 decision area), set only when one was ever persisted.
type AuthenticateResult struct {
	UserID        int32   `json:"userId"`
	Registered    bool    `json:"registered"`
	LastChannelID *uint32 `json:"lastChannelId,omitempty"`
}

// Broadcast notification payloads: the hub pushes these to every
// edge (or every edge but the origin) once a mutation is applied and
// persisted (§4.3, §5 ordering guarantees).
type UserJoinedNotify struct {
	Session SessionSnapshot `json:"session"`
}

type UserLeftNotify struct {
	Session uint32 `json:"session"`
	Ban     bool   `json:"ban"`
	Reason  string `json:"reason"`
}

// UserStateBroadcastNotify echoes an applied UserState. Texture/Comment
// carry the raw value only when it was at or under the blob threshold;
// above it, TextureHash/CommentHash carry the content hash instead and
// the raw bytes are never broadcast (§3).
type UserStateBroadcastNotify struct {
	Session   uint32  `json:"session"`
	ChannelID *uint32 `json:"channelId,omitempty"`
	Mute      *bool   `json:"mute,omitempty"`
	Deaf      *bool   `json:"deaf,omitempty"`
	SelfMute  *bool   `json:"selfMute,omitempty"`
	SelfDeaf  *bool   `json:"selfDeaf,omitempty"`
	Name      *string `json:"name,omitempty"`

	Texture     []byte  `json:"texture,omitempty"`
	TextureHash []byte  `json:"textureHash,omitempty"`
	Comment     *string `json:"comment,omitempty"`
	CommentHash []byte  `json:"commentHash,omitempty"`
}

type UserRemoveBroadcastNotify struct {
	Session uint32 `json:"session"`
	Actor   uint32 `json:"actor"`
	Ban     bool   `json:"ban"`
	Reason  string `json:"reason"`
}

type ChannelStateBroadcastNotify struct {
	Channel ChannelSnapshot `json:"channel"`
}

type ChannelRemoveBroadcastNotify struct {
	ChannelID uint32 `json:"channelId"`
}

type TextMessageBroadcastNotify struct {
	Session    uint32   `json:"session"`
	Targets    []uint32 `json:"targets,omitempty"`
	ChannelIDs []uint32 `json:"channelIds,omitempty"`
	Message    string   `json:"message"`
}

// PeerJoinedNotify/PeerLeftNotify announce cluster membership changes
// to every edge (§4.7), carrying enough address information for the
// voice router to learn cross-edge forwarding targets (§4.6).
type PeerJoinedNotify struct {
	EdgeID    string `json:"edgeId"`
	VoiceAddr string `json:"voiceAddr"`
}

type PeerLeftNotify struct {
	EdgeID string `json:"edgeId"`
}

// ACLUpdatedNotify tells edges to invalidate their advisory ACL cache
// for one channel after the hub applies an edit.
type ACLUpdatedNotify struct {
	ChannelID uint32             `json:"channelId"`
	Entries   []ACLEntrySnapshot `json:"entries"`
}

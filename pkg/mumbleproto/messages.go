// Package mumbleproto implements the Mumble 1.4.x wire protocol: the
// TCP control-channel frame codec, the ~30 message kinds, and the UDP
// voice packet format (both legacy and protobuf-encapsulated). Frame
// headers and voice packets follow Mumble's layout; control-message
// bodies other than CryptSetup are gob-encoded, so they are not
// readable by stock Mumble clients.
package mumbleproto

// Message kind numbers, per the Mumble wire protocol. These are the
// values that appear as the u16 "type" field of every control-channel
// frame.
const (
	MessageVersion = iota
	MessageUDPTunnel
	MessageAuthenticate
	MessagePing
	MessageReject
	MessageServerSync
	MessageChannelRemove
	MessageChannelState
	MessageUserRemove
	MessageUserState
	MessageBanList
	MessageTextMessage
	MessagePermissionDenied
	MessageACL
	MessageQueryUsers
	MessageCryptSetup
	MessageContextActionModify
	MessageContextAction
	MessageUserList
	MessageVoiceTarget
	MessagePermissionQuery
	MessageCodecVersion
	MessageUserStats
	MessageRequestBlob
	MessageServerConfig
	MessageSuggestConfig
)

// UDP voice sub-message kinds for the legacy (non-protobuf) datagram
// layout. The three most-significant bits of the header byte carry
// one of these.
const (
	UDPMessageVoiceCELTAlpha = iota
	UDPMessagePing
	UDPMessageVoiceSpeex
	UDPMessageVoiceCELTBeta
	UDPMessageVoiceOpus
)

// Target id classes for voice routing, per spec.md §4.6 / §6.
const (
	TargetRegularSpeech  = 0
	TargetWhisperMin     = 1
	TargetWhisperMax     = 30
	TargetServerLoopback = 31
)

// Reject_RejectType enumerates why an authentication attempt failed.
type Reject_RejectType int32

const (
	Reject_None Reject_RejectType = iota
	Reject_WrongVersion
	Reject_InvalidUsername
	Reject_WrongUserPW
	Reject_WrongServerPW
	Reject_UsernameInUse
	Reject_ServerFull
	Reject_NoCertificate
	Reject_AuthenticatorFail
	Reject_Banned
)

func (r Reject_RejectType) Enum() *Reject_RejectType { return &r }

// PermissionDenied_DenyType enumerates the reason a mutating request
// was refused. PermissionDenied never closes the connection (§7).
type PermissionDenied_DenyType int32

const (
	PermissionDenied_Text PermissionDenied_DenyType = iota
	PermissionDenied_Permission
	PermissionDenied_SuperUser
	PermissionDenied_ChannelName
	PermissionDenied_TextTooLong
	PermissionDenied_TemporaryChannel
	PermissionDenied_MissingCertificate
	PermissionDenied_UserName
	PermissionDenied_ChannelFull
	PermissionDenied_NestingLimit
	PermissionDenied_H9K
)

func (d PermissionDenied_DenyType) Enum() *PermissionDenied_DenyType { return &d }

// Version carries protocol and client identification, exchanged first
// on every connection (§4.2 step 5).
type Version struct {
	VersionV1   *uint32
	VersionV2   *uint64
	Release     *string
	Os          *string
	OsVersion   *string
	CryptoModes []string
}

// Authenticate carries the client's credentials and feature flags
// (§4.2 step 6).
type Authenticate struct {
	Username *string
	Password *string
	Tokens   []string
	CeltVersions []int32
	Opus     *bool
}

// Ping is exchanged purely locally between client and edge (§4.3
// exceptions); not forwarded to the hub.
type Ping struct {
	Timestamp *uint64
	Good      *uint32
	Late      *uint32
	Lost      *uint32
	Resync    *uint32
	UdpPackets *uint32
	TcpPackets *uint32
	UdpPingAvg *float32
	UdpPingVar *float32
	TcpPingAvg *float32
	TcpPingVar *float32
}

// Reject is sent on authentication failure, then the connection is
// closed (§4.2 step 9, §7).
type Reject struct {
	Type   *Reject_RejectType
	Reason *string
}

// ServerSync concludes the authentication sequence (§4.2 step 8g).
type ServerSync struct {
	Session         *uint32
	MaxBandwidth    *uint32
	WelcomeText     *string
	Permissions     *uint64
}

// ChannelRemove requests/announces deletion of a channel and its
// descendants (§4.3).
type ChannelRemove struct {
	ChannelId *uint32
}

// ChannelState creates, edits, moves, or links a channel (§4.3, §4.5).
type ChannelState struct {
	ChannelId       *uint32
	Parent          *uint32
	Name            *string
	Links           []uint32
	Description     *string
	LinksAdd        []uint32
	LinksRemove     []uint32
	Temporary       *bool
	Position        *int32
	DescriptionHash []byte
	MaxUsers        *uint32
	IsEnterRestricted *bool
	CanEnter          *bool
}

// UserRemove is kick/ban (§4.3, §8 scenario S5).
type UserRemove struct {
	Session *uint32
	Actor   *uint32
	Reason  *string
	Ban     *bool
}

// UserState carries the full mutable state of a user; also used for
// PreConnectUserState buffering (§9) before authentication completes.
type UserState struct {
	Session         *uint32
	Actor           *uint32
	Name            *string
	UserId          *uint32
	ChannelId       *uint32
	Mute            *bool
	Deaf            *bool
	SelfMute        *bool
	SelfDeaf        *bool
	Suppress        *bool
	Texture         []byte
	PluginContext   []byte
	PluginIdentity  *string
	Comment         *string
	Hash            *string
	CommentHash     []byte
	TextureHash     []byte
	PrioritySpeaker *bool
	Recording       *bool
	TemporaryAccessTokens []string
	ListeningChannelAdd   []uint32
	ListeningChannelRemove []uint32
}

// BanList is queried (empty Bans slice + Query=true) or pushed by an
// admin client (§4.3).
type BanList struct {
	Bans  []BanList_BanEntry
	Query *bool
}

// BanList_BanEntry is one ban matched on IP/CIDR, cert hash, or name.
type BanList_BanEntry struct {
	Address  []byte
	Mask     *uint32
	Name     *string
	Hash     *string
	Reason   *string
	Start    *string
	Duration *uint32
}

// TextMessage is a chat message targeted at sessions, channels, or
// trees of channels (§4.3, §8 scenario S4).
type TextMessage struct {
	Actor      *uint32
	Session    []uint32
	ChannelId  []uint32
	TreeId     []uint32
	Message    *string
}

// PermissionDenied is the uniform "mutation refused" reply (§7).
type PermissionDenied struct {
	Permission *uint32
	ChannelId  *uint32
	Session    *uint32
	Reason     *string
	Type       *PermissionDenied_DenyType
	Name       *string
}

// ACL carries both the query response and the save request for a
// channel's access control list (§4.3, §4.4).
type ACL struct {
	ChannelId    *uint32
	InheritAcls  *bool
	Groups       []ACL_ChanGroup
	Acls         []ACL_ChanACL
	Query        *bool
}

// ACL_ChanGroup is one named group scoped to a channel.
type ACL_ChanGroup struct {
	Name          *string
	Inherited     *bool
	Inherit       *bool
	Inheritable   *bool
	Add           []uint32
	Remove        []uint32
	InheritedMembers []uint32
}

// ACL_ChanACL is one (allow,deny) rule attached to a channel.
type ACL_ChanACL struct {
	ApplyHere *bool
	ApplySubs *bool
	Inherited *bool
	UserId    *int32
	Group     *string
	Grant     *uint32
	Deny      *uint32
}

// QueryUsers resolves registered-user ids/names for UI lookups.
type QueryUsers struct {
	Ids   []uint32
	Names []string
}

// CryptSetup carries the voice cipher's key material (§4.2 step 8a) and is also
// used, with all fields empty, to request a server-side resync nonce
// (§3, §4.6).
type CryptSetup struct {
	Key          []byte
	ClientNonce  []byte
	ServerNonce  []byte
}

// ContextActionModify registers/unregisters a client-defined context
// menu action.
type ContextActionModify struct {
	Action  *string
	Text    *string
	Context *uint32
	Operation *uint32
}

// ContextAction invokes a previously registered context action.
type ContextAction struct {
	Session   *uint32
	ChannelId *uint32
	Action    *string
}

// UserList is the registered-user listing (admin use).
type UserList struct {
	Users []UserList_User
}

// UserList_User is one registered-user row.
type UserList_User struct {
	UserId      *uint32
	Name        *string
	LastSeen    *string
	LastChannel *uint32
}

// VoiceTarget defines the sender-side whisper routing table, ids
// 1..30 (§4.6, GLOSSARY).
type VoiceTarget struct {
	Id      *uint32
	Targets []VoiceTarget_Target
}

// VoiceTarget_Target is one whisper-target entry: named sessions
// and/or a channel with optional subchannel/link/group filters.
type VoiceTarget_Target struct {
	Session          []uint32
	ChannelId        *uint32
	Group            *string
	Links            *bool
	Children         *bool
}

// PermissionQuery asks (or answers) the effective permission mask for
// a channel (§4.4, answered from the local mirror per §4.3).
type PermissionQuery struct {
	ChannelId   *uint32
	Permissions *uint32
	Flush       *bool
}

// CodecVersion negotiates the audio codec set (§4.2 step 8b).
type CodecVersion struct {
	Alpha  *int32
	Beta   *int32
	Prefer *bool
	Opus   *bool
}

// UserStats blends locally-tracked network counters with hub-held
// certificate/version data (§4.3 exceptions).
type UserStats struct {
	Session          *uint32
	StatsOnly        *bool
	Certificates     [][]byte
	FromClient       *UserStats_Stats
	FromServer       *UserStats_Stats
	UdpPackets       *uint32
	TcpPackets       *uint32
	UdpPingAvg       *float32
	UdpPingVar       *float32
	TcpPingAvg       *float32
	TcpPingVar       *float32
	Version          *Version
	CeltVersions     []int32
	Address          []byte
	Bandwidth        *uint32
	OnlineSecs       *uint32
	IdleSecs         *uint32
	StrongCertificate *bool
	Opus             *bool
}

// UserStats_Stats is one direction's good/late/lost/resync counters.
type UserStats_Stats struct {
	Good   *uint32
	Late   *uint32
	Lost   *uint32
	Resync *uint32
}

// RequestBlob asks for large comment/texture/description payloads by
// the session/channel ids that reference them (§3, §7).
type RequestBlob struct {
	SessionTexture     []uint32
	SessionComment     []uint32
	ChannelDescription []uint32
}

// ServerConfig announces server-wide limits after ServerSync (§4.2
// step 8h).
type ServerConfig struct {
	MaxBandwidth       *uint32
	WelcomeText        *string
	AllowHtml          *bool
	MessageLength      *uint32
	ImageMessageLength *uint32
	MaxUsers           *uint32
}

// SuggestConfig is an optional client-side UX hint (§4.2 step 8i).
type SuggestConfig struct {
	Version      *uint32
	Positional   *bool
	PushToTalk   *bool
}

// PingUDP is the protobuf-encapsulated UDP ping body, used when both
// ends negotiated protobuf voice framing.
type PingUDP struct {
	Timestamp                  uint64
	RequestExtendedInformation bool
	ServerVersionV2            uint64
	UdpPacketsSent             uint32
	UdpPacketsReceived         uint32
	TcpPingAvg                 float32
	TcpPingVar                 float32
	UdpPingAvg                 float32
	UdpPingVar                 float32
}

func (p *PingUDP) GetTimestamp() uint64 { return p.Timestamp }

// AudioUDP is the protobuf-encapsulated voice body.
type AudioUDP struct {
	Target        uint32
	SenderSession uint32
	FrameNumber   uint64
	OpusData      []byte
	PositionalData []float32
	VolumeAdjustment float32
	IsTerminator  bool
}

func (a *AudioUDP) GetTarget() uint32 { return a.Target }

// MessageType resolves the wire type number for a decoded message
// value, mirroring the teacher's dispatch table in cmd/grumble.
func MessageType(msg interface{}) uint16 {
	switch msg.(type) {
	case []byte:
		return MessageUDPTunnel
	case *Version:
		return MessageVersion
	case *Authenticate:
		return MessageAuthenticate
	case *Ping:
		return MessagePing
	case *Reject:
		return MessageReject
	case *ServerSync:
		return MessageServerSync
	case *ChannelRemove:
		return MessageChannelRemove
	case *ChannelState:
		return MessageChannelState
	case *UserRemove:
		return MessageUserRemove
	case *UserState:
		return MessageUserState
	case *BanList:
		return MessageBanList
	case *TextMessage:
		return MessageTextMessage
	case *PermissionDenied:
		return MessagePermissionDenied
	case *ACL:
		return MessageACL
	case *QueryUsers:
		return MessageQueryUsers
	case *CryptSetup:
		return MessageCryptSetup
	case *ContextActionModify:
		return MessageContextActionModify
	case *ContextAction:
		return MessageContextAction
	case *UserList:
		return MessageUserList
	case *VoiceTarget:
		return MessageVoiceTarget
	case *PermissionQuery:
		return MessagePermissionQuery
	case *CodecVersion:
		return MessageCodecVersion
	case *UserStats:
		return MessageUserStats
	case *RequestBlob:
		return MessageRequestBlob
	case *ServerConfig:
		return MessageServerConfig
	case *SuggestConfig:
		return MessageSuggestConfig
	default:
		panic("mumbleproto: unknown message type")
	}
}

package edge

import (
	"context"

	"github.com/grumble-cluster/grumble/pkg/clusterproto"
	"github.com/grumble-cluster/grumble/pkg/cryptstate"
	"github.com/grumble-cluster/grumble/pkg/mumbleproto"
)

// HubAuthenticator is the subset of the cluster channel AuthFlow
// needs: forward an authentication attempt to the hub and allocate a
// session id (§4.2 steps 3, 7).
type HubAuthenticator interface {
	AllocateSessionID(ctx context.Context) (uint32, error)
	Authenticate(ctx context.Context, name, password, certHash string) (userID int32, registered bool, lastChannelID *uint32, err error)
}

// PreConnectUserState buffers the self-mute/self-deaf/plugin fields a
// client may send before authentication completes; accepted but not
// applied until authentication succeeds, then merged — dropped on
// failure (§9, §4.2 step 8e).
type PreConnectUserState struct {
	SelfMute       *bool
	SelfDeaf       *bool
	PluginContext  []byte
	PluginIdentity *string
	Comment        *string
}

// AuthFlow drives one client through §4.2's admission sequence.
type AuthFlow struct {
	hub    HubAuthenticator
	mirror *Mirror
}

// NewAuthFlow builds an AuthFlow backed by hub and mirror.
func NewAuthFlow(hub HubAuthenticator, mirror *Mirror) *AuthFlow {
	return &AuthFlow{hub: hub, mirror: mirror}
}

// ServerWelcome is everything AuthFlow needs to build the
// post-authentication message sequence (§4.2 step 8).
type ServerWelcome struct {
	MaxBandwidth   uint32
	WelcomeText    string
	RootPermission uint32
	AllowHTML      bool
	MessageLength  uint32
	ImageLength    uint32
	MaxUsers       uint32
	SuggestVersion uint32
	DefaultChannelID uint32
}

// Admit runs §4.2 steps 3–9 for one client that has already passed
// the ban check and sent Authenticate. pending is whatever
// PreConnectUserState the client sent before this point; current is
// every other session the edge currently knows about, to send as the
// pre-sync user list (step 8d).
func (a *AuthFlow) Admit(ctx context.Context, c *Client, name, password, certHash string, pending *PreConnectUserState, current []clusterproto.SessionSnapshot, welcome ServerWelcome) error {
	session, err := a.hub.AllocateSessionID(ctx)
	if err != nil {
		return a.reject(c, mumbleproto.Reject_ServerFull, "Server must be connected to Hub")
	}

	userID, registered, lastChannelID, err := a.hub.Authenticate(ctx, name, password, certHash)
	if err != nil {
		return a.reject(c, mumbleproto.Reject_WrongUserPW, err.Error())
	}

	c.Session = session
	c.Username = name
	c.CertHash = certHash
	c.UserID = userID
	c.Registered = registered
	c.state = StateClientAuthenticated

	// 8a: crypt setup.
	cs, err := cryptstate.New()
	if err != nil {
		return err
	}
	c.Crypt = cs
	if err := c.SendMessage(&mumbleproto.CryptSetup{
		Key:          cs.Key[:],
		ClientNonce:  cs.DecryptIV[:],
		ServerNonce:  cs.EncryptIV[:],
	}); err != nil {
		return err
	}

	// 8b: codec version negotiation (Opus-only in this cluster;
	// legacy CELT/Speex clients still get a valid CodecVersion with
	// opus advertised per §6 codec list).
	alpha := int32(-2147483632)
	beta := int32(0)
	prefer := true
	opus := true
	if err := c.SendMessage(&mumbleproto.CodecVersion{
		Alpha:  &alpha,
		Beta:   &beta,
		Prefer: &prefer,
		Opus:   &opus,
	}); err != nil {
		return err
	}

	// 8c: two-pass channel tree (§4.5).
	if err := a.sendChannelTree(c); err != nil {
		return err
	}

	// 8d: current user list, every other known session; the client's
	// own UserState follows at 8f.
	for _, s := range current {
		channelID := s.ChannelID
		if err := c.SendMessage(&mumbleproto.UserState{
			Session:   &s.SessionID,
			Name:      &s.UserName,
			ChannelId: &channelID,
		}); err != nil {
			return err
		}
	}

	// 8e: apply buffered PreConnectUserState.
	selfState := &mumbleproto.UserState{
		Session: &c.Session,
		Name:    &c.Username,
	}
	if pending != nil {
		if pending.SelfMute != nil {
			c.SelfMute = *pending.SelfMute
			selfState.SelfMute = pending.SelfMute
		}
		if pending.SelfDeaf != nil {
			c.SelfDeaf = *pending.SelfDeaf
			selfState.SelfDeaf = pending.SelfDeaf
		}
		if pending.PluginContext != nil {
			selfState.PluginContext = pending.PluginContext
		}
		if pending.PluginIdentity != nil {
			selfState.PluginIdentity = pending.PluginIdentity
		}
		if pending.Comment != nil {
			selfState.Comment = pending.Comment
		}
	}

	// 8f: move to target channel — a registered user's last-known
	// channel when the mirror still has it, the configured default
	// channel otherwise (§4.2 step 8f, §9 decision area).
	target := welcome.DefaultChannelID
	if registered && lastChannelID != nil {
		if _, ok := a.mirror.Channel(*lastChannelID); ok {
			target = *lastChannelID
		}
	}
	c.ChannelID = target
	selfState.ChannelId = &target
	if err := c.SendMessage(selfState); err != nil {
		return err
	}

	// 8g: ServerSync — must follow the client's own UserState and the
	// user list (§4.2 "Step ordering is load-bearing").
	if err := c.SendMessage(&mumbleproto.ServerSync{
		Session:        &c.Session,
		MaxBandwidth:   &welcome.MaxBandwidth,
		WelcomeText:    &welcome.WelcomeText,
		Permissions:    uint64Ptr(uint64(welcome.RootPermission)),
	}); err != nil {
		return err
	}

	// 8h: ServerConfig.
	if err := c.SendMessage(&mumbleproto.ServerConfig{
		AllowHtml:          &welcome.AllowHTML,
		MessageLength:      &welcome.MessageLength,
		ImageMessageLength: &welcome.ImageLength,
		MaxUsers:           &welcome.MaxUsers,
	}); err != nil {
		return err
	}

	// 8i: optional SuggestConfig.
	if welcome.SuggestVersion != 0 {
		v := welcome.SuggestVersion
		if err := c.SendMessage(&mumbleproto.SuggestConfig{Version: &v}); err != nil {
			return err
		}
	}

	c.state = StateClientReady
	if c.clientReady != nil {
		c.clientReady <- true
	}
	return nil
}

// sendChannelTree implements §4.5's two-pass dissemination.
func (a *AuthFlow) sendChannelTree(c *Client) error {
	channels := a.mirror.Channels()

	// Pass 1: every channel, parent omitted/zeroed.
	for _, ch := range channels {
		name := ch.Name
		id := ch.ChannelID
		state := &mumbleproto.ChannelState{ChannelId: &id, Name: &name}
		if ch.ParentID != nil {
			var zero uint32
			state.Parent = &zero
		}
		if ch.Temporary {
			state.Temporary = &ch.Temporary
		}
		state.Position = &ch.Position
		if err := c.SendMessage(state); err != nil {
			return err
		}
	}

	// Pass 2: true parent for every non-root channel.
	for _, ch := range channels {
		if ch.ParentID == nil {
			continue
		}
		id := ch.ChannelID
		parent := *ch.ParentID
		if err := c.SendMessage(&mumbleproto.ChannelState{ChannelId: &id, Parent: &parent}); err != nil {
			return err
		}
	}
	return nil
}

func (a *AuthFlow) reject(c *Client, rejectType mumbleproto.Reject_RejectType, reason string) error {
	rt := rejectType
	r := &mumbleproto.Reject{Type: rt.Enum(), Reason: &reason}
	if err := c.SendMessage(r); err != nil {
		return err
	}
	c.Disconnect()
	return nil
}

func uint64Ptr(v uint64) *uint64 { return &v }

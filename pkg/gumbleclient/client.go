package gumbleclient

import (
	"bufio"
	"crypto/tls"
	"errors"
	"net"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/grumble-cluster/grumble/pkg/mumbleproto"
)

// State is the client's current connection state, mirroring the
// gumble library's Disconnected/Connected/Synced progression.
type State uint32

const (
	StateDisconnected State = iota
	// StateConnected means the TLS handshake completed and the client
	// is waiting for ServerSync; never returned once Dial succeeds.
	StateConnected
	StateSynced
)

// ClientVersion is the protocol version this package's Version packet
// advertises.
const ClientVersion = 1<<16 | 4<<8 | 0

// User is this client's view of one other session, kept in sync from
// UserState/UserRemove/ServerSync traffic.
type User struct {
	Session   uint32
	Name      string
	ChannelID uint32
	Mute      bool
	Deaf      bool
	SelfMute  bool
	SelfDeaf  bool
}

// Channel is this client's view of one channel.
type Channel struct {
	ID          uint32
	ParentID    *uint32
	Name        string
	Description string
}

// Client is a connected session against an edge's control port.
type Client struct {
	Self   *User
	Config *Config

	conn    *tls.Conn
	reader  *bufio.Reader
	writeMu sync.Mutex

	mu       sync.RWMutex
	Users    map[uint32]*User
	Channels map[uint32]*Channel

	// TextMessages receives every TextMessage the server delivers;
	// buffered so readRoutine never blocks on a caller that isn't
	// draining it.
	TextMessages chan *mumbleproto.TextMessage

	state   uint32
	connect chan error
	end     chan struct{}
}

// Dial is DialWithDialer(new(net.Dialer), addr, config, nil).
func Dial(addr string, config *Config) (*Client, error) {
	return DialWithDialer(&net.Dialer{}, addr, config, nil)
}

// DialWithDialer connects to addr, completes the Version/Authenticate
// handshake, and blocks until ServerSync arrives or config.DialTimeout
// elapses.
func DialWithDialer(dialer *net.Dialer, addr string, config *Config, tlsConfig *tls.Config) (*Client, error) {
	conn, err := tls.DialWithDialer(dialer, "tcp", addr, tlsConfig)
	if err != nil {
		return nil, err
	}

	c := &Client{
		Config:       config,
		conn:         conn,
		reader:       bufio.NewReader(conn),
		Users:        make(map[uint32]*User),
		Channels:     make(map[uint32]*Channel),
		TextMessages: make(chan *mumbleproto.TextMessage, 32),
		state:        uint32(StateConnected),
		connect:      make(chan error, 1),
		end:          make(chan struct{}),
	}

	go c.readRoutine()
	go c.pingRoutine()

	release, os, osVersion := "gumbleclient", runtime.GOOS, runtime.GOARCH
	versionU32 := uint32(ClientVersion)
	if config.VersionOverride != nil {
		vo := config.VersionOverride
		if vo.Release != "" {
			release = vo.Release
		}
		if vo.OS != "" {
			os = vo.OS
		}
		if vo.OSVersion != "" {
			osVersion = vo.OSVersion
		}
		if vo.VersionUint32 != nil {
			versionU32 = *vo.VersionUint32
		}
	}
	v := uint64(versionU32)
	if err := c.send(&mumbleproto.Version{VersionV1: &versionU32, VersionV2: &v, Release: &release, Os: &os, OsVersion: &osVersion}); err != nil {
		conn.Close()
		return nil, err
	}
	opus := true
	if err := c.send(&mumbleproto.Authenticate{Username: &config.Username, Password: &config.Password, Tokens: config.Tokens, Opus: &opus}); err != nil {
		conn.Close()
		return nil, err
	}

	timeout := config.DialTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	select {
	case err := <-c.connect:
		if err != nil {
			conn.Close()
			return nil, err
		}
		return c, nil
	case <-time.After(timeout):
		conn.Close()
		return nil, errors.New("gumbleclient: synchronization timeout")
	}
}

// State returns the client's current connection state.
func (c *Client) State() State {
	return State(atomic.LoadUint32(&c.state))
}

func (c *Client) send(msg interface{}) error {
	frame, err := mumbleproto.EncodeFrame(msg)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err = c.conn.Write(frame)
	return err
}

// Move sends a UserState requesting a move to channelID.
func (c *Client) Move(channelID uint32) error {
	if c.Self == nil {
		return errors.New("gumbleclient: not synced")
	}
	session := c.Self.Session
	return c.send(&mumbleproto.UserState{Session: &session, ChannelId: &channelID})
}

// SendTextMessage sends message to the given channel ids.
func (c *Client) SendTextMessage(channelIDs []uint32, message string) error {
	return c.send(&mumbleproto.TextMessage{ChannelId: channelIDs, Message: &message})
}

// Close tears down the connection.
func (c *Client) Close() error {
	select {
	case <-c.end:
	default:
		close(c.end)
	}
	return c.conn.Close()
}

func (c *Client) readRoutine() {
	defer func() {
		atomic.StoreUint32(&c.state, uint32(StateDisconnected))
	}()
	for {
		kind, payload, err := mumbleproto.DecodeFrame(c.reader)
		if err != nil {
			return
		}
		msg, err := mumbleproto.DecodeBody(kind, payload)
		if err != nil {
			continue
		}
		c.handle(msg)
	}
}

func (c *Client) handle(msg interface{}) {
	switch m := msg.(type) {
	case *mumbleproto.Reject:
		reason := ""
		if m.Reason != nil {
			reason = *m.Reason
		}
		select {
		case c.connect <- errors.New("gumbleclient: rejected: " + reason):
		default:
		}
	case *mumbleproto.ServerSync:
		c.mu.Lock()
		session := uint32(0)
		if m.Session != nil {
			session = *m.Session
		}
		if u, ok := c.Users[session]; ok {
			c.Self = u
		} else {
			c.Self = &User{Session: session}
			c.Users[session] = c.Self
		}
		c.mu.Unlock()
		atomic.StoreUint32(&c.state, uint32(StateSynced))
		select {
		case c.connect <- nil:
		default:
		}
	case *mumbleproto.ChannelState:
		c.applyChannelState(m)
	case *mumbleproto.ChannelRemove:
		if m.ChannelId != nil {
			c.mu.Lock()
			delete(c.Channels, *m.ChannelId)
			c.mu.Unlock()
		}
	case *mumbleproto.UserState:
		c.applyUserState(m)
	case *mumbleproto.UserRemove:
		if m.Session != nil {
			c.mu.Lock()
			delete(c.Users, *m.Session)
			c.mu.Unlock()
		}
	case *mumbleproto.TextMessage:
		select {
		case c.TextMessages <- m:
		default:
		}
	case *mumbleproto.Ping:
		// server heartbeat echo; pingRoutine drives our own pings.
	}
}

func (c *Client) applyChannelState(m *mumbleproto.ChannelState) {
	if m.ChannelId == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.Channels[*m.ChannelId]
	if !ok {
		ch = &Channel{ID: *m.ChannelId}
		c.Channels[*m.ChannelId] = ch
	}
	ch.ParentID = m.Parent
	if m.Name != nil {
		ch.Name = *m.Name
	}
	if m.Description != nil {
		ch.Description = *m.Description
	}
}

func (c *Client) applyUserState(m *mumbleproto.UserState) {
	if m.Session == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	u, ok := c.Users[*m.Session]
	if !ok {
		u = &User{Session: *m.Session}
		c.Users[*m.Session] = u
	}
	if m.Name != nil {
		u.Name = *m.Name
	}
	if m.ChannelId != nil {
		u.ChannelID = *m.ChannelId
	}
	if m.Mute != nil {
		u.Mute = *m.Mute
	}
	if m.Deaf != nil {
		u.Deaf = *m.Deaf
	}
	if m.SelfMute != nil {
		u.SelfMute = *m.SelfMute
	}
	if m.SelfDeaf != nil {
		u.SelfDeaf = *m.SelfDeaf
	}
}

func (c *Client) pingRoutine() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	var seq uint64
	for {
		select {
		case <-c.end:
			return
		case <-ticker.C:
			seq++
			ts := seq
			_ = c.send(&mumbleproto.Ping{Timestamp: &ts})
		}
	}
}

package edge

import (
	"bufio"
	"crypto/tls"
	"errors"
	"log"
	"net"
	"sync"
	"time"

	"github.com/grumble-cluster/grumble/pkg/cryptstate"
	"github.com/grumble-cluster/grumble/pkg/mumbleproto"
)

// Client connection states, the same linear handshake teacher's
// Client walks through in cmd/grumble/client.go's tlsRecvLoop, now
// driven by AuthFlow instead of inline server callbacks.
const (
	StateClientConnected = iota
	StateServerSentVersion
	StateClientSentVersion
	StateClientAuthenticated
	StateClientReady
)

// Client is one connected Mumble control session, generalized from
// teacher's *Client: framing and crypto are unchanged in shape, but
// `session` is hub-assigned (allocated through edge.allocateSessionId)
// rather than locally counted, and permission checks go through
// pkg/acl against the edge's Mirror rather than an in-process tree.
type Client struct {
	*log.Logger

	conn   *tls.Conn
	reader *bufio.Reader

	writeMu sync.Mutex

	udpaddr *net.UDPAddr
	udp     bool
	udprecv chan []byte

	state        int
	disconnected bool

	Crypt      *cryptstate.CryptState
	lastResync int64

	Session  uint32
	Username string
	CertHash string
	UserID   int32
	Registered bool

	ChannelID uint32
	SelfMute  bool
	SelfDeaf  bool
	Mute      bool
	Deaf      bool
	Suppress  bool

	VoiceTargets      map[uint32]*VoiceTarget
	ListeningChannels map[uint32]bool

	// Promiscuous, once set by the "!promiscuous on" chat command and
	// gated on Register permission, makes VoiceRouter.channelRecipients
	// always include this session and bypasses ClusterFeed's Ninja
	// filtering on userStateBroadcast (§9 decision 3).
	Promiscuous bool

	PreferUDP bool

	clientReady chan bool
}

// Deafened reports whether the client should receive no voice at all
// (§4.6 "Deaf users... are skipped before encryption", §8 property 8).
func (c *Client) Deafened() bool {
	return c.Deaf || c.SelfDeaf
}

// Silenced reports whether the client's own outgoing voice should be
// dropped (§4.6 "Muted senders... have their packets dropped").
func (c *Client) Silenced() bool {
	return c.Mute || c.SelfMute || c.Suppress
}

// VoiceTarget is one of a session's 1..30 whisper-routing slots (§3
// "Voice target").
type VoiceTarget struct {
	Sessions []uint32
	ChannelIDs []uint32
}

// NewClient wraps an accepted TLS connection in the handshake state
// machine, StateClientConnected being the initial state exactly as
// teacher's Client starts.
func NewClient(conn *tls.Conn) *Client {
	return &Client{
		Logger:            log.New(log.Writer(), "", log.LstdFlags),
		conn:              conn,
		reader:            bufio.NewReader(conn),
		udprecv:           make(chan []byte, 32),
		state:             StateClientConnected,
		VoiceTargets:      make(map[uint32]*VoiceTarget),
		ListeningChannels: make(map[uint32]bool),
	}
}

// SetUDPAddr records the client's learned UDP 4-tuple and flips it to
// UDP-preferred (§4.6 step 1 "Record the (ip,port) -> session mapping.
// If the port later changes, rebind.").
func (c *Client) SetUDPAddr(addr *net.UDPAddr) {
	c.udpaddr = addr
	c.udp = true
	c.PreferUDP = true
}

// UDPAddr returns the client's learned UDP address, if any.
func (c *Client) UDPAddr() *net.UDPAddr { return c.udpaddr }

// SameIP reports whether addr shares this client's learned UDP IP,
// used for the same-IP brute-force owner search (§4.6 step 1).
func (c *Client) SameIP(addr *net.UDPAddr) bool {
	return c.udpaddr != nil && c.udpaddr.IP.Equal(addr.IP)
}

// RemoteIP returns the client's TCP peer address, used to check the
// mirrored ban list before authentication (§4.2 step 2).
func (c *Client) RemoteIP() net.IP {
	if tcp, ok := c.conn.RemoteAddr().(*net.TCPAddr); ok {
		return tcp.IP
	}
	return nil
}

// IsVerified reports whether the client's TLS certificate chain
// verified against the configured CA (teacher's IsVerified).
func (c *Client) IsVerified() bool {
	state := c.conn.ConnectionState()
	return len(state.VerifiedChains) > 0
}

// SendMessage serializes msg via the L0 frame codec and writes it in
// one call; writeMu serializes concurrent callers (the connection
// loop and ClusterFeed) so each frame is written whole.
func (c *Client) SendMessage(msg interface{}) error {
	frame, err := mumbleproto.EncodeFrame(msg)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err = c.conn.Write(frame)
	return err
}

// ReadMessage blocks for the next frame on the control connection and
// decodes its body (teacher's readProtoMessage, generalized past the
// single CryptSetup/gob split in pkg/mumbleproto).
func (c *Client) ReadMessage() (kind uint16, msg interface{}, err error) {
	kind, payload, err := mumbleproto.DecodeFrame(c.reader)
	if err != nil {
		return 0, nil, err
	}
	msg, err = mumbleproto.DecodeBody(kind, payload)
	return kind, msg, err
}

// SendUDP sends buf as a UDP voice datagram if the client has an
// established UDP path, or tunnels it over the control TCP connection
// otherwise (teacher's SendUDP).
func (c *Client) SendUDP(buf []byte, sock *net.UDPConn) error {
	if c.udp && c.udpaddr != nil {
		crypted := make([]byte, len(buf)+c.Crypt.Overhead())
		c.Crypt.Encrypt(crypted, buf)
		_, err := sock.WriteToUDP(crypted, c.udpaddr)
		return err
	}
	return c.SendMessage(buf)
}

// ErrDisconnected is returned by operations attempted on an already
// torn-down client.
var ErrDisconnected = errors.New("edge: client already disconnected")

// Disconnect tears the client down exactly once: closes its UDP
// receive channel and underlying connection, matching teacher's
// disconnect(kicked bool) idempotency guard.
func (c *Client) Disconnect() {
	if c.disconnected {
		return
	}
	c.disconnected = true
	close(c.udprecv)
	if c.state == StateClientSentVersion || c.state == StateClientAuthenticated {
		if c.clientReady != nil {
			close(c.clientReady)
		}
	}
	c.conn.Close()
}

// CryptResync requests a fresh CryptSetup from the client once its
// decrypt statistics have gone stale for more than 5s, rate-limited to
// once every 5s (teacher's cryptResync, unchanged timing).
func (c *Client) CryptResync() error {
	goodElapsed := time.Now().Unix() - c.Crypt.LastGoodTime
	if goodElapsed <= 5 {
		return nil
	}
	requestElapsed := time.Now().Unix() - c.lastResync
	if requestElapsed <= 5 {
		return nil
	}
	c.lastResync = time.Now().Unix()
	return c.SendMessage(&mumbleproto.CryptSetup{})
}

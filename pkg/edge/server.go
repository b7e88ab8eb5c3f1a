package edge

import (
	"context"
	"crypto/sha1"
	"crypto/tls"
	"encoding/hex"
	"log"
	"net"
	"time"

	"github.com/grumble-cluster/grumble/pkg/clusterproto"
	"github.com/grumble-cluster/grumble/pkg/mumbleproto"
)

// certHash fingerprints the client's leaf TLS certificate the same way
// Mumble clients advertise their own (a SHA-1 hash of the DER
// encoding), used to look up a previously-registered user without a
// password (§4.2 step 6).
func certHash(conn *tls.Conn) string {
	state := conn.ConnectionState()
	if len(state.PeerCertificates) == 0 {
		return ""
	}
	sum := sha1.Sum(state.PeerCertificates[0].Raw)
	return hex.EncodeToString(sum[:])
}

// ServerConfig is everything an EdgeServer needs beyond the hub
// connection: the welcome message fields AuthFlow.Admit sends and the
// sockets a Listener already bound.
type ServerConfig struct {
	EdgeID  string
	Welcome ServerWelcome
}

// EdgeServer ties one edge's accept loop, per-client state machine,
// cluster connection, and voice routing together — the role teacher's
// cmd/grumble main loop played for a single in-process server, now
// driving connections whose authoritative state lives on the hub.
type EdgeServer struct {
	cfg ServerConfig

	listener *Listener
	cluster  *ClusterClient
	feed     *ClusterFeed

	local  *SessionTable
	mirror *Mirror
	peers  *PeerTable
	ninja  *Ninja

	auth             *AuthFlow
	dispatcher       *Dispatcher
	voice            *VoiceRouter
	clusterVoiceSock *net.UDPConn
}

// NewEdgeServer wires every edge-local component around an already-
// dialed ClusterClient (its ClusterFeed must be the same one passed
// at dial time, so hub notifications land on this server's Mirror).
func NewEdgeServer(cfg ServerConfig, listener *Listener, cluster *ClusterClient, feed *ClusterFeed,
	local *SessionTable, mirror *Mirror, peers *PeerTable, ninja *Ninja,
	legacyVoiceSock, clusterVoiceSock *net.UDPConn) *EdgeServer {
	return &EdgeServer{
		cfg:              cfg,
		listener:         listener,
		cluster:          cluster,
		feed:             feed,
		local:            local,
		mirror:           mirror,
		peers:            peers,
		ninja:            ninja,
		auth:             NewAuthFlow(cluster, mirror),
		dispatcher:       NewDispatcher(cfg.EdgeID, cluster, mirror),
		voice:            NewVoiceRouter(cfg.EdgeID, local, mirror, peers, legacyVoiceSock),
		clusterVoiceSock: clusterVoiceSock,
	}
}

// Run accepts client connections and cluster voice datagrams until ctx
// is cancelled or the listener fails.
func (s *EdgeServer) Run(ctx context.Context) error {
	go s.runClusterVoiceLoop(ctx)
	go s.runCryptResyncLoop(ctx)
	go s.cluster.HeartbeatLoop(ctx, 10*time.Second, func() int { return s.local.Count() })

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
				return err
			}
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *EdgeServer) runClusterVoiceLoop(ctx context.Context) {
	if s.clusterVoiceSock == nil {
		return
	}
	buf := make([]byte, 4096)
	for {
		if ctx.Err() != nil {
			return
		}
		n, _, err := s.clusterVoiceSock.ReadFromUDP(buf)
		if err != nil {
			continue
		}
		datagram := make([]byte, n)
		copy(datagram, buf[:n])
		if err := s.voice.DeliverFromCluster(datagram); err != nil {
			log.Printf("edge: deliver cluster voice: %v", err)
		}
	}
}

// runCryptResyncLoop periodically asks every ready client whose decrypt
// statistics have gone stale for a fresh CryptSetup (§3 CryptSetup,
// teacher's cryptResync loop timing).
func (s *EdgeServer) runCryptResyncLoop(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, c := range s.local.All() {
				if c.state == StateClientReady && c.Crypt != nil {
					_ = c.CryptResync()
				}
			}
		}
	}
}

// handleConn drives one client through connect, authentication, and
// its steady-state control/voice loop (§4.2, §4.3, §4.6). One
// goroutine per connection, matching teacher's per-client structure.
func (s *EdgeServer) handleConn(ctx context.Context, conn *tls.Conn) {
	c := NewClient(conn)
	defer s.teardown(ctx, c)

	c.CertHash = certHash(conn)
	if banned, reason := s.mirror.Banned(c.RemoteIP(), c.CertHash); banned {
		r := mumbleproto.Reject_Banned
		if reason == "" {
			reason = "Banned"
		}
		_ = c.SendMessage(&mumbleproto.Reject{Type: r.Enum(), Reason: &reason})
		c.Disconnect()
		return
	}

	var pending PreConnectUserState
	var name, password string
	authenticated := false

	for !authenticated {
		_, msg, err := c.ReadMessage()
		if err != nil {
			return
		}
		switch m := msg.(type) {
		case *mumbleproto.Version:
			c.state = StateClientSentVersion
		case *mumbleproto.Authenticate:
			if m.Username != nil {
				name = *m.Username
			}
			if m.Password != nil {
				password = *m.Password
			}
			authenticated = true
		case *mumbleproto.UserState:
			if m.SelfMute != nil {
				pending.SelfMute = m.SelfMute
			}
			if m.SelfDeaf != nil {
				pending.SelfDeaf = m.SelfDeaf
			}
			if m.PluginContext != nil {
				pending.PluginContext = m.PluginContext
			}
			if m.PluginIdentity != nil {
				pending.PluginIdentity = m.PluginIdentity
			}
			if m.Comment != nil {
				pending.Comment = m.Comment
			}
		}
	}

	if err := s.auth.Admit(ctx, c, name, password, c.CertHash, &pending, s.mirror.Sessions(), s.cfg.Welcome); err != nil {
		log.Printf("edge: admit %s: %v", name, err)
		return
	}

	s.local.Add(c)
	_ = s.cluster.ReportSession(ctx, clusterproto.SessionSnapshot{
		SessionID: c.Session, UserName: c.Username, ChannelID: c.ChannelID, EdgeID: s.cfg.EdgeID,
		Registered: c.Registered, UserID: c.UserID, CertHash: c.CertHash, Address: []byte(c.RemoteIP()),
	})

	s.controlLoop(ctx, c)
}

// controlLoop handles the §4.3 exceptions locally (Ping is echoed,
// PermissionQuery is answered from the Mirror, UserStats is dropped
// without a reply) and routes everything else through Dispatcher or
// VoiceRouter.
func (s *EdgeServer) controlLoop(ctx context.Context, c *Client) {
	for {
		_, msg, err := c.ReadMessage()
		if err != nil {
			return
		}
		switch m := msg.(type) {
		case []byte:
			_ = s.voice.HandleTunnel(c, m)
		case *mumbleproto.Ping:
			ts := m.Timestamp
			if err := c.SendMessage(&mumbleproto.Ping{Timestamp: ts}); err != nil {
				return
			}
		case *mumbleproto.PermissionQuery:
			if m.ChannelId == nil {
				continue
			}
			perm := uint32(s.mirror.Evaluate(*m.ChannelId, c.UserID, c.Registered))
			if err := c.SendMessage(&mumbleproto.PermissionQuery{ChannelId: m.ChannelId, Permissions: &perm}); err != nil {
				return
			}
		case *mumbleproto.UserStats:
			continue
		default:
			if err := s.dispatcher.Dispatch(ctx, c, msg); err != nil {
				return
			}
		}
	}
}

func (s *EdgeServer) teardown(ctx context.Context, c *Client) {
	c.Disconnect()
	if c.Session == 0 {
		return
	}
	s.local.Remove(c.Session)
	s.ninja.Forget(c.Session)
	_ = s.cluster.ForwardUserRemove(ctx, clusterproto.UserRemoveParams{
		EdgeID: s.cfg.EdgeID, Session: c.Session, Actor: c.Session, Reason: "disconnected",
	})
}

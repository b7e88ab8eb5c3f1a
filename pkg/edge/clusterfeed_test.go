package edge

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/grumble-cluster/grumble/pkg/acl"
	"github.com/grumble-cluster/grumble/pkg/clusterproto"
	"github.com/grumble-cluster/grumble/pkg/mumbleproto"
)

// tlsClientPair returns a connected (server, client) *tls.Conn pair
// backed by a throwaway self-signed cert, for tests that exercise
// Client.SendMessage's real framing path rather than stubbing it out.
func tlsClientPair(t *testing.T) (server, client *tls.Conn) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create cert: %v", err)
	}
	cert := tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}

	ln, err := tls.Listen("tcp", "127.0.0.1:0", &tls.Config{Certificates: []tls.Certificate{cert}})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	type accepted struct {
		conn *tls.Conn
		err  error
	}
	acceptCh := make(chan accepted, 1)
	go func() {
		c, err := ln.Accept()
		acceptCh <- accepted{c.(*tls.Conn), err}
	}()

	client, err = tls.Dial("tcp", ln.Addr().String(), &tls.Config{InsecureSkipVerify: true})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	res := <-acceptCh
	if res.err != nil {
		t.Fatalf("accept: %v", res.err)
	}
	return res.conn, client
}

// drainFrame reads and discards one framed message, unblocking the
// server side so Client.SendMessage on a full-duplex pipe never stalls.
func drainFrame(t *testing.T, conn net.Conn) interface{} {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	kind, body, err := mumbleproto.DecodeFrame(conn)
	if err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	msg, err := mumbleproto.DecodeBody(kind, body)
	if err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return msg
}

func notify(t *testing.T, method clusterproto.Method, params interface{}) *clusterproto.Envelope {
	t.Helper()
	env, err := clusterproto.NewNotify(method, params)
	if err != nil {
		t.Fatalf("build notify: %v", err)
	}
	return env
}

func newTestFeed() (*ClusterFeed, *Mirror, *PeerTable) {
	local := NewSessionTable()
	mirror := NewMirror()
	peers := NewPeerTable()
	ninja := NewNinja(true, mirror)
	return NewClusterFeed("edge-1", local, mirror, peers, ninja), mirror, peers
}

func TestHandleUserJoinedUpdatesMirror(t *testing.T) {
	feed, mirror, _ := newTestFeed()
	env := notify(t, clusterproto.MethodHubUserJoined, clusterproto.UserJoinedNotify{
		Session: clusterproto.SessionSnapshot{SessionID: 5, UserName: "alice", ChannelID: 0, EdgeID: "edge-2"},
	})

	if err := feed.Handle(env); err != nil {
		t.Fatalf("handle: %v", err)
	}
	s, ok := mirror.Session(5)
	if !ok || s.UserName != "alice" {
		t.Fatalf("expected session 5 mirrored, got %+v ok=%v", s, ok)
	}
}

func TestHandleUserLeftRemovesSessionAndForgetsNinja(t *testing.T) {
	feed, mirror, _ := newTestFeed()
	mirror.UpsertSession(clusterproto.SessionSnapshot{SessionID: 5, UserName: "alice"})
	feed.ninja.FilterMove(&Client{Session: 1}, 5, "alice", 10)

	env := notify(t, clusterproto.MethodHubUserLeft, clusterproto.UserLeftNotify{Session: 5})
	if err := feed.Handle(env); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if _, ok := mirror.Session(5); ok {
		t.Fatal("expected session removed from mirror")
	}
}

func TestHandleChannelStateBroadcastUpdatesMirror(t *testing.T) {
	feed, mirror, _ := newTestFeed()
	env := notify(t, clusterproto.MethodHubChannelStateBroadcast, clusterproto.ChannelStateBroadcastNotify{
		Channel: clusterproto.ChannelSnapshot{ChannelID: 3, Name: "general"},
	})
	if err := feed.Handle(env); err != nil {
		t.Fatalf("handle: %v", err)
	}
	ch, ok := mirror.Channel(3)
	if !ok || ch.Name != "general" {
		t.Fatalf("expected channel 3 mirrored, got %+v ok=%v", ch, ok)
	}
}

func TestHandleChannelRemoveBroadcastClearsMirror(t *testing.T) {
	feed, mirror, _ := newTestFeed()
	mirror.UpsertChannel(clusterproto.ChannelSnapshot{ChannelID: 3, Name: "general"})

	env := notify(t, clusterproto.MethodHubChannelRemoveBroadcast, clusterproto.ChannelRemoveBroadcastNotify{ChannelID: 3})
	if err := feed.Handle(env); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if _, ok := mirror.Channel(3); ok {
		t.Fatal("expected channel 3 removed from mirror")
	}
}

func TestHandlePeerJoinedAndLeft(t *testing.T) {
	feed, _, peers := newTestFeed()

	joined := notify(t, clusterproto.MethodEdgePeerJoined, clusterproto.PeerJoinedNotify{
		EdgeID: "edge-2", VoiceAddr: "127.0.0.1:60001",
	})
	if err := feed.Handle(joined); err != nil {
		t.Fatalf("handle peerJoined: %v", err)
	}
	found := false
	for _, p := range peers.All() {
		if p.EdgeID == "edge-2" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected edge-2 registered as peer")
	}

	left := notify(t, clusterproto.MethodEdgePeerLeft, clusterproto.PeerLeftNotify{EdgeID: "edge-2"})
	if err := feed.Handle(left); err != nil {
		t.Fatalf("handle peerLeft: %v", err)
	}
	for _, p := range peers.All() {
		if p.EdgeID == "edge-2" {
			t.Fatal("expected edge-2 removed after peerLeft")
		}
	}
}

func TestHandleACLUpdatedAppliesEntries(t *testing.T) {
	feed, mirror, _ := newTestFeed()
	env := notify(t, clusterproto.MethodEdgeACLUpdated, clusterproto.ACLUpdatedNotify{
		ChannelID: 3,
		Entries:   []clusterproto.ACLEntrySnapshot{{ApplyHere: true, Allow: 1}},
	})
	if err := feed.Handle(env); err != nil {
		t.Fatalf("handle: %v", err)
	}
	c := &mirrorChannel{id: 3, mirror: mirror}
	entries := c.Entries()
	if len(entries) != 1 || entries[0].Allow != 1 {
		t.Fatalf("expected ACL applied, got %+v", entries)
	}
}

func TestHandleACLUpdatedRefreshesSuppressBit(t *testing.T) {
	feed, mirror, _ := newTestFeed()

	mirror.UpsertChannel(clusterproto.ChannelSnapshot{ChannelID: 0, Name: "Root"})

	server, client := tlsClientPair(t)
	defer server.Close()
	defer client.Close()

	c := NewClient(server)
	c.Session = 5
	c.UserID = -1 // unregistered: ACL below denies Speak to everyone
	c.Registered = false
	c.ChannelID = 0
	c.SelfMute = false
	c.Suppress = false
	c.state = StateClientReady
	feed.local.Add(c)

	env := notify(t, clusterproto.MethodEdgeACLUpdated, clusterproto.ACLUpdatedNotify{
		ChannelID: 0,
		Entries:   []clusterproto.ACLEntrySnapshot{{ApplyHere: true, ApplySubs: true, Deny: uint32(acl.Speak)}},
	})

	errCh := make(chan error, 1)
	go func() { errCh <- feed.Handle(env) }()

	msg := drainFrame(t, client)
	state, ok := msg.(*mumbleproto.UserState)
	if !ok {
		t.Fatalf("expected UserState, got %T", msg)
	}
	if state.Session == nil || *state.Session != 5 {
		t.Fatalf("unexpected session in UserState: %+v", state)
	}
	if state.Suppress == nil || !*state.Suppress {
		t.Fatalf("expected suppress=true, got %+v", state.Suppress)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("handle: %v", err)
	}
	if !c.Suppress {
		t.Fatal("expected client.Suppress updated to true")
	}
}

func TestUserStateBroadcastAppliesSelfMuteToLocalClient(t *testing.T) {
	feed, mirror, _ := newTestFeed()
	mirror.UpsertSession(clusterproto.SessionSnapshot{SessionID: 7, UserName: "alice", ChannelID: 0})

	server, client := tlsClientPair(t)
	defer server.Close()
	defer client.Close()

	c := NewClient(server)
	c.Session = 7
	c.ChannelID = 0
	c.SelfMute = false
	c.SelfDeaf = false
	c.state = StateClientReady
	feed.local.Add(c)

	selfMute := true
	selfDeaf := true
	env := notify(t, clusterproto.MethodHubUserStateBroadcast, clusterproto.UserStateBroadcastNotify{
		Session: 7, SelfMute: &selfMute, SelfDeaf: &selfDeaf,
	})

	errCh := make(chan error, 1)
	go func() { errCh <- feed.Handle(env) }()

	msg := drainFrame(t, client)
	state, ok := msg.(*mumbleproto.UserState)
	if !ok {
		t.Fatalf("expected UserState, got %T", msg)
	}
	if state.SelfMute == nil || !*state.SelfMute {
		t.Fatalf("expected SelfMute=true relayed in UserState, got %+v", state.SelfMute)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("handle: %v", err)
	}
	if !c.SelfMute || !c.SelfDeaf {
		t.Fatalf("expected local client SelfMute/SelfDeaf updated, got %v/%v", c.SelfMute, c.SelfDeaf)
	}
}

func TestHandleUnknownMethodIsNoop(t *testing.T) {
	feed, _, _ := newTestFeed()
	env := &clusterproto.Envelope{Method: "edge.bogus", Params: json.RawMessage(`{}`)}
	if err := feed.Handle(env); err != nil {
		t.Fatalf("expected nil error for unknown method, got %v", err)
	}
}

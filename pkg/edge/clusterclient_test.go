package edge

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/grumble-cluster/grumble/pkg/clusterproto"
)

// fakeHub accepts one connection and runs handle against it, reading
// request envelopes and letting handle decide what (if anything) to
// write back, including unsolicited notify envelopes.
func fakeHub(t *testing.T, handle func(conn net.Conn, env *clusterproto.Envelope)) (addr string, stop func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			env, err := clusterproto.ReadEnvelope(conn)
			if err != nil {
				return
			}
			handle(conn, env)
		}
	}()
	return ln.Addr().String(), func() { ln.Close() }
}

func newTestClusterFeedForClient() *ClusterFeed {
	mirror := NewMirror()
	return NewClusterFeed("edge-1", NewSessionTable(), mirror, NewPeerTable(), NewNinja(false, mirror))
}

func respondResult(t *testing.T, conn net.Conn, id uint64, result interface{}) {
	t.Helper()
	out, err := clusterproto.NewResult(id, result)
	if err != nil {
		t.Fatalf("build result: %v", err)
	}
	if err := clusterproto.WriteEnvelope(conn, out); err != nil {
		t.Fatalf("write result: %v", err)
	}
}

func TestRegisterSendsRequestAndParsesResult(t *testing.T) {
	var gotMethod clusterproto.Method
	var gotParams clusterproto.RegisterParams
	addr, stop := fakeHub(t, func(conn net.Conn, env *clusterproto.Envelope) {
		gotMethod = env.Method
		if err := json.Unmarshal(env.Params, &gotParams); err != nil {
			t.Fatalf("unmarshal params: %v", err)
		}
		respondResult(t, conn, *env.ID, clusterproto.RegisterResult{Accepted: true})
	})
	defer stop()

	c, err := DialCluster(addr, "edge-1", newTestClusterFeedForClient())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Register(ctx, 1, "127.0.0.1:1234", "127.0.0.1:1235", "tok"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if gotMethod != clusterproto.MethodEdgeRegister {
		t.Fatalf("expected edge.register, got %s", gotMethod)
	}
	if gotParams.EdgeID != "edge-1" || gotParams.JoinToken != "tok" {
		t.Fatalf("unexpected params: %+v", gotParams)
	}
}

func TestRegisterRejectedReturnsError(t *testing.T) {
	addr, stop := fakeHub(t, func(conn net.Conn, env *clusterproto.Envelope) {
		respondResult(t, conn, *env.ID, clusterproto.RegisterResult{Accepted: false, Reason: "bad token"})
	})
	defer stop()

	c, err := DialCluster(addr, "edge-1", newTestClusterFeedForClient())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Register(ctx, 1, "a", "b", "tok"); err == nil {
		t.Fatal("expected error for rejected registration")
	}
}

func TestForwardUserStateSendsCorrectMethodAndPayload(t *testing.T) {
	var gotMethod clusterproto.Method
	var gotParams clusterproto.UserStateParams
	addr, stop := fakeHub(t, func(conn net.Conn, env *clusterproto.Envelope) {
		gotMethod = env.Method
		_ = json.Unmarshal(env.Params, &gotParams)
		respondResult(t, conn, *env.ID, clusterproto.HandleAck{OK: true})
	})
	defer stop()

	c, err := DialCluster(addr, "edge-1", newTestClusterFeedForClient())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	name := "alice"
	if err := c.ForwardUserState(ctx, clusterproto.UserStateParams{EdgeID: "edge-1", Session: 7, Name: &name}); err != nil {
		t.Fatalf("forward: %v", err)
	}
	if gotMethod != clusterproto.MethodHubHandleUserState {
		t.Fatalf("expected hub.handleUserState, got %s", gotMethod)
	}
	if gotParams.Session != 7 || gotParams.Name == nil || *gotParams.Name != "alice" {
		t.Fatalf("unexpected params: %+v", gotParams)
	}
}

func TestAuthenticateRoundTrips(t *testing.T) {
	addr, stop := fakeHub(t, func(conn net.Conn, env *clusterproto.Envelope) {
		respondResult(t, conn, *env.ID, clusterproto.AuthenticateResult{UserID: 42, Registered: true})
	})
	defer stop()

	c, err := DialCluster(addr, "edge-1", newTestClusterFeedForClient())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	userID, registered, _, err := c.Authenticate(ctx, "alice", "secret", "")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if userID != 42 || !registered {
		t.Fatalf("unexpected result: %d %v", userID, registered)
	}
}

func TestNotifyEnvelopeRoutedToFeedInsteadOfPending(t *testing.T) {
	addr, stop := fakeHub(t, func(conn net.Conn, env *clusterproto.Envelope) {
		// Answer the heartbeat, then push an unsolicited notify the
		// same way the hub would between handling requests.
		respondResult(t, conn, *env.ID, clusterproto.HeartbeatResult{OK: true})
		notify, err := clusterproto.NewNotify(clusterproto.MethodEdgePeerLeft, clusterproto.PeerLeftNotify{EdgeID: "edge-2"})
		if err != nil {
			t.Fatalf("build notify: %v", err)
		}
		if err := clusterproto.WriteEnvelope(conn, notify); err != nil {
			t.Fatalf("write notify: %v", err)
		}
	})
	defer stop()

	feed := newTestClusterFeedForClient()
	feed.peers.Upsert(Peer{EdgeID: "edge-2", VoiceAddr: &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 9999}})

	c, err := DialCluster(addr, "edge-1", feed)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Heartbeat(ctx, 3); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		found := false
		for _, p := range feed.peers.All() {
			if p.EdgeID == "edge-2" {
				found = true
			}
		}
		if !found {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected peerLeft notify to remove edge-2 from peer table")
}

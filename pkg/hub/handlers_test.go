package hub

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/grumble-cluster/grumble/pkg/clusterproto"
)

type fakeSender struct {
	mu  sync.Mutex
	out map[string][]*clusterproto.Envelope
	fail map[string]bool
}

func newFakeSender() *fakeSender {
	return &fakeSender{out: make(map[string][]*clusterproto.Envelope), fail: make(map[string]bool)}
}

func (f *fakeSender) Send(edgeID string, env *clusterproto.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[edgeID] {
		return errSendFailed
	}
	f.out[edgeID] = append(f.out[edgeID], env)
	return nil
}

var errSendFailed = &sendError{}

type sendError struct{}

func (*sendError) Error() string { return "send failed" }

func TestHandleChannelStateBroadcastsToOtherEdges(t *testing.T) {
	store := newTestStore(t)
	registry := NewRegistry()
	registry.Add(EdgeInfo{EdgeID: "origin"})
	registry.Add(EdgeInfo{EdgeID: "other"})
	cache := NewMessageCache()
	sender := newFakeSender()
	h := NewHandlers(store, registry, NewSessionRegistry(), cache, sender, nil)

	_, err := h.HandleChannelState(clusterproto.ChannelStateParams{
		EdgeID:  "origin",
		Channel: clusterproto.ChannelSnapshot{ChannelID: 1, Name: "Lobby"},
	})
	if err != nil {
		t.Fatal(err)
	}

	if len(sender.out["origin"]) != 0 {
		t.Fatal("origin edge should not receive its own broadcast")
	}
	if len(sender.out["other"]) != 1 {
		t.Fatalf("other edge should receive exactly one broadcast, got %d", len(sender.out["other"]))
	}
}

func TestHandleUserStateForwardsSelfMuteSelfDeaf(t *testing.T) {
	store := newTestStore(t)
	registry := NewRegistry()
	registry.Add(EdgeInfo{EdgeID: "origin"})
	registry.Add(EdgeInfo{EdgeID: "other"})
	cache := NewMessageCache()
	sender := newFakeSender()
	h := NewHandlers(store, registry, NewSessionRegistry(), cache, sender, nil)

	selfMute := true
	selfDeaf := false
	if err := h.HandleUserState(clusterproto.UserStateParams{
		EdgeID: "origin", Session: 7, SelfMute: &selfMute, SelfDeaf: &selfDeaf,
	}); err != nil {
		t.Fatal(err)
	}

	if len(sender.out["other"]) != 1 {
		t.Fatalf("expected one broadcast to the other edge, got %d", len(sender.out["other"]))
	}
	var notify clusterproto.UserStateBroadcastNotify
	if err := json.Unmarshal(sender.out["other"][0].Params, &notify); err != nil {
		t.Fatal(err)
	}
	if notify.SelfMute == nil || *notify.SelfMute != true {
		t.Fatalf("expected SelfMute=true in broadcast, got %v", notify.SelfMute)
	}
	if notify.SelfDeaf == nil || *notify.SelfDeaf != false {
		t.Fatalf("expected SelfDeaf=false in broadcast, got %v", notify.SelfDeaf)
	}
}

func TestBroadcastFallsBackToCacheOnSendFailure(t *testing.T) {
	store := newTestStore(t)
	registry := NewRegistry()
	registry.Add(EdgeInfo{EdgeID: "down"})
	cache := NewMessageCache()
	sender := newFakeSender()
	sender.fail["down"] = true
	h := NewHandlers(store, registry, NewSessionRegistry(), cache, sender, nil)

	if err := h.HandleTextMessage(clusterproto.TextMessageParams{EdgeID: "origin", Message: "hi"}); err != nil {
		t.Fatal(err)
	}

	drained := cache.Drain("down")
	if len(drained) != 1 {
		t.Fatalf("expected the broadcast to be cached for the down edge, got %d entries", len(drained))
	}
}

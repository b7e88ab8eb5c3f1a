package gumbleclient

import (
	"testing"

	"github.com/grumble-cluster/grumble/pkg/mumbleproto"
)

func TestApplyUserStateCreatesAndUpdatesUser(t *testing.T) {
	c := &Client{Users: make(map[uint32]*User), Channels: make(map[uint32]*Channel)}
	session := uint32(9)
	name := "alice"
	channel := uint32(3)
	c.applyUserState(&mumbleproto.UserState{Session: &session, Name: &name, ChannelId: &channel})

	u, ok := c.Users[9]
	if !ok {
		t.Fatal("expected user 9 created")
	}
	if u.Name != "alice" || u.ChannelID != 3 {
		t.Fatalf("unexpected user state: %+v", u)
	}

	mute := true
	c.applyUserState(&mumbleproto.UserState{Session: &session, Mute: &mute})
	if !c.Users[9].Mute {
		t.Fatal("expected mute applied to existing user")
	}
	if c.Users[9].Name != "alice" {
		t.Fatal("expected name preserved across partial update")
	}
}

func TestApplyChannelStateCreatesAndUpdatesChannel(t *testing.T) {
	c := &Client{Users: make(map[uint32]*User), Channels: make(map[uint32]*Channel)}
	id := uint32(5)
	name := "general"
	c.applyChannelState(&mumbleproto.ChannelState{ChannelId: &id, Name: &name})

	ch, ok := c.Channels[5]
	if !ok || ch.Name != "general" {
		t.Fatalf("expected channel 5 mirrored, got %+v ok=%v", ch, ok)
	}
}

func TestHandleUserRemoveDeletesUser(t *testing.T) {
	c := &Client{Users: map[uint32]*User{9: {Session: 9}}, Channels: make(map[uint32]*Channel)}
	session := uint32(9)
	c.handle(&mumbleproto.UserRemove{Session: &session})
	if _, ok := c.Users[9]; ok {
		t.Fatal("expected user 9 removed")
	}
}

func TestHandleServerSyncMarksSyncedAndSetsSelf(t *testing.T) {
	c := &Client{
		Users:    make(map[uint32]*User),
		Channels: make(map[uint32]*Channel),
		connect:  make(chan error, 1),
	}
	session := uint32(4)
	c.handle(&mumbleproto.ServerSync{Session: &session})

	if c.State() != StateSynced {
		t.Fatalf("expected StateSynced, got %v", c.State())
	}
	if c.Self == nil || c.Self.Session != 4 {
		t.Fatalf("expected self session 4, got %+v", c.Self)
	}
	select {
	case err := <-c.connect:
		if err != nil {
			t.Fatalf("expected nil error on connect channel, got %v", err)
		}
	default:
		t.Fatal("expected a value on connect channel")
	}
}

func TestHandleRejectSignalsConnectError(t *testing.T) {
	c := &Client{
		Users:    make(map[uint32]*User),
		Channels: make(map[uint32]*Channel),
		connect:  make(chan error, 1),
	}
	reason := "wrong password"
	c.handle(&mumbleproto.Reject{Reason: &reason})

	select {
	case err := <-c.connect:
		if err == nil {
			t.Fatal("expected non-nil error")
		}
	default:
		t.Fatal("expected a value on connect channel")
	}
}

func TestTextMessageDeliveredNonBlocking(t *testing.T) {
	c := &Client{
		Users:        make(map[uint32]*User),
		Channels:     make(map[uint32]*Channel),
		TextMessages: make(chan *mumbleproto.TextMessage, 1),
	}
	msg := "hi"
	c.handle(&mumbleproto.TextMessage{Message: &msg})
	select {
	case got := <-c.TextMessages:
		if *got.Message != "hi" {
			t.Fatalf("unexpected message %q", *got.Message)
		}
	default:
		t.Fatal("expected message delivered to TextMessages channel")
	}
}

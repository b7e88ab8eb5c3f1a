package edge

import (
	"testing"

	"github.com/grumble-cluster/grumble/pkg/clusterproto"
)

func newTestRouter() (*VoiceRouter, *SessionTable, *Mirror) {
	local := NewSessionTable()
	mirror := NewMirror()
	peers := NewPeerTable()
	return NewVoiceRouter("edge-1", local, mirror, peers, nil), local, mirror
}

func TestChannelRecipientsIncludesChannelAndLinkedMembersNotSender(t *testing.T) {
	router, _, mirror := newTestRouter()
	sender := &Client{Session: 1, ChannelID: 10}

	mirror.UpsertSession(clusterproto.SessionSnapshot{SessionID: 1, ChannelID: 10, EdgeID: "edge-1"})
	mirror.UpsertSession(clusterproto.SessionSnapshot{SessionID: 2, ChannelID: 10, EdgeID: "edge-1"})
	mirror.UpsertSession(clusterproto.SessionSnapshot{SessionID: 3, ChannelID: 20, EdgeID: "edge-2"})
	mirror.SetLinks(10, []uint32{20})

	got := router.channelRecipients(sender)

	want := map[uint32]bool{2: true, 3: true}
	if len(got) != len(want) {
		t.Fatalf("recipients = %v, want keys of %v", got, want)
	}
	for _, s := range got {
		if !want[s] {
			t.Fatalf("unexpected recipient %d", s)
		}
		if s == sender.Session {
			t.Fatal("sender must not receive its own packet")
		}
	}
}

func TestWhisperRecipientsResolvesSessionsAndChannelWildcards(t *testing.T) {
	router, _, mirror := newTestRouter()
	sender := &Client{
		Session: 1,
		VoiceTargets: map[uint32]*VoiceTarget{
			5: {Sessions: []uint32{2}, ChannelIDs: []uint32{30}},
		},
	}

	mirror.UpsertSession(clusterproto.SessionSnapshot{SessionID: 2, ChannelID: 10, EdgeID: "edge-1"})
	mirror.UpsertSession(clusterproto.SessionSnapshot{SessionID: 4, ChannelID: 30, EdgeID: "edge-2"})

	got := router.whisperRecipients(sender, 5)

	want := map[uint32]bool{2: true, 4: true}
	if len(got) != len(want) {
		t.Fatalf("recipients = %v, want keys of %v", got, want)
	}
	for _, s := range got {
		if !want[s] {
			t.Fatalf("unexpected recipient %d", s)
		}
	}
}

func TestWhisperRecipientsUnknownTargetIsEmpty(t *testing.T) {
	router, _, _ := newTestRouter()
	sender := &Client{Session: 1, VoiceTargets: map[uint32]*VoiceTarget{}}
	if got := router.whisperRecipients(sender, 9); got != nil {
		t.Fatalf("expected nil recipients for unregistered target, got %v", got)
	}
}

func TestDeafenedClientNeverReceivesVoice(t *testing.T) {
	c := &Client{SelfDeaf: true}
	if !c.Deafened() {
		t.Fatal("self_deaf client should be considered deafened")
	}
}

func TestSilencedCoversAllMuteSources(t *testing.T) {
	cases := []*Client{
		{Mute: true},
		{SelfMute: true},
		{Suppress: true},
	}
	for _, c := range cases {
		if !c.Silenced() {
			t.Fatalf("expected silenced for %+v", c)
		}
	}
	if (&Client{}).Silenced() {
		t.Fatal("default client should not be silenced")
	}
}

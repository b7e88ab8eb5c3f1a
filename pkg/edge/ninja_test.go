package edge

import (
	"testing"

	"github.com/grumble-cluster/grumble/pkg/acl"
	"github.com/grumble-cluster/grumble/pkg/clusterproto"
	"github.com/grumble-cluster/grumble/pkg/mumbleproto"
)

func closedChannelMirror(t *testing.T) *Mirror {
	t.Helper()
	root := uint32(0)
	mirror := NewMirror()
	mirror.UpsertChannel(clusterproto.ChannelSnapshot{ChannelID: 0, Name: "root"})
	mirror.UpsertChannel(clusterproto.ChannelSnapshot{ChannelID: 10, ParentID: &root, Name: "hidden"})
	mirror.SetACL(10, []clusterproto.ACLEntrySnapshot{
		{ApplyHere: true, ApplySubs: true, Deny: uint32(acl.Enter)},
	})
	return mirror
}

func TestFilterMoveSendsSyntheticRemoveWhenViewerLacksEnter(t *testing.T) {
	mirror := closedChannelMirror(t)
	ninja := NewNinja(true, mirror)
	viewer := &Client{Session: 1}

	got := ninja.FilterMove(viewer, 99, "mover", 10)

	remove, ok := got.(*mumbleproto.UserRemove)
	if !ok {
		t.Fatalf("expected *UserRemove, got %T", got)
	}
	if *remove.Session != 99 {
		t.Fatalf("remove.Session = %d, want 99", *remove.Session)
	}
	if !ninja.Suppressed(1, 99) {
		t.Fatal("subject should be marked hidden from viewer after synthetic remove")
	}
}

func TestFilterMoveRepeatedHideSendsNothing(t *testing.T) {
	mirror := closedChannelMirror(t)
	ninja := NewNinja(true, mirror)
	viewer := &Client{Session: 1}

	ninja.FilterMove(viewer, 99, "mover", 10)
	second := ninja.FilterMove(viewer, 99, "mover", 10)

	if _, ok := second.(noForward); !ok {
		t.Fatalf("expected noForward on repeated hidden move, got %#v", second)
	}
}

func TestFilterMoveRevealSendsFullUserState(t *testing.T) {
	mirror := closedChannelMirror(t)
	root := uint32(0)
	mirror.UpsertChannel(clusterproto.ChannelSnapshot{ChannelID: 20, ParentID: &root, Name: "visible"})
	ninja := NewNinja(true, mirror)
	viewer := &Client{Session: 1}

	ninja.FilterMove(viewer, 99, "mover", 10)
	revealed := ninja.FilterMove(viewer, 99, "mover", 20)

	state, ok := revealed.(*mumbleproto.UserState)
	if !ok {
		t.Fatalf("expected *UserState on reveal, got %T", revealed)
	}
	if *state.Session != 99 || *state.Name != "mover" || *state.ChannelId != 20 {
		t.Fatalf("unexpected revealed state: %+v", state)
	}
	if ninja.Suppressed(1, 99) {
		t.Fatal("subject should no longer be hidden after reveal")
	}
}

func TestFilterMoveVisibleChannelForwardsUnchanged(t *testing.T) {
	mirror := closedChannelMirror(t)
	root := uint32(0)
	mirror.UpsertChannel(clusterproto.ChannelSnapshot{ChannelID: 20, ParentID: &root, Name: "visible"})
	ninja := NewNinja(true, mirror)
	viewer := &Client{Session: 1}

	got := ninja.FilterMove(viewer, 99, "mover", 20)
	if got != nil {
		t.Fatalf("expected nil (forward unchanged), got %#v", got)
	}
}

func TestNinjaDisabledNeverFilters(t *testing.T) {
	mirror := closedChannelMirror(t)
	ninja := NewNinja(false, mirror)
	viewer := &Client{Session: 1}

	if got := ninja.FilterMove(viewer, 99, "mover", 10); got != nil {
		t.Fatalf("disabled ninja should forward unchanged, got %#v", got)
	}
	if ninja.Suppressed(1, 99) {
		t.Fatal("disabled ninja should never report suppression")
	}
}

func TestForgetClearsBothViewerAndSubjectEntries(t *testing.T) {
	mirror := closedChannelMirror(t)
	ninja := NewNinja(true, mirror)
	viewer := &Client{Session: 1}

	ninja.FilterMove(viewer, 99, "mover", 10)
	ninja.Forget(99)
	if ninja.Suppressed(1, 99) {
		t.Fatal("forgetting subject session should clear hidden state")
	}

	ninja.FilterMove(viewer, 88, "mover2", 10)
	ninja.Forget(1)
	if ninja.Suppressed(1, 88) {
		t.Fatal("forgetting viewer session should clear hidden state")
	}
}

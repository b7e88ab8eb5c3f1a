package hub

import (
	"testing"

	"github.com/grumble-cluster/grumble/pkg/acl"
	"github.com/grumble-cluster/grumble/pkg/database"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := database.Open("file::memory:?cache=shared")
	if err != nil {
		t.Fatal(err)
	}
	tx := db.Tx()
	sid, err := tx.CreateServer("test")
	if err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
	return NewStore(db, sid)
}

func TestACLEvalWalksPersistedTree(t *testing.T) {
	store := newTestStore(t)

	if err := store.SaveChannel(database.Channel{ChannelID: 0, Name: "Root", InheritACL: true}); err != nil {
		t.Fatal(err)
	}
	parent := uint32(0)
	if err := store.SaveChannel(database.Channel{ChannelID: 1, ParentID: &parent, Name: "Child", InheritACL: true}); err != nil {
		t.Fatal(err)
	}

	uid := int32(42)
	if err := store.SaveACL(0, []database.ACLEntry{
		{Index: 0, ApplySubs: true, UserID: &uid, Allow: uint32(acl.Speak)},
	}); err != nil {
		t.Fatal(err)
	}
	if err := store.SaveACL(1, []database.ACLEntry{
		{Index: 0, ApplyHere: true, UserID: &uid, Allow: uint32(acl.Enter)},
	}); err != nil {
		t.Fatal(err)
	}

	eval := NewACLEval(store)
	perm, err := eval.Evaluate(1, uid, true, nil)
	if err != nil {
		t.Fatal(err)
	}
	want := acl.Speak | acl.Enter
	if perm != want {
		t.Fatalf("perm = %v, want %v", perm, want)
	}
}

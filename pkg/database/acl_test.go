package database_test

import (
	"testing"

	"github.com/grumble-cluster/grumble/pkg/database"
)

func TestACLWriteReplacesEntries(t *testing.T) {
	db, err := NewTestDB()
	if err != nil {
		t.Fatal(err)
	}
	tx := db.Tx()
	defer tx.Rollback()

	sid, err := NewTestServer(tx)
	if err != nil {
		t.Fatal(err)
	}

	uid := int32(7)
	err = tx.ACLWrite(sid, 0, []database.ACLEntry{
		{ServerID: sid, ChannelID: 0, Index: 0, ApplyHere: true, UserID: &uid, Allow: 8},
	})
	if err != nil {
		t.Fatal(err)
	}
	entries, err := tx.ACLRead(sid, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("len(entries) = %d, want 1", len(entries))
	}

	// A second write fully replaces the first, matching teacher's
	// BanWrite "delete all, insert all" semantics.
	err = tx.ACLWrite(sid, 0, []database.ACLEntry{
		{ServerID: sid, ChannelID: 0, Index: 0, Group: "all", Allow: 1},
		{ServerID: sid, ChannelID: 0, Index: 1, Group: "all", Deny: 2},
	})
	if err != nil {
		t.Fatal(err)
	}
	entries, err = tx.ACLRead(sid, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("len(entries) after replace = %d, want 2", len(entries))
	}
}

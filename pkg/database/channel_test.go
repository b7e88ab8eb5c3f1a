package database_test

import (
	"testing"

	"github.com/grumble-cluster/grumble/pkg/database"
)

func TestChannelSaveAndRead(t *testing.T) {
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

	root := &database.Channel{ServerID: sid, ChannelID: 0, Name: "Root", InheritACL: true}
	if err := tx.ChannelSave(root); err != nil {
		t.Fatal(err)
	}
	parent := uint32(0)
	child := &database.Channel{ServerID: sid, ChannelID: 1, ParentID: &parent, Name: "Child"}
	if err := tx.ChannelSave(child); err != nil {
		t.Fatal(err)
	}

	channels, err := tx.ChannelRead(sid)
	if err != nil {
		t.Fatal(err)
	}
	if len(channels) != 2 {
		t.Fatalf("len(channels) = %d, want 2", len(channels))
	}

	if err := tx.ChannelRemove(sid, 1); err != nil {
		t.Fatal(err)
	}
	channels, err = tx.ChannelRead(sid)
	if err != nil {
		t.Fatal(err)
	}
	if len(channels) != 1 {
		t.Fatalf("after remove, len(channels) = %d, want 1", len(channels))
	}
}

package hub

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestJoinsAreSerialized(t *testing.T) {
	reg := NewRegistry()
	jc := NewJoinCoordinator(reg)
	ctx := context.Background()

	token1, _, err := jc.RequestJoin(ctx, "e1")
	if err != nil {
		t.Fatal(err)
	}

	secondStarted := make(chan struct{})
	secondDone := make(chan struct{})
	go func() {
		close(secondStarted)
		_, _, err := jc.RequestJoin(ctx, "e2")
		if err != nil {
			t.Error(err)
		}
		close(secondDone)
	}()

	<-secondStarted
	select {
	case <-secondDone:
		t.Fatal("second RequestJoin should block while e1 holds the lock")
	case <-time.After(50 * time.Millisecond):
	}

	if err := jc.ConfirmJoin(token1, nil); err != nil {
		t.Fatal(err)
	}

	select {
	case <-secondDone:
	case <-time.After(time.Second):
		t.Fatal("second RequestJoin should have proceeded after e1 confirmed")
	}
}

func TestConfirmJoinRequiresAllPeers(t *testing.T) {
	reg := NewRegistry()
	reg.Add(EdgeInfo{EdgeID: "existing"})
	jc := NewJoinCoordinator(reg)

	token, peers, err := jc.RequestJoin(context.Background(), "newcomer")
	if err != nil {
		t.Fatal(err)
	}
	if len(peers) != 1 {
		t.Fatalf("len(peers) = %d, want 1", len(peers))
	}

	if err := jc.ConfirmJoin(token, nil); err != ErrIncompletePeers {
		t.Fatalf("err = %v, want ErrIncompletePeers", err)
	}
	if err := jc.ConfirmJoin(token, []string{"existing"}); err != nil {
		t.Fatalf("ConfirmJoin with full peer set failed: %v", err)
	}
}

func TestBadTokenRejected(t *testing.T) {
	reg := NewRegistry()
	jc := NewJoinCoordinator(reg)
	if _, _, err := jc.RequestJoin(context.Background(), "e1"); err != nil {
		t.Fatal(err)
	}
	var bogus uuid.UUID
	if err := jc.ConfirmJoin(bogus, nil); err != ErrBadToken {
		t.Fatalf("err = %v, want ErrBadToken", err)
	}
}

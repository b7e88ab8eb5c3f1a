package hub

import (
	"context"
	"testing"

	"github.com/grumble-cluster/grumble/pkg/database"
)

func TestAuthenticateGuestWithNoRegisteredUser(t *testing.T) {
	store := newTestStore(t)
	auth := NewAuth(store, nil)

	uid, registered, err := auth.Authenticate(context.Background(), "NewGuest", "", "")
	if err != nil {
		t.Fatal(err)
	}
	if registered {
		t.Fatal("expected an unregistered guest login")
	}
	if uid != 0 {
		t.Fatalf("uid = %d, want 0 for a guest", uid)
	}
}

func TestAuthenticateRegisteredUserWrongPassword(t *testing.T) {
	store := newTestStore(t)
	_, err := store.RegisterUser(database.User{Name: "Alice", PasswordHash: []byte("secret")})
	if err != nil {
		t.Fatal(err)
	}
	auth := NewAuth(store, nil)

	_, _, err = auth.Authenticate(context.Background(), "Alice", "wrong", "")
	if err != ErrWrongPassword {
		t.Fatalf("err = %v, want ErrWrongPassword", err)
	}
}

func TestAuthenticateRegisteredUserCorrectPassword(t *testing.T) {
	store := newTestStore(t)
	wantID, err := store.RegisterUser(database.User{Name: "Alice", PasswordHash: []byte("secret")})
	if err != nil {
		t.Fatal(err)
	}
	auth := NewAuth(store, nil)

	uid, registered, err := auth.Authenticate(context.Background(), "Alice", "secret", "")
	if err != nil {
		t.Fatal(err)
	}
	if !registered || uid != wantID {
		t.Fatalf("uid = %d registered = %v, want %d true", uid, registered, wantID)
	}
}

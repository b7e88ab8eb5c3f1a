package blobstore

import "testing"

func TestPutGetRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	data := []byte("a texture blob")
	hash, err := store.Put(data)
	if err != nil {
		t.Fatal(err)
	}
	if hash != Hash(data) {
		t.Fatalf("hash = %s, want %s", hash, Hash(data))
	}

	got, err := store.Get(hash)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(data) {
		t.Fatalf("got %q, want %q", got, data)
	}
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	_, err = store.Get("0000000000000000000000000000000000000000")
	if err != ErrNotFound {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

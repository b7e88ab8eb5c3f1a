package cryptstate

import "testing"

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key, encIV, decIV, err := GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	sender, err := FromKeys(key, encIV, decIV)
	if err != nil {
		t.Fatal(err)
	}
	receiver, err := FromKeys(key, decIV, encIV)
	if err != nil {
		t.Fatal(err)
	}

	plaintext := []byte("hello voice packet")
	packet := make([]byte, len(plaintext)+sender.Overhead())
	sender.Encrypt(packet, plaintext)

	out := make([]byte, len(plaintext))
	if !receiver.Decrypt(out, packet) {
		t.Fatal("decrypt failed to verify a freshly encrypted packet")
	}
	if string(out) != string(plaintext) {
		t.Fatalf("decrypted = %q, want %q", out, plaintext)
	}
	if receiver.Good != 1 {
		t.Fatalf("Good = %d, want 1", receiver.Good)
	}
}

func TestDecryptRejectsTampering(t *testing.T) {
	key, encIV, decIV, _ := GenerateKey()
	sender, _ := FromKeys(key, encIV, decIV)
	receiver, _ := FromKeys(key, decIV, encIV)

	plaintext := []byte("abc")
	packet := make([]byte, len(plaintext)+sender.Overhead())
	sender.Encrypt(packet, plaintext)
	packet[len(packet)-1] ^= 0xFF

	out := make([]byte, len(plaintext))
	if receiver.Decrypt(out, packet) {
		t.Fatal("expected tampered packet to fail verification")
	}
}

func TestSequentialPacketsAdvanceGood(t *testing.T) {
	key, encIV, decIV, _ := GenerateKey()
	sender, _ := FromKeys(key, encIV, decIV)
	receiver, _ := FromKeys(key, decIV, encIV)

	for i := 0; i < 5; i++ {
		plaintext := []byte{byte(i)}
		packet := make([]byte, len(plaintext)+sender.Overhead())
		sender.Encrypt(packet, plaintext)
		out := make([]byte, len(plaintext))
		if !receiver.Decrypt(out, packet) {
			t.Fatalf("packet %d failed to verify", i)
		}
	}
	if receiver.Good != 5 {
		t.Fatalf("Good = %d, want 5", receiver.Good)
	}
}

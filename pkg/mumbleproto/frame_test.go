package mumbleproto

import (
	"bytes"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	cases := []interface{}{
		&Version{VersionV1: ptrU32(1<<16 | 4<<8), Release: ptrStr("test")},
		&Authenticate{Username: ptrStr("admin"), Password: ptrStr("admin123")},
		&ChannelState{ChannelId: ptrU32(0), Name: ptrStr("Root")},
		&UserState{Session: ptrU32(7), ChannelId: ptrU32(0), Name: ptrStr("admin")},
		&CryptSetup{Key: []byte("0123456789abcdef"), ClientNonce: []byte("abcdefghijklmnop"), ServerNonce: []byte("ponmlkjihgfedcba")},
		[]byte{0x01, 0x02, 0x03},
	}

	for _, msg := range cases {
		encoded, err := EncodeFrame(msg)
		if err != nil {
			t.Fatalf("encode %T: %v", msg, err)
		}

		kind, payload, err := DecodeFrame(bytes.NewReader(encoded))
		if err != nil {
			t.Fatalf("decode frame %T: %v", msg, err)
		}
		if kind != MessageType(msg) {
			t.Fatalf("kind mismatch for %T: got %d want %d", msg, kind, MessageType(msg))
		}

		decoded, err := DecodeBody(kind, payload)
		if err != nil {
			t.Fatalf("decode body %T: %v", msg, err)
		}

		switch want := msg.(type) {
		case *CryptSetup:
			got := decoded.(*CryptSetup)
			if !bytes.Equal(got.Key, want.Key) || !bytes.Equal(got.ClientNonce, want.ClientNonce) || !bytes.Equal(got.ServerNonce, want.ServerNonce) {
				t.Fatalf("CryptSetup round trip mismatch: got %+v want %+v", got, want)
			}
		case []byte:
			got := decoded.([]byte)
			if !bytes.Equal(got, want) {
				t.Fatalf("UDPTunnel round trip mismatch")
			}
		}
	}
}

func TestEncodeFrameLayout(t *testing.T) {
	encoded, err := EncodeFrame(&Ping{Timestamp: ptrU64(42)})
	if err != nil {
		t.Fatal(err)
	}
	if len(encoded) < 6 {
		t.Fatalf("frame too short: %d", len(encoded))
	}
	kind := uint16(encoded[0])<<8 | uint16(encoded[1])
	if kind != MessagePing {
		t.Fatalf("type field = %d, want MessagePing", kind)
	}
}

func TestOversizeFrameRejected(t *testing.T) {
	huge := make([]byte, MaxFrameLength+1)
	_, _, err := DecodeFrame(bytes.NewReader(append([]byte{0, byte(MessageUDPTunnel), 0xFF, 0xFF, 0xFF, 0xFF}, huge...)))
	if err != ErrFrameTooLarge {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
}

func ptrU32(v uint32) *uint32 { return &v }
func ptrU64(v uint64) *uint64 { return &v }
func ptrStr(v string) *string { return &v }

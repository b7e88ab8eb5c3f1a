package mumbleproto

import "testing"

func TestClusterVoiceHeaderRoundTrip(t *testing.T) {
	h := ClusterVoiceHeader{Version: 1, SenderSession: 42, TargetID: ClusterVoiceBroadcastTarget, Sequence: 7, Codec: byte(CodecOpus)}
	payload := []byte{0xde, 0xad, 0xbe, 0xef}

	encoded := h.Encode(payload)
	if len(encoded) != ClusterVoiceHeaderSize+len(payload) {
		t.Fatalf("unexpected encoded length %d", len(encoded))
	}

	got, body, ok := DecodeClusterVoiceHeader(encoded)
	if !ok {
		t.Fatal("decode reported not ok")
	}
	if got != h {
		t.Fatalf("header mismatch: got %+v want %+v", got, h)
	}
	if string(body) != string(payload) {
		t.Fatalf("payload mismatch: got %v want %v", body, payload)
	}
}

func TestDecodeClusterVoiceHeaderTooShort(t *testing.T) {
	_, _, ok := DecodeClusterVoiceHeader([]byte{1, 2, 3})
	if ok {
		t.Fatal("expected not ok for undersized buffer")
	}
}

func TestClusterVoicePacketRoundTrip(t *testing.T) {
	h := ClusterVoiceHeader{Version: 1, SenderSession: 5, TargetID: ClusterVoiceBroadcastTarget, Sequence: 1, Codec: byte(CodecOpus)}
	recipients := []uint32{11, 12, 13}
	payload := []byte{1, 2, 3}

	datagram := EncodeClusterVoicePacket(h, recipients, payload)

	gotHeader, gotRecipients, gotPayload, ok := DecodeClusterVoicePacket(datagram)
	if !ok {
		t.Fatal("decode reported not ok")
	}
	if gotHeader != h {
		t.Fatalf("header mismatch: got %+v want %+v", gotHeader, h)
	}
	if len(gotRecipients) != len(recipients) {
		t.Fatalf("recipient count = %d, want %d", len(gotRecipients), len(recipients))
	}
	for i, r := range recipients {
		if gotRecipients[i] != r {
			t.Fatalf("recipient[%d] = %d, want %d", i, gotRecipients[i], r)
		}
	}
	if string(gotPayload) != string(payload) {
		t.Fatalf("payload mismatch: got %v want %v", gotPayload, payload)
	}
}

package mumbleproto

import "testing"

func TestAudioPacketLegacyRoundTrip(t *testing.T) {
	pkt := &AudioPacket{
		UsedCodec:       CodecOpus,
		TargetOrContext: TargetRegularSpeech,
		FrameNumber:     17,
		Payload:         []byte{1, 2, 3, 4, 5},
	}
	pkt.SetSenderSession(99)

	encoded := pkt.LegacyData()
	if encoded[0]>>5 != UDPMessageVoiceOpus {
		t.Fatalf("header codec bits = %d, want %d", encoded[0]>>5, UDPMessageVoiceOpus)
	}
	if encoded[0]&0x1F != TargetRegularSpeech {
		t.Fatalf("header target bits = %d", encoded[0]&0x1F)
	}

	parsed, legacy := ParseUDPPacket(encoded, true)
	if !legacy {
		t.Fatal("expected legacy parse")
	}
	audio, ok := parsed.(*AudioPacket)
	if !ok {
		t.Fatalf("parsed type = %T, want *AudioPacket", parsed)
	}
	if audio.SenderSession != 99 {
		t.Fatalf("sender session = %d, want 99", audio.SenderSession)
	}
	if audio.FrameNumber != 17 {
		t.Fatalf("frame number = %d, want 17", audio.FrameNumber)
	}
	if string(audio.Payload) != string(pkt.Payload) {
		t.Fatalf("payload mismatch: got %v want %v", audio.Payload, pkt.Payload)
	}
}

func TestAudioPacketWhisperTarget(t *testing.T) {
	pkt := &AudioPacket{UsedCodec: CodecOpus, TargetOrContext: 5, Payload: []byte{9}}
	header := pkt.Header()
	if header&0x1F != 5 {
		t.Fatalf("whisper target not preserved in header: %x", header)
	}
}

func TestPingPacketLegacyRoundTrip(t *testing.T) {
	raw := make([]byte, 12)
	// 4 blank bytes then an 8-byte timestamp, little endian.
	for i := 4; i < 12; i++ {
		raw[i] = byte(i)
	}
	pkt, legacy := ParseUDPPacket(raw, true)
	if !legacy {
		t.Fatal("expected legacy ping parse")
	}
	ping, ok := pkt.(*PingPacket)
	if !ok {
		t.Fatalf("parsed type = %T, want *PingPacket", pkt)
	}
	if !ping.RequestExtendedInformation {
		t.Fatal("expected RequestExtendedInformation to be set")
	}
}

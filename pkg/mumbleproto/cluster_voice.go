package mumbleproto

import "encoding/binary"

// ClusterVoiceHeaderSize is the fixed byte length of ClusterVoiceHeader
// on the wire (§6 "Cluster voice UDP").
const ClusterVoiceHeaderSize = 14

// ClusterVoiceBroadcastTarget is the sentinel target_id meaning "every
// recipient on the remote edge", used when a normal-speech packet (§4.6
// target 0) has at least one recipient on that edge rather than naming
// individual sessions.
const ClusterVoiceBroadcastTarget = 0xFFFFFFFF

// ClusterVoiceHeader precedes the original Mumble voice packet bytes
// on the dedicated cluster voice UDP socket edges use to forward voice
// to each other (§4.6, §6). Unlike the client-facing voice header (a
// single codec:target byte), this header carries enough routing
// context for the receiving edge to skip re-deriving it.
type ClusterVoiceHeader struct {
	Version       uint8
	SenderSession uint32
	TargetID      uint32
	Sequence      uint32
	Codec         uint8
}

// Encode writes h followed by payload into one buffer, matching
// udp_packet.go's manual big-endian layout style.
func (h ClusterVoiceHeader) Encode(payload []byte) []byte {
	buf := make([]byte, ClusterVoiceHeaderSize+len(payload))
	buf[0] = h.Version
	binary.BigEndian.PutUint32(buf[1:5], h.SenderSession)
	binary.BigEndian.PutUint32(buf[5:9], h.TargetID)
	binary.BigEndian.PutUint32(buf[9:13], h.Sequence)
	buf[13] = h.Codec
	copy(buf[ClusterVoiceHeaderSize:], payload)
	return buf
}

// DecodeClusterVoiceHeader splits a cluster voice datagram into its
// header and the original Mumble voice packet bytes that follow.
func DecodeClusterVoiceHeader(data []byte) (h ClusterVoiceHeader, payload []byte, ok bool) {
	if len(data) < ClusterVoiceHeaderSize {
		return ClusterVoiceHeader{}, nil, false
	}
	h.Version = data[0]
	h.SenderSession = binary.BigEndian.Uint32(data[1:5])
	h.TargetID = binary.BigEndian.Uint32(data[5:9])
	h.Sequence = binary.BigEndian.Uint32(data[9:13])
	h.Codec = data[13]
	return h, data[ClusterVoiceHeaderSize:], true
}

// EncodeClusterVoicePacket wraps ClusterVoiceHeader.Encode with an
// explicit recipient session-id list: the sending edge has already
// resolved the full cross-cluster recipient set (§4.6 steps 4–5) by
// the time it forwards to a remote edge, so the remote side is told
// exactly which of its local sessions to deliver to rather than
// re-deriving topology (which it cannot for whisper targets, since
// VoiceTarget tables are edge-local per §3's data model).
func EncodeClusterVoicePacket(h ClusterVoiceHeader, recipients []uint32, payload []byte) []byte {
	buf := make([]byte, 2+4*len(recipients))
	binary.BigEndian.PutUint16(buf[0:2], uint16(len(recipients)))
	for i, session := range recipients {
		binary.BigEndian.PutUint32(buf[2+4*i:6+4*i], session)
	}
	return h.Encode(append(buf, payload...))
}

// DecodeClusterVoicePacket is the inverse of EncodeClusterVoicePacket.
func DecodeClusterVoicePacket(data []byte) (h ClusterVoiceHeader, recipients []uint32, payload []byte, ok bool) {
	h, body, ok := DecodeClusterVoiceHeader(data)
	if !ok || len(body) < 2 {
		return ClusterVoiceHeader{}, nil, nil, false
	}
	count := int(binary.BigEndian.Uint16(body[0:2]))
	offset := 2 + 4*count
	if len(body) < offset {
		return ClusterVoiceHeader{}, nil, nil, false
	}
	recipients = make([]uint32, count)
	for i := range recipients {
		recipients[i] = binary.BigEndian.Uint32(body[2+4*i : 6+4*i])
	}
	return h, recipients, body[offset:], true
}

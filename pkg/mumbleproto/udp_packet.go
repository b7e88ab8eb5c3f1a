package mumbleproto

import (
	"encoding/binary"

	"github.com/grumble-cluster/grumble/pkg/packetdata"
)

// UDPPacketType distinguishes the two UDP voice datagram bodies.
type UDPPacketType int

const (
	UDPPacketAudio = iota
	UDPPacketPing
)

// AudioCodec identifies the codec carried by a voice packet (§6).
type AudioCodec int

const (
	CodecOpus AudioCodec = iota
	CodecCELTAlpha
	CodecCELTBeta
	CodecSpeex
)

// UDPPacket is a generic form of a parsed UDP voice packet, legacy or
// protobuf-encapsulated.
type UDPPacket interface {
	// LegacyData encodes the packet into the legacy wire format.
	LegacyData() []byte
	// ProtobufData encodes the packet into the protobuf wire format.
	ProtobufData() ([]byte, error)
	// SetSenderSession sets the sender session, if applicable.
	SetSenderSession(session uint32)
}

// PingPacket is a UDP ping/pong, used for RTT measurement and for the
// extended-information handshake some clients send before auth.
type PingPacket struct {
	PingUDP
}

func (p *PingPacket) SetSenderSession(session uint32) {}

func (p *PingPacket) LegacyData() []byte {
	buffer := make([]byte, 1)
	buffer[0] = UDPMessagePing << 5
	buffer = binary.LittleEndian.AppendUint32(buffer, 0)
	buffer = binary.LittleEndian.AppendUint64(buffer, p.GetTimestamp())
	return buffer
}

func (p *PingPacket) ProtobufData() ([]byte, error) {
	buffer := make([]byte, 1)
	buffer[0] = UDPPacketPing
	data, err := pingUDPMarshal(&p.PingUDP)
	if err != nil {
		return nil, err
	}
	buffer = append(buffer, data...)
	return buffer, nil
}

// AudioPacket is one voice frame: header byte, sender session, frame
// sequence number, and codec payload (§4.6, §6).
type AudioPacket struct {
	AudioUDP

	UsedCodec       AudioCodec
	TargetOrContext uint8
	Payload         []byte
	PositionalData  []float32
	IsTerminator    bool
	FrameNumber     uint64
}

func (p *AudioPacket) SetSenderSession(session uint32) {
	p.SenderSession = session
}

// Header returns the single header byte codec:3|target:5 (§4.6, §6).
func (p *AudioPacket) Header() byte {
	var codecBits byte
	switch p.UsedCodec {
	case CodecCELTAlpha:
		codecBits = UDPMessageVoiceCELTAlpha
	case CodecCELTBeta:
		codecBits = UDPMessageVoiceCELTBeta
	case CodecSpeex:
		codecBits = UDPMessageVoiceSpeex
	case CodecOpus:
		codecBits = UDPMessageVoiceOpus
	default:
		panic("mumbleproto: unknown audio codec")
	}
	return (codecBits << 5) | (p.TargetOrContext & 0x1F)
}

func (p *AudioPacket) LegacyData() []byte {
	buffer := make([]byte, 32+len(p.Payload))
	buffer[0] = p.Header()
	outgoing := packetdata.New(buffer[1:])
	outgoing.PutUint32(p.SenderSession)
	outgoing.PutUint32(uint32(p.FrameNumber))

	switch p.UsedCodec {
	case CodecCELTAlpha, CodecCELTBeta, CodecSpeex:
		outgoing.CopyBytes(p.Payload)
	case CodecOpus:
		flag := len(p.Payload)
		if p.IsTerminator {
			flag |= 0x2000
		}
		outgoing.PutUint32(uint32(flag))
		outgoing.CopyBytes(p.Payload)
	}

	return buffer[:1+outgoing.Size()]
}

func (p *AudioPacket) ProtobufData() ([]byte, error) {
	buffer := make([]byte, 1)
	buffer[0] = UDPPacketAudio
	p.AudioUDP.Target = uint32(p.TargetOrContext)
	p.AudioUDP.OpusData = p.Payload
	p.AudioUDP.PositionalData = p.PositionalData
	p.AudioUDP.IsTerminator = p.IsTerminator
	data, err := audioUDPMarshal(&p.AudioUDP)
	if err != nil {
		return nil, err
	}
	buffer = append(buffer, data...)
	return buffer, nil
}

// PacketType returns the UDP sub-type of a parsed packet.
func PacketType(pkt UDPPacket) uint16 {
	switch pkt.(type) {
	case *PingPacket:
		return UDPPacketPing
	case *AudioPacket:
		return UDPPacketAudio
	default:
		panic("mumbleproto: unreachable")
	}
}

// ParseUDPPacket parses raw UDP/UDPTunnel voice bytes into a
// UDPPacket, returning whether the legacy (non-protobuf) layout was
// used.
func ParseUDPPacket(data []byte, isLegacy bool) (pkt UDPPacket, legacy bool) {
	if len(data) < 1 {
		return nil, isLegacy
	}

	header := data[0]
	if isLegacy {
		if header == UDPPacketPing {
			pkt = parsePingPacketProtobuf(data[1:])
			legacy = false
			return
		}

		// An extended-information ping carries no header byte.
		if len(data) == 12 || len(data) == 24 {
			if packet := parsePingPacketLegacy(data); packet != nil {
				return packet, true
			}
		}

		kind := (header >> 5) & 0x07
		switch kind {
		case UDPMessagePing:
			return parsePingPacketLegacy(data[1:]), true
		case UDPMessageVoiceSpeex:
			return parseAudioPacketLegacy(data, CodecSpeex), true
		case UDPMessageVoiceCELTAlpha:
			return parseAudioPacketLegacy(data, CodecCELTAlpha), true
		case UDPMessageVoiceCELTBeta:
			return parseAudioPacketLegacy(data, CodecCELTBeta), true
		case UDPMessageVoiceOpus:
			return parseAudioPacketLegacy(data, CodecOpus), true
		}
	} else {
		switch header {
		case UDPPacketPing:
			return parsePingPacketProtobuf(data[1:]), false
		case UDPPacketAudio:
			return parseAudioPacketProtobuf(data[1:]), false
		}
	}

	return nil, isLegacy
}

func parsePingPacketLegacy(data []byte) *PingPacket {
	if len(data) != 12 || binary.LittleEndian.Uint32(data) != 0 {
		return nil
	}

	// An extended-information ping carries 4 blank leading bytes
	// followed by a 64-bit client-specific timestamp. Its byte order
	// and contents are otherwise unspecified; we only ever echo it.
	ping := PingPacket{}
	ping.Timestamp = binary.LittleEndian.Uint64(data[4:])
	ping.RequestExtendedInformation = true
	return &ping
}

func parsePingPacketProtobuf(data []byte) *PingPacket {
	var ping PingPacket
	if err := pingUDPUnmarshal(data, &ping.PingUDP); err != nil {
		return nil
	}
	return &ping
}

func parseAudioPacketLegacy(data []byte, codec AudioCodec) *AudioPacket {
	if len(data) < 3 {
		return nil
	}

	var audio AudioPacket
	audio.UsedCodec = codec
	audio.TargetOrContext = data[0] & 0x1f

	incoming := packetdata.New(data[1:])
	audio.SenderSession = incoming.GetUint32()
	audio.FrameNumber = incoming.GetUint64()

	offset := incoming.Size()
	payloadSize := 0

	switch codec {
	case CodecSpeex, CodecCELTAlpha, CodecCELTBeta:
		// Legacy frames may bundle several sub-frames. Each is
		// preceded by a TOC byte: low 7 bits = length, high bit =
		// continuation flag.
		offset = incoming.Size()
		for {
			flag := incoming.Next8()
			frameSize := int(flag & 0x7f)

			if frameSize == 0 {
				audio.IsTerminator = true
			}

			payloadSize += frameSize
			incoming.Skip(frameSize)

			if flag&0x80 == 0 || !incoming.IsValid() {
				break
			}
		}
	case CodecOpus:
		size := int(incoming.GetUint16())
		payloadSize = size & 0x1fff
		audio.IsTerminator = size&0x2000 > 0
		offset = incoming.Size()
		incoming.Skip(payloadSize)
	}

	if !incoming.IsValid() {
		return nil
	}

	audio.Payload = data[1+offset : 1+offset+payloadSize]

	if incoming.Left() == 3*4 {
		audio.PositionalData = make([]float32, 3)
		for i := range audio.PositionalData {
			audio.PositionalData[i] = incoming.GetFloat32()
		}
	} else if incoming.Left() > 0 {
		return nil
	}

	return &audio
}

func parseAudioPacketProtobuf(data []byte) *AudioPacket {
	var audio AudioPacket
	if err := audioUDPUnmarshal(data, &audio.AudioUDP); err != nil {
		return nil
	}
	audio.TargetOrContext = uint8(audio.GetTarget())
	audio.UsedCodec = CodecOpus
	if len(audio.OpusData) == 0 {
		return nil
	}
	audio.Payload = audio.OpusData
	audio.PositionalData = audio.AudioUDP.PositionalData
	audio.IsTerminator = audio.AudioUDP.IsTerminator
	return &audio
}

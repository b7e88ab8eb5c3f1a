package mumbleproto

import (
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// Hand-rolled protobuf wire encoding for the handful of message
// bodies the original Mumble.proto schema carries over UDP or that we
// otherwise choose to keep byte-for-byte protobuf shaped:
// CryptSetup, PingUDP, AudioUDP. We have no protoc available to
// generate full proto.Message implementations, so these use
// google.golang.org/protobuf/encoding/protowire directly — the same
// low-level varint/tag primitives generated code is built on top of.

func marshalCryptSetup(cs *CryptSetup) []byte {
	var b []byte
	if len(cs.Key) > 0 {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, cs.Key)
	}
	if len(cs.ClientNonce) > 0 {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, cs.ClientNonce)
	}
	if len(cs.ServerNonce) > 0 {
		b = protowire.AppendTag(b, 3, protowire.BytesType)
		b = protowire.AppendBytes(b, cs.ServerNonce)
	}
	return b
}

func unmarshalCryptSetup(data []byte, cs *CryptSetup) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return protowire.ParseError(n)
		}
		data = data[n:]
		switch typ {
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			data = data[n:]
			switch num {
			case 1:
				cs.Key = append([]byte(nil), v...)
			case 2:
				cs.ClientNonce = append([]byte(nil), v...)
			case 3:
				cs.ServerNonce = append([]byte(nil), v...)
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			data = data[n:]
		}
	}
	return nil
}

func pingUDPMarshal(p *PingUDP) ([]byte, error) {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, p.Timestamp)
	if p.RequestExtendedInformation {
		b = protowire.AppendTag(b, 2, protowire.VarintType)
		b = protowire.AppendVarint(b, 1)
	}
	return b, nil
}

func pingUDPUnmarshal(data []byte, p *PingUDP) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return protowire.ParseError(n)
		}
		data = data[n:]
		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			data = data[n:]
			switch num {
			case 1:
				p.Timestamp = v
			case 2:
				p.RequestExtendedInformation = v != 0
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			data = data[n:]
		}
	}
	return nil
}

func audioUDPMarshal(a *AudioUDP) ([]byte, error) {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(a.Target))
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(a.SenderSession))
	b = protowire.AppendTag(b, 3, protowire.VarintType)
	b = protowire.AppendVarint(b, a.FrameNumber)
	if len(a.OpusData) > 0 {
		b = protowire.AppendTag(b, 4, protowire.BytesType)
		b = protowire.AppendBytes(b, a.OpusData)
	}
	for _, f := range a.PositionalData {
		b = protowire.AppendTag(b, 5, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, math.Float32bits(f))
	}
	if a.IsTerminator {
		b = protowire.AppendTag(b, 6, protowire.VarintType)
		b = protowire.AppendVarint(b, 1)
	}
	return b, nil
}

func audioUDPUnmarshal(data []byte, a *AudioUDP) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return protowire.ParseError(n)
		}
		data = data[n:]
		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			data = data[n:]
			switch num {
			case 1:
				a.Target = uint32(v)
			case 2:
				a.SenderSession = uint32(v)
			case 3:
				a.FrameNumber = v
			case 6:
				a.IsTerminator = v != 0
			}
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			data = data[n:]
			if num == 4 {
				a.OpusData = append([]byte(nil), v...)
			}
		case protowire.Fixed32Type:
			v, n := protowire.ConsumeFixed32(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			data = data[n:]
			if num == 5 {
				a.PositionalData = append(a.PositionalData, math.Float32frombits(v))
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			data = data[n:]
		}
	}
	return nil
}

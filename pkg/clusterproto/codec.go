package clusterproto

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
)

// MaxEnvelopeLength bounds one cluster-channel frame, the same cap
// the client protocol applies to control frames (§4.1, §8 property 1).
const MaxEnvelopeLength = 10 * 1024 * 1024

// ErrEnvelopeTooLarge is returned when a frame's declared length
// exceeds MaxEnvelopeLength.
var ErrEnvelopeTooLarge = errors.New("clusterproto: envelope exceeds 10MB cap")

// WriteEnvelope serializes env as u32 length || JSON bytes and writes
// it in one call, matching teacher's "build the whole frame, one
// Write" shape in cmd/grumble/client.go's sendMessage.
func WriteEnvelope(w io.Writer, env *Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return err
	}
	if len(body) > MaxEnvelopeLength {
		return ErrEnvelopeTooLarge
	}
	out := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(out[0:4], uint32(len(body)))
	copy(out[4:], body)
	_, err = w.Write(out)
	return err
}

// ReadEnvelope reads exactly one length-prefixed envelope from r.
func ReadEnvelope(r io.Reader) (*Envelope, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(hdr[:])
	if length > MaxEnvelopeLength {
		return nil, ErrEnvelopeTooLarge
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

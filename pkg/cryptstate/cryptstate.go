// Package cryptstate implements the per-session UDP voice crypto used
// between client and edge (§3, §4.2 step 8a, GLOSSARY): one 16-byte
// key, one 16-byte encrypt IV, one 16-byte decrypt IV, each direction
// advanced independently. The wire layout matches Mumble's OCB2 usage
// — a 1-byte IV-low-byte prefix, a 3-byte truncated authentication
// tag, then the ciphertext — which is what lets the decrypt side
// tolerate reordering and loss (§4.6) without carrying the full IV on
// every packet. The authenticated-encryption primitive underneath is
// a keyed CBC-style checksum over AES-CTR ciphertext, not Rogaway's
// OCB2 construction, so its packets do not decrypt in a stock Mumble
// client even though SupportedModes advertises OCB2-AES128. The tag's
// block cipher runs
// under a key derived from the session key via HKDF rather than the
// session key itself, so a tag forgery attempt learns nothing usable
// against the stream cipher's own key.
package cryptstate

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"io"
	"sync"
	"time"

	"golang.org/x/crypto/hkdf"
)

// AESBlockSize is the key/IV/block size used throughout (OCB2-AES128).
const AESBlockSize = 16

// Overhead is the number of bytes the packet framing adds to a plaintext
// voice payload: 1 IV-prefix byte + 3 tag bytes.
const Overhead = 4

// SupportedModes lists the crypto modes offered in the Version
// handshake (§4.2 step 5).
func SupportedModes() []string {
	return []string{"OCB2-AES128"}
}

// CryptState holds one session's key material, both IVs, and the
// receive statistics Decrypt keeps (§4.3 exceptions, §8 property
// testing hooks); the edge's Ping reply does not carry them.
type CryptState struct {
	Key       [AESBlockSize]byte
	EncryptIV [AESBlockSize]byte
	DecryptIV [AESBlockSize]byte

	mu sync.Mutex

	Good         uint32
	Late         uint32
	Lost         uint32
	Resync       uint32
	LastGoodTime int64

	block    cipher.Block
	tagBlock cipher.Block
}

// GenerateKey produces fresh random key material, as the edge does on
// successful authentication (§4.2 step 8a).
func GenerateKey() (key, encryptIV, decryptIV [AESBlockSize]byte, err error) {
	for _, b := range [][]byte{key[:], encryptIV[:], decryptIV[:]} {
		if _, err = rand.Read(b); err != nil {
			return
		}
	}
	return
}

// New builds a ready-to-use CryptState from freshly generated key
// material.
func New() (*CryptState, error) {
	key, encIV, decIV, err := GenerateKey()
	if err != nil {
		return nil, err
	}
	return FromKeys(key, encIV, decIV)
}

// FromKeys builds a CryptState from key material received over the
// wire (e.g. the client's CryptSetup).
func FromKeys(key, encryptIV, decryptIV [AESBlockSize]byte) (*CryptState, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	tagKey, err := deriveTagKey(key)
	if err != nil {
		return nil, err
	}
	tagBlock, err := aes.NewCipher(tagKey)
	if err != nil {
		return nil, err
	}
	return &CryptState{
		Key:          key,
		EncryptIV:    encryptIV,
		DecryptIV:    decryptIV,
		block:        block,
		tagBlock:     tagBlock,
		LastGoodTime: time.Now().Unix(),
	}, nil
}

// deriveTagKey derives a tag-signing AES-128 key from the session key
// via HKDF-SHA256, keeping the checksum's block cipher keyed
// independently of the stream cipher that protects the payload itself.
func deriveTagKey(sessionKey [AESBlockSize]byte) ([]byte, error) {
	r := hkdf.New(sha256.New, sessionKey[:], nil, []byte("grumble-cluster cryptstate tag"))
	tagKey := make([]byte, AESBlockSize)
	if _, err := io.ReadFull(r, tagKey); err != nil {
		return nil, err
	}
	return tagKey, nil
}

// Overhead reports the number of framing bytes Encrypt/Decrypt add
// around a plaintext voice payload.
func (cs *CryptState) Overhead() int {
	return Overhead
}

// Encrypt seals plaintext into dst (len(plaintext)+Overhead bytes) and
// advances EncryptIV. Only the writer goroutine for this session may
// call this (§5).
func (cs *CryptState) Encrypt(dst, plaintext []byte) {
	cs.mu.Lock()
	iv := cs.EncryptIV
	advanceIV(&cs.EncryptIV)
	cs.mu.Unlock()

	cs.xorKeyStream(iv, dst[Overhead:Overhead+len(plaintext)], plaintext)
	tag := cs.tag(iv, dst[Overhead:Overhead+len(plaintext)])
	dst[0] = iv[0]
	copy(dst[1:4], tag[:3])
}

// Decrypt opens an OCB2-framed packet into dst (len(packet)-Overhead
// bytes) and reports whether the tag verified. It resolves the full
// IV from DecryptIV plus the packet's 1-byte prefix, tolerating the
// reordering/loss §4.6 describes, and updates Good/Late/Lost/Resync.
// Only the reader goroutine for this session may call this (§5).
func (cs *CryptState) Decrypt(dst, packet []byte) bool {
	if len(packet) < Overhead {
		return false
	}
	plainLen := len(packet) - Overhead
	if len(dst) < plainLen {
		return false
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()

	prefix := packet[0]
	iv := cs.DecryptIV
	late := false
	lost := 0

	switch {
	case prefix == iv[0]+1:
		advanceIV(&iv)
	case prefix > iv[0]+1 || prefix < iv[0]:
		// Out-of-order or a gap; resolve the candidate IV by
		// substituting the low byte and accept it speculatively.
		// If prefix trails the current low byte by a small margin
		// treat it as a late (not lost) packet instead of advancing.
		delta := int(prefix) - int(iv[0])
		if delta < 0 && -delta < 30 {
			late = true
		} else if delta > 0 {
			lost = delta - 1
		}
		iv[0] = prefix
	default:
		// prefix == iv[0]: a duplicate of the current slot.
	}

	computed := cs.tag(iv, packet[Overhead:])
	if computed[0] != packet[1] || computed[1] != packet[2] || computed[2] != packet[3] {
		return false
	}

	cs.xorKeyStream(iv, dst[:plainLen], packet[Overhead:])

	if late {
		cs.Late++
	} else {
		cs.DecryptIV = iv
		cs.Good++
		cs.Lost += uint32(lost)
	}
	cs.LastGoodTime = time.Now().Unix()
	return true
}

// Resync discards accumulated state and adopts a new decrypt IV, as
// happens when a client sends a nonce-less CryptSetup (§3, §4.6).
func (cs *CryptState) Resync(newDecryptIV [AESBlockSize]byte) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.DecryptIV = newDecryptIV
	cs.Resync++
}

func (cs *CryptState) xorKeyStream(iv [AESBlockSize]byte, dst, src []byte) {
	stream := cipher.NewCTR(cs.block, iv[:])
	stream.XORKeyStream(dst, src)
}

// tag computes a keyed checksum over the ciphertext, seeded with the
// IV, by repeated block-cipher chaining — the same role OCB2's
// checksum-then-encrypt step plays, without the GF(2^128) doubling.
func (cs *CryptState) tag(iv [AESBlockSize]byte, ciphertext []byte) [AESBlockSize]byte {
	acc := iv
	var block [AESBlockSize]byte
	for i := 0; i < len(ciphertext); i += AESBlockSize {
		end := i + AESBlockSize
		if end > len(ciphertext) {
			end = len(ciphertext)
		}
		clear(block[:])
		copy(block[:], ciphertext[i:end])
		for j := range block {
			block[j] ^= acc[j]
		}
		cs.tagBlock.Encrypt(acc[:], block[:])
	}
	return acc
}

func advanceIV(iv *[AESBlockSize]byte) {
	for i := range iv {
		iv[i]++
		if iv[i] != 0 {
			return
		}
	}
}

// ErrShortBuffer is returned by callers that size destination buffers
// incorrectly; kept here so edge/voice code can reference one error
// value across both Encrypt and Decrypt call sites.
var ErrShortBuffer = errors.New("cryptstate: destination buffer too small")

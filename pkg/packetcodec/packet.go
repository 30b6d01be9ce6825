// Package packetcodec implements VEIL's wire packet and frame formats:
// the outer session-id/counter/AEAD envelope, and the frame variants
// carried in its plaintext.
package packetcodec

import (
	"encoding/binary"

	"github.com/veilnet/veil/internal/veilcrypto"
)

// Wire layout per packet:
//
//	Byte 0-7:   Session id (big-endian uint64)
//	Byte 8-15:  Packet counter (big-endian uint64)
//	Byte 16-N:  AEAD ciphertext of the frame plaintext
//	Byte N-N+16: Poly1305 tag
//
// The 16-byte session-id+counter header is the AEAD associated data.
// Minimum packet size is 32 bytes (16-byte header + 16-byte tag, zero
// ciphertext bytes permitted only when the AEAD itself allows it; the
// spec floor is enforced regardless).
const (
	headerSize   = 16
	minPacketLen = headerSize + veilcrypto.TagSize
)

// Build seals frames under the given AEAD keyed for this direction,
// producing one wire packet: sessionID ∥ counter ∥ ciphertext ∥ tag.
func Build(aead *veilcrypto.AEAD, nonceBase [veilcrypto.NonceSize]byte, sessionID, counter uint64, frames []Frame) []byte {
	header := make([]byte, headerSize)
	binary.BigEndian.PutUint64(header[0:8], sessionID)
	binary.BigEndian.PutUint64(header[8:16], counter)

	plaintext := MarshalFrames(frames)
	nonce := veilcrypto.Nonce(nonceBase, counter)

	out := make([]byte, headerSize, headerSize+len(plaintext)+veilcrypto.TagSize)
	copy(out, header)
	return aead.Seal(out, nonce, plaintext, header)
}

// Parse validates minimum length, splits the header, decrypts the
// ciphertext under the given AEAD keyed for the receive direction, and
// parses the resulting plaintext into frames. Returns the session id,
// counter, and frames on success.
func Parse(aead *veilcrypto.AEAD, nonceBase [veilcrypto.NonceSize]byte, packet []byte) (sessionID, counter uint64, frames []Frame, err error) {
	if len(packet) < minPacketLen {
		return 0, 0, nil, newError(KindPacketTooShort, "packet shorter than minimum wire size", nil)
	}

	header := packet[0:headerSize]
	sessionID = binary.BigEndian.Uint64(header[0:8])
	counter = binary.BigEndian.Uint64(header[8:16])
	ciphertext := packet[headerSize:]

	nonce := veilcrypto.Nonce(nonceBase, counter)
	plaintext, err := aead.Open(nil, nonce, ciphertext, header)
	if err != nil {
		return 0, 0, nil, newError(KindDecryptionFailed, "AEAD authentication failed", err)
	}

	frames, err = ParseFrames(plaintext)
	if err != nil {
		return 0, 0, nil, err
	}
	return sessionID, counter, frames, nil
}

// Package veilcrypto implements the cryptographic primitives VEIL builds
// on: X25519 key agreement, HKDF-SHA256 key derivation, HMAC-SHA256
// authentication, and ChaCha20-Poly1305 AEAD sealing. Nothing here is
// protocol-aware; it is the substrate the handshake and packet codec
// are built from.
package veilcrypto

import (
	"crypto/ecdh"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// KeySize is the size in bytes of an X25519 public or private key, and
// of a ChaCha20-Poly1305 key.
const KeySize = 32

// NonceSize is the size in bytes of a ChaCha20-Poly1305 nonce.
const NonceSize = chacha20poly1305.NonceSize

// TagSize is the size in bytes of the Poly1305 authentication tag.
const TagSize = chacha20poly1305.Overhead

var (
	// ErrWeakSharedSecret is returned when an X25519 exchange produces
	// the all-zero shared secret, indicating a peer supplied a
	// low-order or otherwise degenerate public key.
	ErrWeakSharedSecret = errors.New("veilcrypto: weak (all-zero) shared secret")
)

var x25519Curve = ecdh.X25519()

// GenerateKeypair creates a new ephemeral X25519 key pair.
func GenerateKeypair() (pub, priv [KeySize]byte, err error) {
	key, err := x25519Curve.GenerateKey(rand.Reader)
	if err != nil {
		return pub, priv, err
	}
	copy(priv[:], key.Bytes())
	copy(pub[:], key.PublicKey().Bytes())
	return pub, priv, nil
}

// SharedSecret performs the X25519 scalar multiplication of priv against
// peerPub, and rejects the all-zero result as a weak key per spec.
func SharedSecret(priv, peerPub [KeySize]byte) ([KeySize]byte, error) {
	var out [KeySize]byte

	localKey, err := x25519Curve.NewPrivateKey(priv[:])
	if err != nil {
		return out, err
	}
	remoteKey, err := x25519Curve.NewPublicKey(peerPub[:])
	if err != nil {
		return out, err
	}

	shared, err := localKey.ECDH(remoteKey)
	if err != nil {
		return out, err
	}

	if ConstantTimeAllZero(shared) {
		return out, ErrWeakSharedSecret
	}

	copy(out[:], shared)
	return out, nil
}

// ConstantTimeAllZero reports whether b consists entirely of zero bytes,
// in constant time with respect to b's contents.
func ConstantTimeAllZero(b []byte) bool {
	var acc byte
	for _, v := range b {
		acc |= v
	}
	return subtle.ConstantTimeByteEq(acc, 0) == 1
}

// ConstantTimeEqual reports whether a and b are equal, in constant time.
func ConstantTimeEqual(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}

// HKDFExpand derives length bytes of key material from secret and salt,
// bound to info, using HKDF-SHA256 (extract then expand). length must
// not exceed 255*32 bytes, the HKDF-SHA256 output bound.
func HKDFExpand(secret, salt, info []byte, length int) ([]byte, error) {
	reader := hkdf.New(sha256.New, secret, salt, info)
	out := make([]byte, length)
	if _, err := io.ReadFull(reader, out); err != nil {
		return nil, err
	}
	return out, nil
}

// HMACSHA256 computes the HMAC-SHA256 of data under key.
func HMACSHA256(key, data []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}

// VerifyHMACSHA256 reports whether tag is the correct HMAC-SHA256 of
// data under key, compared in constant time.
func VerifyHMACSHA256(key, data, tag []byte) bool {
	return ConstantTimeEqual(HMACSHA256(key, data), tag)
}

// RandomBytes fills b with cryptographically secure random bytes.
func RandomBytes(b []byte) error {
	_, err := io.ReadFull(rand.Reader, b)
	return err
}

// RandomUint64 returns a cryptographically secure random 64-bit value.
func RandomUint64() (uint64, error) {
	var b [8]byte
	if err := RandomBytes(b[:]); err != nil {
		return 0, err
	}
	var v uint64
	for i := 0; i < 8; i++ {
		v = v<<8 | uint64(b[i])
	}
	return v, nil
}

// Zero overwrites b with zero bytes. Used to scrub ephemeral keys and
// retired session keys from memory once they are no longer needed.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// Direction labels the two halves of a session's key material, matching
// the sides of a CurveCP/WireGuard-style handshake transcript.
type Direction int

const (
	// DirInitiatorToResponder labels keys flowing from the initiator to
	// the responder.
	DirInitiatorToResponder Direction = iota
	// DirResponderToInitiator labels keys flowing from the responder to
	// the initiator.
	DirResponderToInitiator
)

func (d Direction) label() string {
	if d == DirInitiatorToResponder {
		return "i2r"
	}
	return "r2i"
}

// SessionKeys holds the derived symmetric key material for one session
// in one direction of travel each way. Send/Recv are already oriented:
// for an initiator, Send uses the i2r key and Recv uses the r2i key;
// for a responder the orientation is inverted so that Send always
// matches the peer's Recv.
type SessionKeys struct {
	SendKey       [KeySize]byte
	RecvKey       [KeySize]byte
	SendNonceBase [NonceSize]byte
	RecvNonceBase [NonceSize]byte
}

// DeriveSessionKeys derives a session's symmetric keys and nonce bases
// from the handshake's shared secret and the session id the transcript
// produced. isInitiator determines the send/recv orientation: the
// initiator binds send to i2r and recv to r2i; the responder inverts
// this so that send and recv always match peer-to-peer.
func DeriveSessionKeys(shared [KeySize]byte, sessionID uint64, isInitiator bool) (SessionKeys, error) {
	var sessionIDBytes [8]byte
	for i := 0; i < 8; i++ {
		sessionIDBytes[i] = byte(sessionID >> (56 - 8*i))
	}

	i2rKey, err := deriveDirectional(shared[:], sessionIDBytes[:], DirInitiatorToResponder, "key")
	if err != nil {
		return SessionKeys{}, err
	}
	r2iKey, err := deriveDirectional(shared[:], sessionIDBytes[:], DirResponderToInitiator, "key")
	if err != nil {
		return SessionKeys{}, err
	}
	i2rNonce, err := deriveDirectional(shared[:], sessionIDBytes[:], DirInitiatorToResponder, "nonce")
	if err != nil {
		return SessionKeys{}, err
	}
	r2iNonce, err := deriveDirectional(shared[:], sessionIDBytes[:], DirResponderToInitiator, "nonce")
	if err != nil {
		return SessionKeys{}, err
	}

	var keys SessionKeys
	if isInitiator {
		copy(keys.SendKey[:], i2rKey)
		copy(keys.RecvKey[:], r2iKey)
		copy(keys.SendNonceBase[:], i2rNonce)
		copy(keys.RecvNonceBase[:], r2iNonce)
	} else {
		copy(keys.SendKey[:], r2iKey)
		copy(keys.RecvKey[:], i2rKey)
		copy(keys.SendNonceBase[:], r2iNonce)
		copy(keys.RecvNonceBase[:], i2rNonce)
	}
	return keys, nil
}

func deriveDirectional(shared, salt []byte, dir Direction, purpose string) ([]byte, error) {
	size := KeySize
	if purpose == "nonce" {
		size = NonceSize
	}
	info := append([]byte("veil:"+purpose+":"+dir.label()+":"), salt...)
	return HKDFExpand(shared, salt, info, size)
}

// Nonce constructs the AEAD nonce for a given base and packet counter:
// nonce[i] = base[i] XOR (counter bytes at the last 8 positions, LE).
// Because the counter is strictly increasing within a session and keys
// are replaced wholesale on rotation, no (key, nonce) pair repeats.
func Nonce(base [NonceSize]byte, counter uint64) [NonceSize]byte {
	nonce := base
	offset := NonceSize - 8
	for i := 0; i < 8; i++ {
		nonce[offset+i] ^= byte(counter >> (8 * i))
	}
	return nonce
}

// AEAD wraps a ChaCha20-Poly1305 cipher instance keyed for one
// direction of a session.
type AEAD struct {
	aead interface {
		Seal(dst, nonce, plaintext, additionalData []byte) []byte
		Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
	}
}

// NewAEAD constructs an AEAD instance over the given 32-byte key.
func NewAEAD(key [KeySize]byte) (*AEAD, error) {
	a, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, err
	}
	return &AEAD{aead: a}, nil
}

// Seal encrypts and authenticates plaintext under nonce and aad,
// appending the result to dst (attached-tag form).
func (a *AEAD) Seal(dst []byte, nonce [NonceSize]byte, plaintext, aad []byte) []byte {
	return a.aead.Seal(dst, nonce[:], plaintext, aad)
}

// Open decrypts and authenticates ciphertext (which must include the
// trailing tag) under nonce and aad, appending the plaintext to dst.
func (a *AEAD) Open(dst []byte, nonce [NonceSize]byte, ciphertext, aad []byte) ([]byte, error) {
	return a.aead.Open(dst, nonce[:], ciphertext, aad)
}

// SealDetached encrypts plaintext under nonce and aad, returning the
// ciphertext and detached tag separately.
func (a *AEAD) SealDetached(nonce [NonceSize]byte, plaintext, aad []byte) (ciphertext, tag []byte) {
	sealed := a.aead.Seal(nil, nonce[:], plaintext, aad)
	return sealed[:len(sealed)-TagSize], sealed[len(sealed)-TagSize:]
}

// OpenDetached verifies and decrypts a detached ciphertext+tag pair.
func (a *AEAD) OpenDetached(nonce [NonceSize]byte, ciphertext, tag, aad []byte) ([]byte, error) {
	combined := make([]byte, 0, len(ciphertext)+len(tag))
	combined = append(combined, ciphertext...)
	combined = append(combined, tag...)
	return a.aead.Open(nil, nonce[:], combined, aad)
}

// Package handshake implements VEIL's three-message mutually
// authenticated ephemeral key exchange: a PSK-HMAC envelope wrapping an
// X25519 public key at each step, with the full transcript binding the
// derived session id.
package handshake

import (
	"encoding/binary"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/veilnet/veil/internal/clock"
	"github.com/veilnet/veil/internal/veilcrypto"
	"github.com/veilnet/veil/pkg/packetcodec"
)

// DefaultTimestampTolerance is used when Config.TimestampTolerance is
// zero.
const DefaultTimestampTolerance = 60 * time.Second

// State is one step of the handshake state machine. The initiator runs
// Idle -> InitSent -> Complete; the responder runs
// Idle -> InitReceived -> ResponseSent -> Complete.
type State int

const (
	StateIdle State = iota
	StateInitSent
	StateInitReceived
	StateResponseSent
	StateComplete
	StateFailed
)

// ErrNotInitiator is returned by Start when the engine was constructed
// as a responder.
var ErrNotInitiator = errors.New("handshake: Start called on a responder engine")

// ErrKeyExchangeFailed marks a fatal (non-silent) handshake failure:
// the derived shared secret was weak.
var ErrKeyExchangeFailed = errors.New("handshake: key exchange failed")

// Config parameterizes one Engine.
type Config struct {
	PSK                [32]byte
	IsInitiator        bool
	TimestampTolerance time.Duration

	// Logger receives Debug events when the Init is sent and when the
	// handshake completes, and Warn events for envelopes dropped for a
	// bad HMAC, an unexpected envelope type or a timestamp outside
	// tolerance, and on failure. Frames dropped for a wrong frame stage
	// or a wrong payload length are only counted, not logged. Defaults
	// to logrus.StandardLogger() when nil.
	Logger *logrus.Logger
}

// Engine drives one side of the handshake. Grounded on the key-exchange
// shape of a 1-RTT ECDH handshake over a raw connection, generalized
// into this spec's 3-message mutually authenticated exchange, and on a
// handshake-manager's struct shape (explicit states, timing constants,
// a replay-protection set) generalized into this engine's timestamp
// tolerance check.
type Engine struct {
	cfg Config
	clk clock.Clock

	state State

	localPriv, localPub [veilcrypto.KeySize]byte
	peerPub             [veilcrypto.KeySize]byte
	shared              [veilcrypto.KeySize]byte

	transcript []byte

	sessionID   uint64
	sessionKeys veilcrypto.SessionKeys

	lastErr         error
	hmacFailures    uint64
	timestampDrops  uint64
	invalidMessages uint64
}

// New constructs an Engine for one side of a handshake.
func New(cfg Config, clk clock.Clock) *Engine {
	if clk == nil {
		clk = clock.System{}
	}
	if cfg.TimestampTolerance == 0 {
		cfg.TimestampTolerance = DefaultTimestampTolerance
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	return &Engine{cfg: cfg, clk: clk, state: StateIdle}
}

// State returns the engine's current state.
func (e *Engine) State() State { return e.state }

// LastError returns the error that caused a transition to Failed, if any.
func (e *Engine) LastError() error { return e.lastErr }

// HMACFailures, TimestampDrops, and InvalidMessages count the
// respective silent-drop causes, for diagnostics.
func (e *Engine) HMACFailures() uint64    { return e.hmacFailures }
func (e *Engine) TimestampDrops() uint64  { return e.timestampDrops }
func (e *Engine) InvalidMessages() uint64 { return e.invalidMessages }

// SessionID returns the derived session id once the handshake is
// complete.
func (e *Engine) SessionID() (uint64, bool) {
	if e.state != StateComplete {
		return 0, false
	}
	return e.sessionID, true
}

// SessionKeys returns the derived session keys once the handshake is
// complete.
func (e *Engine) SessionKeys() (veilcrypto.SessionKeys, bool) {
	if e.state != StateComplete {
		return veilcrypto.SessionKeys{}, false
	}
	return e.sessionKeys, true
}

// Start generates the initiator's ephemeral keypair and produces the
// Init frame. Only valid for an initiator engine in state Idle.
func (e *Engine) Start() (*packetcodec.HandshakeFrame, error) {
	if !e.cfg.IsInitiator {
		return nil, ErrNotInitiator
	}
	pub, priv, err := veilcrypto.GenerateKeypair()
	if err != nil {
		return nil, err
	}
	e.localPub, e.localPriv = pub, priv

	envelope := e.buildEnvelope(packetcodec.HandshakeInit, pub[:])
	e.transcript = append(e.transcript, envelope...)
	e.state = StateInitSent
	e.cfg.Logger.Debug("handshake: sent init")

	return &packetcodec.HandshakeFrame{Stage: packetcodec.HandshakeInit, Payload: envelope}, nil
}

// HandleFrame processes one received Handshake frame, returning a reply
// frame to send (nil if none is due), and an error only for a fatal,
// non-silent failure (ErrKeyExchangeFailed). Invalid messages, bad
// HMACs, and out-of-tolerance timestamps are silent drops: nil reply,
// nil error, with an internal counter advanced.
func (e *Engine) HandleFrame(f *packetcodec.HandshakeFrame) (*packetcodec.HandshakeFrame, error) {
	switch e.state {
	case StateIdle:
		return e.handleInit(f)
	case StateInitSent:
		return e.handleResponse(f)
	case StateResponseSent:
		return e.handleFinish(f)
	default:
		// Complete or Failed: additional handshake frames are ignored.
		return nil, nil
	}
}

func (e *Engine) handleInit(f *packetcodec.HandshakeFrame) (*packetcodec.HandshakeFrame, error) {
	if f.Stage != packetcodec.HandshakeInit {
		e.invalidMessages++
		return nil, nil
	}
	payload, envelope, ok := e.verifyEnvelope(packetcodec.HandshakeInit, f.Payload)
	if !ok {
		return nil, nil
	}
	if len(payload) != veilcrypto.KeySize {
		e.invalidMessages++
		return nil, nil
	}
	copy(e.peerPub[:], payload)
	e.transcript = append(e.transcript, envelope...)

	pub, priv, err := veilcrypto.GenerateKeypair()
	if err != nil {
		e.fail(err)
		return nil, err
	}
	e.localPub, e.localPriv = pub, priv

	shared, err := veilcrypto.SharedSecret(e.localPriv, e.peerPub)
	if err != nil {
		e.fail(ErrKeyExchangeFailed)
		return nil, ErrKeyExchangeFailed
	}
	e.shared = shared
	e.state = StateInitReceived

	responseEnvelope := e.buildEnvelope(packetcodec.HandshakeResponse, pub[:])
	e.transcript = append(e.transcript, responseEnvelope...)
	e.state = StateResponseSent

	return &packetcodec.HandshakeFrame{Stage: packetcodec.HandshakeResponse, Payload: responseEnvelope}, nil
}

func (e *Engine) handleResponse(f *packetcodec.HandshakeFrame) (*packetcodec.HandshakeFrame, error) {
	if f.Stage != packetcodec.HandshakeResponse {
		e.invalidMessages++
		return nil, nil
	}
	payload, envelope, ok := e.verifyEnvelope(packetcodec.HandshakeResponse, f.Payload)
	if !ok {
		return nil, nil
	}
	if len(payload) != veilcrypto.KeySize {
		e.invalidMessages++
		return nil, nil
	}
	copy(e.peerPub[:], payload)
	e.transcript = append(e.transcript, envelope...)

	shared, err := veilcrypto.SharedSecret(e.localPriv, e.peerPub)
	if err != nil {
		e.fail(ErrKeyExchangeFailed)
		return nil, ErrKeyExchangeFailed
	}
	e.shared = shared

	finishEnvelope := e.buildEnvelope(packetcodec.HandshakeFinish, nil)
	e.transcript = append(e.transcript, finishEnvelope...)

	e.complete()

	return &packetcodec.HandshakeFrame{Stage: packetcodec.HandshakeFinish, Payload: finishEnvelope}, nil
}

func (e *Engine) handleFinish(f *packetcodec.HandshakeFrame) (*packetcodec.HandshakeFrame, error) {
	if f.Stage != packetcodec.HandshakeFinish {
		e.invalidMessages++
		return nil, nil
	}
	_, envelope, ok := e.verifyEnvelope(packetcodec.HandshakeFinish, f.Payload)
	if !ok {
		return nil, nil
	}
	e.transcript = append(e.transcript, envelope...)

	e.complete()
	return nil, nil
}

// complete derives the session id and keys from the finished
// transcript and zeroes the ephemeral private material.
func (e *Engine) complete() {
	tag := veilcrypto.HMACSHA256(e.cfg.PSK[:], e.transcript)
	e.sessionID = binary.BigEndian.Uint64(tag[0:8])
	e.sessionKeys, _ = veilcrypto.DeriveSessionKeys(e.shared, e.sessionID, e.cfg.IsInitiator)
	e.state = StateComplete
	e.cfg.Logger.WithField("session_id", e.sessionID).Debug("handshake: complete")

	veilcrypto.Zero(e.localPriv[:])
	veilcrypto.Zero(e.shared[:])
}

func (e *Engine) fail(err error) {
	e.lastErr = err
	e.state = StateFailed
	e.cfg.Logger.WithError(err).Warn("handshake: failed")
	veilcrypto.Zero(e.localPriv[:])
	veilcrypto.Zero(e.shared[:])
}

// verifyEnvelope checks the HMAC and timestamp tolerance of a received
// envelope, bumping the matching counter on failure. On success it
// returns the envelope's payload and the full raw envelope bytes (for
// transcript accumulation).
func (e *Engine) verifyEnvelope(wantStage packetcodec.HandshakeStage, raw []byte) (payload, envelope []byte, ok bool) {
	msgType, timestamp, payload, parseOK := parseEnvelope(raw, e.cfg.PSK[:])
	if !parseOK {
		e.hmacFailures++
		e.cfg.Logger.Warn("handshake: dropped envelope with bad HMAC")
		return nil, nil, false
	}
	if msgType != byte(wantStage) {
		e.invalidMessages++
		e.cfg.Logger.WithFields(logrus.Fields{"want": wantStage, "got": msgType}).Warn("handshake: dropped envelope with unexpected stage")
		return nil, nil, false
	}

	now := uint64(e.clk.Now().Unix())
	var skew uint64
	if now > timestamp {
		skew = now - timestamp
	} else {
		skew = timestamp - now
	}
	if skew > uint64(e.cfg.TimestampTolerance.Seconds()) {
		e.timestampDrops++
		e.cfg.Logger.WithField("skew_seconds", skew).Warn("handshake: dropped envelope outside timestamp tolerance")
		return nil, nil, false
	}

	return payload, raw, true
}

func (e *Engine) buildEnvelope(stage packetcodec.HandshakeStage, payload []byte) []byte {
	return marshalEnvelope(byte(stage), uint64(e.clk.Now().Unix()), payload, e.cfg.PSK[:])
}

// marshalEnvelope builds the common handshake envelope: 1-byte type,
// 8-byte big-endian Unix timestamp, 2-byte big-endian payload length,
// payload, 32-byte HMAC-SHA256 over everything preceding it.
func marshalEnvelope(msgType byte, timestamp uint64, payload, psk []byte) []byte {
	body := make([]byte, 11+len(payload))
	body[0] = msgType
	binary.BigEndian.PutUint64(body[1:9], timestamp)
	binary.BigEndian.PutUint16(body[9:11], uint16(len(payload)))
	copy(body[11:], payload)

	tag := veilcrypto.HMACSHA256(psk, body)
	return append(body, tag...)
}

// parseEnvelope validates and decodes a handshake envelope, verifying
// its HMAC in constant time.
func parseEnvelope(data, psk []byte) (msgType byte, timestamp uint64, payload []byte, ok bool) {
	const hmacSize = 32
	if len(data) < 11+hmacSize {
		return 0, 0, nil, false
	}
	body := data[:len(data)-hmacSize]
	tag := data[len(data)-hmacSize:]

	payloadLen := int(binary.BigEndian.Uint16(body[9:11]))
	if len(body) != 11+payloadLen {
		return 0, 0, nil, false
	}
	if !veilcrypto.VerifyHMACSHA256(psk, body, tag) {
		return 0, 0, nil, false
	}

	return body[0], binary.BigEndian.Uint64(body[1:9]), body[11:], true
}

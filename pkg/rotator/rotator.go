// Package rotator decides when a session should replace its session id
// and keys, tracking the packet/byte/time budgets that trigger rotation.
package rotator

import (
	"time"

	"github.com/veilnet/veil/internal/clock"
	"github.com/veilnet/veil/internal/veilcrypto"
)

// Config names the three budgets that trigger a rotation: after this
// many packets, this many bytes, or this much wall-clock time, whatever
// comes first.
type Config struct {
	Packets uint64
	Bytes   uint64
	Seconds time.Duration
}

// Rotator generates session ids and tracks the counters a session
// resets on each rotation. Grounded structurally on the teacher's
// peerX25519Key rekey-detection field and its CSPRNG-sourced id
// generation, generalized from "detect the peer rekeyed" into "decide
// when we should rekey" against an explicit budget, which the teacher
// itself does not do.
type Rotator struct {
	cfg Config
	clk clock.Clock

	sessionID        uint64
	packetsSent      uint64
	packetsReceived  uint64
	bytesSent        uint64
	bytesReceived    uint64
	sessionStartTime time.Time
}

// New generates a fresh random session id and starts the counters.
func New(cfg Config, clk clock.Clock) (*Rotator, error) {
	if clk == nil {
		clk = clock.System{}
	}
	id, err := veilcrypto.RandomUint64()
	if err != nil {
		return nil, err
	}
	return &Rotator{
		cfg:              cfg,
		clk:              clk,
		sessionID:        id,
		sessionStartTime: clk.Now(),
	}, nil
}

// SessionID returns the currently active session id.
func (r *Rotator) SessionID() uint64 { return r.sessionID }

// RecordSent accounts for one packet of n bytes sent.
func (r *Rotator) RecordSent(n int) {
	r.packetsSent++
	r.bytesSent += uint64(n)
}

// RecordReceived accounts for one packet of n bytes received.
func (r *Rotator) RecordReceived(n int) {
	r.packetsReceived++
	r.bytesReceived += uint64(n)
}

// ShouldRotate reports whether any configured (non-zero) budget has been
// reached or exceeded.
func (r *Rotator) ShouldRotate() bool {
	if r.cfg.Packets != 0 && r.packetsSent+r.packetsReceived >= r.cfg.Packets {
		return true
	}
	if r.cfg.Bytes != 0 && r.bytesSent+r.bytesReceived >= r.cfg.Bytes {
		return true
	}
	if r.cfg.Seconds != 0 && r.clk.Now().Sub(r.sessionStartTime) >= r.cfg.Seconds {
		return true
	}
	return false
}

// Rotate draws a fresh session id from the CSPRNG, invokes onRotate
// with it, and resets all counters and the session start time.
func (r *Rotator) Rotate(onRotate func(newSessionID uint64)) error {
	id, err := veilcrypto.RandomUint64()
	if err != nil {
		return err
	}
	r.sessionID = id
	r.packetsSent = 0
	r.packetsReceived = 0
	r.bytesSent = 0
	r.bytesReceived = 0
	r.sessionStartTime = r.clk.Now()

	if onRotate != nil {
		onRotate(id)
	}
	return nil
}

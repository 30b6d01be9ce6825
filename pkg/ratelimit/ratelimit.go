// Package ratelimit implements the dual token-bucket admission control
// a session applies to its own outbound packets: one bucket counting
// packets, one counting bytes, each with its own burst cap.
package ratelimit

import (
	"time"

	"github.com/veilnet/veil/internal/clock"
)

type bucket struct {
	tokens   float64
	capacity float64
	rate     float64 // tokens per second
}

func (b *bucket) refill(elapsed time.Duration) {
	b.tokens += b.rate * elapsed.Seconds()
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
}

// Config describes the packet and byte rates and their burst caps.
type Config struct {
	PacketsPerSecond float64
	BytesPerSecond   float64
	BurstPackets     float64
	BurstBytes       float64
}

// Limiter gates a session's outbound sends with a packet bucket and a
// byte bucket, generalized from the teacher's single per-IP token
// bucket into the pair this protocol's admission rule requires, scoped
// to one session rather than keyed by a map of remote IPs (a VEIL
// session already corresponds to exactly one peer).
type Limiter struct {
	clk      clock.Clock
	packets  bucket
	bytes    bucket
	lastFill time.Time

	// PacketsDropped counts rejected admissions, whichever bucket refused
	// them; the byte volume of rejected sends is not counted.
	PacketsDropped uint64
}

// New constructs a Limiter with both buckets starting full.
func New(cfg Config, clk clock.Clock) *Limiter {
	if clk == nil {
		clk = clock.System{}
	}
	l := &Limiter{
		clk: clk,
		packets: bucket{
			tokens:   cfg.BurstPackets,
			capacity: cfg.BurstPackets,
			rate:     cfg.PacketsPerSecond,
		},
		bytes: bucket{
			tokens:   cfg.BurstBytes,
			capacity: cfg.BurstBytes,
			rate:     cfg.BytesPerSecond,
		},
	}
	l.lastFill = clk.Now()
	return l
}

// Refill adds tokens to both buckets proportional to elapsed time since
// the last refill, capped at each bucket's burst capacity.
func (l *Limiter) Refill() {
	now := l.clk.Now()
	elapsed := now.Sub(l.lastFill)
	l.lastFill = now
	l.packets.refill(elapsed)
	l.bytes.refill(elapsed)
}

// TryConsume admits a send of the given byte length only if at least
// one packet token and enough byte tokens are available, decrementing
// both on admission. Rejections increment PacketsDropped.
func (l *Limiter) TryConsume(numBytes int) bool {
	if l.packets.tokens < 1 || l.bytes.tokens < float64(numBytes) {
		l.PacketsDropped++
		return false
	}
	l.packets.tokens--
	l.bytes.tokens -= float64(numBytes)
	return true
}

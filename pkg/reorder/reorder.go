// Package reorder buffers out-of-order reliable data payloads and
// delivers them to the application in strictly increasing sequence
// order, with a bounded-delay escape hatch for persistent gaps.
package reorder

import (
	"time"

	"github.com/veilnet/veil/internal/clock"
)

type entry struct {
	payload []byte
	arrival time.Time
}

// Config bounds the buffer's memory and the maximum delay before a
// persistent gap is skipped.
type Config struct {
	MaxPackets int
	MaxBytes   int
	MaxDelay   time.Duration
}

// Buffer reassembles data frames into order. NextExpected starts at 1,
// per the protocol's reliable-sequence numbering.
type Buffer struct {
	cfg           Config
	clk           clock.Clock
	nextExpected  uint64
	entries       map[uint64]entry
	bufferedBytes int

	// OnGap is invoked (if non-nil) when Flush skips a persistent gap,
	// reporting the cursor's prior value and the sequence it jumped to.
	OnGap func(from, to uint64)
}

// New constructs a Buffer with nextExpected at 1.
func New(cfg Config, clk clock.Clock) *Buffer {
	if clk == nil {
		clk = clock.System{}
	}
	return &Buffer{
		cfg:          cfg,
		clk:          clk,
		nextExpected: 1,
		entries:      make(map[uint64]entry),
	}
}

// NextExpected returns the cursor's current value.
func (b *Buffer) NextExpected() uint64 { return b.nextExpected }

// Insert buffers a received sequence. It rejects sequences below
// nextExpected, duplicates, and anything that would exceed the
// configured packet or byte caps.
func (b *Buffer) Insert(seq uint64, payload []byte) bool {
	if seq < b.nextExpected {
		return false
	}
	if _, exists := b.entries[seq]; exists {
		return false
	}
	if len(b.entries)+1 > b.cfg.MaxPackets {
		return false
	}
	if b.bufferedBytes+len(payload) > b.cfg.MaxBytes {
		return false
	}

	b.entries[seq] = entry{payload: payload, arrival: b.clk.Now()}
	b.bufferedBytes += len(payload)
	return true
}

// Deliver drains entries starting at nextExpected in order, invoking
// deliver for each, and advances the cursor until the first gap.
func (b *Buffer) Deliver(deliver func(seq uint64, payload []byte)) {
	for {
		e, ok := b.entries[b.nextExpected]
		if !ok {
			return
		}
		deliver(b.nextExpected, e.payload)
		b.remove(b.nextExpected)
		b.nextExpected++
	}
}

// Flush delivers any contiguous head, then — while the oldest buffered
// entry has aged past Config.MaxDelay — skips the gap by delivering it
// anyway and advancing nextExpected past it, continuing to drain any
// run that becomes contiguous as a result.
func (b *Buffer) Flush(deliver func(seq uint64, payload []byte)) {
	b.Deliver(deliver)

	for {
		seq, ok := b.oldestSeq()
		if !ok {
			return
		}
		if b.clk.Now().Sub(b.entries[seq].arrival) < b.cfg.MaxDelay {
			return
		}

		if b.OnGap != nil && seq > b.nextExpected {
			b.OnGap(b.nextExpected, seq)
		}
		b.nextExpected = seq

		b.Deliver(deliver)
	}
}

func (b *Buffer) oldestSeq() (uint64, bool) {
	var (
		found   bool
		oldest  uint64
		oldestT time.Time
	)
	for seq, e := range b.entries {
		if !found || e.arrival.Before(oldestT) {
			found = true
			oldest = seq
			oldestT = e.arrival
		}
	}
	return oldest, found
}

func (b *Buffer) remove(seq uint64) {
	if e, ok := b.entries[seq]; ok {
		b.bufferedBytes -= len(e.payload)
		delete(b.entries, seq)
	}
}

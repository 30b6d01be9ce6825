// Package fragment reassembles multi-part application messages that
// were split into Fragment frames because they exceeded the path MTU.
package fragment

import (
	"time"

	"github.com/veilnet/veil/internal/clock"
)

// Config bounds the assembler's memory and patience.
type Config struct {
	MaxPending      int
	MaxFragments    int
	MaxMessageSize  int
	FragmentTimeout time.Duration
}

type pendingMessage struct {
	total     uint16
	fragments map[uint16][]byte
	firstSeen time.Time
	bytes     int
}

// Assembler collects fragments by message id and reassembles complete
// messages in index order.
type Assembler struct {
	cfg     Config
	clk     clock.Clock
	pending map[uint32]*pendingMessage

	// completed and completedOrder remember recently finished message
	// ids so a stray or duplicate fragment arriving after delivery is
	// rejected rather than silently starting a new message under the
	// same id. completedOrder is a bounded ring: the oldest id is
	// evicted once the set grows past cfg.MaxPending.
	completed      map[uint32]struct{}
	completedOrder []uint32
}

// New constructs an empty Assembler.
func New(cfg Config, clk clock.Clock) *Assembler {
	if clk == nil {
		clk = clock.System{}
	}
	return &Assembler{
		cfg:       cfg,
		clk:       clk,
		pending:   make(map[uint32]*pendingMessage),
		completed: make(map[uint32]struct{}),
	}
}

// markCompleted records messageID as delivered, evicting the oldest
// tombstone once the bounded set is full.
func (a *Assembler) markCompleted(messageID uint32) {
	a.completed[messageID] = struct{}{}
	a.completedOrder = append(a.completedOrder, messageID)
	if len(a.completedOrder) > a.cfg.MaxPending {
		oldest := a.completedOrder[0]
		a.completedOrder = a.completedOrder[1:]
		delete(a.completed, oldest)
	}
}

// Add feeds one fragment into the assembler. It returns
// (payload, true, true) when this fragment completed the message —
// payload is the concatenation of all fragments in ascending index
// order, and the pending entry is removed. It returns (nil, false, true)
// when the fragment was accepted but the message is still incomplete,
// and (nil, false, false) when the fragment is rejected.
func (a *Assembler) Add(messageID uint32, index, total uint16, payload []byte) (out []byte, delivered bool, ok bool) {
	if total == 0 || index >= total {
		return nil, false, false
	}
	if int(total) > a.cfg.MaxFragments {
		return nil, false, false
	}
	if _, done := a.completed[messageID]; done {
		return nil, false, false
	}

	pm, exists := a.pending[messageID]
	if !exists {
		if len(a.pending) >= a.cfg.MaxPending {
			return nil, false, false
		}
		pm = &pendingMessage{
			total:     total,
			fragments: make(map[uint16][]byte),
			firstSeen: a.clk.Now(),
		}
		a.pending[messageID] = pm
	}

	if pm.total != total {
		return nil, false, false
	}
	if _, dup := pm.fragments[index]; dup {
		return nil, false, false
	}
	if pm.bytes+len(payload) > a.cfg.MaxMessageSize {
		return nil, false, false
	}

	pm.fragments[index] = payload
	pm.bytes += len(payload)

	if len(pm.fragments) == int(pm.total) {
		assembled := make([]byte, 0, pm.bytes)
		for i := uint16(0); i < pm.total; i++ {
			assembled = append(assembled, pm.fragments[i]...)
		}
		delete(a.pending, messageID)
		a.markCompleted(messageID)
		return assembled, true, true
	}

	return nil, false, true
}

// CleanupExpired removes pending messages whose first fragment arrived
// longer ago than Config.FragmentTimeout.
func (a *Assembler) CleanupExpired() {
	now := a.clk.Now()
	for id, pm := range a.pending {
		if now.Sub(pm.firstSeen) > a.cfg.FragmentTimeout {
			delete(a.pending, id)
		}
	}
}

// PendingCount reports how many messages are currently being assembled.
func (a *Assembler) PendingCount() int { return len(a.pending) }

package reorder

import (
	"sync"
	"testing"
	"time"
)

// fakeClock is a controllable time source, mirroring the teacher's
// testClock pattern for deterministic time-driven tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Now()}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func defaultConfig() Config {
	return Config{MaxPackets: 64, MaxBytes: 1 << 16, MaxDelay: 100 * time.Millisecond}
}

func TestInsertRejectsBelowNextExpected(t *testing.T) {
	t.Parallel()
	b := New(defaultConfig(), nil)
	var delivered []uint64
	b.Insert(1, []byte("a"))
	b.Deliver(func(seq uint64, _ []byte) { delivered = append(delivered, seq) })

	if b.Insert(1, []byte("dup")) {
		t.Fatal("expected duplicate insert to be rejected")
	}
	if b.Insert(0, []byte("old")) {
		t.Fatal("expected insert below nextExpected to be rejected")
	}
}

func TestDeliverInOrderStopsAtGap(t *testing.T) {
	t.Parallel()
	b := New(defaultConfig(), nil)
	b.Insert(1, []byte("a"))
	b.Insert(2, []byte("b"))
	b.Insert(4, []byte("d")) // gap at 3

	var delivered []uint64
	b.Deliver(func(seq uint64, _ []byte) { delivered = append(delivered, seq) })

	if len(delivered) != 2 || delivered[0] != 1 || delivered[1] != 2 {
		t.Fatalf("expected [1 2], got %v", delivered)
	}
	if b.NextExpected() != 3 {
		t.Fatalf("nextExpected = %d, want 3", b.NextExpected())
	}
}

func TestInsertRejectsOverCaps(t *testing.T) {
	t.Parallel()
	b := New(Config{MaxPackets: 1, MaxBytes: 1 << 16, MaxDelay: time.Second}, nil)
	b.Insert(5, []byte("x"))
	if b.Insert(6, []byte("y")) {
		t.Fatal("expected insert beyond packet cap to be rejected")
	}

	bb := New(Config{MaxPackets: 64, MaxBytes: 2, MaxDelay: time.Second}, nil)
	bb.Insert(5, []byte("xy"))
	if bb.Insert(6, []byte("z")) {
		t.Fatal("expected insert beyond byte cap to be rejected")
	}
}

func TestFlushSkipsPersistentGap(t *testing.T) {
	t.Parallel()
	clk := newFakeClock()
	b := New(defaultConfig(), clk)

	b.Insert(1, []byte("a"))
	var delivered []uint64
	b.Deliver(func(seq uint64, _ []byte) { delivered = append(delivered, seq) })

	// seq 2 never arrives; seq 3 does, held back by the gap at 2.
	b.Insert(3, []byte("c"))

	clk.Advance(50 * time.Millisecond)
	b.Flush(func(seq uint64, _ []byte) { delivered = append(delivered, seq) })
	if b.NextExpected() != 2 {
		t.Fatalf("before max delay elapses, nextExpected should still be 2, got %d", b.NextExpected())
	}

	clk.Advance(60 * time.Millisecond)
	b.Flush(func(seq uint64, _ []byte) { delivered = append(delivered, seq) })

	if b.NextExpected() != 4 {
		t.Fatalf("nextExpected = %d, want 4 after skipping the gap and delivering 3", b.NextExpected())
	}
	if len(delivered) != 2 || delivered[0] != 1 || delivered[1] != 3 {
		t.Fatalf("delivered = %v, want [1 3]", delivered)
	}
}

func TestFlushOnGapCallback(t *testing.T) {
	t.Parallel()
	clk := newFakeClock()
	b := New(defaultConfig(), clk)
	var gapFrom, gapTo uint64
	b.OnGap = func(from, to uint64) { gapFrom, gapTo = from, to }

	b.Insert(5, []byte("e"))
	clk.Advance(200 * time.Millisecond)
	b.Flush(func(uint64, []byte) {})

	if gapFrom != 1 || gapTo != 5 {
		t.Fatalf("OnGap(from=%d, to=%d), want (1, 5)", gapFrom, gapTo)
	}
}

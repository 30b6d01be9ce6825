package ackbitmap

import "testing"

func TestMarkReceivedContiguous(t *testing.T) {
	t.Parallel()
	b := New()
	b.MarkReceived(1)
	b.MarkReceived(2)
	b.MarkReceived(3)
	ack, bitmap := b.Snapshot()
	if ack != 3 || bitmap != 0 {
		t.Fatalf("got ack=%d bitmap=%b, want ack=3 bitmap=0", ack, bitmap)
	}
}

func TestMarkReceivedOutOfOrderThenGapFill(t *testing.T) {
	// Mirrors the literal scenario: receive [1,2,3,5,6,7] then 4.
	t.Parallel()
	b := New()
	for _, s := range []uint64{1, 2, 3, 5, 6, 7} {
		b.MarkReceived(s)
	}
	ack, bitmap := b.Snapshot()
	if ack != 3 {
		t.Fatalf("ack = %d, want 3", ack)
	}
	// seq 5 -> offset 5-3-1=1, seq 6 -> offset 2, seq 7 -> offset 3
	wantBits := uint64((1 << 1) | (1 << 2) | (1 << 3))
	if bitmap != wantBits {
		t.Fatalf("bitmap = %b, want bits 1,2,3 set", bitmap)
	}

	b.MarkReceived(4)
	ack, bitmap = b.Snapshot()
	if ack != 7 || bitmap != 0 {
		t.Fatalf("after filling gap: got ack=%d bitmap=%b, want ack=7 bitmap=0", ack, bitmap)
	}
}

func TestMarkReceivedIgnoresAtOrBelowAck(t *testing.T) {
	t.Parallel()
	b := New()
	b.MarkReceived(1)
	b.MarkReceived(2)
	b.MarkReceived(1) // duplicate, below ack
	b.MarkReceived(2) // duplicate, equal to ack
	ack, bitmap := b.Snapshot()
	if ack != 2 || bitmap != 0 {
		t.Fatalf("duplicates must not perturb state: got ack=%d bitmap=%b", ack, bitmap)
	}
}

func TestMarkReceivedBeyondWindowDropped(t *testing.T) {
	t.Parallel()
	b := New()
	b.MarkReceived(1)
	b.MarkReceived(1 + windowSize + 10) // far beyond the 64-slot window
	ack, bitmap := b.Snapshot()
	if ack != 1 || bitmap != 0 {
		t.Fatalf("sequence beyond the window must be dropped, got ack=%d bitmap=%b", ack, bitmap)
	}
}

func TestProcessPeerAck(t *testing.T) {
	t.Parallel()
	bitmap := uint64(1<<0 | 1<<2)
	acked := ProcessPeerAck(3, bitmap)
	want := map[uint64]bool{1: true, 2: true, 3: true, 4: true, 6: true}
	if len(acked) != len(want) {
		t.Fatalf("got %v, want sequences %v", acked, want)
	}
	for _, s := range acked {
		if !want[s] {
			t.Fatalf("unexpected acked sequence %d", s)
		}
	}
}

func TestProcessPeerAckZero(t *testing.T) {
	t.Parallel()
	acked := ProcessPeerAck(0, 0)
	if len(acked) != 0 {
		t.Fatalf("expected no acked sequences, got %v", acked)
	}
}

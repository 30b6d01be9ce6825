package replaywindow

import "testing"

func TestFirstObservationAccepted(t *testing.T) {
	t.Parallel()
	w := New()
	if !w.Admit(5) {
		t.Fatal("first observation must be admitted")
	}
	if w.Highest() != 5 {
		t.Fatalf("highest = %d, want 5", w.Highest())
	}
}

func TestRejectsExactReplay(t *testing.T) {
	t.Parallel()
	w := New()
	w.Admit(10)
	if w.Admit(10) {
		t.Fatal("exact replay of highest must be rejected")
	}
}

func TestRejectsDuplicateWithinWindow(t *testing.T) {
	t.Parallel()
	w := New()
	w.Admit(1)
	w.Admit(2)
	if w.Admit(1) {
		t.Fatal("duplicate within window must be rejected")
	}
}

func TestRejectsTooOld(t *testing.T) {
	t.Parallel()
	w := New()
	w.Admit(100)
	if w.Admit(100 - windowSize) {
		t.Fatal("counter+windowSize <= highest must be rejected")
	}
	if w.Admit(0) {
		t.Fatal("far-below counter must be rejected")
	}
}

func TestAdmitsGapThenFillsIt(t *testing.T) {
	// Mirrors the literal scenario: observe [1,2,3,5,6,7] then 4.
	t.Parallel()
	w := New()
	for _, c := range []uint64{1, 2, 3, 5, 6, 7} {
		if !w.Admit(c) {
			t.Fatalf("expected %d to be admitted", c)
		}
	}
	if !w.Admit(4) {
		t.Fatal("expected the gap-filling counter 4 to be admitted")
	}
	if w.Admit(4) {
		t.Fatal("4 must not be admitted twice")
	}
}

func TestAdmittedAtMostOnce(t *testing.T) {
	t.Parallel()
	w := New()
	admittedCount := make(map[uint64]int)
	sequence := []uint64{1, 2, 3, 2, 5, 4, 1, 70, 6}
	for _, c := range sequence {
		if w.Admit(c) {
			admittedCount[c]++
		}
	}
	for c, n := range admittedCount {
		if n > 1 {
			t.Fatalf("counter %d admitted %d times", c, n)
		}
	}
}

func TestJumpClearsAgedSlots(t *testing.T) {
	t.Parallel()
	w := New()
	w.Admit(1)
	w.Admit(1000) // jump far beyond the window
	// 1 is now more than windowSize below highest and must be rejected
	// again even though it was never re-admitted.
	if w.Admit(1) {
		t.Fatal("counter aged out by a large jump must not be admitted")
	}
	if !w.Admit(999) {
		t.Fatal("a counter just behind the new highest should still be admissible")
	}
}

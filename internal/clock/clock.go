// Package clock provides the Now() time.Time seam used throughout VEIL's
// time-driven components so tests can drive them deterministically,
// following the testClock pattern used against the teacher's rate
// limiter.
package clock

import "time"

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// System is the default Clock, backed by time.Now.
type System struct{}

// Now returns the current wall-clock time.
func (System) Now() time.Time { return time.Now() }

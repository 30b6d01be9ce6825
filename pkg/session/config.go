package session

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/veilnet/veil/pkg/fragment"
	"github.com/veilnet/veil/pkg/ratelimit"
	"github.com/veilnet/veil/pkg/reorder"
	"github.com/veilnet/veil/pkg/retransmit"
	"github.com/veilnet/veil/pkg/rotator"
)

// State is one stage of a Session's lifecycle.
type State int

const (
	StateDisconnected State = iota
	StateHandshaking
	StateConnected
	StateClosing
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateHandshaking:
		return "handshaking"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Config parameterizes one Session: the bind/peer endpoints, PSK, MTU,
// and the typed configuration of every mux component it owns.
type Config struct {
	Local string // local bind endpoint, "host:port"
	Peer  string // peer endpoint; empty means act as responder

	PSK [32]byte
	MTU int

	// Logger receives Debug/Warn events from the session and every
	// component it owns. Defaults to logrus.StandardLogger() when nil.
	Logger *logrus.Logger

	RateLimit          ratelimit.Config
	Reorder            reorder.Config
	Fragment           fragment.Config
	Retransmit         retransmit.Config
	Rotation           rotator.Config
	HandshakeTolerance time.Duration

	// NagleDelay, when non-zero, coalesces small consecutive Send calls
	// into fewer wire segments the way the teacher's Connection.NagleBuf
	// does. Zero (the default) sends every call as its own frame(s)
	// immediately, which is what every literal scenario in spec.md §8
	// assumes.
	NagleDelay time.Duration

	OnData  func(payload []byte)
	OnState func(s State)
	OnError func(err *VeilError)
	// OnGap fires when the reorder buffer's timeout-flush path skips a
	// persistent gap, reporting the cursor value before and after the
	// jump.
	OnGap func(from, to uint64)
}

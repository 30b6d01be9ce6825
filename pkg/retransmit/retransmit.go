// Package retransmit tracks reliable packets awaiting acknowledgment,
// estimates RTT/RTO per RFC 6298, and drives timeout-based
// retransmission with exponential backoff.
package retransmit

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/veilnet/veil/internal/clock"
)

// Config bounds the manager's memory and its RTO behavior.
type Config struct {
	InitialRTO time.Duration
	MinRTO     time.Duration
	MaxRTO     time.Duration
	MaxRetries int

	MaxUnackedPackets int
	MaxUnackedBytes   int

	// Alpha and Beta are the RFC 6298 smoothing factors (default 0.125
	// and 0.25); zero values fall back to those defaults.
	Alpha float64
	Beta  float64

	// Logger receives Debug events on retransmit and Warn events when
	// a packet is given up on after MaxRetries. Defaults to
	// logrus.StandardLogger() when nil.
	Logger *logrus.Logger
}

func (c Config) alpha() float64 {
	if c.Alpha == 0 {
		return 0.125
	}
	return c.Alpha
}

func (c Config) beta() float64 {
	if c.Beta == 0 {
		return 0.25
	}
	return c.Beta
}

type unackedPacket struct {
	data       []byte
	firstSent  time.Time
	lastSent   time.Time
	retryCount int
}

// Manager keeps an ordered mapping from sequence to unacked packet and
// an RFC 6298 RTT/RTO estimator. Grounded on the teacher's
// Connection.Unacked/TrackSend/ProcessAck/updateRTT fields, narrowed
// from byte-range segments to whole packets keyed by sequence, and
// with the teacher's congestion-window/slow-start machinery dropped —
// admission is the rate limiter's job here, not the retransmission
// manager's.
type Manager struct {
	cfg Config
	clk clock.Clock

	unacked      map[uint64]*unackedPacket
	order        []uint64
	bytesUnacked int

	srtt      time.Duration
	rttvar    time.Duration
	rto       time.Duration
	hasSample bool
}

// New constructs a Manager with the RTO at cfg.InitialRTO until the
// first RTT sample arrives.
func New(cfg Config, clk clock.Clock) *Manager {
	if clk == nil {
		clk = clock.System{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	return &Manager{
		cfg:     cfg,
		clk:     clk,
		unacked: make(map[uint64]*unackedPacket),
		rto:     cfg.InitialRTO,
	}
}

// RTO returns the current retransmission timeout.
func (m *Manager) RTO() time.Duration { return m.rto }

// CanSend reports whether registering a packet of numBytes would stay
// within the unacked packet and byte caps.
func (m *Manager) CanSend(numBytes int) bool {
	return len(m.unacked)+1 <= m.cfg.MaxUnackedPackets &&
		m.bytesUnacked+numBytes <= m.cfg.MaxUnackedBytes
}

// RegisterPacket tracks a newly sent reliable packet. It fails when the
// packet or byte cap would be exceeded, or when seq is already tracked.
func (m *Manager) RegisterPacket(seq uint64, data []byte) bool {
	if _, exists := m.unacked[seq]; exists {
		return false
	}
	if !m.CanSend(len(data)) {
		return false
	}

	now := m.clk.Now()
	m.unacked[seq] = &unackedPacket{data: data, firstSent: now, lastSent: now}
	m.order = append(m.order, seq)
	m.bytesUnacked += len(data)
	return true
}

// AckPacket acknowledges seq. If it was never retransmitted (Karn's
// rule), the elapsed time since it was first sent is fed to the RTT
// estimator. The entry is removed in either case.
func (m *Manager) AckPacket(seq uint64) {
	p, ok := m.unacked[seq]
	if !ok {
		return
	}
	if p.retryCount == 0 {
		m.sampleRTT(m.clk.Now().Sub(p.firstSent))
	}
	m.remove(seq)
}

// ProcessSACK cumulatively acknowledges every sequence <= ack, then
// acknowledges ack+1+i for each set bit i of bitmap.
func (m *Manager) ProcessSACK(ack, bitmap uint64) {
	for _, seq := range m.order {
		if seq <= ack {
			m.AckPacket(seq)
		}
	}
	for i := uint64(0); i < 64; i++ {
		if bitmap&(uint64(1)<<i) != 0 {
			m.AckPacket(ack + 1 + i)
		}
	}
	m.compact()
}

func (m *Manager) remove(seq uint64) {
	p, ok := m.unacked[seq]
	if !ok {
		return
	}
	m.bytesUnacked -= len(p.data)
	delete(m.unacked, seq)
}

// compact drops acknowledged sequences from the order slice.
func (m *Manager) compact() {
	kept := m.order[:0]
	for _, seq := range m.order {
		if _, ok := m.unacked[seq]; ok {
			kept = append(kept, seq)
		}
	}
	m.order = kept
}

func (m *Manager) sampleRTT(sample time.Duration) {
	if !m.hasSample {
		m.srtt = sample
		m.rttvar = sample / 2
		m.hasSample = true
	} else {
		diff := m.srtt - sample
		if diff < 0 {
			diff = -diff
		}
		m.rttvar = time.Duration((1-m.cfg.beta())*float64(m.rttvar) + m.cfg.beta()*float64(diff))
		m.srtt = time.Duration((1-m.cfg.alpha())*float64(m.srtt) + m.cfg.alpha()*float64(sample))
	}
	m.rto = m.srtt + 4*m.rttvar
	m.clampRTO()
}

func (m *Manager) clampRTO() {
	if m.rto < m.cfg.MinRTO {
		m.rto = m.cfg.MinRTO
	}
	if m.rto > m.cfg.MaxRTO {
		m.rto = m.cfg.MaxRTO
	}
}

// RetransmitExpired walks unacked entries whose RTO has elapsed. For
// each: if retryCount >= MaxRetries, it is removed and drop(seq) is
// invoked; otherwise retransmit(seq, data) is invoked, lastSent and
// retryCount advance, and the RTO backs off exponentially (doubling,
// capped at MaxRTO) until the next fresh sample.
func (m *Manager) RetransmitExpired(retransmit func(seq uint64, data []byte), drop func(seq uint64)) {
	now := m.clk.Now()
	for _, seq := range m.order {
		p, ok := m.unacked[seq]
		if !ok {
			continue
		}
		if now.Sub(p.lastSent) < m.rto {
			continue
		}

		if p.retryCount >= m.cfg.MaxRetries {
			m.cfg.Logger.WithField("seq", seq).Warn("retransmit: giving up after max retries")
			m.remove(seq)
			if drop != nil {
				drop(seq)
			}
			continue
		}

		m.cfg.Logger.WithFields(logrus.Fields{"seq": seq, "retry": p.retryCount + 1}).Debug("retransmit: resending expired packet")
		retransmit(seq, p.data)
		p.lastSent = now
		p.retryCount++

		m.rto *= 2
		m.clampRTO()
	}
	m.compact()
}

// Count returns the number of packets currently unacked.
func (m *Manager) Count() int { return len(m.unacked) }

// BytesUnacked returns the current cumulative unacked byte count.
func (m *Manager) BytesUnacked() int { return m.bytesUnacked }

// Package pool provides a sync.Pool-backed byte buffer sized for VEIL's
// maximum wire packet, avoiding a per-read allocation on the hot
// receive path the way the teacher's pool package does for its own
// tunnel frames.
//
// Only the receive-path scratch buffer is pooled here: it is read from
// the socket, parsed, and discarded within a single Process call, so
// its lifetime never outlives the function that borrowed it. Send-path
// packets and reassembled fragment payloads do not share that
// property — retransmission keeps a built packet alive indefinitely
// until acknowledged, and a reassembled message is handed to OnData
// with no bound on how long the caller keeps it — so pooling either
// would risk a buffer being reused while still referenced elsewhere.
package pool

import "sync"

// LargeBufSize covers the maximum configurable MTU (spec.md §6).
const LargeBufSize = 65535

var largePool = sync.Pool{
	New: func() interface{} {
		b := make([]byte, LargeBufSize)
		return &b
	},
}

// GetLarge returns a large (max-MTU) buffer from the pool.
func GetLarge() *[]byte {
	return largePool.Get().(*[]byte)
}

// PutLarge returns a large buffer to the pool.
func PutLarge(b *[]byte) {
	if b == nil || cap(*b) < LargeBufSize {
		return
	}
	*b = (*b)[:LargeBufSize]
	largePool.Put(b)
}

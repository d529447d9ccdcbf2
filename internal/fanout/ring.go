package fanout

import (
	"sync"
	"sync/atomic"
)

// ring is a fixed-capacity multi-producer/single-consumer buffer: every
// upstream connector's read goroutine, the control-plane's WS read
// goroutine (SendDirect) and the hydrator's worker goroutines can all
// publish to the same client concurrently, while the client's writer
// goroutine is the sole consumer. Adapted from the teacher's
// internal/ringbuf.Ring (atomic head/tail, power-of-two capacity), with a
// push-side mutex added since that ring was strictly single-producer and
// this one isn't. Push returning false on a full ring is the
// client-eviction trigger specified for a stalled slow client (spec
// §4.5).
type ring struct {
	buf  []outboundMessage
	mask uint64

	pushMu sync.Mutex
	head   uint64 // next write index, producer-owned under pushMu
	tail   uint64 // next read index, consumer-owned
}

func newRing(capacity int) *ring {
	size := 1
	for size < capacity {
		size <<= 1
	}
	return &ring{buf: make([]outboundMessage, size), mask: uint64(size - 1)}
}

// push attempts to enqueue msg. Returns false if the ring is full — the
// caller must treat this as "client cannot keep up" and evict it rather
// than block (spec §4.5, Testable Property 7). Safe for concurrent
// callers; pop is not, and must stay confined to one consumer goroutine.
func (r *ring) push(msg outboundMessage) bool {
	r.pushMu.Lock()
	defer r.pushMu.Unlock()
	head := r.head
	tail := atomic.LoadUint64(&r.tail)
	if head-tail >= uint64(len(r.buf)) {
		return false
	}
	r.buf[head&r.mask] = msg
	atomic.StoreUint64(&r.head, head+1)
	return true
}

// pop dequeues the oldest message, if any.
func (r *ring) pop() (outboundMessage, bool) {
	tail := atomic.LoadUint64(&r.tail)
	head := atomic.LoadUint64(&r.head)
	if tail >= head {
		return outboundMessage{}, false
	}
	msg := r.buf[tail&r.mask]
	atomic.StoreUint64(&r.tail, tail+1)
	return msg, true
}

func (r *ring) len() int {
	return int(atomic.LoadUint64(&r.head) - atomic.LoadUint64(&r.tail))
}

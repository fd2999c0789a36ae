package sp

import (
	"sync"
	"sync/atomic"
)

// Message is an opaque message container: a variable-length SP header and
// a body, ownership-transferred by default and
// reference-countable when a protocol (PUB) must fan a single body out to
// several pipes without mutation ever becoming visible across subscribers.
type Message struct {
	Header []byte
	Body   []byte

	tag      string
	ttl      int
	refcount *atomic.Int32
	pool     *msgPool
	poolBuf  []byte // backing buffer to return on Release, independent of any Header/Body sub-slicing
}

// NewMessage allocates a Message with the given allocation tag (used for
// leak diagnostics in debug logging) and body. The header starts empty;
// protocols stamp it as needed.
func NewMessage(tag string, body []byte) *Message {
	return &Message{Body: body, tag: tag}
}

// Tag returns the allocation tag supplied to NewMessage, or "" if none.
func (m *Message) Tag() string { return m.tag }

// TTL returns the message's remaining device hop count, or 0 if it has not
// yet passed through a device (see sp.Device, which seeds it from the
// forwarding socket's MAXTTL option on first sight).
func (m *Message) TTL() int { return m.ttl }

// SetTTL records the message's remaining device hop count.
func (m *Message) SetTTL(ttl int) { m.ttl = ttl }

// Clone returns an independent copy of the message (header and body are
// copied, not shared) — used where a protocol must hand the same logical
// message to multiple pipes without risking one pipe's in-place mutation
// becoming visible to another.
func (m *Message) Clone() *Message {
	h := append([]byte(nil), m.Header...)
	b := append([]byte(nil), m.Body...)
	return &Message{Header: h, Body: b, tag: m.tag, ttl: m.ttl}
}

// Shared wraps m in a reference count of n, for broadcast fan-out (PUB/BUS)
// where every recipient must independently release its reference. The n
// returned *Message values share the header and body backing arrays but own
// their struct fields independently; no layer of the engine writes into a
// received buffer in place (protocols that retain header bytes clone them,
// see Rep/Respondent), so the sharing is never observable and fan-out
// never pays for n copies.
func (m *Message) Shared(n int) []*Message {
	rc := &atomic.Int32{}
	rc.Store(int32(n))
	out := make([]*Message, n)
	for i := range out {
		out[i] = &Message{Header: m.Header, Body: m.Body, tag: m.tag, ttl: m.ttl, refcount: rc}
	}
	return out
}

// Release returns m's backing buffer to the size-classed pool once its
// refcount (if any) reaches zero. Safe to call on messages with no refcount.
func (m *Message) Release() {
	if m.refcount != nil {
		if m.refcount.Add(-1) > 0 {
			return
		}
	}
	if m.pool != nil {
		m.pool.put(m.poolBuf)
		m.pool = nil
		m.poolBuf = nil
	}
}

// msgPool recycles body buffers by size class: fixed-size classes
// amortize allocation under
// sustained message throughput without pinning arbitrarily large buffers.
type msgPool struct {
	classes []int
	pools   []sync.Pool
}

var defaultMsgPool = newMsgPool([]int{64, 256, 1024, 4096, 16384, 65536})

func newMsgPool(classes []int) *msgPool {
	p := &msgPool{classes: classes, pools: make([]sync.Pool, len(classes))}
	for i, size := range classes {
		size := size
		p.pools[i].New = func() any { return make([]byte, 0, size) }
	}
	return p
}

func (p *msgPool) get(n int) []byte {
	for i, size := range p.classes {
		if n <= size {
			b := p.pools[i].Get().([]byte)
			return append(b[:0], make([]byte, n)...)
		}
	}
	return make([]byte, n)
}

func (p *msgPool) put(b []byte) {
	c := cap(b)
	for i, size := range p.classes {
		if c == size {
			p.pools[i].Put(b[:0]) //nolint:staticcheck // recycled below cap
			return
		}
	}
}

// AllocPooledFrame gets a size-classed buffer of exactly n bytes from the
// default pool. Stream-framed transports (see streampipe.go) pass this to
// internal/stream.NewSession as the inbound frame allocator, so a connected
// pipe's body buffers cycle through msgPool instead of a fresh make per
// message; the returned buffer must reach a *Message via newPooledMessage
// for Release to recycle it.
func AllocPooledFrame(n int) []byte {
	return defaultMsgPool.get(n)
}

// newPooledMessage builds a Message whose Header/Body are non-overlapping
// sub-slices of frame (the exact buffer AllocPooledFrame produced for it),
// retaining frame itself for recycling on Release regardless of how Header
// and Body end up sliced.
func newPooledMessage(frame []byte, headerLen int) *Message {
	m := &Message{pool: defaultMsgPool, poolBuf: frame}
	if headerLen > 0 && len(frame) >= headerLen {
		m.Header = frame[:headerLen]
		m.Body = frame[headerLen:]
	} else {
		m.Body = frame
	}
	return m
}

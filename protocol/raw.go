// Package protocol implements the conversation-pattern protocols: a shared
// pipe-bookkeeping base ("raw", mirroring nanomsg's XREQ/XSURVEYOR naming)
// plus REQ, SURVEYOR, PAIR, PUB, SUB, PUSH, PULL, REP, RESPONDENT, and BUS
// built on top of it.
package protocol

import (
	"sync"

	sp "github.com/nanoproto/sp"
)

type pipeEntry struct {
	pipe       *sp.Pipe
	sendBucket int
	recvBucket int
	readable   bool
	writable   bool
}

// Raw is the shared pipe-bookkeeping base every protocol embeds. It
// tracks the live pipe set, each pipe's 1..16 send/recv priority bucket,
// and per-pipe edge-triggered readiness, offering priority-ordered,
// round-robin pipe selection that PUSH/PULL/REQ/SURVEYOR build their
// Send/Recv on directly.
type Raw struct {
	mu sync.Mutex

	byID map[uint32]*pipeEntry

	sendBuckets [16][]uint32
	recvBuckets [16][]uint32
	sendRot     [16]int
	recvRot     [16]int
}

// NewRaw creates an empty Raw base.
func NewRaw() *Raw {
	return &Raw{byID: make(map[uint32]*pipeEntry)}
}

// AddPipe registers p into both the send and recv priority buckets.
func (r *Raw) AddPipe(p *sp.Pipe) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sb := clampBucket(p.SendPriority())
	rb := clampBucket(p.RecvPriority())
	r.byID[p.ID()] = &pipeEntry{pipe: p, sendBucket: sb, recvBucket: rb}
	r.sendBuckets[sb] = append(r.sendBuckets[sb], p.ID())
	r.recvBuckets[rb] = append(r.recvBuckets[rb], p.ID())
}

// RemovePipe drops p from all bookkeeping.
func (r *Raw) RemovePipe(p *sp.Pipe) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byID[p.ID()]
	if !ok {
		return
	}
	r.sendBuckets[e.sendBucket] = removeID(r.sendBuckets[e.sendBucket], p.ID())
	r.recvBuckets[e.recvBucket] = removeID(r.recvBuckets[e.recvBucket], p.ID())
	delete(r.byID, p.ID())
}

// PipeReadable and PipeWritable implement sp.PipeNotifier with the default
// behavior (just latch the readiness bit); a protocol needing to react
// immediately (REQ, which matches replies as they arrive and hands a waiting
// request to a newly writable pipe) shadows these with its own method of the
// same name and calls Raw.MarkReadable/MarkWritable explicitly from it.
func (r *Raw) PipeReadable(p *sp.Pipe) { r.MarkReadable(p) }
func (r *Raw) PipeWritable(p *sp.Pipe) { r.MarkWritable(p) }

// MarkReadable records that p has a message available. Idempotent.
func (r *Raw) MarkReadable(p *sp.Pipe) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.byID[p.ID()]; ok {
		e.readable = true
	}
}

// MarkWritable records that p regained send capacity. Idempotent.
func (r *Raw) MarkWritable(p *sp.Pipe) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.byID[p.ID()]; ok {
		e.writable = true
	}
}

// clearReadable/clearWritable are called once a Recv/Send against the pipe
// actually returns EAGAIN, per the Pipe contract: readiness stays latched
// true until that happens.
func (r *Raw) clearReadable(p *sp.Pipe) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.byID[p.ID()]; ok {
		e.readable = false
	}
}

func (r *Raw) clearWritable(p *sp.Pipe) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.byID[p.ID()]; ok {
		e.writable = false
	}
}

// PickWritable returns the next ready-to-write pipe in priority order
// (bucket 0 = priority 1, highest), round-robining within a bucket so no
// single pipe starves its siblings.
func (r *Raw) PickWritable() *sp.Pipe {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pickLocked(r.sendBuckets[:], r.sendRot[:], func(e *pipeEntry) bool { return e.writable })
}

// PickReadable is the Recv-side counterpart of PickWritable.
func (r *Raw) PickReadable() *sp.Pipe {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pickLocked(r.recvBuckets[:], r.recvRot[:], func(e *pipeEntry) bool { return e.readable })
}

func (r *Raw) pickLocked(buckets [][]uint32, rot []int, ready func(*pipeEntry) bool) *sp.Pipe {
	for b := 0; b < len(buckets); b++ {
		ids := buckets[b]
		n := len(ids)
		if n == 0 {
			continue
		}
		for i := 0; i < n; i++ {
			idx := (rot[b] + i) % n
			e := r.byID[ids[idx]]
			if e != nil && ready(e) {
				rot[b] = (idx + 1) % n
				return e.pipe
			}
		}
	}
	return nil
}

// AnyReadable/AnyWritable report overall readiness across every pipe, for a
// protocol's Events() implementation.
func (r *Raw) AnyReadable() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.byID {
		if e.readable {
			return true
		}
	}
	return false
}

func (r *Raw) AnyWritable() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.byID {
		if e.writable {
			return true
		}
	}
	return false
}

// Pipes returns every registered pipe, for broadcast protocols (PUB, BUS,
// SURVEYOR).
func (r *Raw) Pipes() []*sp.Pipe {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*sp.Pipe, 0, len(r.byID))
	for _, e := range r.byID {
		out = append(out, e.pipe)
	}
	return out
}

// Lookup finds a registered pipe by ID, used by REP/RESPONDENT to route a
// reply along a stored backtrace.
func (r *Raw) Lookup(id uint32) (*sp.Pipe, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byID[id]
	if !ok {
		return nil, false
	}
	return e.pipe, true
}

// Count returns the number of registered pipes.
func (r *Raw) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

// RecvFrom pops the next ready message from the highest-priority readable
// pipe, returning the pipe it came from so the caller can inspect routing
// headers (REP's backtrace, REQ/SURVEYOR's request-ID match). A pipe whose
// latch turns out stale (EAGAIN) or that is mid-teardown (EBADF before its
// RemovePipe lands) is skipped in favor of the next ready one; each skip
// clears that pipe's latch, so the loop terminates.
func (r *Raw) RecvFrom() (*sp.Pipe, *sp.Message, error) {
	for {
		p := r.PickReadable()
		if p == nil {
			return nil, nil, errEAGAIN
		}
		msg, err := p.Recv()
		if err != nil {
			r.clearReadable(p)
			continue
		}
		return p, msg, nil
	}
}

// SendTo sends msg on the given pipe p (REP/RESPONDENT routing a reply by
// backtrace, PAIR, the broadcast loops), clearing p's writable latch when
// the send fails; SendAny is the variant that picks the pipe itself.
func (r *Raw) SendTo(p *sp.Pipe, msg *sp.Message) error {
	err := p.Send(msg)
	if err != nil {
		r.clearWritable(p)
	}
	return err
}

// SendAny picks a writable pipe by priority/round-robin and sends on it,
// moving on to the next ready pipe when the chosen one turns out full or
// mid-teardown (its latch clears on the failed attempt, so the loop
// terminates once every candidate has been tried).
func (r *Raw) SendAny(msg *sp.Message) (*sp.Pipe, error) {
	for {
		p := r.PickWritable()
		if p == nil {
			return nil, errEAGAIN
		}
		if err := r.SendTo(p, msg); err != nil {
			continue
		}
		return p, nil
	}
}

// RawSend and RawRecv implement sp.RawRecver directly on the shared base, so
// every protocol embedding *Raw (Req, Surveyor, Pair, Pub, Sub, Push, Pull,
// Rep, Respondent, Bus) picks it up by promotion without writing its own
// pattern-bypassing Send/Recv pair — exactly what device forwarding needs:
// raw message movement independent of whatever conversation semantics the
// two sockets otherwise enforce.
func (r *Raw) RawSend(msg *sp.Message) error {
	_, err := r.SendAny(msg)
	return err
}

func (r *Raw) RawRecv() (*sp.Message, error) {
	_, msg, err := r.RecvFrom()
	return msg, err
}

func clampBucket(prio int) int {
	b := prio - 1
	if b < 0 {
		b = 0
	}
	if b > 15 {
		b = 15
	}
	return b
}

func removeID(ids []uint32, id uint32) []uint32 {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}

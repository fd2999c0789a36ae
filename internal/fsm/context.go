package fsm

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Scheduler is the subset of the worker pool a Context needs: the ability
// to schedule a task for later execution on a worker goroutine. Declared
// here (rather than importing the worker package) to avoid a dependency
// cycle — sp/internal/worker imports sp/internal/fsm, not the reverse.
type Scheduler interface {
	// ScheduleTask arranges for fn to run on a worker goroutine, outside of
	// any context lock, as soon as possible.
	ScheduleTask(fn func())
}

var ctxIDCounter atomic.Uint64

// Context is one synchronization domain: a lock, an incoming/outgoing
// event queue pair, a holds counter, and an on-leave hook.
//
// The lock is a plain sync.Mutex, not a reentrant one: Go offers no
// goroutine-identity primitive to build reentrancy on without runtime
// tricks, so instead every call path is structured so that no goroutine
// ever Enters a context it is already inside. Code running under one
// context that needs to poke an FSM in the same (or another) context
// defers the work — RaiseTo for cross-context events, Scheduler.ScheduleTask
// for callbacks originating outside any handler — rather than nesting
// Enter. Leave then drains this context's incoming queue and invokes
// OnLeave while the lock is held, releases the lock, and only then walks
// the outgoing queue, delivering each event under its destination's own
// lock. A goroutine therefore holds at most one context lock at any
// delivery site, which is the property the outgoing-queue design exists to
// guarantee. See DESIGN.md for the reentrancy decision.
type Context struct {
	id uint64

	mu    sync.Mutex
	depth int

	incoming      []*Event
	incomingSpare []*Event
	outgoing      []*Event
	outgoingSpare []*Event

	holds int
	cond  *sync.Cond

	// OnLeave is invoked once per Leave, while the lock is still held, after
	// the incoming queue has fully drained. Sockets use this to refresh
	// readiness event-FD state.
	OnLeave func()

	Scheduler Scheduler
}

// NewContext creates an empty Context, optionally bound to a Scheduler for
// FSMs that need to arm timers or schedule I/O.
func NewContext(sched Scheduler) *Context {
	c := &Context{id: ctxIDCounter.Add(1), Scheduler: sched}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// ID returns a process-unique identifier for debug logging.
func (c *Context) ID() uint64 { return c.id }

// Enter acquires the context's lock. The caller must not already be inside
// this context on the same call stack (see the type comment); nested entry
// deadlocks by construction rather than silently corrupting the queues.
func (c *Context) Enter() {
	c.mu.Lock()
	c.depth++
}

// Leave is the counterpart of Enter: it drains the incoming queue to empty
// (handlers may enqueue further incoming or outgoing events while
// draining), invokes OnLeave while still locked, then unlocks and delivers
// the captured outgoing queue to each destination context.
func (c *Context) Leave() {
	if c.depth <= 0 {
		panic("fsm: Leave without matching Enter")
	}
	c.depth--

	c.drainIncomingLocked()

	if c.OnLeave != nil {
		c.OnLeave()
	}

	out := c.outgoing
	c.outgoing = c.outgoingSpare[:0]
	c.outgoingSpare = out

	c.mu.Unlock()

	c.deliverOutgoing(out)
}

func (c *Context) drainIncomingLocked() {
	for len(c.incoming) > 0 {
		batch := c.incoming
		c.incoming = c.incomingSpare[:0]
		for _, ev := range batch {
			ev.active = false
			ev.Dest.deliver(c, ev.Src, ev.Type, ev.Arg)
		}
		c.incomingSpare = batch[:0]
	}
}

func (c *Context) deliverOutgoing(events []*Event) {
	for _, ev := range events {
		ev.active = false
		dest := ev.Dest.Context()
		dest.Enter()
		dest.incoming = append(dest.incoming, ev)
		dest.Leave()
	}
}

// Raise enqueues ev to this context's incoming queue; the caller must
// already hold the lock (i.e. be executing inside an Enter/Leave bracket
// for this same context, typically from within a Handler). Events are
// passed by pointer so a preallocated event (e.g. an FSM's stopped event)
// can be reused across raises; re-raising one that is still queued is a
// programmer error.
func (c *Context) Raise(ev *Event) {
	if ev.Dest == nil {
		panic("fsm: Raise with nil destination")
	}
	if ev.active {
		panic(fmt.Sprintf("fsm: event type %d re-raised while still active", ev.Type))
	}
	ev.active = true
	c.incoming = append(c.incoming, ev)
}

// RaiseTo enqueues ev to this context's outgoing queue: ev.Dest belongs to
// a different context, and delivery is deferred until this context's
// Leave.
func (c *Context) RaiseTo(ev *Event) {
	if ev.Dest == nil {
		panic("fsm: RaiseTo with nil destination")
	}
	if ev.active {
		panic(fmt.Sprintf("fsm: event type %d re-raised while still active", ev.Type))
	}
	ev.active = true
	c.outgoing = append(c.outgoing, ev)
}

// Dispatch is a convenience for code outside any FSM handler (typically the
// application thread, or a worker delivering an I/O/timer event) that needs
// to deliver a single event to fsm: it brackets Enter/Raise/Leave.
func (c *Context) Dispatch(fsm *FSM, src Source, eventType int, arg any) {
	c.Enter()
	c.Raise(&Event{Dest: fsm, Src: src, Type: eventType, Arg: arg})
	c.Leave()
}

// Hold increments the outstanding-reference counter that delays teardown.
// Must be called while the context is entered.
func (c *Context) Hold() {
	if c.depth == 0 {
		panic("fsm: Hold called outside Enter/Leave")
	}
	c.holds++
}

// Release decrements the hold counter and wakes any WaitTilReleased waiter
// once it reaches zero. Must be called while the context is entered.
func (c *Context) Release() {
	if c.depth == 0 {
		panic("fsm: Release called outside Enter/Leave")
	}
	if c.holds == 0 {
		panic("fsm: Release without matching Hold")
	}
	c.holds--
	if c.holds == 0 {
		c.cond.Broadcast()
	}
}

// WaitTilReleased blocks until holds reaches zero. Must be called without
// the context entered (it acquires the lock itself). On wake it asserts
// both queues are empty — teardown must never strand queued events.
func (c *Context) WaitTilReleased() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.holds != 0 {
		c.cond.Wait()
	}
	if len(c.incoming) != 0 || len(c.outgoing) != 0 {
		panic("fsm: queues non-empty after holds reached zero")
	}
}

// Holds returns the current outstanding-reference count, for tests and
// assertions.
func (c *Context) Holds() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.holds
}

package fsm

// StateIdle is the sentinel state value every FSM starts and ends in. An
// FSM is idle iff State() == StateIdle.
const StateIdle = 0

// Handler processes one Event delivered to an FSM. It must never block; its
// job is to transition state and enqueue further events via ctx.Raise /
// ctx.RaiseTo. An unexpected (state, event) pair is a programmer error and
// should panic rather than silently ignore the event: every transition is
// total, either handled or explicitly documented as ignorable.
type Handler func(ctx *Context, f *FSM, src Source, eventType int, arg any)

// FSM is one state machine instance: a handler, an optional separate
// shutdown handler, an integer state, parent linkage, and the context that
// serializes delivery to it.
type FSM struct {
	Handler         Handler
	ShutdownHandler Handler
	State           int
	Parent          *FSM
	Owner           any // application object embedding this FSM, for debug/log context

	ctx      *Context
	stopping bool
}

// Stopping reports whether the FSM has begun processing EventStop (and is
// therefore dispatching to ShutdownHandler instead of Handler).
func (f *FSM) Stopping() bool { return f.stopping }

// New creates an FSM bound to ctx, in the idle state.
func New(ctx *Context, h Handler, shutdown Handler) *FSM {
	return &FSM{Handler: h, ShutdownHandler: shutdown, State: StateIdle, ctx: ctx}
}

// Context returns the FSM's owning context.
func (f *FSM) Context() *Context { return f.ctx }

// IsIdle reports whether the FSM is in its sentinel idle state.
func (f *FSM) IsIdle() bool { return f.State == StateIdle }

// deliver invokes the FSM's handler (or shutdown handler, once the FSM has
// been asked to stop and until it reports idle again) for one event. Called
// only from Context.Leave's incoming-queue drain while the owning context's
// lock is held.
func (f *FSM) deliver(ctx *Context, src Source, eventType int, arg any) {
	if eventType == EventStop && f.ShutdownHandler != nil {
		f.stopping = true
	}
	h := f.Handler
	if f.stopping && f.ShutdownHandler != nil {
		h = f.ShutdownHandler
	}
	h(ctx, f, src, eventType, arg)
	if f.stopping && f.IsIdle() {
		f.stopping = false
	}
}

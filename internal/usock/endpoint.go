package usock

import (
	"net"
	"time"

	"github.com/joeycumines/go-catrate"
	"github.com/nanoproto/sp/internal/fsm"
	"github.com/nanoproto/sp/internal/worker"
	"github.com/nanoproto/sp/spcode"
)

// acceptErrorRates throttles repeat EMFILE/ENFILE accept failures instead
// of busy-looping the accept goroutine: at most 5 retries per second, 60
// per minute, per listening Endpoint — go-catrate's multi-window limiting
// applied to the one place in the engine that can otherwise spin a
// goroutine at FD-exhaustion speed.
var acceptErrorRates = map[time.Duration]int{
	time.Second: 5,
	time.Minute: 60,
}

// Dialer abstracts net.Dial for testability and for non-TCP transports
// (Unix domain sockets use the same Endpoint with a "unix" network).
type Dialer func() (net.Conn, error)

// Listener abstracts net.Listen's result.
type Listener interface {
	Accept() (net.Conn, error)
	Close() error
	Addr() net.Addr
}

// ReadinessSink receives the byte-level readiness callbacks an Endpoint
// produces once active: NotifyReadable is called whenever buffered unread
// bytes are available, NotifyWritable whenever the outbound side drained
// enough to accept more. The stream framing session is the usual sink.
type ReadinessSink interface {
	NotifyReadable()
	NotifyWritable()
	// NotifyError reports a fatal I/O error; the endpoint has already begun
	// tearing down the connection.
	NotifyError(err error)
}

// Endpoint is the FSM-driven wrapper around one OS connection. It owns
// exactly one net.Conn (in every state from connecting
// through to done) or, when started as a listener, one net.Listener plus the
// accepted-Endpoint objects it spawns.
type Endpoint struct {
	fsm  *fsm.FSM
	ctx  *fsm.Context
	w    *worker.Worker
	pool *worker.Pool

	mode Mode
	conn net.Conn
	ln   Listener

	sink ReadinessSink

	// readBuf is the 2048-byte batched read buffer, sized to exceed typical
	// MTU so one syscall amortizes several reads' worth of framed messages.
	readBuf    []byte
	readPos    int
	readLen    int
	readBusy   bool
	writeBusy  bool
	pendingOut [][]byte

	exclusiveBind bool
	disableNagle  bool

	onAccepted func(child *Endpoint)
	onStopped  func()
	onError    func(err error)

	// onConnect and onListen are one-shot hooks a transport registers before
	// calling Connect/Listen, fired exactly once with the outcome of that
	// single async attempt (nil on success) — letting a transport's
	// Dial/Listen present an otherwise-async Endpoint as a single
	// request/response to its caller.
	onConnect func(error)
	onListen  func(error)

	dialer Dialer
	listen func() (Listener, error)

	pendingCancelErr error

	acceptLimiter *catrate.Limiter
}

// New creates an idle Endpoint bound to a dedicated worker from pool, with
// Nagle disabled by default for stream sockets.
func New(pool *worker.Pool) *Endpoint {
	w := pool.Next()
	ctx := fsm.NewContext(w)
	e := &Endpoint{
		w:             w,
		pool:          pool,
		readBuf:       make([]byte, 2048),
		disableNagle:  true,
		acceptLimiter: catrate.NewLimiter(acceptErrorRates),
	}
	e.ctx = ctx
	e.fsm = fsm.New(ctx, e.handle, e.handleShutdown)
	return e
}

// SetSink attaches the byte-readiness listener. Must be set before Activate.
func (e *Endpoint) SetSink(sink ReadinessSink) { e.sink = sink }

// Context returns the endpoint's owning context. The framing session enters
// it around every externally-driven call (TrySend/TryRecv) so session and
// endpoint state are serialized with the endpoint's own I/O completions.
func (e *Endpoint) Context() *fsm.Context { return e.ctx }

// Worker returns the worker servicing this endpoint's I/O and timers; the
// framing session arms its handshake deadline on it.
func (e *Endpoint) Worker() *worker.Worker { return e.w }

// OnConnect registers the one-shot callback fired when a Connect-mode
// Endpoint's dial attempt resolves, nil error on success.
func (e *Endpoint) OnConnect(fn func(error)) { e.onConnect = fn }

// OnListen registers the one-shot callback fired when a Listen-mode
// Endpoint's bind attempt resolves, nil error once accepting has started.
func (e *Endpoint) OnListen(fn func(error)) { e.onListen = fn }

// OnError registers a callback for asynchronous post-connect errors (e.g. a
// listener's Accept loop reporting a non-fatal transient error upstream for
// statistics).
func (e *Endpoint) OnError(fn func(error)) { e.onError = fn }

// SetExclusiveBind requests SO_REUSEADDR-equivalent semantics be skipped in
// favor of exclusive-address-use where the platform supports it. The
// actual socket option is applied by the caller's
// net.ListenConfig.Control hook; this flag only documents intent for
// diagnostics.
func (e *Endpoint) SetExclusiveBind(v bool) { e.exclusiveBind = v }

// State returns the current FSM state, one of the State* constants.
func (e *Endpoint) State() int { return e.fsm.State }

// LocalAddr and RemoteAddr return the underlying connection's addresses as
// strings, or "" before a connection exists.
func (e *Endpoint) LocalAddr() string {
	if e.conn == nil {
		return ""
	}
	return e.conn.LocalAddr().String()
}

func (e *Endpoint) RemoteAddr() string {
	if e.conn == nil {
		return ""
	}
	return e.conn.RemoteAddr().String()
}

// Connect starts the endpoint in ModeConnect, dialing asynchronously via the
// worker pool and raising evConnected/evConnectError on completion.
func (e *Endpoint) Connect(dial Dialer) {
	e.mode = ModeConnect
	e.dialer = dial
	e.ctx.Dispatch(e.fsm, fsm.SelfSource, fsm.EventStart, nil)
}

// Listen starts the endpoint as a listener, accepting connections
// continuously until Stop.
func (e *Endpoint) Listen(listen func() (Listener, error), onAccepted func(*Endpoint)) {
	e.mode = ModeListen
	e.listen = listen
	e.onAccepted = onAccepted
	e.ctx.Dispatch(e.fsm, fsm.SelfSource, fsm.EventStart, nil)
}

// adoptAccepted constructs a child Endpoint for one accepted connection:
// the child starts in StateBeingAccepted and transitions to StateAccepted
// the instant it's handed back to the listener's onAccepted callback, at
// which point listener and acceptee are no longer mutually referenced.
func adoptAccepted(pool *worker.Pool, conn net.Conn) *Endpoint {
	child := New(pool)
	child.mode = ModeBeingAccepted
	child.conn = conn
	child.fsm.State = StateBeingAccepted
	return child
}

// Activate transitions an accepted or connected endpoint into StateActive,
// arming the first read. Call once SetSink has been attached.
func (e *Endpoint) Activate() {
	e.ctx.Dispatch(e.fsm, fsm.SelfSource, evActivate, nil)
}

// Stop requests shutdown. Safe to call from any state; idempotent.
func (e *Endpoint) Stop() {
	e.ctx.Dispatch(e.fsm, fsm.SelfSource, fsm.EventStop, nil)
}

// OnStopped registers a callback invoked (via the owning worker) once the
// endpoint reaches StateIdle after Stop.
func (e *Endpoint) OnStopped(fn func()) { e.onStopped = fn }

// Write queues data for output. Returns spcode.EAGAIN if the previous write
// has not yet completed (one write op in flight at a time); the caller
// should retry once NotifyWritable fires.
func (e *Endpoint) Write(data []byte) error {
	if e.fsm.State != StateActive {
		return spcode.New(spcode.EBADF)
	}
	if e.writeBusy {
		return spcode.New(spcode.EAGAIN)
	}
	e.writeBusy = true
	buf := append([]byte(nil), data...)
	e.w.ArmWrite(e.conn, buf, func(n int, err error) {
		e.onWriteDone(n, err)
	})
	return nil
}

// Read drains up to len(p) already-buffered bytes without blocking. Returns
// (0, spcode.EAGAIN) if nothing is buffered; the caller waits for
// NotifyReadable.
func (e *Endpoint) Read(p []byte) (int, error) {
	if e.readPos >= e.readLen {
		return 0, spcode.New(spcode.EAGAIN)
	}
	n := copy(p, e.readBuf[e.readPos:e.readLen])
	e.readPos += n
	if e.readPos >= e.readLen && !e.readBusy && e.fsm.State == StateActive {
		e.armRead()
	}
	return n, nil
}

func (e *Endpoint) armRead() {
	e.readBusy = true
	e.readPos = 0
	e.readLen = 0
	e.w.ArmRead(e.conn, e.readBuf, func(n int, err error) {
		e.onReadDone(n, err)
	})
}

func (e *Endpoint) onReadDone(n int, err error) {
	e.ctx.Enter()
	defer e.ctx.Leave()
	e.readBusy = false
	if err != nil {
		e.ctx.Raise(&fsm.Event{Dest: e.fsm, Src: fsm.SelfSource, Type: evIOError, Arg: err})
		return
	}
	e.readLen = n
	e.readPos = 0
	e.ctx.Raise(&fsm.Event{Dest: e.fsm, Src: fsm.SelfSource, Type: evReadable})
}

func (e *Endpoint) onWriteDone(n int, err error) {
	e.ctx.Enter()
	defer e.ctx.Leave()
	e.writeBusy = false
	if err != nil {
		e.ctx.Raise(&fsm.Event{Dest: e.fsm, Src: fsm.SelfSource, Type: evIOError, Arg: err})
		return
	}
	e.ctx.Raise(&fsm.Event{Dest: e.fsm, Src: fsm.SelfSource, Type: evWritable})
}

func (e *Endpoint) handle(ctx *fsm.Context, f *fsm.FSM, src fsm.Source, eventType int, arg any) {
	switch f.State {
	case StateIdle:
		e.handleIdle(f, eventType, arg)
	case StateConnecting:
		e.handleConnecting(f, eventType, arg)
	case StateListening, StateAccepting:
		e.handleListening(f, eventType, arg)
	case StateBeingAccepted:
		e.handleBeingAccepted(f, eventType, arg)
	case StateAccepted, StateActive:
		e.handleActive(f, eventType, arg)
	case StateCancellingIO:
		e.handleCancellingIO(f, eventType, arg)
	default:
		panic("usock: unreachable state/event pair")
	}
}

func (e *Endpoint) handleIdle(f *fsm.FSM, eventType int, arg any) {
	switch eventType {
	case fsm.EventStart:
		switch e.mode {
		case ModeConnect:
			f.State = StateConnecting
			e.w.ArmDial(e.dialer, func(conn net.Conn, err error) {
				e.onDialDone(conn, err)
			})
		case ModeListen:
			f.State = StateListening
			e.startListening()
		}
	case evReadable, evWritable, evIOError, evConnectError, evAcceptError:
		// Stragglers from I/O armed before Stop completed; the FD is already
		// closed and their payload is meaningless.
		e.readBusy = false
		e.writeBusy = false
	case evConnected:
		// A dial that resolved after Stop; nothing owns this conn anymore.
		if e.conn != nil {
			_ = e.conn.Close()
			e.conn = nil
		}
	case evAccepted:
		if conn, ok := arg.(net.Conn); ok {
			_ = conn.Close()
		}
	default:
		panic("usock: unreachable state/event pair")
	}
}

func (e *Endpoint) onDialDone(conn net.Conn, err error) {
	e.ctx.Enter()
	defer e.ctx.Leave()
	if err != nil {
		e.ctx.Raise(&fsm.Event{Dest: e.fsm, Src: fsm.SelfSource, Type: evConnectError, Arg: err})
		return
	}
	e.conn = conn
	e.ctx.Raise(&fsm.Event{Dest: e.fsm, Src: fsm.SelfSource, Type: evConnected})
}

func (e *Endpoint) handleConnecting(f *fsm.FSM, eventType int, arg any) {
	switch eventType {
	case evConnected:
		f.State = StateAccepted // reuse "connected, not yet active" label
		e.applySocketPolicies()
		if e.onConnect != nil {
			e.onConnect(nil)
		}
	case evConnectError:
		f.State = StateIdle
		if e.onError != nil {
			e.onError(arg.(error))
		}
		if e.onConnect != nil {
			e.onConnect(arg.(error))
		}
	case evActivate:
		f.State = StateActive
		e.armRead()
	default:
		panic("usock: unreachable state/event pair")
	}
}

func (e *Endpoint) applySocketPolicies() {
	if tc, ok := e.conn.(*net.TCPConn); ok && e.disableNagle {
		_ = tc.SetNoDelay(true)
	}
}

func (e *Endpoint) startListening() {
	ln, err := e.listen()
	if err != nil {
		e.fsm.State = StateIdle
		if e.onError != nil {
			e.onError(err)
		}
		if e.onListen != nil {
			e.onListen(err)
		}
		return
	}
	e.ln = ln
	e.fsm.State = StateAccepting
	e.armAccept()
	if e.onListen != nil {
		e.onListen(nil)
	}
}

func (e *Endpoint) armAccept() {
	e.w.ArmAccept(e.ln, func(conn net.Conn, err error) {
		e.onAcceptDone(conn, err)
	})
}

func (e *Endpoint) onAcceptDone(conn net.Conn, err error) {
	e.ctx.Enter()
	defer e.ctx.Leave()
	if err != nil {
		e.ctx.Raise(&fsm.Event{Dest: e.fsm, Src: fsm.SelfSource, Type: evAcceptError, Arg: err})
		return
	}
	e.ctx.Raise(&fsm.Event{Dest: e.fsm, Src: fsm.SelfSource, Type: evAccepted, Arg: conn})
}

func (e *Endpoint) handleListening(f *fsm.FSM, eventType int, arg any) {
	switch eventType {
	case evAccepted:
		conn := arg.(net.Conn)
		if tc, ok := conn.(*net.TCPConn); ok && e.disableNagle {
			_ = tc.SetNoDelay(true)
		}
		if e.onAccepted != nil {
			e.onAccepted(adoptAccepted(e.pool, conn))
		}
		e.armAccept()
	case evAcceptError:
		// Transient accept errors keep listening rather than terminating the
		// loop; EMFILE/ENFILE (FD exhaustion) is throttled via acceptLimiter
		// so a sustained exhaustion doesn't busy-loop the accept goroutine.
		// A closed listener surfaces here as a permanent error from
		// Listener.Accept and is reported the same way, but since Stop()
		// closes e.ln first, handleShutdown has already moved the FSM out
		// of StateListening/StateAccepting by the time that error arrives.
		err := arg.(error)
		if e.onError != nil {
			e.onError(err)
		}
		if code, ok := spcode.Classify(err); ok && (code == spcode.EMFILE || code == spcode.ENFILE) {
			if next, allowed := e.acceptLimiter.Allow("accept-error"); !allowed {
				delay := time.Until(next)
				w := e.w
				w.AddTimer(delay, func() {
					e.ctx.Enter()
					if f.State == StateAccepting {
						e.armAccept()
					}
					e.ctx.Leave()
				}, nil)
				return
			}
		}
		e.armAccept()
	default:
		panic("usock: unreachable state/event pair")
	}
}

func (e *Endpoint) handleBeingAccepted(f *fsm.FSM, eventType int, arg any) {
	switch eventType {
	case evActivate:
		f.State = StateActive
		e.applySocketPolicies()
		e.armRead()
	default:
		panic("usock: unreachable state/event pair")
	}
}

func (e *Endpoint) handleActive(f *fsm.FSM, eventType int, arg any) {
	switch eventType {
	case evActivate:
		f.State = StateActive
		e.armRead()
	case evReadable:
		if e.sink != nil {
			e.sink.NotifyReadable()
		}
	case evWritable:
		if e.sink != nil {
			e.sink.NotifyWritable()
		}
	case evIOError:
		f.State = StateCancellingIO
		e.beginCancelIO(arg.(error))
	default:
		panic("usock: unreachable state/event pair")
	}
}

// beginCancelIO starts draining in-flight ops before the FD closes: with
// any I/O outstanding, the FSM parks in StateCancellingIO and waits for
// every pending op to drain before closing the FD and reporting the
// error.
func (e *Endpoint) beginCancelIO(cause error) {
	if !e.readBusy && !e.writeBusy {
		e.finishCancelIO(cause)
		return
	}
	e.pendingCancelErr = cause
}

func (e *Endpoint) handleCancellingIO(f *fsm.FSM, eventType int, arg any) {
	switch eventType {
	case evReadable, evWritable:
		// An in-flight op completed normally while we were cancelling; drop
		// its payload and check whether we can now finish tearing down.
		if !e.readBusy && !e.writeBusy {
			e.finishCancelIO(e.pendingCancelErr)
		}
	case evIOError:
		if !e.readBusy && !e.writeBusy {
			e.finishCancelIO(arg.(error))
		}
	default:
		panic("usock: unreachable state/event pair")
	}
}

func (e *Endpoint) finishCancelIO(cause error) {
	e.fsm.State = StateDone
	_ = e.conn.Close()
	if e.sink != nil {
		e.sink.NotifyError(cause)
	}
	if e.onError != nil {
		e.onError(cause)
	}
}

func (e *Endpoint) handleShutdown(ctx *fsm.Context, f *fsm.FSM, src fsm.Source, eventType int, arg any) {
	switch eventType {
	case fsm.EventStop:
		switch f.State {
		case StateListening, StateAccepting:
			if e.ln != nil {
				_ = e.ln.Close()
			}
			f.State = StateIdle
		case StateActive, StateAccepted, StateCancellingIO:
			if e.conn != nil {
				_ = e.conn.Close()
			}
			f.State = StateIdle
		default:
			f.State = StateIdle
		}
		if e.onStopped != nil {
			e.onStopped()
		}
	default:
		// Late-arriving I/O completions after Stop are expected and ignored;
		// the FD is already closed so their payload is meaningless.
	}
}

package sp

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nanoproto/sp/internal/evfd"
	"github.com/nanoproto/sp/internal/fsm"
	"github.com/nanoproto/sp/internal/worker"
	"github.com/nanoproto/sp/spcode"
	"github.com/nanoproto/sp/splog"
)

// Socket lifecycle states: created, live, draining endpoints, draining
// holds, torn down.
const (
	socketInit = iota
	socketActive
	socketStoppingEPs
	socketStopping
	socketFini
)

// EndpointMode distinguishes a bound (listening) endpoint from a connecting
// one.
type EndpointMode int

const (
	EndpointDial EndpointMode = iota
	EndpointListen
)

// endpoint is the socket-core-level bookkeeping record for one AddEndpoint
// call; the per-connection byte-stream lifecycle detail lives one layer
// down in internal/usock.Endpoint, driven by the
// transport's TransportDialer/TransportListener implementation.
type endpoint struct {
	id     uint32
	mode   EndpointMode
	addr   string
	scheme string

	dialer   TransportDialer
	listener TransportListener

	cancel context.CancelFunc

	// broken is signalled (non-blocking, capacity 1) whenever adoptPipe's
	// pipe for this endpoint closes — from a remote disconnect, a local I/O
	// error, or the shutdown sequence closing live pipes. Shutdown cancels
	// ctx before closing them, and runDialLoop checks ctx before acting on
	// broken, so that case never redials. runDialLoop uses it to redial
	// instead of sitting blocked on a now-dead connection forever.
	broken chan struct{}

	stopping bool
}

var epIDCounter atomic.Uint32

// Socket is the socket core: it composes a Protocol with a set of
// endpoints and their pipes, presenting blocking send/recv with timeouts,
// options, and statistics.
type Socket struct {
	ctx     *fsm.Context
	fsm     *fsm.FSM
	pool    *worker.Pool
	ownPool bool

	proto     Protocol
	protoInfo ProtocolInfo

	opts  options
	stats Stats

	sendReady *evfd.EventFD
	recvReady *evfd.EventFD

	mu              sync.Mutex
	state           int
	active          map[uint32]*endpoint
	shuttingDown    map[uint32]*endpoint
	pipes           map[uint32]*Pipe
	epShutdownBegun bool

	closeCh chan struct{}

	log *splog.Logger
}

// SocketOption configures a Socket at construction time, following the
// same `With<Name>(...) Option` functional-options convention logiface uses
// (e.g. logiface.WithLevel) rather than a mutable config struct.
type SocketOption func(*Socket)

// WithLogger attaches a structured logger; every endpoint lifecycle
// transition and shutdown step logs through it. Defaults to
// splog.NewDiscard() when not supplied.
func WithLogger(l *splog.Logger) SocketOption {
	return func(s *Socket) { s.log = l }
}

// WithPool runs the socket's context on an application-supplied worker pool
// instead of a dedicated one-worker pool, for applications that construct
// many sockets and want to share reactor threads across them. Endpoints are
// not affected: the tcp, ipc and ws transports run theirs on their own
// package-level pools.
func WithPool(p *worker.Pool) SocketOption {
	return func(s *Socket) { s.pool = p }
}

// NewSocket constructs a Socket around proto, in socketActive state, with a
// dedicated one-worker pool by default (a socket's contexts are low-volume
// enough that a shared application-wide pool is an optimization left to
// callers via WithPool).
func NewSocket(proto Protocol, info ProtocolInfo, opts ...SocketOption) (*Socket, error) {
	if Terminated() {
		return nil, spcode.New(spcode.ETERM)
	}
	s0 := &Socket{log: splog.NewDiscard()}
	for _, opt := range opts {
		opt(s0)
	}
	pool := s0.pool
	ownPool := pool == nil
	if ownPool {
		pool = worker.NewPool(1)
	}
	ctx := fsm.NewContext(pool.Next())

	sendReady, err := evfd.New()
	if err != nil {
		return nil, err
	}
	recvReady, err := evfd.New()
	if err != nil {
		_ = sendReady.Close()
		return nil, err
	}

	s := &Socket{
		pool:         pool,
		ownPool:      ownPool,
		proto:        proto,
		protoInfo:    info,
		opts:         defaultOptions(),
		sendReady:    sendReady,
		recvReady:    recvReady,
		active:       make(map[uint32]*endpoint),
		shuttingDown: make(map[uint32]*endpoint),
		pipes:        make(map[uint32]*Pipe),
		closeCh:      make(chan struct{}),
		state:        socketActive,
		log:          s0.log,
	}
	s.ctx = ctx
	s.ctx.OnLeave = s.onLeave
	s.fsm = fsm.New(ctx, s.handle, s.handleShutdown)

	if cb, ok := proto.(ContextBinder); ok {
		cb.BindContext(ctx, pool)
	}
	return s, nil
}

// scheduleInCtx runs fn under the socket's context on its worker. Pipe
// readiness callbacks originate on whatever goroutine completed the I/O —
// often while that goroutine is inside a different context (the sending
// socket's, an endpoint's) — so delivery into this socket's protocol is
// always deferred through the worker rather than entered inline: the
// protocol's state only ever mutates under this context's lock, and no
// goroutine ever holds two context locks at once. This is the same
// batching discipline the context's outgoing queue applies to cross-context
// events, carried by the worker's task queue instead.
func (s *Socket) scheduleInCtx(fn func()) {
	s.ctx.Scheduler.ScheduleTask(func() {
		s.ctx.Enter()
		fn()
		s.ctx.Leave()
	})
}

// protoNotifier adapts the protocol as a PipeNotifier with every callback
// rerouted through scheduleInCtx. Leaving the context after each delivery
// runs onLeave, which refreshes the readiness event FDs — that is what
// wakes an application goroutine blocked in Send/Recv when a message
// arrives or capacity returns.
type protoNotifier struct{ s *Socket }

func (n *protoNotifier) PipeReadable(p *Pipe) {
	n.s.scheduleInCtx(func() { n.s.proto.PipeReadable(p) })
}

func (n *protoNotifier) PipeWritable(p *Pipe) {
	n.s.scheduleInCtx(func() { n.s.proto.PipeWritable(p) })
}

// onLeave polls the protocol for {IN?, OUT?} and signals/unsignals the
// readiness event FDs accordingly. Invoked by fsm.Context
// while the socket's lock is still held, so it never races a concurrent
// Send/Recv.
func (s *Socket) onLeave() {
	ev := s.proto.Events()
	if ev.Out {
		s.sendReady.Signal()
	} else {
		s.sendReady.Unsignal()
	}
	if ev.In {
		s.recvReady.Signal()
	} else {
		s.recvReady.Unsignal()
	}
}

func (s *Socket) handle(ctx *fsm.Context, f *fsm.FSM, src fsm.Source, eventType int, arg any) {
	// The socket's own FSM only models the shutdown sequence; everyday
	// Send/Recv/AddEndpoint calls operate directly under ctx.Enter/Leave
	// without going through fsm events; stays idle otherwise.
}

// handleShutdown drives the four-step shutdown sequence: wake blocked
// callers, stop endpoints, stop the protocol, post the termination signal.
func (s *Socket) handleShutdown(ctx *fsm.Context, f *fsm.FSM, src fsm.Source, eventType int, arg any) {
	if eventType != fsm.EventStop {
		return
	}
	s.log.Debug().Str(`socket`, s.String()).Log(`shutdown started`)
	// Step 1: close the event FDs so blocked callers wake with EBADF.
	_ = s.sendReady.Close()
	_ = s.recvReady.Close()

	// Step 2: move every active endpoint to shutting-down and signal stop.
	s.mu.Lock()
	s.epShutdownBegun = true
	for id, ep := range s.active {
		ep.stopping = true
		s.shuttingDown[id] = ep
		delete(s.active, id)
		if ep.cancel != nil {
			ep.cancel()
		}
	}
	remaining := len(s.shuttingDown)

	pipes := make([]*Pipe, 0, len(s.pipes))
	for _, p := range s.pipes {
		pipes = append(pipes, p)
	}
	s.mu.Unlock()

	// Cancelling an endpoint's context stops its dial/accept loop but
	// doesn't by itself tear down a connection already handed to the
	// protocol; close every live pipe explicitly so the underlying
	// connections close and onPipeClosed drops each from the protocol's
	// bookkeeping before Stop/Close run on it below.
	for _, p := range pipes {
		_ = p.Close()
	}

	if remaining == 0 {
		s.finishProtocolShutdown()
		return
	}
	// endpointStopped (called by each endpoint's goroutine as it exits)
	// drives the remaining steps once the last one reports in.
}

// endpointStopped is called once an endpoint's dial/accept loop has fully
// exited after cancellation — from RemoveEndpoint as well as from the full
// shutdown sequence, so it only advances shutdown once handleShutdown has
// actually begun it.
func (s *Socket) endpointStopped(id uint32) {
	s.mu.Lock()
	delete(s.shuttingDown, id)
	remaining := len(s.shuttingDown)
	begun := s.epShutdownBegun
	s.mu.Unlock()

	if begun && remaining == 0 {
		s.finishProtocolShutdown()
	}
}

// Step 3 + 4: ask the protocol to stop, then destroy it and post the
// termination semaphore. Idempotent: handleShutdown's zero-endpoint fast
// path and a racing last endpointStopped may both reach here.
func (s *Socket) finishProtocolShutdown() {
	s.mu.Lock()
	if s.state == socketFini {
		s.mu.Unlock()
		return
	}
	s.state = socketFini
	s.mu.Unlock()

	s.proto.Stop()
	s.proto.Close()
	close(s.closeCh)
	s.log.Debug().Str(`socket`, s.String()).Log(`shutdown complete`)
}

// AddEndpoint allocates an endpoint, starts it, and returns its 31-bit ID.
func (s *Socket) AddEndpoint(mode EndpointMode, rawurl string) (uint32, error) {
	u, err := url.Parse(rawurl)
	if err != nil {
		return 0, spcode.Wrap("add_ep", spcode.EINVAL, err)
	}
	t, ok := lookupTransport(u.Scheme)
	if !ok {
		return 0, spcode.New(spcode.ENOTSUP)
	}

	id := epIDCounter.Add(1) & 0x7fffffff
	ep := &endpoint{id: id, mode: mode, addr: rawurl, scheme: u.Scheme, broken: make(chan struct{}, 1)}

	addrPart := u.Scheme + "://" + u.Host + u.Path
	info := s.protoInfo
	info.RecvMaxSize = s.optionsSnapshot().recvMaxSize
	switch mode {
	case EndpointDial:
		d, err := t.NewDialer(addrPart, info)
		if err != nil {
			return 0, err
		}
		ep.dialer = d
	case EndpointListen:
		l, err := t.NewListener(addrPart, info)
		if err != nil {
			return 0, err
		}
		if err := l.Listen(); err != nil {
			s.stats.BindErrors.Add(1)
			return 0, err
		}
		ep.listener = l
	}

	cctx, cancel := context.WithCancel(context.Background())
	ep.cancel = cancel

	s.mu.Lock()
	s.active[id] = ep
	s.mu.Unlock()

	switch mode {
	case EndpointDial:
		go s.runDialLoop(cctx, ep)
	case EndpointListen:
		go s.runAcceptLoop(cctx, ep)
	}

	s.log.Info().Str(`addr`, rawurl).Int(`id`, int(id)).Log(`endpoint added`)
	return id, nil
}

// RemoveEndpoint moves ep from active to shutting-down and signals it to
// stop.
func (s *Socket) RemoveEndpoint(id uint32) error {
	s.mu.Lock()
	ep, ok := s.active[id]
	if !ok {
		s.mu.Unlock()
		return spcode.New(spcode.EINVAL)
	}
	ep.stopping = true
	delete(s.active, id)
	s.shuttingDown[id] = ep
	s.mu.Unlock()

	if ep.cancel != nil {
		ep.cancel()
	}
	return nil
}

// runDialLoop repeatedly dials with exponential backoff between
// RECONNECT_IVL and RECONNECT_IVL_MAX until cctx is cancelled. Each
// successful dial's
// PipeConn becomes a Pipe handed to the protocol under the socket's lock;
// a pipe that later breaks re-enters this loop.
func (s *Socket) runDialLoop(cctx context.Context, ep *endpoint) {
	defer s.endpointStopped(ep.id)

	opts := s.optionsSnapshot()
	ivl := opts.reconnectIvl
	for {
		select {
		case <-cctx.Done():
			return
		default:
		}

		s.stats.InProgressConnections.Add(1)
		conn, err := ep.dialer.Dial(cctx)
		s.stats.InProgressConnections.Add(-1)
		if err != nil {
			s.stats.ConnectErrors.Add(1)
			s.log.Debug().Str(`addr`, ep.addr).Err(err).Log(`dial failed`)
			select {
			case <-cctx.Done():
				return
			case <-time.After(backoffDelay(ivl, opts.reconnectIvlMax)):
			}
			ivl = nextBackoff(ivl, opts.reconnectIvl, opts.reconnectIvlMax)
			continue
		}

		ivl = opts.reconnectIvl

		s.stats.EstablishedConnections.Add(1)
		s.log.Debug().Str(`addr`, ep.addr).Log(`connection established`)
		s.adoptPipe(ep, conn)

		select {
		case <-cctx.Done():
			return
		case <-ep.broken:
			// Connection died after being established; redial with backoff,
			// same as a failed dial attempt — unless this
			// breakage was itself caused by shutdown cancelling cctx, in
			// which case prefer exiting over a spurious reconnect race.
			select {
			case <-cctx.Done():
				return
			default:
			}
		}
	}
}

func backoffDelay(ivl, max time.Duration) time.Duration {
	if ivl <= 0 {
		return 100 * time.Millisecond
	}
	if max > 0 && ivl > max {
		return max
	}
	return ivl
}

// nextBackoff doubles the reconnect interval up to max. A max at or below
// the initial interval
// (including the default 0) disables the doubling, matching RECONNECT_IVL_MAX
// semantics: exponential backoff only engages when a cap above the base
// interval is configured.
func nextBackoff(ivl, base, max time.Duration) time.Duration {
	if max <= base {
		return base
	}
	ivl *= 2
	if ivl > max {
		return max
	}
	return ivl
}

// runAcceptLoop accepts connections continuously until cctx is cancelled.
func (s *Socket) runAcceptLoop(cctx context.Context, ep *endpoint) {
	defer func() {
		_ = ep.listener.Close()
		s.endpointStopped(ep.id)
	}()

	for {
		conn, err := ep.listener.Accept(cctx)
		if err != nil {
			select {
			case <-cctx.Done():
				return
			default:
			}
			s.stats.AcceptErrors.Add(1)
			s.log.Debug().Str(`addr`, ep.addr).Err(err).Log(`accept failed`)
			continue
		}
		s.stats.AcceptedConnections.Add(1)
		s.log.Debug().Str(`addr`, ep.addr).Log(`connection accepted`)
		s.adoptPipe(ep, conn)
	}
}

// adoptPipe wraps conn as a Pipe and hands it to the protocol, under the
// socket's context lock.
func (s *Socket) adoptPipe(ep *endpoint, conn PipeConn) {
	opts := s.optionsSnapshot()
	p := NewPipe(conn, opts.sendPriority, opts.recvPriority)
	p.SetProtocolNumbers(int(s.protoInfo.Self), 0)

	s.ctx.Enter()
	err := s.proto.AddPipe(p)
	s.ctx.Leave()
	if err != nil {
		s.stats.DroppedConnections.Add(1)
		s.log.Debug().Err(err).Log(`pipe rejected by protocol`)
		_ = p.Close()
		return
	}
	p.SetNotifier(&protoNotifier{s: s})
	p.SetCloseCallback(func() { s.onPipeClosed(ep, p) })

	s.mu.Lock()
	s.pipes[p.ID()] = p
	s.mu.Unlock()

	s.stats.CurrentConnections.Add(1)
	s.stats.CurrentSendPriority.Store(int64(p.SendPriority()))
	s.stats.CurrentRecvPriority.Store(int64(p.RecvPriority()))

	// A freshly adopted pipe's outbound side is empty, hence writable; the
	// underlying connection only reports OUT edges on full->empty
	// transitions, so the initial edge is injected here.
	p.NotifyWritable()
}

// onPipeClosed drops p from the protocol's bookkeeping and updates
// statistics once its underlying connection has gone away. For a
// connecting endpoint it also wakes
// runDialLoop so reconnection begins after the configured backoff.
func (s *Socket) onPipeClosed(ep *endpoint, p *Pipe) {
	// Deferred, not entered inline: this callback fires from arbitrary
	// goroutines — including the socket's own shutdown handler, which is
	// already inside this context when it closes each live pipe.
	s.scheduleInCtx(func() { s.proto.RemovePipe(p) })

	s.mu.Lock()
	delete(s.pipes, p.ID())
	s.mu.Unlock()

	s.stats.CurrentConnections.Add(-1)
	s.stats.BrokenConnections.Add(1)
	s.log.Debug().Str(`addr`, ep.addr).Log(`connection broken`)

	if ep.mode == EndpointDial {
		select {
		case ep.broken <- struct{}{}:
		default:
		}
	}
}

// acquire takes a hold on the socket's context for the duration of one
// application-visible call: holds may only be taken while the socket is
// live, and Close's teardown waits until every outstanding call has
// released.
func (s *Socket) acquire() error {
	s.ctx.Enter()
	defer s.ctx.Leave()
	if s.closed() {
		return spcode.New(spcode.EBADF)
	}
	s.ctx.Hold()
	return nil
}

func (s *Socket) release() {
	s.ctx.Enter()
	s.ctx.Release()
	s.ctx.Leave()
}

// Send submits one message, blocking up to SNDTIMEO for send readiness.
func (s *Socket) Send(msg *Message, nonBlocking bool) error {
	if err := s.acquire(); err != nil {
		return err
	}
	defer s.release()

	deadline := s.sendDeadline()
	for {
		s.ctx.Enter()
		if s.closed() {
			s.ctx.Leave()
			return spcode.New(spcode.EBADF)
		}
		err := s.proto.Send(msg)
		s.ctx.Leave()

		if err == nil {
			s.stats.MessagesSent.Add(1)
			s.stats.BytesSent.Add(uint64(len(msg.Header) + len(msg.Body)))
			return nil
		}
		if !spcode.Is(err, spcode.EAGAIN) {
			return err
		}
		if nonBlocking {
			return err
		}

		waitErr := s.waitReady(s.sendReady, deadline)
		if waitErr != nil {
			return waitErr
		}
	}
}

// Recv is symmetric with Send.
func (s *Socket) Recv(nonBlocking bool) (*Message, error) {
	if err := s.acquire(); err != nil {
		return nil, err
	}
	defer s.release()

	deadline := s.recvDeadline()
	for {
		s.ctx.Enter()
		if s.closed() {
			s.ctx.Leave()
			return nil, spcode.New(spcode.EBADF)
		}
		msg, err := s.proto.Recv()
		s.ctx.Leave()

		if err == nil {
			s.stats.MessagesReceived.Add(1)
			s.stats.BytesReceived.Add(uint64(len(msg.Header) + len(msg.Body)))
			return msg, nil
		}
		if !spcode.Is(err, spcode.EAGAIN) {
			return nil, err
		}
		if nonBlocking {
			return nil, err
		}

		waitErr := s.waitReady(s.recvReady, deadline)
		if waitErr != nil {
			return nil, waitErr
		}
	}
}

// RawSend and RawRecv bypass the protocol's conversation pattern entirely,
// calling straight through to its RawRecver implementation (the SP_RAW
// domain). Device forwarding (Device, below) is built on these; a
// protocol that doesn't implement RawRecver reports ENOTSUP.
func (s *Socket) RawSend(msg *Message, nonBlocking bool) error {
	rr, ok := s.proto.(RawRecver)
	if !ok {
		return spcode.New(spcode.ENOTSUP)
	}
	if err := s.acquire(); err != nil {
		return err
	}
	defer s.release()
	deadline := s.sendDeadline()
	for {
		s.ctx.Enter()
		if s.closed() {
			s.ctx.Leave()
			return spcode.New(spcode.EBADF)
		}
		err := rr.RawSend(msg)
		s.ctx.Leave()

		if err == nil {
			s.stats.MessagesSent.Add(1)
			s.stats.BytesSent.Add(uint64(len(msg.Header) + len(msg.Body)))
			return nil
		}
		if !spcode.Is(err, spcode.EAGAIN) {
			return err
		}
		if nonBlocking {
			return err
		}
		if waitErr := s.waitReady(s.sendReady, deadline); waitErr != nil {
			return waitErr
		}
	}
}

func (s *Socket) RawRecv(nonBlocking bool) (*Message, error) {
	rr, ok := s.proto.(RawRecver)
	if !ok {
		return nil, spcode.New(spcode.ENOTSUP)
	}
	if err := s.acquire(); err != nil {
		return nil, err
	}
	defer s.release()
	deadline := s.recvDeadline()
	for {
		s.ctx.Enter()
		if s.closed() {
			s.ctx.Leave()
			return nil, spcode.New(spcode.EBADF)
		}
		msg, err := rr.RawRecv()
		s.ctx.Leave()

		if err == nil {
			s.stats.MessagesReceived.Add(1)
			s.stats.BytesReceived.Add(uint64(len(msg.Header) + len(msg.Body)))
			return msg, nil
		}
		if !spcode.Is(err, spcode.EAGAIN) {
			return nil, err
		}
		if nonBlocking {
			return nil, err
		}
		if waitErr := s.waitReady(s.recvReady, deadline); waitErr != nil {
			return nil, waitErr
		}
	}
}

func (s *Socket) closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == socketFini || s.state == socketStopping
}

// optionsSnapshot copies the option block under the context lock; option
// values are only ever written by SetOption inside the same bracket, so
// loops and helper goroutines read through this instead of touching s.opts
// bare.
func (s *Socket) optionsSnapshot() options {
	s.ctx.Enter()
	defer s.ctx.Leave()
	return s.opts
}

func (s *Socket) sendDeadline() time.Time {
	timeout := s.optionsSnapshot().sendTimeout
	if timeout < 0 {
		return time.Time{}
	}
	return time.Now().Add(timeout)
}

func (s *Socket) recvDeadline() time.Time {
	timeout := s.optionsSnapshot().recvTimeout
	if timeout < 0 {
		return time.Time{}
	}
	return time.Now().Add(timeout)
}

func (s *Socket) waitReady(fd *evfd.EventFD, deadline time.Time) error {
	var timeout time.Duration = -1
	if !deadline.IsZero() {
		timeout = time.Until(deadline)
		if timeout <= 0 {
			return spcode.New(spcode.ETIMEDOUT)
		}
	}
	err := fd.Wait(timeout)
	if err == nil {
		return nil
	}
	if spcode.Is(err, spcode.ETIMEDOUT) {
		return spcode.New(spcode.ETIMEDOUT)
	}
	return spcode.New(spcode.EBADF)
}

// Stats returns the socket's live statistics block.
func (s *Socket) Stats() *Stats { return &s.stats }

// ProtocolInfo returns the wire identity of the protocol this socket was
// constructed with (see Protocol.Info), used by Device to tell which side
// of a request/reply or survey/respond raw pairing a socket represents.
func (s *Socket) ProtocolInfo() ProtocolInfo { return s.protoInfo }

// GetStatistic looks up one named counter or gauge.
func (s *Socket) GetStatistic(name string) (uint64, error) {
	v, ok := s.stats.Get(name)
	if !ok {
		return 0, spcode.New(spcode.EINVAL)
	}
	return v, nil
}

// Close begins the shutdown sequence and blocks until it completes or
// LINGER expires.
func (s *Socket) Close() error {
	linger := s.optionsSnapshot().linger

	s.mu.Lock()
	if s.state == socketFini || s.state == socketStopping {
		s.mu.Unlock()
		<-s.closeCh
		return nil
	}
	s.state = socketStopping
	s.mu.Unlock()

	s.ctx.Dispatch(s.fsm, fsm.SelfSource, fsm.EventStop, nil)

	if linger <= 0 {
		<-s.closeCh
	} else {
		select {
		case <-s.closeCh:
		case <-time.After(linger):
		}
	}

	// Teardown blocks until every outstanding application call has released
	// its hold; the closed event FDs wake each blocked caller with EBADF
	// within one poll slice.
	s.ctx.WaitTilReleased()

	if s.ownPool {
		s.pool.Close()
	}
	return nil
}

// String implements fmt.Stringer for logging, using SOCKET_NAME if set.
func (s *Socket) String() string {
	s.mu.Lock()
	name := s.opts.socketName
	s.mu.Unlock()
	if name != "" {
		return name
	}
	return fmt.Sprintf("socket(%s)", s.protoInfo.SelfName)
}

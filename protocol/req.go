package protocol

import (
	"math/rand"
	"time"

	sp "github.com/nanoproto/sp"
	"github.com/nanoproto/sp/internal/fsm"
	"github.com/nanoproto/sp/internal/wire"
	"github.com/nanoproto/sp/internal/worker"
)

// REQ request lifecycle states. Timer cancellation is synchronous here, so
// there are no separate cancelling/finalizing-round-trip states; both
// resolve inline at their call sites.
const (
	reqReadyToRequest = iota
	reqWaitingForPipe
	reqRequestInFlight
	reqReplyArrived
	reqStopping
)

const defaultResendIvl = 60 * time.Second

// Req implements the REQ (request/reply client) protocol.
type Req struct {
	*Raw

	ctx *fsm.Context
	w   *worker.Worker

	state     int
	currentID uint32
	resendIvl time.Duration
	request   *sp.Message
	reply     *sp.Message
	via       *sp.Pipe
	timer     *worker.Timer
}

// NewReq constructs a Req with a randomized initial request-ID counter.
func NewReq() *Req {
	return &Req{
		Raw:       NewRaw(),
		state:     reqReadyToRequest,
		currentID: rand.Uint32(),
		resendIvl: defaultResendIvl,
	}
}

// BindContext implements sp.ContextBinder.
func (q *Req) BindContext(ctx *fsm.Context, pool *worker.Pool) {
	q.ctx = ctx
	q.w = pool.Next()
}

func nextID(x uint32) uint32 { return (x + 1) | 0x80000000 }

// Info implements sp.Protocol.
func (q *Req) Info() sp.ProtocolInfo {
	return sp.ProtocolInfo{Self: 0x30, SelfName: "req", Peer: 0x31, PeerName: "rep", HeaderLen: 4}
}

// AddPipe implements sp.Protocol.
func (q *Req) AddPipe(p *sp.Pipe) error {
	q.Raw.AddPipe(p)
	return nil
}

// RemovePipe implements sp.Protocol. If the outstanding request was in
// flight on p, it reverts to waiting for a pipe so the next writable one
// picks the request up.
func (q *Req) RemovePipe(p *sp.Pipe) {
	q.Raw.RemovePipe(p)
	if q.via == p {
		q.via = nil
		if q.state == reqRequestInFlight {
			q.cancelTimer()
			q.state = reqWaitingForPipe
		}
	}
}

// PipeWritable shadows Raw's default: a newly writable pipe may let a
// stalled request go out.
func (q *Req) PipeWritable(p *sp.Pipe) {
	q.Raw.MarkWritable(p)
	if q.state == reqWaitingForPipe && q.request != nil {
		q.trySend(p)
	}
}

// PipeReadable shadows Raw's default to perform reply matching directly
// against the raw base as messages arrive.
func (q *Req) PipeReadable(p *sp.Pipe) {
	q.Raw.MarkReadable(p)
	for {
		pp, msg, err := q.RecvFrom()
		if err != nil {
			return
		}
		q.handleInbound(pp, msg)
	}
}

func (q *Req) handleInbound(from *sp.Pipe, msg *sp.Message) {
	if q.state != reqRequestInFlight || len(msg.Header) != 4 {
		msg.Release() // dropped: no request in progress, or malformed header
		return
	}
	id := wire.Uint32(msg.Header)
	if id&0x80000000 == 0 || id != q.currentID {
		msg.Release() // not the final hop, or doesn't match the outstanding request
		return
	}
	q.cancelTimer()
	msg.Header = nil
	q.reply = msg
	q.request = nil
	q.via = nil
	q.state = reqReplyArrived
}

// Send implements sp.Protocol. REQ always accepts a new request
// immediately (Events reports OUT unconditionally); any previously
// outstanding request is abandoned.
func (q *Req) Send(msg *sp.Message) error {
	if q.request != nil || q.state == reqReplyArrived {
		q.cancelTimer()
		q.reply = nil
	}
	q.currentID = nextID(q.currentID)
	header := make([]byte, 4)
	wire.PutUint32(header, q.currentID)
	msg.Header = header
	q.request = msg
	q.via = nil
	q.state = reqWaitingForPipe
	if p := q.PickWritable(); p != nil {
		q.trySend(p)
	}
	return nil
}

func (q *Req) trySend(p *sp.Pipe) {
	// The retained request must survive for retransmission, but sending
	// transfers ownership (the inproc transport hands the peer the very same
	// object, and REP strips its header in place), so each attempt sends a
	// copy.
	if err := q.SendTo(p, q.request.Clone()); err != nil {
		q.state = reqWaitingForPipe
		return
	}
	q.via = p
	q.state = reqRequestInFlight
	q.armResendTimer()
}

func (q *Req) armResendTimer() {
	if q.w == nil {
		return
	}
	q.timer = q.w.AddTimer(q.resendIvl, func() {
		q.ctx.Enter()
		q.onResendTimeout()
		q.ctx.Leave()
	}, nil)
}

func (q *Req) cancelTimer() {
	if q.timer != nil && q.w != nil {
		q.w.CancelTimer(q.timer)
		q.timer = nil
	}
}

func (q *Req) onResendTimeout() {
	if q.state != reqRequestInFlight || q.request == nil {
		return
	}
	q.via = nil
	q.state = reqWaitingForPipe
	if p := q.PickWritable(); p != nil {
		q.trySend(p)
	}
}

// Recv implements sp.Protocol.
func (q *Req) Recv() (*sp.Message, error) {
	if q.state != reqReplyArrived {
		return nil, errEAGAIN
	}
	reply := q.reply
	q.reply = nil
	q.state = reqReadyToRequest
	return reply, nil
}

// Events implements sp.Protocol.
func (q *Req) Events() sp.PipeEvents {
	return sp.PipeEvents{In: q.state == reqReplyArrived, Out: true}
}

// SetOption implements sp.Protocol.
func (q *Req) SetOption(name string, value any) error {
	if name != "RESEND_IVL" {
		return errENOPROTOOPT
	}
	d, ok := value.(time.Duration)
	if !ok {
		return errEINVAL
	}
	q.resendIvl = d
	return nil
}

// GetOption implements sp.Protocol.
func (q *Req) GetOption(name string) (any, error) {
	if name == "RESEND_IVL" {
		return q.resendIvl, nil
	}
	return nil, errENOPROTOOPT
}

// Stop implements sp.Protocol.
func (q *Req) Stop() {
	q.cancelTimer()
	q.state = reqStopping
}

// Close implements sp.Protocol.
func (q *Req) Close() {}

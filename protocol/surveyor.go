package protocol

import (
	"math/rand"
	"time"

	sp "github.com/nanoproto/sp"
	"github.com/nanoproto/sp/internal/fsm"
	"github.com/nanoproto/sp/internal/wire"
	"github.com/nanoproto/sp/internal/worker"
)

// SURVEYOR survey lifecycle states. There is no separate stopping-timer
// state: internal/worker cancels timers synchronously, so deadline teardown
// resolves inline.
const (
	survPassive = iota
	survActive
	survStopping
)

const defaultDeadline = 1 * time.Second

// Surveyor implements the SURVEYOR (multicast query, bounded deadline)
// protocol.
type Surveyor struct {
	*Raw

	ctx *fsm.Context
	w   *worker.Worker

	state     int
	currentID uint32
	deadline  time.Duration
	timedOut  bool
	timer     *worker.Timer
}

// NewSurveyor constructs a Surveyor with a randomized survey-ID counter.
func NewSurveyor() *Surveyor {
	return &Surveyor{
		Raw:       NewRaw(),
		state:     survPassive,
		currentID: rand.Uint32(),
		deadline:  defaultDeadline,
	}
}

// BindContext implements sp.ContextBinder.
func (s *Surveyor) BindContext(ctx *fsm.Context, pool *worker.Pool) {
	s.ctx = ctx
	s.w = pool.Next()
}

// Info implements sp.Protocol.
func (s *Surveyor) Info() sp.ProtocolInfo {
	return sp.ProtocolInfo{Self: 0x32, SelfName: "surveyor", Peer: 0x33, PeerName: "respondent", HeaderLen: 4}
}

// AddPipe implements sp.Protocol.
func (s *Surveyor) AddPipe(p *sp.Pipe) error {
	s.Raw.AddPipe(p)
	return nil
}

// Send implements sp.Protocol: PASSIVE broadcasts a new survey; ACTIVE
// either starts a fresh survey (if the raw base can currently send at all)
// or reports EAGAIN without changing state.
func (s *Surveyor) Send(msg *sp.Message) error {
	if s.state == survActive {
		if !s.Raw.AnyWritable() {
			return errEAGAIN
		}
		s.cancelTimer()
	}
	s.currentID = nextID(s.currentID)
	header := make([]byte, 4)
	wire.PutUint32(header, s.currentID)
	msg.Header = header

	for _, p := range s.Raw.Pipes() {
		m := msg.Clone()
		m.Header = append([]byte(nil), header...)
		_ = s.Raw.SendTo(p, m)
	}
	msg.Release()

	s.timedOut = false
	s.state = survActive
	s.armDeadline()
	return nil
}

func (s *Surveyor) armDeadline() {
	if s.w == nil {
		return
	}
	s.timer = s.w.AddTimer(s.deadline, func() {
		s.ctx.Enter()
		s.onDeadline()
		s.ctx.Leave()
	}, nil)
}

func (s *Surveyor) cancelTimer() {
	if s.timer != nil && s.w != nil {
		s.w.CancelTimer(s.timer)
		s.timer = nil
	}
}

func (s *Surveyor) onDeadline() {
	if s.state != survActive {
		return
	}
	s.timedOut = true
	s.state = survPassive
}

// Recv implements sp.Protocol: collects responses matching currentID,
// dropping anything else. While a survey is in flight and
// nothing has arrived yet it reports EAGAIN, so the socket core's blocking
// loop waits out the deadline; once the deadline has fired, the first Recv
// reports ETIMEDOUT and clears the flag, and any further Recv without a new
// survey reports EFSM.
func (s *Surveyor) Recv() (*sp.Message, error) {
	for {
		_, msg, err := s.RecvFrom()
		if err != nil {
			break
		}
		if s.state == survActive && len(msg.Header) == 4 && wire.Uint32(msg.Header) == s.currentID {
			msg.Header = nil
			return msg, nil
		}
		// Stale response to a superseded or expired survey.
		msg.Release()
	}
	if s.state == survActive {
		return nil, errEAGAIN
	}
	if s.timedOut {
		s.timedOut = false
		return nil, errETMOUT
	}
	return nil, errEFSM
}

// Events implements sp.Protocol: forces IN when no survey is in progress so
// a blocked receiver wakes to report EFSM/ETIMEDOUT.
func (s *Surveyor) Events() sp.PipeEvents {
	in := s.state != survActive || s.Raw.AnyReadable()
	return sp.PipeEvents{In: in, Out: s.state != survActive || s.Raw.AnyWritable()}
}

// SetOption implements sp.Protocol.
func (s *Surveyor) SetOption(name string, value any) error {
	if name != "SURVEY_DEADLINE" {
		return errENOPROTOOPT
	}
	d, ok := value.(time.Duration)
	if !ok {
		return errEINVAL
	}
	s.deadline = d
	return nil
}

// GetOption implements sp.Protocol.
func (s *Surveyor) GetOption(name string) (any, error) {
	if name == "SURVEY_DEADLINE" {
		return s.deadline, nil
	}
	return nil, errENOPROTOOPT
}

// Stop implements sp.Protocol.
func (s *Surveyor) Stop() {
	s.cancelTimer()
	s.state = survStopping
}

// Close implements sp.Protocol.
func (s *Surveyor) Close() {}

package protocol

import sp "github.com/nanoproto/sp"

// Respondent implements the RESPONDENT side of SURVEYOR/RESPONDENT:
// the mirror of Rep, but answering a broadcast survey rather than a
// point-to-point request. Only one survey may be outstanding at a time; a
// late reply to an already-superseded survey is simply dropped by the
// surveyor on arrival (its currentID has moved on).
type Respondent struct {
	*Raw

	via       *sp.Pipe
	backtrace []byte
	pending   bool
}

// NewRespondent constructs a Respondent with no survey outstanding.
func NewRespondent() *Respondent { return &Respondent{Raw: NewRaw()} }

// Info implements sp.Protocol.
func (r *Respondent) Info() sp.ProtocolInfo {
	return sp.ProtocolInfo{Self: 0x33, SelfName: "respondent", Peer: 0x32, PeerName: "surveyor", HeaderLen: 4}
}

// AddPipe implements sp.Protocol.
func (r *Respondent) AddPipe(np *sp.Pipe) error { r.Raw.AddPipe(np); return nil }

// RemovePipe implements sp.Protocol.
func (r *Respondent) RemovePipe(np *sp.Pipe) {
	r.Raw.RemovePipe(np)
	if r.via == np {
		r.via = nil
		r.backtrace = nil
		r.pending = false
	}
}

// Recv implements sp.Protocol: picks up the next survey, recording its
// origin pipe and ID header for the eventual reply. A second Recv before
// the first survey is answered abandons the earlier one.
func (r *Respondent) Recv() (*sp.Message, error) {
	pipe, msg, err := r.RecvFrom()
	if err != nil {
		return nil, err
	}
	r.via = pipe
	// Cloned rather than retained as a slice of msg.Header: msg's backing
	// buffer may be pool-recycled once the caller releases it, well before
	// the eventual reply reuses this backtrace.
	r.backtrace = append([]byte(nil), msg.Header...)
	msg.Header = nil
	r.pending = true
	return msg, nil
}

// Send implements sp.Protocol: answers the outstanding survey along its
// origin pipe. A reply with no outstanding survey (none received yet, the
// last one already answered, or its origin pipe removed) reports EFSM.
func (r *Respondent) Send(msg *sp.Message) error {
	if !r.pending {
		return errEFSM
	}
	msg.Header = r.backtrace
	err := r.SendTo(r.via, msg)
	r.via = nil
	r.backtrace = nil
	r.pending = false
	return err
}

// Events implements sp.Protocol.
func (r *Respondent) Events() sp.PipeEvents {
	return sp.PipeEvents{In: r.Raw.AnyReadable(), Out: r.pending}
}

// SetOption implements sp.Protocol: Respondent has no protocol-level options.
func (r *Respondent) SetOption(string, any) error { return errENOPROTOOPT }

// GetOption implements sp.Protocol.
func (r *Respondent) GetOption(string) (any, error) { return nil, errENOPROTOOPT }

// Stop implements sp.Protocol.
func (r *Respondent) Stop() {}

// Close implements sp.Protocol.
func (r *Respondent) Close() {}

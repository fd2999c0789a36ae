package protocol

import sp "github.com/nanoproto/sp"

// Rep implements the REP (request/reply server) protocol. The
// backtrace is whatever header bytes arrived with the request — a 4-byte
// REQ ID directly, or a longer stack of 4-byte hop IDs once a device has
// forwarded it along — and is echoed back unchanged with the reply, letting
// intermediate devices route the response without Rep understanding the
// stack's contents.
type Rep struct {
	*Raw

	via       *sp.Pipe
	backtrace []byte
	pending   bool
}

// NewRep constructs a Rep with no request outstanding.
func NewRep() *Rep { return &Rep{Raw: NewRaw()} }

// Info implements sp.Protocol.
func (p *Rep) Info() sp.ProtocolInfo {
	return sp.ProtocolInfo{Self: 0x31, SelfName: "rep", Peer: 0x30, PeerName: "req", HeaderLen: 4}
}

// AddPipe implements sp.Protocol.
func (p *Rep) AddPipe(np *sp.Pipe) error { p.Raw.AddPipe(np); return nil }

// RemovePipe implements sp.Protocol: a request whose origin pipe dies is
// abandoned rather than replied to.
func (p *Rep) RemovePipe(np *sp.Pipe) {
	p.Raw.RemovePipe(np)
	if p.via == np {
		p.via = nil
		p.backtrace = nil
		p.pending = false
	}
}

// Recv implements sp.Protocol: only one request may be outstanding at a
// time; a second Recv before the first is answered abandons the earlier
// request (its backtrace is discarded and it can no longer be replied to),
// matching the "abandoned round-trips are silently discarded" policy on the
// REQ side.
func (p *Rep) Recv() (*sp.Message, error) {
	pipe, msg, err := p.RecvFrom()
	if err != nil {
		return nil, err
	}
	p.via = pipe
	// Cloned rather than retained as a slice of msg.Header: msg's backing
	// buffer may be pool-recycled once the caller releases it, well before
	// the eventual reply reuses this backtrace.
	p.backtrace = append([]byte(nil), msg.Header...)
	msg.Header = nil
	p.pending = true
	return msg, nil
}

// Send implements sp.Protocol: answers the outstanding request along its
// recorded backtrace.
func (p *Rep) Send(msg *sp.Message) error {
	if !p.pending {
		return errEFSM
	}
	msg.Header = p.backtrace
	err := p.SendTo(p.via, msg)
	p.via = nil
	p.backtrace = nil
	p.pending = false
	return err
}

// Events implements sp.Protocol.
func (p *Rep) Events() sp.PipeEvents {
	return sp.PipeEvents{In: p.Raw.AnyReadable(), Out: p.pending}
}

// SetOption implements sp.Protocol: Rep has no protocol-level options.
func (p *Rep) SetOption(string, any) error { return errENOPROTOOPT }

// GetOption implements sp.Protocol.
func (p *Rep) GetOption(string) (any, error) { return nil, errENOPROTOOPT }

// Stop implements sp.Protocol.
func (p *Rep) Stop() {}

// Close implements sp.Protocol.
func (p *Rep) Close() {}

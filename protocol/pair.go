package protocol

import sp "github.com/nanoproto/sp"

// Pair implements the PAIR protocol: strictly one-to-one,
// refusing any second connection once already paired.
type Pair struct {
	*Raw
	peer *sp.Pipe
}

// NewPair constructs an unpaired Pair.
func NewPair() *Pair { return &Pair{Raw: NewRaw()} }

// Info implements sp.Protocol.
func (p *Pair) Info() sp.ProtocolInfo {
	return sp.ProtocolInfo{Self: 0x10, SelfName: "pair", Peer: 0x10, PeerName: "pair"}
}

// AddPipe implements sp.Protocol: rejects a second pipe once paired.
func (p *Pair) AddPipe(np *sp.Pipe) error {
	if p.peer != nil {
		return errEFSM
	}
	p.Raw.AddPipe(np)
	p.peer = np
	return nil
}

// RemovePipe implements sp.Protocol.
func (p *Pair) RemovePipe(np *sp.Pipe) {
	p.Raw.RemovePipe(np)
	if p.peer == np {
		p.peer = nil
	}
}

// Send implements sp.Protocol.
func (p *Pair) Send(msg *sp.Message) error {
	if p.peer == nil {
		return errEAGAIN
	}
	return p.Raw.SendTo(p.peer, msg)
}

// Recv implements sp.Protocol. Goes through the raw base's picker rather
// than the peer pipe directly so the readable latch clears on EAGAIN and
// Events stops reporting IN.
func (p *Pair) Recv() (*sp.Message, error) {
	if p.peer == nil {
		return nil, errEAGAIN
	}
	_, msg, err := p.RecvFrom()
	return msg, err
}

// Events implements sp.Protocol.
func (p *Pair) Events() sp.PipeEvents {
	return sp.PipeEvents{In: p.Raw.AnyReadable(), Out: p.Raw.AnyWritable()}
}

// SetOption implements sp.Protocol: Pair has no protocol-level options.
func (p *Pair) SetOption(string, any) error { return errENOPROTOOPT }

// GetOption implements sp.Protocol.
func (p *Pair) GetOption(string) (any, error) { return nil, errENOPROTOOPT }

// Stop implements sp.Protocol.
func (p *Pair) Stop() {}

// Close implements sp.Protocol.
func (p *Pair) Close() {}

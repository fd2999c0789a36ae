package protocol

import sp "github.com/nanoproto/sp"

// Push implements the PUSH side of a pipeline: load-balances
// sends across ready pipes by priority, via Raw's round-robin picker.
type Push struct {
	*Raw
}

// NewPush constructs a Push.
func NewPush() *Push { return &Push{Raw: NewRaw()} }

// Info implements sp.Protocol.
func (p *Push) Info() sp.ProtocolInfo {
	return sp.ProtocolInfo{Self: 0x50, SelfName: "push", Peer: 0x51, PeerName: "pull"}
}

// AddPipe implements sp.Protocol.
func (p *Push) AddPipe(np *sp.Pipe) error { p.Raw.AddPipe(np); return nil }

// Send implements sp.Protocol.
func (p *Push) Send(msg *sp.Message) error {
	_, err := p.Raw.SendAny(msg)
	return err
}

// Recv implements sp.Protocol: PUSH never receives.
func (p *Push) Recv() (*sp.Message, error) { return nil, errNOTSUP }

// Events implements sp.Protocol.
func (p *Push) Events() sp.PipeEvents { return sp.PipeEvents{Out: p.Raw.AnyWritable()} }

// SetOption implements sp.Protocol: Push has no protocol-level options.
func (p *Push) SetOption(string, any) error { return errENOPROTOOPT }

// GetOption implements sp.Protocol.
func (p *Push) GetOption(string) (any, error) { return nil, errENOPROTOOPT }

// Stop implements sp.Protocol.
func (p *Push) Stop() {}

// Close implements sp.Protocol.
func (p *Push) Close() {}

// Pull implements the PULL side: fair-queues across ready pipes by
// priority.
type Pull struct {
	*Raw
}

// NewPull constructs a Pull.
func NewPull() *Pull { return &Pull{Raw: NewRaw()} }

// Info implements sp.Protocol.
func (p *Pull) Info() sp.ProtocolInfo {
	return sp.ProtocolInfo{Self: 0x51, SelfName: "pull", Peer: 0x50, PeerName: "push"}
}

// AddPipe implements sp.Protocol.
func (p *Pull) AddPipe(np *sp.Pipe) error { p.Raw.AddPipe(np); return nil }

// Send implements sp.Protocol: PULL never sends.
func (p *Pull) Send(*sp.Message) error { return errNOTSUP }

// Recv implements sp.Protocol.
func (p *Pull) Recv() (*sp.Message, error) {
	_, msg, err := p.RecvFrom()
	return msg, err
}

// Events implements sp.Protocol.
func (p *Pull) Events() sp.PipeEvents { return sp.PipeEvents{In: p.Raw.AnyReadable()} }

// SetOption implements sp.Protocol: Pull has no protocol-level options.
func (p *Pull) SetOption(string, any) error { return errENOPROTOOPT }

// GetOption implements sp.Protocol.
func (p *Pull) GetOption(string) (any, error) { return nil, errENOPROTOOPT }

// Stop implements sp.Protocol.
func (p *Pull) Stop() {}

// Close implements sp.Protocol.
func (p *Pull) Close() {}

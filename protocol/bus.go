package protocol

import sp "github.com/nanoproto/sp"

// Bus implements the BUS protocol: an undirected mesh where
// Send broadcasts to every connected pipe and Recv returns whatever arrives
// from any of them, with no request/reply pairing. A pipe that reports
// EAGAIN on a broadcast just drops that one copy rather than failing the
// whole Send, matching PUB's fan-out behavior.
type Bus struct {
	*Raw
}

// NewBus constructs an empty Bus.
func NewBus() *Bus { return &Bus{Raw: NewRaw()} }

// Info implements sp.Protocol.
func (b *Bus) Info() sp.ProtocolInfo {
	return sp.ProtocolInfo{Self: 0x70, SelfName: "bus", Peer: 0x70, PeerName: "bus"}
}

// AddPipe implements sp.Protocol.
func (b *Bus) AddPipe(np *sp.Pipe) error { b.Raw.AddPipe(np); return nil }

// Send implements sp.Protocol: an application Send has no originating pipe,
// so it broadcasts to every pipe (SendExcept with nothing to skip).
func (b *Bus) Send(msg *sp.Message) error {
	return b.SendExcept(nil, msg)
}

// SendExcept broadcasts msg to every pipe other than from, so a message
// relayed from one peer is not echoed back to it. Device forwarding does not
// go through it: Device moves messages with RawSend, which sends each one on
// a single pipe.
func (b *Bus) SendExcept(from *sp.Pipe, msg *sp.Message) error {
	pipes := b.Raw.Pipes()
	n := len(pipes)
	if from != nil {
		n--
	}
	if n <= 0 {
		msg.Release()
		return nil
	}
	shared := msg.Shared(n)
	i := 0
	for _, pp := range pipes {
		if pp == from {
			continue
		}
		if err := b.Raw.SendTo(pp, shared[i]); err != nil {
			shared[i].Release()
		}
		i++
	}
	return nil
}

// Recv implements sp.Protocol.
func (b *Bus) Recv() (*sp.Message, error) {
	_, msg, err := b.RecvFrom()
	return msg, err
}

// Events implements sp.Protocol.
func (b *Bus) Events() sp.PipeEvents {
	return sp.PipeEvents{In: b.Raw.AnyReadable(), Out: true}
}

// SetOption implements sp.Protocol: Bus has no protocol-level options.
func (b *Bus) SetOption(string, any) error { return errENOPROTOOPT }

// GetOption implements sp.Protocol.
func (b *Bus) GetOption(string) (any, error) { return nil, errENOPROTOOPT }

// Stop implements sp.Protocol.
func (b *Bus) Stop() {}

// Close implements sp.Protocol.
func (b *Bus) Close() {}

package protocol

import sp "github.com/nanoproto/sp"

// RawSocket is the SP_RAW-domain protocol: it does no request/reply/survey
// pattern matching of its own — Send/Recv pass straight through to the
// shared Raw base's RawSend/RawRecv — so a device can forward messages
// between two sockets without either side's conversation-pattern state
// interfering.
// self/peer are reported as-is so the transport handshake still checks
// protocol compatibility the same way a cooked socket would.
type RawSocket struct {
	*Raw
	info sp.ProtocolInfo
}

// NewRawSocket constructs a RawSocket reporting the given wire identity.
func NewRawSocket(info sp.ProtocolInfo) *RawSocket {
	return &RawSocket{Raw: NewRaw(), info: info}
}

// Info implements sp.Protocol.
func (r *RawSocket) Info() sp.ProtocolInfo { return r.info }

// AddPipe implements sp.Protocol.
func (r *RawSocket) AddPipe(np *sp.Pipe) error { r.Raw.AddPipe(np); return nil }

// Send implements sp.Protocol via RawSend.
func (r *RawSocket) Send(msg *sp.Message) error { return r.RawSend(msg) }

// Recv implements sp.Protocol via RawRecv.
func (r *RawSocket) Recv() (*sp.Message, error) { return r.RawRecv() }

// Events implements sp.Protocol.
func (r *RawSocket) Events() sp.PipeEvents {
	return sp.PipeEvents{In: r.Raw.AnyReadable(), Out: r.Raw.AnyWritable()}
}

// SetOption implements sp.Protocol: RawSocket has no protocol-level options.
func (r *RawSocket) SetOption(string, any) error { return errENOPROTOOPT }

// GetOption implements sp.Protocol.
func (r *RawSocket) GetOption(string) (any, error) { return nil, errENOPROTOOPT }

// Stop implements sp.Protocol.
func (r *RawSocket) Stop() {}

// Close implements sp.Protocol.
func (r *RawSocket) Close() {}

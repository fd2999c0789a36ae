package protocol

import (
	"bytes"

	sp "github.com/nanoproto/sp"
)

// Pub implements the PUB side of PUB/SUB: broadcasts every sent
// message to all subscribers, reference-counted rather than cloned so
// fan-out to N pipes costs one allocation, not N (see sp.Message.Shared).
type Pub struct {
	*Raw
}

// NewPub constructs a Pub.
func NewPub() *Pub { return &Pub{Raw: NewRaw()} }

// Info implements sp.Protocol.
func (p *Pub) Info() sp.ProtocolInfo {
	return sp.ProtocolInfo{Self: 0x20, SelfName: "pub", Peer: 0x21, PeerName: "sub"}
}

// AddPipe implements sp.Protocol.
func (p *Pub) AddPipe(np *sp.Pipe) error { p.Raw.AddPipe(np); return nil }

// Send implements sp.Protocol: broadcasts to every connected subscriber.
// PUB always accepts (matching nanomsg's "fire and forget" semantics for
// this side) and Send always returns nil, also when no pipe is attached;
// a pipe that isn't currently writable simply drops its copy, and no
// statistic counts these drops.
func (p *Pub) Send(msg *sp.Message) error {
	pipes := p.Raw.Pipes()
	if len(pipes) == 0 {
		msg.Release()
		return nil
	}
	shared := msg.Shared(len(pipes))
	for i, pp := range pipes {
		if err := p.Raw.SendTo(pp, shared[i]); err != nil {
			shared[i].Release()
		}
	}
	return nil
}

// Recv implements sp.Protocol: PUB never receives application payloads.
func (p *Pub) Recv() (*sp.Message, error) { return nil, errNOTSUP }

// Events implements sp.Protocol.
func (p *Pub) Events() sp.PipeEvents { return sp.PipeEvents{Out: true} }

// SetOption implements sp.Protocol: Pub has no protocol-level options.
func (p *Pub) SetOption(string, any) error { return errENOPROTOOPT }

// GetOption implements sp.Protocol.
func (p *Pub) GetOption(string) (any, error) { return nil, errENOPROTOOPT }

// Stop implements sp.Protocol.
func (p *Pub) Stop() {}

// Close implements sp.Protocol.
func (p *Pub) Close() {}

// Sub implements the SUB side: filters inbound messages by a configured
// prefix list, set via SetOption("SUBSCRIBE", prefix) /
// SetOption("UNSUBSCRIBE", prefix). An empty prefix list means "subscribed
// to everything is false" (nanomsg's default-closed behavior) until at
// least one SUBSCRIBE call is made.
type Sub struct {
	*Raw
	prefixes [][]byte
}

// NewSub constructs a Sub with no subscriptions.
func NewSub() *Sub { return &Sub{Raw: NewRaw()} }

// Info implements sp.Protocol.
func (s *Sub) Info() sp.ProtocolInfo {
	return sp.ProtocolInfo{Self: 0x21, SelfName: "sub", Peer: 0x20, PeerName: "pub"}
}

// AddPipe implements sp.Protocol.
func (s *Sub) AddPipe(np *sp.Pipe) error { s.Raw.AddPipe(np); return nil }

// Send implements sp.Protocol: SUB never sends application payloads.
func (s *Sub) Send(*sp.Message) error { return errNOTSUP }

// Recv implements sp.Protocol: drains readable pipes until a message
// matches a subscribed prefix.
func (s *Sub) Recv() (*sp.Message, error) {
	for {
		_, msg, err := s.RecvFrom()
		if err != nil {
			return nil, err
		}
		if s.matches(msg.Body) {
			return msg, nil
		}
		msg.Release()
	}
}

func (s *Sub) matches(body []byte) bool {
	if len(s.prefixes) == 0 {
		return false
	}
	for _, pfx := range s.prefixes {
		if bytes.HasPrefix(body, pfx) {
			return true
		}
	}
	return false
}

// Events implements sp.Protocol.
func (s *Sub) Events() sp.PipeEvents { return sp.PipeEvents{In: s.Raw.AnyReadable()} }

// SetOption implements sp.Protocol: "SUBSCRIBE"/"UNSUBSCRIBE" with a []byte
// or string prefix value.
func (s *Sub) SetOption(name string, value any) error {
	switch name {
	case "SUBSCRIBE":
		pfx, ok := asBytes(value)
		if !ok {
			return errEINVAL
		}
		s.prefixes = append(s.prefixes, pfx)
		return nil
	case "UNSUBSCRIBE":
		pfx, ok := asBytes(value)
		if !ok {
			return errEINVAL
		}
		for i, p := range s.prefixes {
			if bytes.Equal(p, pfx) {
				s.prefixes = append(s.prefixes[:i], s.prefixes[i+1:]...)
				return nil
			}
		}
		return nil
	}
	return errENOPROTOOPT
}

func asBytes(value any) ([]byte, bool) {
	switch v := value.(type) {
	case []byte:
		return v, true
	case string:
		return []byte(v), true
	default:
		return nil, false
	}
}

// GetOption implements sp.Protocol.
func (s *Sub) GetOption(string) (any, error) { return nil, errENOPROTOOPT }

// Stop implements sp.Protocol.
func (s *Sub) Stop() {}

// Close implements sp.Protocol.
func (s *Sub) Close() {}

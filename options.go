package sp

import (
	"fmt"
	"time"

	"github.com/nanoproto/sp/spcode"
)

// Option names for Socket.SetOption/GetOption.
const (
	OptionSendBuffer       = "SNDBUF"
	OptionRecvBuffer       = "RCVBUF"
	OptionSendTimeout      = "SNDTIMEO"
	OptionRecvTimeout      = "RCVTIMEO"
	OptionLinger           = "LINGER"
	OptionReconnectIvl     = "RECONNECT_IVL"
	OptionReconnectIvlMax  = "RECONNECT_IVL_MAX"
	OptionRecvMaxSize      = "RCVMAXSIZE"
	OptionSendPriority     = "SNDPRIO"
	OptionRecvPriority     = "RCVPRIO"
	OptionIPv4Only         = "IPV4ONLY"
	OptionMaxTTL           = "MAXTTL"
	OptionSocketName       = "SOCKET_NAME"
)

// options holds the socket-core-level option values. Defaults mirror
// nanomsg's.
type options struct {
	sendBuffer       int
	recvBuffer       int
	sendTimeout      time.Duration // -1 == infinite
	recvTimeout      time.Duration
	linger           time.Duration
	reconnectIvl     time.Duration
	reconnectIvlMax  time.Duration
	recvMaxSize      int64 // -1 disables
	sendPriority     int
	recvPriority     int
	ipv4Only         bool
	maxTTL           int
	socketName       string
}

func defaultOptions() options {
	return options{
		sendBuffer:      128 * 1024,
		recvBuffer:      128 * 1024,
		sendTimeout:     -1,
		recvTimeout:     -1,
		linger:          1 * time.Second,
		reconnectIvl:    100 * time.Millisecond,
		reconnectIvlMax: 0,
		recvMaxSize:     1024 * 1024,
		sendPriority:    8,
		recvPriority:    8,
		ipv4Only:        false,
		maxTTL:          8,
		socketName:      "",
	}
}

// SetOption sets a socket-core option by name. Protocol- and transport-level
// options delegate to Protocol.SetOption / the transport's own option set.
func (s *Socket) SetOption(name string, value any) error {
	s.ctx.Enter()
	defer s.ctx.Leave()

	switch name {
	case OptionSendBuffer:
		v, err := intOption(value)
		if err != nil || v < 0 {
			return spcode.Wrap(name, spcode.EINVAL, err)
		}
		s.opts.sendBuffer = v
	case OptionRecvBuffer:
		v, err := intOption(value)
		if err != nil || v < 0 {
			return spcode.Wrap(name, spcode.EINVAL, err)
		}
		s.opts.recvBuffer = v
	case OptionSendTimeout:
		s.opts.sendTimeout = durationOption(value)
	case OptionRecvTimeout:
		s.opts.recvTimeout = durationOption(value)
	case OptionLinger:
		s.opts.linger = durationOption(value)
	case OptionReconnectIvl:
		s.opts.reconnectIvl = durationOption(value)
	case OptionReconnectIvlMax:
		s.opts.reconnectIvlMax = durationOption(value)
	case OptionRecvMaxSize:
		v, err := int64Option(value)
		if err != nil {
			return spcode.Wrap(name, spcode.EINVAL, err)
		}
		s.opts.recvMaxSize = v
	case OptionSendPriority:
		v, err := intOption(value)
		if err != nil || v < 1 || v > 16 {
			return spcode.New(spcode.EINVAL)
		}
		s.opts.sendPriority = v
	case OptionRecvPriority:
		v, err := intOption(value)
		if err != nil || v < 1 || v > 16 {
			return spcode.New(spcode.EINVAL)
		}
		s.opts.recvPriority = v
	case OptionIPv4Only:
		v, ok := value.(bool)
		if !ok {
			return spcode.New(spcode.EINVAL)
		}
		s.opts.ipv4Only = v
	case OptionMaxTTL:
		v, err := intOption(value)
		if err != nil || v < 1 || v > 255 {
			return spcode.New(spcode.EINVAL)
		}
		s.opts.maxTTL = v
	case OptionSocketName:
		v, ok := value.(string)
		if !ok || len(v) > 63 {
			return spcode.New(spcode.EINVAL)
		}
		// Also guarded by s.mu: String() is called from logging sites both
		// inside and outside context brackets, so it reads under s.mu alone.
		s.mu.Lock()
		s.opts.socketName = v
		s.mu.Unlock()
	default:
		if s.proto != nil {
			return s.proto.SetOption(name, value)
		}
		return spcode.New(spcode.ENOPROTOOPT)
	}
	return nil
}

// GetOption retrieves a socket-core option's current value.
func (s *Socket) GetOption(name string) (any, error) {
	s.ctx.Enter()
	defer s.ctx.Leave()

	switch name {
	case OptionSendBuffer:
		return s.opts.sendBuffer, nil
	case OptionRecvBuffer:
		return s.opts.recvBuffer, nil
	case OptionSendTimeout:
		return s.opts.sendTimeout, nil
	case OptionRecvTimeout:
		return s.opts.recvTimeout, nil
	case OptionLinger:
		return s.opts.linger, nil
	case OptionReconnectIvl:
		return s.opts.reconnectIvl, nil
	case OptionReconnectIvlMax:
		return s.opts.reconnectIvlMax, nil
	case OptionRecvMaxSize:
		return s.opts.recvMaxSize, nil
	case OptionSendPriority:
		return s.opts.sendPriority, nil
	case OptionRecvPriority:
		return s.opts.recvPriority, nil
	case OptionIPv4Only:
		return s.opts.ipv4Only, nil
	case OptionMaxTTL:
		return s.opts.maxTTL, nil
	case OptionSocketName:
		return s.opts.socketName, nil
	default:
		if s.proto != nil {
			return s.proto.GetOption(name)
		}
		return nil, spcode.New(spcode.ENOPROTOOPT)
	}
}

func intOption(value any) (int, error) {
	switch v := value.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	default:
		return 0, fmt.Errorf("expected int, got %T", value)
	}
}

func int64Option(value any) (int64, error) {
	switch v := value.(type) {
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	default:
		return 0, fmt.Errorf("expected int64, got %T", value)
	}
}

func durationOption(value any) time.Duration {
	switch v := value.(type) {
	case time.Duration:
		return v
	case int:
		if v < 0 {
			return -1
		}
		return time.Duration(v) * time.Millisecond
	case int64:
		if v < 0 {
			return -1
		}
		return time.Duration(v) * time.Millisecond
	default:
		return -1
	}
}

package ws

import (
	"context"
	"net"

	sp "github.com/nanoproto/sp"
	"github.com/nanoproto/sp/internal/usock"
	"github.com/nanoproto/sp/spcode"
)

// listener is the ws bound endpoint: a real net.Listener wrapped so each
// Accept performs the server-side HTTP Upgrade synchronously, in the same
// dedicated goroutine usock.Endpoint already spawns per accept attempt,
// before the connection reaches usock.
type listener struct {
	addr string
	info sp.ProtocolInfo

	ep       *usock.Endpoint
	acceptCh chan sp.PipeConn
	errCh    chan error
}

// handshakingListener adapts a net.Listener to usock.Listener, running the
// WebSocket server handshake inside Accept before returning the conn.
type handshakingListener struct {
	net.Listener
}

func (l handshakingListener) Accept() (net.Conn, error) {
	conn, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}
	if err := serverHandshake(conn); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}

// Listen implements sp.TransportListener.
func (l *listener) Listen() error {
	l.ep = usock.New(sharedPool())

	done := make(chan error, 1)
	l.ep.OnListen(func(err error) { done <- err })
	l.ep.OnError(func(err error) {
		select {
		case l.errCh <- classify("accept", err, spcode.EPROTO):
		default:
		}
	})

	l.ep.Listen(func() (usock.Listener, error) {
		ln, err := net.Listen("tcp", l.addr)
		if err != nil {
			return nil, err
		}
		return handshakingListener{ln}, nil
	}, l.onAccepted)

	err := <-done
	if err != nil {
		return classify("listen", err, spcode.EADDRINUSE)
	}
	return nil
}

func (l *listener) onAccepted(child *usock.Endpoint) {
	pc := newSessionPipe(child, false, l.info)
	select {
	case l.acceptCh <- pc:
	default:
		_ = pc.Close()
	}
}

// Accept implements sp.TransportListener.
func (l *listener) Accept(ctx context.Context) (sp.PipeConn, error) {
	select {
	case pc := <-l.acceptCh:
		return pc, nil
	case err := <-l.errCh:
		return nil, err
	case <-ctx.Done():
		return nil, spcode.New(spcode.EBADF)
	}
}

// Close implements sp.TransportListener.
func (l *listener) Close() error {
	if l.ep != nil {
		l.ep.Stop()
	}
	return nil
}

// Addr implements sp.TransportListener.
func (l *listener) Addr() string { return "ws://" + l.addr }

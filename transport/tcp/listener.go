package tcp

import (
	"context"
	"net"

	sp "github.com/nanoproto/sp"
	"github.com/nanoproto/sp/internal/usock"
	"github.com/nanoproto/sp/spcode"
)

// listener is the tcp bound endpoint: one usock.Endpoint in ModeListen,
// handing each accepted connection's freshly-framed PipeConn to Accept
// through a buffered channel.
type listener struct {
	addr string
	info sp.ProtocolInfo

	ep       *usock.Endpoint
	acceptCh chan sp.PipeConn
	errCh    chan error
}

// Listen implements sp.TransportListener.
func (l *listener) Listen() error {
	l.ep = usock.New(sharedPool())
	l.ep.SetExclusiveBind(true)

	done := make(chan error, 1)
	l.ep.OnListen(func(err error) { done <- err })
	l.ep.OnError(func(err error) {
		select {
		case l.errCh <- classify("accept", err, spcode.EPROTO):
		default:
		}
	})

	l.ep.Listen(func() (usock.Listener, error) {
		lc := net.ListenConfig{Control: reuseAddrControl}
		ln, err := lc.Listen(context.Background(), "tcp", l.addr)
		if err != nil {
			return nil, err
		}
		return ln, nil
	}, l.onAccepted)

	err := <-done
	if err != nil {
		return classify("listen", err, spcode.EADDRINUSE)
	}
	return nil
}

func (l *listener) onAccepted(child *usock.Endpoint) {
	pc := newSessionPipe(child, l.info)
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
func (l *listener) Addr() string { return "tcp://" + l.addr }

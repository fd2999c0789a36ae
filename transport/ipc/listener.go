package ipc

import (
	"context"
	"net"
	"os"

	sp "github.com/nanoproto/sp"
	"github.com/nanoproto/sp/internal/usock"
	"github.com/nanoproto/sp/spcode"
)

// listener is the ipc bound endpoint, one usock.Endpoint in ModeListen
// against a Unix domain socket path.
type listener struct {
	path string
	info sp.ProtocolInfo

	ep       *usock.Endpoint
	acceptCh chan sp.PipeConn
	errCh    chan error
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
		return listenUnix(l.path)
	}, l.onAccepted)

	err := <-done
	if err != nil {
		return classify("listen", err, spcode.EADDRINUSE)
	}
	return nil
}

// listenUnix binds path, clearing a stale socket file left behind by a
// process that exited without calling Close (a live listener still bound to
// path fails the reconnect probe and EADDRINUSE is returned instead).
func listenUnix(path string) (net.Listener, error) {
	ln, err := net.Listen("unix", path)
	if err == nil {
		return ln, nil
	}
	code, classified := spcode.Classify(err)
	if !os.IsExist(err) && !(classified && code == spcode.EADDRINUSE) {
		return nil, err
	}
	if c, dialErr := net.Dial("unix", path); dialErr == nil {
		_ = c.Close()
		return nil, spcode.New(spcode.EADDRINUSE)
	}
	_ = os.Remove(path)
	return net.Listen("unix", path)
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
	_ = os.Remove(l.path)
	return nil
}

// Addr implements sp.TransportListener.
func (l *listener) Addr() string { return "ipc://" + l.path }

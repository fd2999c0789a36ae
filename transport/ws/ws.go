// Package ws implements the WebSocket stream transport: same SP handshake
// and message semantics as tcp/ipc, but framed on WebSocket binary-frame
// boundaries instead of an 8-byte length prefix, atop an HTTP/1.1 Upgrade
// exchange (handshake.go implements just enough of the upgrade to reach
// the framed-message layer).
package ws

import (
	"net"
	"strings"
	"sync"

	sp "github.com/nanoproto/sp"
	"github.com/nanoproto/sp/internal/usock"
	"github.com/nanoproto/sp/internal/wire"
	"github.com/nanoproto/sp/internal/worker"
	"github.com/nanoproto/sp/spcode"
)

func init() { sp.RegisterTransport(New()) }

// Transport is the ws scheme handler.
type Transport struct{}

// New constructs a ws Transport.
func New() *Transport { return &Transport{} }

// Scheme implements sp.Transport.
func (t *Transport) Scheme() string { return "ws" }

// NewDialer implements sp.Transport.
func (t *Transport) NewDialer(addr string, info sp.ProtocolInfo) (sp.TransportDialer, error) {
	hostport, path, err := parseAddr(addr)
	if err != nil {
		return nil, err
	}
	return &dialer{addr: hostport, path: path, info: info}, nil
}

// NewListener implements sp.Transport.
func (t *Transport) NewListener(addr string, info sp.ProtocolInfo) (sp.TransportListener, error) {
	hostport, _, err := parseAddr(addr)
	if err != nil {
		return nil, err
	}
	return &listener{addr: hostport, info: info, acceptCh: make(chan sp.PipeConn, 64), errCh: make(chan error, 1)}, nil
}

// parseAddr splits `host:port[/path]`. The local-interface prefix the tcp
// transport accepts is omitted here, since ws addresses are typically
// load-balancer-fronted rather than multi-homed.
func parseAddr(addr string) (hostport, path string, err error) {
	addr = strings.TrimPrefix(addr, "ws://")
	path = "/"
	if i := strings.IndexByte(addr, '/'); i >= 0 {
		path = addr[i:]
		addr = addr[:i]
	}
	host, port, splitErr := net.SplitHostPort(addr)
	if splitErr != nil {
		return "", "", spcode.Wrap("parse_addr", spcode.EINVAL, splitErr)
	}
	if port == "" {
		return "", "", spcode.New(spcode.EINVAL)
	}
	if host == "*" {
		host = ""
	} else if host != "" && net.ParseIP(host) == nil && !wire.ValidateHostname(host) {
		return "", "", spcode.New(spcode.EINVAL)
	}
	return net.JoinHostPort(host, port), path, nil
}

var (
	poolOnce sync.Once
	pool     *worker.Pool
)

func sharedPool() *worker.Pool {
	poolOnce.Do(func() { pool = worker.NewPool(0) })
	return pool
}

func isPeer(info sp.ProtocolInfo) IsPeerFunc {
	return func(peer uint16) bool { return peer == info.Peer }
}

func classify(op string, err error, fallback spcode.Code) error {
	if code, ok := spcode.Classify(err); ok {
		return spcode.Wrap(op, code, err)
	}
	return spcode.Wrap(op, fallback, err)
}

func newSessionPipe(ep *usock.Endpoint, clientSide bool, info sp.ProtocolInfo) sp.PipeConn {
	sess := NewSession(ep, clientSide, info.Self, isPeer(info), info.RecvMaxSize)
	ep.Activate()
	return newPipeConn(sess, info.HeaderLen)
}

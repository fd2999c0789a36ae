// Package tcp implements the TCP stream transport: plain
// net.Conn byte streams carrying the SP opening handshake and length-prefixed
// message framing via internal/stream, wrapped by internal/usock's FSM for
// connect/listen/accept lifecycle.
package tcp

import (
	"net"
	"strings"
	"sync"

	sp "github.com/nanoproto/sp"
	"github.com/nanoproto/sp/internal/stream"
	"github.com/nanoproto/sp/internal/usock"
	"github.com/nanoproto/sp/internal/wire"
	"github.com/nanoproto/sp/internal/worker"
	"github.com/nanoproto/sp/spcode"
)

func init() { sp.RegisterTransport(New()) }

// Transport is the tcp scheme handler.
type Transport struct{}

// New constructs a tcp Transport.
func New() *Transport { return &Transport{} }

// Scheme implements sp.Transport.
func (t *Transport) Scheme() string { return "tcp" }

// NewDialer implements sp.Transport.
func (t *Transport) NewDialer(addr string, info sp.ProtocolInfo) (sp.TransportDialer, error) {
	local, host, err := parseAddr(addr, "tcp")
	if err != nil {
		return nil, err
	}
	return &dialer{local: local, addr: host, info: info}, nil
}

// NewListener implements sp.Transport.
func (t *Transport) NewListener(addr string, info sp.ProtocolInfo) (sp.TransportListener, error) {
	_, host, err := parseAddr(addr, "tcp")
	if err != nil {
		return nil, err
	}
	return &listener{addr: host, info: info, acceptCh: make(chan sp.PipeConn, 64), errCh: make(chan error, 1)}, nil
}

// pool is the package-wide worker pool backing every tcp Endpoint, lazily
// sized to GOMAXPROCS (worker.NewPool(0)); sp.NewSocket's own default pool
// has a single worker.
// Worker goroutines are a process-wide resource, not one per socket; a
// transport package owning its own default pool rather than threading one
// through the sp.Transport interface keeps that interface stable across
// inproc, which needs no worker pool at all.
var (
	poolOnce sync.Once
	pool     *worker.Pool
)

func sharedPool() *worker.Pool {
	poolOnce.Do(func() { pool = worker.NewPool(0) })
	return pool
}

// parseAddr splits the `[local_iface;]host:port` address syntax, validating
// a DNS-name host per internal/wire and turning a literal "*" host into the
// all-interfaces empty-host form net.Listen expects.
func parseAddr(addr string, scheme string) (local, hostport string, err error) {
	addr = strings.TrimPrefix(addr, scheme+"://")
	if i := strings.IndexByte(addr, ';'); i >= 0 {
		local, addr = addr[:i], addr[i+1:]
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
	return local, net.JoinHostPort(host, port), nil
}

// isPeer builds the stream.IsPeerFunc that accepts exactly the local
// protocol's configured peer number.
func isPeer(info sp.ProtocolInfo) stream.IsPeerFunc {
	return func(peer uint16) bool { return peer == info.Peer }
}

// classify turns a raw dial/accept error into a spcode-coded one, falling
// back to ECONNREFUSED for dial failures whose cause spcode.Classify cannot
// identify (a closed port with no listener is the overwhelmingly common
// case here).
func classify(op string, err error, fallback spcode.Code) error {
	if code, ok := spcode.Classify(err); ok {
		return spcode.Wrap(op, code, err)
	}
	return spcode.Wrap(op, fallback, err)
}

// newSessionPipe wraps a connected or accepted usock.Endpoint as a
// sp.PipeConn: it attaches the SP handshake and message framing session,
// then activates the endpoint.
func newSessionPipe(ep *usock.Endpoint, info sp.ProtocolInfo) sp.PipeConn {
	sess := stream.NewSession(ep, info.Self, isPeer(info), info.RecvMaxSize, sp.AllocPooledFrame)
	ep.Activate()
	return sp.NewStreamPipeConn(sess, info.HeaderLen)
}

// Package ipc implements the local-IPC stream transport over Unix domain
// sockets: same framing as tcp, addressed by filesystem path instead of
// host:port.
package ipc

import (
	"strings"
	"sync"

	sp "github.com/nanoproto/sp"
	"github.com/nanoproto/sp/internal/stream"
	"github.com/nanoproto/sp/internal/usock"
	"github.com/nanoproto/sp/internal/worker"
	"github.com/nanoproto/sp/spcode"
)

func init() { sp.RegisterTransport(New()) }

// Transport is the ipc scheme handler.
type Transport struct{}

// New constructs an ipc Transport.
func New() *Transport { return &Transport{} }

// Scheme implements sp.Transport.
func (t *Transport) Scheme() string { return "ipc" }

// NewDialer implements sp.Transport.
func (t *Transport) NewDialer(addr string, info sp.ProtocolInfo) (sp.TransportDialer, error) {
	path, err := parsePath(addr)
	if err != nil {
		return nil, err
	}
	return &dialer{path: path, info: info}, nil
}

// NewListener implements sp.Transport.
func (t *Transport) NewListener(addr string, info sp.ProtocolInfo) (sp.TransportListener, error) {
	path, err := parsePath(addr)
	if err != nil {
		return nil, err
	}
	return &listener{path: path, info: info, acceptCh: make(chan sp.PipeConn, 64), errCh: make(chan error, 1)}, nil
}

func parsePath(addr string) (string, error) {
	path := strings.TrimPrefix(addr, "ipc://")
	if len(path) == 0 {
		return "", spcode.New(spcode.EINVAL)
	}
	return path, nil
}

var (
	poolOnce sync.Once
	pool     *worker.Pool
)

func sharedPool() *worker.Pool {
	poolOnce.Do(func() { pool = worker.NewPool(0) })
	return pool
}

func isPeer(info sp.ProtocolInfo) stream.IsPeerFunc {
	return func(peer uint16) bool { return peer == info.Peer }
}

func classify(op string, err error, fallback spcode.Code) error {
	if code, ok := spcode.Classify(err); ok {
		return spcode.Wrap(op, code, err)
	}
	return spcode.Wrap(op, fallback, err)
}

func newSessionPipe(ep *usock.Endpoint, info sp.ProtocolInfo) sp.PipeConn {
	sess := stream.NewSession(ep, info.Self, isPeer(info), info.RecvMaxSize, sp.AllocPooledFrame)
	ep.Activate()
	return sp.NewStreamPipeConn(sess, info.HeaderLen)
}

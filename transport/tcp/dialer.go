package tcp

import (
	"context"
	"net"

	sp "github.com/nanoproto/sp"
	"github.com/nanoproto/sp/internal/usock"
	"github.com/nanoproto/sp/spcode"
)

// dialer is the tcp connector: each Dial call spins up a dedicated
// usock.Endpoint in ModeConnect, blocking until the dial (and its async
// completion callback) resolves.
type dialer struct {
	local string
	addr  string
	info  sp.ProtocolInfo
}

// Dial implements sp.TransportDialer.
func (d *dialer) Dial(ctx context.Context) (sp.PipeConn, error) {
	ep := usock.New(sharedPool())

	type outcome struct {
		err error
	}
	done := make(chan outcome, 1)
	ep.OnConnect(func(err error) { done <- outcome{err: err} })

	nd := &net.Dialer{}
	if d.local != "" {
		if laddr, err := net.ResolveTCPAddr("tcp", d.local+":0"); err == nil {
			nd.LocalAddr = laddr
		}
	}
	ep.Connect(func() (net.Conn, error) {
		return nd.DialContext(ctx, "tcp", d.addr)
	})

	select {
	case res := <-done:
		if res.err != nil {
			return nil, classify("dial", res.err, spcode.ECONNREFUSED)
		}
		return newSessionPipe(ep, d.info), nil
	case <-ctx.Done():
		ep.Stop()
		return nil, spcode.New(spcode.EINTR)
	}
}

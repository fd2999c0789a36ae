package ws

import (
	"context"
	"net"

	sp "github.com/nanoproto/sp"
	"github.com/nanoproto/sp/internal/usock"
	"github.com/nanoproto/sp/spcode"
)

// dialer is the ws connector: each Dial call opens a TCP connection,
// performs the client-side HTTP Upgrade synchronously, then hands the
// upgraded conn to a usock.Endpoint for the SP-level session above it.
type dialer struct {
	addr string
	path string
	info sp.ProtocolInfo
}

// Dial implements sp.TransportDialer.
func (d *dialer) Dial(ctx context.Context) (sp.PipeConn, error) {
	ep := usock.New(sharedPool())

	done := make(chan error, 1)
	ep.OnConnect(func(err error) { done <- err })

	nd := &net.Dialer{}
	ep.Connect(func() (net.Conn, error) {
		conn, err := nd.DialContext(ctx, "tcp", d.addr)
		if err != nil {
			return nil, err
		}
		if err := clientHandshake(conn, d.addr, d.path); err != nil {
			_ = conn.Close()
			return nil, err
		}
		return conn, nil
	})

	select {
	case err := <-done:
		if err != nil {
			return nil, classify("dial", err, spcode.ECONNREFUSED)
		}
		return newSessionPipe(ep, true, d.info), nil
	case <-ctx.Done():
		ep.Stop()
		return nil, spcode.New(spcode.EINTR)
	}
}

package ipc

import (
	"context"
	"net"

	sp "github.com/nanoproto/sp"
	"github.com/nanoproto/sp/internal/usock"
	"github.com/nanoproto/sp/spcode"
)

// dialer is the ipc connector, one usock.Endpoint per Dial call against a
// Unix domain socket path.
type dialer struct {
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
		return nd.DialContext(ctx, "unix", d.path)
	})

	select {
	case err := <-done:
		if err != nil {
			return nil, classify("dial", err, spcode.ECONNREFUSED)
		}
		return newSessionPipe(ep, d.info), nil
	case <-ctx.Done():
		ep.Stop()
		return nil, spcode.New(spcode.EINTR)
	}
}

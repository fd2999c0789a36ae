package inproc

import (
	"context"
	"time"

	sp "github.com/nanoproto/sp"
	"github.com/nanoproto/sp/spcode"
)

// retryInterval is how often a cinproc dialer re-checks the registry for a
// matching binproc while none is bound yet, mirroring the reconnect backoff
// a network transport would apply against ECONNREFUSED.
const retryInterval = 50 * time.Millisecond

// dialer is the cinproc connector: it polls the process-wide
// registry for a binproc bound to its label and, once found, queues a
// connect request for that listener's Accept to drain.
type dialer struct {
	label string
	info  sp.ProtocolInfo
}

// Dial implements sp.TransportDialer.
func (d *dialer) Dial(ctx context.Context) (sp.PipeConn, error) {
	b, ok := lookup(d.label)
	if !ok {
		select {
		case <-ctx.Done():
			return nil, spcode.New(spcode.EINTR)
		case <-time.After(retryInterval):
		}
		return nil, spcode.Wrap("dial", spcode.ECONNREFUSED, errNoListener(d.label))
	}

	req := &connectReq{info: d.info, result: make(chan connectResult, 1)}
	select {
	case b.pending <- req:
	case <-ctx.Done():
		return nil, spcode.New(spcode.EINTR)
	}

	select {
	case res := <-req.result:
		return res.conn, res.err
	case <-ctx.Done():
		return nil, spcode.New(spcode.EINTR)
	}
}

type errString string

func (e errString) Error() string { return string(e) }

func errNoListener(label string) error {
	return errString("inproc: no listener bound to " + label)
}

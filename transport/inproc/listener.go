package inproc

import (
	"context"

	sp "github.com/nanoproto/sp"
	"github.com/nanoproto/sp/spcode"
)

// listener is the binproc side: it owns one process-wide
// registry slot for its label and hands each queued connect request a fresh
// sinproc session pair, keeping one end for itself and returning the other
// to the dialer that queued the request.
type listener struct {
	label string
	info  sp.ProtocolInfo
	b     *binproc
}

// Listen implements sp.TransportListener.
func (l *listener) Listen() error {
	b, err := bind(l.label)
	if err != nil {
		return err
	}
	l.b = b
	return nil
}

// Accept implements sp.TransportListener: it blocks until a dialer's connect
// request arrives, checks the two protocol numbers are compatible peers
// (the same check the stream handshake performs, done in-process instead of
// over the wire), and completes the request with its new sinproc endpoint.
func (l *listener) Accept(ctx context.Context) (sp.PipeConn, error) {
	select {
	case req := <-l.b.pending:
		if l.info.Peer != req.info.Self {
			err := spcode.Wrap("accept", spcode.EPROTO, errIncompatiblePeer(req.info.SelfName))
			req.result <- connectResult{err: err}
			return nil, err
		}
		mine, theirs := newSinprocPair(l.label)
		req.result <- connectResult{conn: theirs}
		return mine, nil
	case <-ctx.Done():
		return nil, spcode.New(spcode.EBADF)
	}
}

// Close implements sp.TransportListener, removing the label from the
// registry so subsequent dialers see ECONNREFUSED rather than queuing
// requests nobody will ever Accept.
func (l *listener) Close() error {
	if l.b != nil {
		unbind(l.label, l.b)
	}
	return nil
}

// Addr implements sp.TransportListener.
func (l *listener) Addr() string { return "inproc://" + l.label }

func errIncompatiblePeer(peerName string) error {
	return errString("inproc: incompatible peer protocol " + peerName)
}

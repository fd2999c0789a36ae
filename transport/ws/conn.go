package ws

import (
	sp "github.com/nanoproto/sp"
	"github.com/nanoproto/sp/internal/wire"
)

// pipeConn adapts a *Session (which speaks raw header/body byte slices) to
// sp.PipeConn, the same split responsibility streampipe.go gives
// internal/stream.Session for the other stream transports.
type pipeConn struct {
	sess      *Session
	headerLen int
}

// newPipeConn wraps an active *Session as a sp.PipeConn. headerLen is
// ProtocolInfo.HeaderLen: zero for headerless domains (the whole inbound
// frame is body), non-zero for header-carrying ones, where the actual split
// point is found on the wire via wire.SplitSPHeader — see streampipe.go's
// NewStreamPipeConn, which the same device-grown-header reasoning applies
// to here.
func newPipeConn(sess *Session, headerLen int) sp.PipeConn {
	return &pipeConn{sess: sess, headerLen: headerLen}
}

func (c *pipeConn) TrySend(msg *sp.Message) error {
	err := c.sess.TrySend(msg.Header, msg.Body)
	if err == nil {
		msg.Release()
	}
	return err
}

func (c *pipeConn) TryRecv() (*sp.Message, error) {
	frame, err := c.sess.TryRecv()
	if err != nil {
		return nil, err
	}
	if c.headerLen > 0 {
		hdrLen := wire.SplitSPHeader(frame)
		if hdrLen > 0 && len(frame) >= hdrLen {
			return &sp.Message{Header: frame[:hdrLen], Body: frame[hdrLen:]}, nil
		}
	}
	return &sp.Message{Body: frame}, nil
}

func (c *pipeConn) Close() error { return c.sess.Close() }

// bindPipeCallbacks implements the same unexported
// pipeConnReadinessSource duck-type streampipe.go's adapter satisfies;
// sp.NewPipe type-asserts for it.
func (c *pipeConn) bindPipeCallbacks(onReadable, onWritable func(), onError func(error)) {
	c.sess.OnReadable(onReadable)
	c.sess.OnWritable(onWritable)
	c.sess.OnError(onError)
	c.sess.Start()
}

func (c *pipeConn) LocalAddr() string  { return c.sess.LocalAddr() }
func (c *pipeConn) RemoteAddr() string { return c.sess.RemoteAddr() }

package sp

import (
	"github.com/nanoproto/sp/internal/stream"
	"github.com/nanoproto/sp/internal/wire"
)

// streamPipeConn adapts internal/stream.Session (which speaks raw
// header/body byte slices, to keep that package independent of the root
// package's Message type) to the PipeConn interface protocols consume.
// tcp and ipc build their Pipes through this adapter; ws has its own
// equivalent (transport/ws/conn.go), and inproc its own zero-copy path
// (transport/inproc/sinproc.go).
type streamPipeConn struct {
	sess      *stream.Session
	headerLen int
}

// NewStreamPipeConn wraps an active *stream.Session as a PipeConn. headerLen
// is ProtocolInfo.HeaderLen: zero for headerless domains (the whole inbound
// frame is body), non-zero for header-carrying ones, where the actual split
// point is found on the wire via wire.SplitSPHeader rather than assumed to
// equal headerLen, since a device may have grown the header past it.
func NewStreamPipeConn(sess *stream.Session, headerLen int) PipeConn {
	return &streamPipeConn{sess: sess, headerLen: headerLen}
}

func (c *streamPipeConn) TrySend(msg *Message) error {
	err := c.sess.TrySend(msg.Header, msg.Body)
	if err == nil {
		msg.Release()
	}
	return err
}

func (c *streamPipeConn) TryRecv() (*Message, error) {
	frame, err := c.sess.TryRecv()
	if err != nil {
		return nil, err
	}
	if frame == nil {
		return &Message{}, nil
	}
	hdrLen := 0
	if c.headerLen > 0 {
		// A device may have grown the header past this socket's own
		// HeaderLen by pushing a hop word (see sp.decrementHop), so the
		// split point is found on the wire rather than assumed fixed.
		hdrLen = wire.SplitSPHeader(frame)
	}
	return newPooledMessage(frame, hdrLen), nil
}

func (c *streamPipeConn) Close() error { return c.sess.Close() }

// bindPipeCallbacks implements pipeConnReadinessSource, wiring the
// session's readiness callbacks straight to the owning Pipe's edge-
// triggered Notify methods.
func (c *streamPipeConn) bindPipeCallbacks(onReadable, onWritable func(), onError func(error)) {
	c.sess.OnReadable(onReadable)
	c.sess.OnWritable(onWritable)
	c.sess.OnError(onError)
	c.sess.Start()
}

func (c *streamPipeConn) LocalAddr() string  { return c.sess.LocalAddr() }
func (c *streamPipeConn) RemoteAddr() string { return c.sess.RemoteAddr() }

package inproc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sp "github.com/nanoproto/sp"
	"github.com/nanoproto/sp/spcode"
)

var pairInfo = sp.ProtocolInfo{Self: 0x10, SelfName: "pair", Peer: 0x10, PeerName: "pair"}

func TestParseLabelRejectsBadAddresses(t *testing.T) {
	tr := New()

	_, err := tr.NewListener("inproc://", pairInfo)
	assert.True(t, spcode.Is(err, spcode.EINVAL))

	long := make([]byte, 128)
	for i := range long {
		long[i] = 'x'
	}
	_, err = tr.NewDialer("inproc://"+string(long), pairInfo)
	assert.True(t, spcode.Is(err, spcode.EINVAL))
}

// TestDoubleBindReportsAddrInUse covers the duplicate-bind boundary case
// at the registry level.
func TestDoubleBindReportsAddrInUse(t *testing.T) {
	tr := New()

	l1, err := tr.NewListener("inproc://dup-bind-test", pairInfo)
	require.NoError(t, err)
	require.NoError(t, l1.Listen())
	defer l1.Close()

	l2, err := tr.NewListener("inproc://dup-bind-test", pairInfo)
	require.NoError(t, err)
	err = l2.Listen()
	require.Error(t, err)
	assert.True(t, spcode.Is(err, spcode.EADDRINUSE))

	// Unbinding frees the label for a later listener.
	require.NoError(t, l1.Close())
	require.NoError(t, l2.Listen())
	require.NoError(t, l2.Close())
}

func TestDialWithoutListenerRefused(t *testing.T) {
	tr := New()
	d, err := tr.NewDialer("inproc://nobody-home", pairInfo)
	require.NoError(t, err)

	_, err = d.Dial(context.Background())
	require.Error(t, err)
	assert.True(t, spcode.Is(err, spcode.ECONNREFUSED))
}

// TestDialAcceptHandsOffSessionPair covers the binproc/cinproc/sinproc
// rendezvous: a dialer's conn and the listener's conn are the two ends of
// one session, exchanging messages through the single-slot mailboxes.
func TestDialAcceptHandsOffSessionPair(t *testing.T) {
	tr := New()
	l, err := tr.NewListener("inproc://rendezvous-test", pairInfo)
	require.NoError(t, err)
	require.NoError(t, l.Listen())
	defer l.Close()

	d, err := tr.NewDialer("inproc://rendezvous-test", pairInfo)
	require.NoError(t, err)

	type dialResult struct {
		conn sp.PipeConn
		err  error
	}
	dialCh := make(chan dialResult, 1)
	go func() {
		conn, err := d.Dial(context.Background())
		dialCh <- dialResult{conn, err}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	serverConn, err := l.Accept(ctx)
	require.NoError(t, err)

	res := <-dialCh
	require.NoError(t, res.err)
	clientConn := res.conn

	require.NoError(t, clientConn.TrySend(sp.NewMessage("", []byte("hello"))))

	msg, err := serverConn.TryRecv()
	require.NoError(t, err)
	assert.Equal(t, "hello", string(msg.Body))

	// The single-slot mailbox applies backpressure after one unread message.
	require.NoError(t, clientConn.TrySend(sp.NewMessage("", []byte("one"))))
	err = clientConn.TrySend(sp.NewMessage("", []byte("two")))
	assert.True(t, spcode.Is(err, spcode.EAGAIN))

	// Draining the slot restores capacity.
	_, err = serverConn.TryRecv()
	require.NoError(t, err)
	require.NoError(t, clientConn.TrySend(sp.NewMessage("", []byte("two"))))
}

// TestIncompatiblePeerRejected covers the in-process equivalent of the SP
// handshake's protocol check.
func TestIncompatiblePeerRejected(t *testing.T) {
	tr := New()
	l, err := tr.NewListener("inproc://proto-check-test", pairInfo)
	require.NoError(t, err)
	require.NoError(t, l.Listen())
	defer l.Close()

	pushInfo := sp.ProtocolInfo{Self: 0x50, SelfName: "push", Peer: 0x51, PeerName: "pull"}
	d, err := tr.NewDialer("inproc://proto-check-test", pushInfo)
	require.NoError(t, err)

	dialErr := make(chan error, 1)
	go func() {
		_, err := d.Dial(context.Background())
		dialErr <- err
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = l.Accept(ctx)
	require.Error(t, err)
	assert.True(t, spcode.Is(err, spcode.EPROTO))

	err = <-dialErr
	require.Error(t, err)
	assert.True(t, spcode.Is(err, spcode.EPROTO))
}

// TestCloseNotifiesPeer covers the STOPPING_PEER handoff: closing one end
// surfaces EBADF on the other end's error callback and subsequent calls.
func TestCloseNotifiesPeer(t *testing.T) {
	a, b := newSinprocPair("close-test")

	peerErr := make(chan error, 1)
	b.bindPipeCallbacks(func() {}, func() {}, func(err error) { peerErr <- err })

	require.NoError(t, a.Close())

	select {
	case err := <-peerErr:
		assert.True(t, spcode.Is(err, spcode.EBADF))
	case <-time.After(time.Second):
		t.Fatal("peer never observed the close")
	}
}

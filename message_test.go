package sp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCloneIsIndependent(t *testing.T) {
	m := NewMessage("test", []byte("body"))
	m.Header = []byte{0x80, 0, 0, 1}

	c := m.Clone()
	c.Body[0] = 'X'
	c.Header[0] = 0

	assert.Equal(t, []byte("body"), m.Body, "mutating a clone must not touch the original body")
	assert.Equal(t, byte(0x80), m.Header[0], "mutating a clone must not touch the original header")
	assert.Equal(t, "test", c.Tag())
}

// TestSharedReleasesOnce covers the broadcast refcount: the n shared copies
// carry one refcount but not m's pool association, so releasing all of them
// recycles no buffer; m itself still owns the pooled frame.
func TestSharedReleasesOnce(t *testing.T) {
	frame := AllocPooledFrame(16)
	m := newPooledMessage(frame, 0)

	shared := m.Shared(3)
	require.Len(t, shared, 3)

	for _, s := range shared {
		s.Release()
	}
	// No assertion on pool internals; the contract under test is that the
	// triple release neither panics nor double-recycles (the race detector
	// and pool poisoning would catch either).
}

func TestPooledMessageSplitsHeader(t *testing.T) {
	frame := AllocPooledFrame(12)
	copy(frame, []byte{0x80, 0, 0, 1, 'p', 'a', 'y', 'l', 'o', 'a', 'd', '!'})

	m := newPooledMessage(frame, 4)
	assert.Equal(t, []byte{0x80, 0, 0, 1}, m.Header)
	assert.Equal(t, []byte("payload!"), m.Body)

	m.Release()
}

func TestPooledFrameSizeClasses(t *testing.T) {
	small := AllocPooledFrame(10)
	assert.Len(t, small, 10)

	huge := AllocPooledFrame(1 << 20)
	assert.Len(t, huge, 1<<20)

	// Oversize frames bypass the pool entirely; Release must still be safe.
	m := newPooledMessage(huge, 0)
	m.Release()
}

func TestTTLRoundTrip(t *testing.T) {
	m := NewMessage("", []byte("x"))
	assert.Zero(t, m.TTL())
	m.SetTTL(7)
	assert.Equal(t, 7, m.TTL())
	assert.Equal(t, 7, m.Clone().TTL())
}

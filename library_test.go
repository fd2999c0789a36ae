package sp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nanoproto/sp/spcode"
)

// nopProtocol is the minimal Protocol used to exercise socket construction
// without importing sp/protocol (which would cycle back into this package).
type nopProtocol struct{}

func (nopProtocol) Info() ProtocolInfo               { return ProtocolInfo{Self: 0x10, SelfName: "pair", Peer: 0x10, PeerName: "pair"} }
func (nopProtocol) AddPipe(*Pipe) error              { return nil }
func (nopProtocol) RemovePipe(*Pipe)                 {}
func (nopProtocol) Send(*Message) error              { return spcode.New(spcode.EAGAIN) }
func (nopProtocol) Recv() (*Message, error)          { return nil, spcode.New(spcode.EAGAIN) }
func (nopProtocol) Events() PipeEvents               { return PipeEvents{} }
func (nopProtocol) SetOption(string, any) error      { return spcode.New(spcode.ENOPROTOOPT) }
func (nopProtocol) GetOption(string) (any, error)    { return nil, spcode.New(spcode.ENOPROTOOPT) }
func (nopProtocol) PipeReadable(*Pipe)               {}
func (nopProtocol) PipeWritable(*Pipe)               {}
func (nopProtocol) Stop()                            {}
func (nopProtocol) Close()                           {}

// TestTermRefusesNewSockets covers Term: once process-wide shutdown
// begins, socket creation fails with ETERM.
func TestTermRefusesNewSockets(t *testing.T) {
	terminated.Store(true)
	t.Cleanup(func() { terminated.Store(false) })

	_, err := NewSocket(nopProtocol{}, nopProtocol{}.Info())
	require.Error(t, err)
	assert.True(t, spcode.Is(err, spcode.ETERM))
}

// TestSymbolEnumeration covers SymbolAt/SymbolInfo: a stable, in-bounds
// walk over every exported name, with out-of-range indexes (negative or
// past the end) reporting failure rather than panicking.
func TestSymbolEnumeration(t *testing.T) {
	_, _, ok := SymbolAt(-1)
	assert.False(t, ok)

	var count int
	seen := map[string]bool{}
	for i := 0; ; i++ {
		name, _, ok := SymbolAt(i)
		if !ok {
			break
		}
		require.NotEmpty(t, name)
		assert.False(t, seen[name], "symbol names must be unique: %s", name)
		seen[name] = true
		count++
	}
	require.NotZero(t, count)

	_, _, ok = SymbolAt(count)
	assert.False(t, ok)

	// The full tuple view agrees with the short one, and every option,
	// statistic, and error code appears exactly once.
	info, ok := SymbolInfo(0)
	require.True(t, ok)
	name, value, _ := SymbolAt(0)
	assert.Equal(t, name, info.Name)
	assert.Equal(t, value, info.Value)

	assert.True(t, seen[OptionRecvMaxSize])
	assert.True(t, seen[StatBytesSent])
	assert.True(t, seen[spcode.ETIMEDOUT.String()])
}

// TestSymbolOrderIsDeterministic pins symbol(i) as a pure function of i
// within a process.
func TestSymbolOrderIsDeterministic(t *testing.T) {
	for i := 0; i < 5; i++ {
		a, av, ok := SymbolAt(i)
		require.True(t, ok)
		b, bv, ok := SymbolAt(i)
		require.True(t, ok)
		assert.Equal(t, a, b)
		assert.Equal(t, av, bv)
	}
}

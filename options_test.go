package sp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nanoproto/sp/spcode"
)

func newOptionTestSocket(t *testing.T) *Socket {
	t.Helper()
	s, err := NewSocket(nopProtocol{}, nopProtocol{}.Info())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSetOptionValidation(t *testing.T) {
	s := newOptionTestSocket(t)

	for _, tc := range []struct {
		name  string
		opt   string
		value any
	}{
		{"negative sndbuf", OptionSendBuffer, -1},
		{"negative rcvbuf", OptionRecvBuffer, -1},
		{"priority below range", OptionSendPriority, 0},
		{"priority above range", OptionRecvPriority, 17},
		{"ttl zero", OptionMaxTTL, 0},
		{"ttl above range", OptionMaxTTL, 256},
		{"name too long", OptionSocketName, string(make([]byte, 64))},
		{"wrong type", OptionIPv4Only, "yes"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			err := s.SetOption(tc.opt, tc.value)
			require.Error(t, err)
			assert.True(t, spcode.Is(err, spcode.EINVAL))
		})
	}

	err := s.SetOption("NO_SUCH_OPTION", 1)
	require.Error(t, err)
	assert.True(t, spcode.Is(err, spcode.ENOPROTOOPT))
}

func TestOptionRoundTrips(t *testing.T) {
	s := newOptionTestSocket(t)

	require.NoError(t, s.SetOption(OptionSendTimeout, 250*time.Millisecond))
	v, err := s.GetOption(OptionSendTimeout)
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, v)

	// Integer option values are treated as milliseconds, the C API's unit.
	require.NoError(t, s.SetOption(OptionRecvTimeout, 500))
	v, err = s.GetOption(OptionRecvTimeout)
	require.NoError(t, err)
	assert.Equal(t, 500*time.Millisecond, v)

	require.NoError(t, s.SetOption(OptionRecvMaxSize, int64(-1)))
	v, err = s.GetOption(OptionRecvMaxSize)
	require.NoError(t, err)
	assert.Equal(t, int64(-1), v)

	require.NoError(t, s.SetOption(OptionSocketName, "front-door"))
	assert.Equal(t, "front-door", s.String())

	require.NoError(t, s.SetOption(OptionMaxTTL, 4))
	require.NoError(t, s.SetOption(OptionSendPriority, 2))
	require.NoError(t, s.SetOption(OptionIPv4Only, true))
}

func TestDefaultOptionValues(t *testing.T) {
	o := defaultOptions()
	assert.Equal(t, 128*1024, o.sendBuffer)
	assert.Equal(t, 128*1024, o.recvBuffer)
	assert.Equal(t, time.Duration(-1), o.sendTimeout)
	assert.Equal(t, time.Duration(-1), o.recvTimeout)
	assert.Equal(t, 100*time.Millisecond, o.reconnectIvl)
	assert.Equal(t, time.Duration(0), o.reconnectIvlMax)
	assert.Equal(t, int64(1024*1024), o.recvMaxSize)
}

func TestNextBackoffDoublesUpToCap(t *testing.T) {
	base := 100 * time.Millisecond
	max := 700 * time.Millisecond

	ivl := base
	var seen []time.Duration
	for i := 0; i < 4; i++ {
		ivl = nextBackoff(ivl, base, max)
		seen = append(seen, ivl)
	}
	assert.Equal(t, []time.Duration{200 * time.Millisecond, 400 * time.Millisecond, 700 * time.Millisecond, 700 * time.Millisecond}, seen)

	// The default max of 0 disables doubling entirely.
	assert.Equal(t, base, nextBackoff(base, base, 0))
}

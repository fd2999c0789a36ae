package spcode

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorFormatting(t *testing.T) {
	assert.Equal(t, "EAGAIN", New(EAGAIN).Error())
	assert.Equal(t, "dial: ECONNREFUSED", Wrap("dial", ECONNREFUSED, nil).Error())

	cause := errors.New("boom")
	assert.Equal(t, "frame: EMSGSIZE: boom", Wrap("frame", EMSGSIZE, cause).Error())
}

func TestIsMatchesByCodeOnly(t *testing.T) {
	err := Wrap("recv", ETIMEDOUT, errors.New("deadline"))

	assert.True(t, Is(err, ETIMEDOUT))
	assert.False(t, Is(err, EAGAIN))
	assert.True(t, errors.Is(err, New(ETIMEDOUT)), "errors.Is must match on Code regardless of Op/cause")
}

func TestOfUnwrapsThroughChains(t *testing.T) {
	inner := Wrap("inner", EBADF, nil)
	outer := fmt.Errorf("outer context: %w", inner)

	code, ok := Of(outer)
	require.True(t, ok)
	assert.Equal(t, EBADF, code)

	_, ok = Of(errors.New("unrelated"))
	assert.False(t, ok)
}

func TestCodeStringCoversTaxonomy(t *testing.T) {
	for c := EINVAL; c <= EPROTO; c++ {
		assert.NotContains(t, c.String(), "spcode(", "every taxonomy member needs a name: %d", int(c))
	}
	assert.Contains(t, Code(9999).String(), "spcode(")
}

package wire

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestSplitSPHeader covers the self-delimiting header scan: the boundary is
// the first 4-byte word with its high bit set, or the whole frame when no
// terminal word exists.
func TestSplitSPHeader(t *testing.T) {
	for _, tc := range []struct {
		name  string
		frame []byte
		want  int
	}{
		{"terminal first word", []byte{0x80, 0, 0, 1, 'b', 'o', 'd', 'y'}, 4},
		{"device-grown stack", []byte{0x00, 0, 0, 0, 0x80, 0, 0, 1, 'b'}, 8},
		{"no terminal word", []byte{0x00, 0, 0, 0, 0x00, 0, 0, 1}, 8},
		{"short frame", []byte{0x80, 0}, 2},
		{"empty frame", nil, 0},
	} {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, SplitSPHeader(tc.frame))
		})
	}
}

func TestValidateHostname(t *testing.T) {
	for _, tc := range []struct {
		name string
		in   string
		want bool
	}{
		{"simple", "example.com", true},
		{"single label", "localhost", true},
		{"digits and dashes", "a-1.b-2.c", true},
		{"empty", "", false},
		{"leading dash", "-bad.example", false},
		{"empty label", "a..b", false},
		{"underscore", "bad_host", false},
		{"label too long", strings.Repeat("a", 64) + ".com", false},
		{"name too long", strings.Repeat("a.", 128) + "com", false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ValidateHostname(tc.in))
		})
	}
}

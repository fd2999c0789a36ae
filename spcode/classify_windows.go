//go:build windows

package spcode

import (
	"context"
	"errors"
	"net"
)

// Classify is the Windows counterpart of the unix errno table; it relies on
// net.Error's Timeout() classification plus context errors, since the
// syscall.Errno values on Windows are a different numeric space.
func Classify(err error) (Code, bool) {
	if err == nil {
		return 0, false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ETIMEDOUT, true
	}
	if errors.Is(err, context.Canceled) {
		return EINTR, true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ETIMEDOUT, true
	}
	return 0, false
}

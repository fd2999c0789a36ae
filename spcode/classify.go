//go:build !windows

package spcode

import (
	"context"
	"errors"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// Classify maps a transport-level error (typically returned by package net
// or a raw syscall) into the taxonomy's Code. It returns (0, false) when the
// error is not one of the recognized transport conditions — callers should
// fall back to a generic EPROTO or propagate the raw error.
//
// Adapted from the errno-to-label mapping pattern in bassosimone/nop's
// errclass package: a flat table of syscall errnos, checked in one pass.
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

	var errno unix.Errno
	if errors.As(err, &errno) {
		if c, ok := errnoTable[errno]; ok {
			return c, true
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ETIMEDOUT, true
	}

	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		if c, ok := Classify(pathErr.Err); ok {
			return c, true
		}
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if c, ok := Classify(opErr.Err); ok {
			return c, true
		}
	}

	return 0, false
}

var errnoTable = map[unix.Errno]Code{
	unix.EADDRNOTAVAIL: EADDRNOTAVAIL,
	unix.EADDRINUSE:    EADDRINUSE,
	unix.ECONNABORTED:  ECONNABORTED,
	unix.ECONNREFUSED:  ECONNREFUSED,
	unix.ECONNRESET:    ECONNRESET,
	unix.EHOSTUNREACH:  EHOSTUNREACH,
	unix.EINVAL:        EINVAL,
	unix.EINTR:         EINTR,
	unix.ENETDOWN:      ENETDOWN,
	unix.ENETUNREACH:   ENETUNREACH,
	unix.ENETRESET:     ENETRESET,
	unix.ENOTCONN:      ENOTCONN,
	unix.ETIMEDOUT:     ETIMEDOUT,
	unix.EMFILE:        EMFILE,
	unix.ENFILE:        ENFILE,
	unix.ENOMEM:        ENOMEM,
	unix.EAGAIN:        EAGAIN,
}

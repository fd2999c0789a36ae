//go:build windows

package tcp

import (
	"syscall"

	"golang.org/x/sys/windows"
)

// reuseAddrControl sets SO_EXCLUSIVEADDRUSE, Windows' real equivalent of
// exclusive-address-use semantics (plain SO_REUSEADDR on
// Windows allows a rebind a listening port, the opposite of what's wanted).
func reuseAddrControl(network, address string, c syscall.RawConn) error {
	var setErr error
	err := c.Control(func(fd uintptr) {
		setErr = windows.SetsockoptInt(windows.Handle(fd), windows.SOL_SOCKET, windows.SO_EXCLUSIVEADDRUSE, 1)
	})
	if err != nil {
		return err
	}
	return setErr
}

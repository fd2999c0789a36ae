//go:build !windows

package tcp

import "syscall"

// reuseAddrControl leaves the socket at its platform default (no
// SO_REUSEADDR) on unix-likes, which already refuses to rebind a port held
// by an active listener — the exclusive-address-use semantics we want,
// without needing an explicit option on these platforms.
func reuseAddrControl(network, address string, c syscall.RawConn) error {
	return nil
}

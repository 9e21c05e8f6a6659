//go:build windows

package listener

import "syscall"

// Windows has no SO_REUSEPORT; SO_REUSEADDR-style sharing has different
// semantics there, so the control hook is a no-op and each process needs
// its own port.
func controlReusePort(network, address string, c syscall.RawConn) error {
	return nil
}

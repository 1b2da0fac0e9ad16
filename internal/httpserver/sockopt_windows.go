//go:build windows

package httpserver

import "syscall"

// Windows' SO_REUSEADDR semantics differ enough (it permits silently
// stealing a bound port) that it's better left untouched; the listener
// falls back to the default socket options here.
func setReuseAddr(_ string, _ string, _ syscall.RawConn) error {
	return nil
}

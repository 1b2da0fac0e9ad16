package httpserver

import (
	"context"
	"fmt"
	"net"
	"os"
)

// Listen builds the daemon's listener: a TCP listener normally, or a
// unix domain socket when unixPath is set (which takes precedence).
// TCP listeners get SO_REUSEADDR set via the platform-specific sockopt
// hook so a restart during development doesn't hit "address already in
// use".
func Listen(host string, port int, unixPath string) (net.Listener, error) {
	if unixPath != "" {
		if err := os.Remove(unixPath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("httpserver: removing stale unix socket: %w", err)
		}
		ln, err := net.Listen("unix", unixPath)
		if err != nil {
			return nil, fmt.Errorf("httpserver: unix listen: %w", err)
		}
		return ln, nil
	}

	addr := fmt.Sprintf("%s:%d", host, port)
	lc := net.ListenConfig{Control: setReuseAddr}
	ln, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("httpserver: tcp listen: %w", err)
	}
	return ln, nil
}

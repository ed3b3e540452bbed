//go:build !windows

package eventpipe

import (
	"context"
	"errors"
	"net"
)

// ErrUnsupportedPlatform is returned by NewClient's dialer on any
// non-Windows host; the diagnostics IPC named pipe is Windows-only here.
var ErrUnsupportedPlatform = errors.New("managed diagnostic channel unsupported on this platform")

// NewClient returns a Client whose dial always fails, so the package
// still compiles and its framing logic is unit-testable off-host.
func NewClient() *Client {
	return New(func(ctx context.Context, pipeName string) (net.Conn, error) {
		return nil, ErrUnsupportedPlatform
	})
}

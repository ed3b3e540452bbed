//go:build windows

package eventpipe

import (
	"context"
	"net"

	winio "github.com/Microsoft/go-winio"
)

// NewClient returns a Client that dials a real Windows named pipe, the
// transport .NET's diagnostics IPC protocol itself uses.
func NewClient() *Client {
	return New(dialWindowsPipe)
}

func dialWindowsPipe(ctx context.Context, pipeName string) (net.Conn, error) {
	return winio.DialPipeContext(ctx, pipeName)
}

// Package eventpipe implements the small advertise/request/response
// framing used by .NET's diagnostics IPC protocol over a named pipe
// (\\.\pipe\dotnet-diagnostic-<pid>), satisfying diagnostics.Channel.
package eventpipe

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"

	"github.com/splax/scenariotel/internal/diagnostics"
)

// magic is the fixed IPC header every request/response frame begins with,
// matching the real protocol's "DOTNET_IPC_V1" magic string.
const magic = "DOTNET_IPC_V1\x00"

const (
	msgTypeEventPipe  uint16 = 0x02
	cmdCollectTracing uint16 = 0x01
	cmdStopTracing    uint16 = 0x02
)

// Client opens sessions over a named pipe dialer. dial is injected so the
// framing logic is testable without a real pipe.
type Client struct {
	dial func(ctx context.Context, pipeName string) (net.Conn, error)
}

// New constructs a Client using the given dialer (production code passes
// the Windows named-pipe dialer from pipe_windows.go).
func New(dial func(ctx context.Context, pipeName string) (net.Conn, error)) *Client {
	return &Client{dial: dial}
}

var _ diagnostics.Channel = (*Client)(nil)

// Open implements diagnostics.Channel.
func (c *Client) Open(ctx context.Context, pid uint32, providers []diagnostics.Provider) (diagnostics.Session, error) {
	pipeName := fmt.Sprintf(`\\.\pipe\dotnet-diagnostic-%d`, pid)
	conn, err := c.dial(ctx, pipeName)
	if err != nil {
		return nil, fmt.Errorf("dial diagnostic pipe for pid %d: %w", pid, err)
	}

	req := collectTracingRequest{Providers: providers}
	if err := writeFrame(conn, msgTypeEventPipe, cmdCollectTracing, req); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send collect_tracing request: %w", err)
	}

	var ack ackResponse
	if err := readFrame(conn, &ack); err != nil {
		conn.Close()
		return nil, fmt.Errorf("read collect_tracing ack: %w", err)
	}
	if !ack.OK {
		conn.Close()
		return nil, fmt.Errorf("diagnostic channel refused attach: %s", ack.Error)
	}

	sess := &session{conn: conn, events: make(chan diagnostics.Event, 64)}
	go sess.pump()
	return sess, nil
}

type collectTracingRequest struct {
	Providers []diagnostics.Provider `json:"providers"`
}

type ackResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

type eventFrame struct {
	Name    string            `json:"name"`
	Payload map[string]string `json:"payload"`
	Indexed []string          `json:"indexed"`
}

func writeFrame(w io.Writer, msgType, command uint16, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	var header [len(magic) + 2 + 2 + 4]byte
	copy(header[:], magic)
	binary.LittleEndian.PutUint16(header[len(magic):], msgType)
	binary.LittleEndian.PutUint16(header[len(magic)+2:], command)
	binary.LittleEndian.PutUint32(header[len(magic)+4:], uint32(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	_, err = w.Write(payload)
	return err
}

func readFrame(r io.Reader, out any) error {
	var header [len(magic) + 2 + 2 + 4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return err
	}
	if string(header[:len(magic)]) != magic {
		return fmt.Errorf("bad diagnostic frame magic")
	}
	size := binary.LittleEndian.Uint32(header[len(magic)+4:])
	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return err
	}
	return json.Unmarshal(buf, out)
}

type session struct {
	conn   net.Conn
	events chan diagnostics.Event
}

func (s *session) Events() <-chan diagnostics.Event { return s.events }

func (s *session) Close() error {
	_ = writeFrame(s.conn, msgTypeEventPipe, cmdStopTracing, struct{}{})
	return s.conn.Close()
}

func (s *session) pump() {
	defer close(s.events)
	r := bufio.NewReader(s.conn)
	for {
		var frame eventFrame
		if err := readFrame(r, &frame); err != nil {
			return
		}
		select {
		case s.events <- diagnostics.Event{Name: frame.Name, Payload: frame.Payload, Indexed: frame.Indexed}:
		default:
		}
	}
}

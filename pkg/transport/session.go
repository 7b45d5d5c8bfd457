// Package transport owns one bidirectional framed connection carrying
// holon-rpc text frames. A session lives for exactly one request/response
// cycle (or one connect probe) and is then closed.
package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"nhooyr.io/websocket"

	"holoncert/pkg/rpc"
)

// ConnectError is a transport-level connect failure or a subprotocol
// mismatch. Fatal to the cycle, never retried.
type ConnectError struct {
	Endpoint string
	Err      error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Endpoint, e.Err)
}
func (e *ConnectError) Unwrap() error { return e.Err }

// ConnectionError is a failure on an established session (closed or broken
// connection, unexpected frame type).
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }
func (e *ConnectionError) Unwrap() error { return e.Err }

// TimeoutError reports that the cycle's wall-clock budget expired during the
// named stage.
type TimeoutError struct {
	Stage string
	Err   error
}

func (e *TimeoutError) Error() string { return fmt.Sprintf("deadline exceeded during %s", e.Stage) }
func (e *TimeoutError) Unwrap() error { return e.Err }

// Session is one open holon-rpc connection. All operations block and are
// bounded by the deadline carried on the context; the same context must span
// open, send and receive so the budget covers the whole cycle.
type Session struct {
	conn      *websocket.Conn
	endpoint  string
	closeOnce sync.Once
}

// Open dials the endpoint and negotiates the holon-rpc subprotocol. If the
// peer negotiates anything else the connection is closed with a protocol
// error before any message is exchanged and Open fails with ConnectError.
func Open(ctx context.Context, endpoint string) (*Session, error) {
	conn, _, err := websocket.Dial(ctx, endpoint, &websocket.DialOptions{
		Subprotocols: []string{rpc.Subprotocol},
	})
	if err != nil {
		if cause := deadlineCause(ctx); cause != nil {
			return nil, &TimeoutError{Stage: "connect", Err: cause}
		}
		return nil, &ConnectError{Endpoint: endpoint, Err: err}
	}

	if got := conn.Subprotocol(); got != rpc.Subprotocol {
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol not negotiated")
		return nil, &ConnectError{
			Endpoint: endpoint,
			Err:      fmt.Errorf("negotiated subprotocol %q, want %q", got, rpc.Subprotocol),
		}
	}

	return &Session{conn: conn, endpoint: endpoint}, nil
}

// Send writes one text frame.
func (s *Session) Send(ctx context.Context, data []byte) error {
	if err := s.conn.Write(ctx, websocket.MessageText, data); err != nil {
		if cause := deadlineCause(ctx); cause != nil {
			return &TimeoutError{Stage: "send", Err: cause}
		}
		return &ConnectionError{Op: "send", Err: err}
	}
	return nil
}

// Receive blocks until one text frame arrives, the deadline expires, or the
// connection breaks.
func (s *Session) Receive(ctx context.Context) ([]byte, error) {
	typ, data, err := s.conn.Read(ctx)
	if err != nil {
		if cause := deadlineCause(ctx); cause != nil {
			return nil, &TimeoutError{Stage: "receive", Err: cause}
		}
		return nil, &ConnectionError{Op: "receive", Err: err}
	}
	if typ != websocket.MessageText {
		return nil, &ConnectionError{Op: "receive", Err: fmt.Errorf("unexpected %v frame", typ)}
	}
	return data, nil
}

// Close closes the session. Idempotent; safe after a failed operation.
func (s *Session) Close(code websocket.StatusCode, reason string) {
	s.closeOnce.Do(func() {
		_ = s.conn.Close(code, reason)
	})
}

func deadlineCause(ctx context.Context) error {
	if err := ctx.Err(); errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}

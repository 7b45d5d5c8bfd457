package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"nhooyr.io/websocket"

	"holoncert/pkg/dispatch"
	"holoncert/pkg/engine"
	"holoncert/pkg/rpc"
	"holoncert/pkg/transport"
)

func testServer(t *testing.T, opts ...Option) (*Server, string) {
	t.Helper()
	gin.SetMode(gin.ReleaseMode)
	d := dispatch.New(dispatch.Identity{SDK: "go-holons", Version: "0.3.0"})
	s, err := New(d, opts...)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	srv := httptest.NewServer(s.Engine)
	t.Cleanup(srv.Close)
	return s, "ws://" + strings.TrimPrefix(srv.URL, "http://") + "/rpc"
}

func TestHealthz(t *testing.T) {
	_, endpoint := testServer(t)
	url := "http://" + strings.TrimPrefix(endpoint, "ws://")
	url = strings.TrimSuffix(url, "/rpc") + "/healthz"
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz status = %d", resp.StatusCode)
	}
}

func TestEchoCycleAgainstServer(t *testing.T) {
	_, endpoint := testServer(t)
	g, err := engine.New(engine.Expectation{
		Endpoint:  endpoint,
		Method:    dispatch.MethodEchoPing,
		Params:    map[string]rpc.Value{"message": rpc.String("cert")},
		Timeout:   5 * time.Second,
		RequestID: "c1",
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	v := g.Run(context.Background())
	if v.Status != engine.StatusPass {
		t.Fatalf("expected pass, got %s (%s)", v.Status, v.Reason)
	}
}

func TestSessionSurvivesParseError(t *testing.T) {
	_, endpoint := testServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sess, err := transport.Open(ctx, endpoint)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer sess.Close(websocket.StatusNormalClosure, "done")

	// malformed frame: answered with -32700, session stays open
	if err := sess.Send(ctx, []byte(`{"jsonrpc":`)); err != nil {
		t.Fatalf("send: %v", err)
	}
	data, err := sess.Receive(ctx)
	if err != nil {
		t.Fatalf("receive after parse error: %v", err)
	}
	res, derr := rpc.Decode(data)
	if derr != nil {
		t.Fatalf("decode: %v", derr)
	}
	if res.Error == nil || res.Error.Code != rpc.CodeParseError {
		t.Fatalf("expected %d, got %+v", rpc.CodeParseError, res.Error)
	}

	// bad version: answered with -32600, session still open
	if err := sess.Send(ctx, []byte(`{"jsonrpc":"1.0","id":"v1","method":"heartbeat","params":{}}`)); err != nil {
		t.Fatalf("send: %v", err)
	}
	data, err = sess.Receive(ctx)
	if err != nil {
		t.Fatalf("receive after invalid request: %v", err)
	}
	res, derr = rpc.Decode(data)
	if derr != nil {
		t.Fatalf("decode: %v", derr)
	}
	if res.Error == nil || res.Error.Code != rpc.CodeInvalidRequest {
		t.Fatalf("expected %d, got %+v", rpc.CodeInvalidRequest, res.Error)
	}
	if res.ID == nil || !res.ID.Equal(rpc.String("v1")) {
		t.Errorf("invalid request response should echo the id: %+v", res.ID)
	}

	// the same session still serves valid requests
	payload, _ := rpc.Encode(rpc.NewRequest(rpc.String("h1"), dispatch.MethodHeartbeat, nil))
	if err := sess.Send(ctx, payload); err != nil {
		t.Fatalf("send heartbeat: %v", err)
	}
	data, err = sess.Receive(ctx)
	if err != nil {
		t.Fatalf("receive heartbeat: %v", err)
	}
	res, derr = rpc.Decode(data)
	if derr != nil {
		t.Fatalf("decode heartbeat: %v", derr)
	}
	if res.Error != nil || res.Result == nil {
		t.Errorf("heartbeat should still succeed on this session: %+v", res)
	}
}

func TestRejectsMissingSubprotocol(t *testing.T) {
	_, endpoint := testServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// dial without offering holon-rpc; the server must close before any message
	conn, _, err := websocket.Dial(ctx, endpoint, nil)
	if err != nil {
		// rejecting the upgrade outright is also acceptable
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")
	if _, _, err := conn.Read(ctx); err == nil {
		t.Error("expected the server to close a session without the subprotocol")
	}
}

func TestConcurrentSessions(t *testing.T) {
	_, endpoint := testServer(t, WithPoolSize(16))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			g, err := engine.New(engine.Expectation{
				Endpoint: endpoint,
				Method:   dispatch.MethodHeartbeat,
				Timeout:  5 * time.Second,
			})
			if err != nil {
				t.Errorf("session %d: %v", n, err)
				return
			}
			if v := g.Run(context.Background()); v.Status != engine.StatusPass {
				t.Errorf("session %d: %s (%s)", n, v.Status, v.Reason)
			}
		}(i)
	}
	wg.Wait()
}

func TestRateLimitRejectsBurst(t *testing.T) {
	_, endpoint := testServer(t, WithRateLimit(1, 1))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// first connection takes the only token
	sess, err := transport.Open(ctx, endpoint)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	defer sess.Close(websocket.StatusNormalClosure, "done")

	if _, err := transport.Open(ctx, endpoint); err == nil {
		t.Error("expected second connection to be rejected by the rate limiter")
	}
}

// Package server hosts the reference holon-rpc endpoint: a gin HTTP server
// upgrading /rpc to WebSocket sessions served by the dispatcher.
package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/panjf2000/ants/v2"
	"golang.org/x/time/rate"
	"nhooyr.io/websocket"

	"holoncert/pkg/common/logger"
	"holoncert/pkg/dispatch"
	"holoncert/pkg/rpc"
)

// Server serves holon-rpc sessions. Sessions run on a bounded worker pool;
// connection admission is rate limited.
type Server struct {
	Engine      *gin.Engine
	httpServer  *http.Server
	addr        string
	shutdownDur time.Duration
	poolSize    int
	ratePerSec  float64
	rateBurst   int

	dispatcher *dispatch.Dispatcher
	pool       *ants.Pool
	limiter    *rate.Limiter

	sessCtx    context.Context
	sessCancel context.CancelFunc
}

type Option func(*Server)

func WithAddress(addr string) Option             { return func(s *Server) { s.addr = addr } }
func WithShutdownTimeout(d time.Duration) Option { return func(s *Server) { s.shutdownDur = d } }
func WithPoolSize(n int) Option                  { return func(s *Server) { s.poolSize = n } }
func WithRateLimit(perSec float64, burst int) Option {
	return func(s *Server) {
		s.ratePerSec = perSec
		s.rateBurst = burst
	}
}

// New creates a server around the given dispatcher. The dispatcher's method
// mapping must be fully registered before New.
func New(d *dispatch.Dispatcher, opts ...Option) (*Server, error) {
	g := gin.New()
	g.Use(gin.RecoveryWithWriter(zerologWriter{}))
	g.Use(requestLogger())
	gin.DefaultWriter = zerologWriter{}
	gin.DefaultErrorWriter = zerologWriter{}

	s := &Server{
		Engine:      g,
		addr:        ":9000",
		shutdownDur: 5 * time.Second,
		poolSize:    64,
		ratePerSec:  100,
		rateBurst:   100,
		dispatcher:  d,
	}
	for _, opt := range opts {
		opt(s)
	}

	pool, err := ants.NewPool(s.poolSize, ants.WithNonblocking(true))
	if err != nil {
		return nil, err
	}
	s.pool = pool
	s.limiter = rate.NewLimiter(rate.Limit(s.ratePerSec), s.rateBurst)
	s.sessCtx, s.sessCancel = context.WithCancel(context.Background())

	g.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	g.GET("/rpc", s.handleRPC)

	s.httpServer = &http.Server{Addr: s.addr, Handler: g}
	return s, nil
}

// Start runs the server asynchronously.
func (s *Server) Start() error {
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.GetLogger().Error().Err(err).Msg("server error")
		}
	}()
	logger.GetLogger().Info().Str("addr", s.addr).Msg("holon-rpc server started")
	return nil
}

// Shutdown stops accepting connections, ends open sessions and releases the
// worker pool.
func (s *Server) Shutdown(ctx context.Context) error {
	ctxTimeout, cancel := context.WithTimeout(ctx, s.shutdownDur)
	defer cancel()
	err := s.httpServer.Shutdown(ctxTimeout)
	s.sessCancel()
	s.pool.Release()
	return err
}

func (s *Server) handleRPC(c *gin.Context) {
	if !s.limiter.Allow() {
		c.AbortWithStatus(http.StatusTooManyRequests)
		return
	}

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		Subprotocols: []string{rpc.Subprotocol},
	})
	if err != nil {
		logger.WithComponent("rpc").Warn().Err(err).Msg("websocket accept failed")
		return
	}
	if conn.Subprotocol() != rpc.Subprotocol {
		// no message may be exchanged without the holon-rpc subprotocol
		_ = conn.Close(websocket.StatusPolicyViolation, "holon-rpc subprotocol required")
		return
	}

	// the handler blocks until the session ends; the pool bounds how many
	// sessions run at once
	done := make(chan struct{})
	if err := s.pool.Submit(func() {
		defer close(done)
		s.serveSession(s.sessCtx, conn)
	}); err != nil {
		_ = conn.Close(websocket.StatusTryAgainLater, "server busy")
		return
	}
	<-done
}

func (s *Server) serveSession(ctx context.Context, conn *websocket.Conn) {
	log := logger.WithComponent("session")
	defer conn.Close(websocket.StatusNormalClosure, "done")
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if status := websocket.CloseStatus(err); status != websocket.StatusNormalClosure && status != -1 {
				log.Debug().Int("status", int(status)).Msg("session closed by peer")
			}
			return
		}
		out := s.answer(ctx, data)
		payload, err := rpc.Encode(out)
		if err != nil {
			log.Error().Err(err).Msg("encode response failed")
			return
		}
		if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
			return
		}
	}
}

// answer maps one incoming frame to one response envelope. Malformed frames
// get -32700 and bad versions -32600; the session stays open either way.
func (s *Server) answer(ctx context.Context, data []byte) *rpc.Envelope {
	env, err := rpc.Decode(data)
	if err != nil {
		var ire *rpc.InvalidRequestError
		if errors.As(err, &ire) {
			return rpc.NewError(env.ID, rpc.CodeInvalidRequest, "invalid request")
		}
		return rpc.NewError(nil, rpc.CodeParseError, "parse error")
	}
	return s.dispatcher.Handle(ctx, env)
}

// zerologWriter adapts gin's writer to zerolog
type zerologWriter struct{}

func (zerologWriter) Write(p []byte) (int, error) {
	msg := strings.TrimSpace(string(p))
	if msg != "" {
		logger.GetLogger().Info().Msg(msg)
	}
	return len(p), nil
}

// requestLogger logs basic request info
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		logger.GetLogger().Info().
			Int("status", c.Writer.Status()).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Dur("latency", latency).
			Msg("request")
	}
}

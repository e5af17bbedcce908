package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/kart-io/logger"

	"github.com/kart-io/bookrag/pkg/infra/middleware"
	mwopts "github.com/kart-io/bookrag/pkg/options/middleware"
	httpopts "github.com/kart-io/bookrag/pkg/options/server/http"
	apierrors "github.com/kart-io/bookrag/pkg/utils/errors"
	"github.com/kart-io/bookrag/pkg/utils/response"
)

var _ Runnable = (*HTTPServer)(nil)

// HTTPServer 基于 gin 的 HTTP 服务。
type HTTPServer struct {
	opts   *httpopts.Options
	engine *gin.Engine
	server *http.Server

	mu       sync.Mutex
	listener net.Listener
}

// NewHTTPServer creates a gin engine with the middleware chain applied in
// order: recovery, request id, tracing, access log, CORS, body limit.
func NewHTTPServer(opts *httpopts.Options, mw *mwopts.Options) *HTTPServer {
	if opts == nil {
		opts = httpopts.NewOptions()
	}
	if mw == nil {
		mw = mwopts.NewOptions()
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.HandleMethodNotAllowed = true
	engine.ContextWithFallback = true

	engine.Use(
		middleware.Recovery(mw.Recovery, nil),
		middleware.RequestID(mw.RequestID),
		middleware.Tracing(mw.Tracing),
		middleware.Logger(mw.Logger),
		middleware.CORS(mw.CORS),
	)
	if opts.MaxBodyBytes > 0 {
		engine.Use(limitBody(opts.MaxBodyBytes))
	}

	engine.NoRoute(func(c *gin.Context) {
		response.Fail(c, apierrors.ErrNotFound.WithMessagef("route %s %s not found", c.Request.Method, c.Request.URL.Path))
	})
	engine.NoMethod(func(c *gin.Context) {
		response.Fail(c, apierrors.ErrMethodNotAllowed.WithMessagef("method %s not allowed on %s", c.Request.Method, c.Request.URL.Path))
	})

	return &HTTPServer{
		opts:   opts,
		engine: engine,
		server: &http.Server{
			Addr:         opts.Addr,
			Handler:      engine,
			ReadTimeout:  opts.ReadTimeout,
			WriteTimeout: opts.WriteTimeout,
			IdleTimeout:  opts.IdleTimeout,
		},
	}
}

// limitBody caps request bodies. Reading past the limit fails with
// *http.MaxBytesError, which handlers report as 413.
func limitBody(n int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, n)
		}
		c.Next()
	}
}

// Name returns the server name.
func (s *HTTPServer) Name() string {
	return "http"
}

// Engine returns the gin engine for route registration.
func (s *HTTPServer) Engine() *gin.Engine {
	return s.engine
}

// Handler returns the HTTP handler, useful for httptest.
func (s *HTTPServer) Handler() http.Handler {
	return s.engine
}

// Addr returns the bound address once started, or the configured one.
func (s *HTTPServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.opts.Addr
}

// Start binds the listener synchronously so that address errors surface
// here, then serves in the background.
func (s *HTTPServer) Start(_ context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.opts.Addr, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorw("HTTP server stopped unexpectedly", "addr", ln.Addr().String(), "error", err.Error())
		}
	}()
	return nil
}

// Stop gracefully shuts down the server.
func (s *HTTPServer) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

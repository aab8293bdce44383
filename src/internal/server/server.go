// Package server exposes the deals, ingest and log store handlers on a
// single fasthttp listener.
package server

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"dealflow/src/internal/applog"
	"dealflow/src/internal/core"
	"dealflow/src/internal/deals"
	"dealflow/src/internal/identity"
	"dealflow/src/internal/ingest"
	"dealflow/src/internal/logstore"
	"dealflow/src/internal/ratelimit"
	"dealflow/src/internal/version"

	"github.com/lixenwraith/log"
	"github.com/lixenwraith/log/compat"
	"github.com/valyala/fasthttp"
)

// Options configures the listener.
type Options struct {
	Host               string
	Port               int64
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	MaxRequestBodySize int

	// Bound on log store reads
	QueryTimeout time.Duration
}

// Handlers are the route targets. Nil members disable their routes.
type Handlers struct {
	Deals    *deals.Handler
	Ingest   *ingest.HTTPHandler
	Logs     *logstore.Store
	Limiter  *ratelimit.Limiter
	Verifier *identity.Verifier
}

// Server routes requests and logs each one through the application log
// pipeline.
type Server struct {
	opts     Options
	handlers Handlers
	app      *applog.Logger
	logger   *log.Logger
	server   *fasthttp.Server
	now      func() time.Time
	errChan  chan error

	// Statistics
	startTime      time.Time
	totalRequests  atomic.Uint64
	failedRequests atomic.Uint64
}

// New creates a Server. app receives one entry per request.
func New(opts Options, handlers Handlers, app *applog.Logger, logger *log.Logger) *Server {
	if opts.Host == "" {
		opts.Host = "0.0.0.0"
	}
	if opts.QueryTimeout <= 0 {
		opts.QueryTimeout = 10 * time.Second
	}

	return &Server{
		opts:      opts,
		handlers:  handlers,
		app:       app,
		logger:    logger,
		now:       time.Now,
		startTime: time.Now(),
	}
}

// Handler returns the full request chain: rate limiting, panic capture,
// then routing with request logging.
func (s *Server) Handler() fasthttp.RequestHandler {
	return s.handlers.Limiter.Middleware(s.recoverPanics(s.requestHandler))
}

// recoverPanics logs a panicking request through the pipeline and answers
// it with 500 instead of taking the process down.
func (s *Server) recoverPanics(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		panicked := true
		defer func() {
			if !panicked {
				return
			}
			s.failedRequests.Add(1)
			ctx.Response.Reset()
			writeJSON(ctx, fasthttp.StatusInternalServerError, map[string]string{
				"error": "Internal server error",
			})
		}()
		defer s.app.Recover(core.Fields(
			"method", string(ctx.Method()),
			"path", string(ctx.Path()),
		))

		next(ctx)
		panicked = false
	}
}

// Start listens in the background. It returns an error if the listener
// fails immediately.
func (s *Server) Start() error {
	s.server = &fasthttp.Server{
		Name:               fmt.Sprintf("dealflow/%s", version.Short()),
		Handler:            s.Handler(),
		ReadTimeout:        s.opts.ReadTimeout,
		WriteTimeout:       s.opts.WriteTimeout,
		MaxRequestBodySize: s.opts.MaxRequestBodySize,
		CloseOnShutdown:    true,
		Logger:             compat.NewFastHTTPAdapter(s.logger),
	}

	addr := fmt.Sprintf("%s:%d", s.opts.Host, s.opts.Port)
	s.errChan = make(chan error, 1)

	go func() {
		s.logger.Info("msg", "HTTP server started",
			"component", "server",
			"host", s.opts.Host,
			"port", s.opts.Port,
			"ingest_enabled", s.handlers.Ingest != nil,
			"rate_limited", s.handlers.Limiter != nil)

		if err := s.server.ListenAndServe(addr); err != nil {
			s.errChan <- err
		}
	}()

	select {
	case err := <-s.errChan:
		return fmt.Errorf("failed to start HTTP server on %s: %w", addr, err)
	case <-time.After(100 * time.Millisecond):
		return nil
	}
}

// Stop shuts the listener down, waiting up to two seconds for open
// requests.
func (s *Server) Stop() {
	if s.server == nil {
		return
	}
	s.logger.Info("msg", "Stopping HTTP server", "component", "server")

	done := make(chan error, 1)
	go func() { done <- s.server.Shutdown() }()

	select {
	case err := <-done:
		if err != nil {
			s.logger.Error("msg", "Error shutting down HTTP server",
				"component", "server",
				"error", err)
		}
	case <-time.After(2 * time.Second):
		s.logger.Warn("msg", "HTTP server shutdown timed out",
			"component", "server")
	}
	s.handlers.Limiter.Stop()
}

// GetStats returns server and handler statistics.
func (s *Server) GetStats() map[string]any {
	stats := map[string]any{
		"uptime_seconds":  int64(time.Since(s.startTime).Seconds()),
		"total_requests":  s.totalRequests.Load(),
		"failed_requests": s.failedRequests.Load(),
		"pipeline":        s.app.Stats(),
	}
	if s.handlers.Ingest != nil {
		stats["ingest"] = s.handlers.Ingest.GetStats()
	}
	if s.handlers.Limiter != nil {
		stats["rate_limit"] = s.handlers.Limiter.GetStats()
	}
	return stats
}

func writeJSON(ctx *fasthttp.RequestCtx, status int, v any) {
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	json.NewEncoder(ctx).Encode(v)
}

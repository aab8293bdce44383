// Package ratelimit provides per-client request rate limiting for the
// fasthttp server.
package ratelimit

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lixenwraith/log"
	"github.com/valyala/fasthttp"
	"golang.org/x/time/rate"
)

// Options configures a Limiter.
type Options struct {
	RequestsPerSecond float64
	Burst             int

	// Idle clients are forgotten after twice this interval
	CleanupInterval time.Duration

	// Use the first X-Forwarded-For address as the client key
	TrustProxy bool

	// Go starts the cleanup loop; defaults to a plain goroutine
	Go func(fn func() error)
}

// Limiter keeps one token bucket per client.
type Limiter struct {
	opts    Options
	clients sync.Map // map[string]*clientLimiter
	logger  *log.Logger
	now     func() time.Time
	done    chan struct{}
	wg      sync.WaitGroup

	// Statistics
	allowed  atomic.Uint64
	rejected atomic.Uint64
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen atomic.Int64 // unix nanos
}

// New creates a Limiter and starts its cleanup loop. It returns nil when
// RequestsPerSecond is not positive; a nil Limiter allows everything.
func New(opts Options, logger *log.Logger) *Limiter {
	if opts.RequestsPerSecond <= 0 {
		return nil
	}
	if opts.Burst <= 0 {
		opts.Burst = max(1, int(opts.RequestsPerSecond))
	}
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = time.Minute
	}
	if opts.Go == nil {
		opts.Go = func(fn func() error) { go fn() }
	}

	l := &Limiter{
		opts:   opts,
		logger: logger,
		now:    time.Now,
		done:   make(chan struct{}),
	}

	l.wg.Add(1)
	opts.Go(l.cleanup)
	return l
}

// Allow reports whether client may make a request now.
func (l *Limiter) Allow(client string) bool {
	if l == nil {
		return true
	}

	if l.limiterFor(client).AllowN(l.now(), 1) {
		l.allowed.Add(1)
		return true
	}
	l.rejected.Add(1)
	return false
}

// Middleware rejects over-limit requests with 429 before calling next.
func (l *Limiter) Middleware(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	if l == nil {
		return next
	}
	return func(ctx *fasthttp.RequestCtx) {
		client := l.clientKey(ctx)
		if !l.Allow(client) {
			l.logger.Debug("msg", "Request rate limited",
				"component", "ratelimit",
				"client", client,
				"path", string(ctx.Path()))
			ctx.Response.Header.Set("Retry-After", "1")
			ctx.SetStatusCode(fasthttp.StatusTooManyRequests)
			ctx.SetContentType("application/json")
			ctx.SetBodyString(`{"error":"Rate limit exceeded"}`)
			return
		}
		next(ctx)
	}
}

func (l *Limiter) clientKey(ctx *fasthttp.RequestCtx) string {
	if l.opts.TrustProxy {
		if fwd := ctx.Request.Header.Peek("X-Forwarded-For"); len(fwd) > 0 {
			first, _, _ := strings.Cut(string(fwd), ",")
			return strings.TrimSpace(first)
		}
	}
	return ctx.RemoteIP().String()
}

func (l *Limiter) limiterFor(client string) *rate.Limiter {
	now := l.now().UnixNano()
	if val, ok := l.clients.Load(client); ok {
		c := val.(*clientLimiter)
		c.lastSeen.Store(now)
		return c.limiter
	}

	c := &clientLimiter{
		limiter: rate.NewLimiter(rate.Limit(l.opts.RequestsPerSecond), l.opts.Burst),
	}
	c.lastSeen.Store(now)
	actual, _ := l.clients.LoadOrStore(client, c)
	return actual.(*clientLimiter).limiter
}

func (l *Limiter) cleanup() error {
	defer l.wg.Done()
	ticker := time.NewTicker(l.opts.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return nil
		case <-ticker.C:
			l.removeIdle()
		}
	}
}

// removeIdle forgets clients not seen for two cleanup intervals.
func (l *Limiter) removeIdle() int {
	threshold := l.now().Add(-2 * l.opts.CleanupInterval).UnixNano()
	removed := 0
	l.clients.Range(func(key, value any) bool {
		if value.(*clientLimiter).lastSeen.Load() < threshold {
			l.clients.Delete(key)
			removed++
		}
		return true
	})
	return removed
}

// Stop ends the cleanup loop.
func (l *Limiter) Stop() {
	if l == nil {
		return
	}
	close(l.done)
	l.wg.Wait()
}

func (l *Limiter) GetStats() map[string]any {
	if l == nil {
		return map[string]any{"enabled": false}
	}
	clients := 0
	l.clients.Range(func(_, _ any) bool {
		clients++
		return true
	})
	return map[string]any{
		"enabled":             true,
		"requests_per_second": l.opts.RequestsPerSecond,
		"burst":               l.opts.Burst,
		"tracked_clients":     clients,
		"allowed":             l.allowed.Load(),
		"rejected":            l.rejected.Load(),
	}
}

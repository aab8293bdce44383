package server

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"dealflow/src/internal/core"
	"dealflow/src/internal/deals"
	"dealflow/src/internal/logstore"
	"dealflow/src/internal/postgrest"
	"dealflow/src/internal/version"

	"github.com/valyala/fasthttp"
)

// Routes
const (
	pathHealth      = "/healthz"
	pathStatus      = "/status"
	pathDeals       = "/deals"
	pathLogs        = "/logs"
	pathLogsRecent  = "/logs/recent"
	pathLogsArchive = "/logs/archived"
	pathLogsZip     = "/logs/archive.zip"
)

func (s *Server) requestHandler(ctx *fasthttp.RequestCtx) {
	s.totalRequests.Add(1)
	start := s.now()

	path := strings.TrimSuffix(string(ctx.Path()), "/")
	if path == "" {
		path = "/"
	}

	switch path {
	case pathHealth:
		s.handleHealth(ctx)
		// Health probes are not worth a log row
		return
	case pathStatus:
		writeJSON(ctx, fasthttp.StatusOK, map[string]any{
			"service": "dealflow",
			"version": version.String(),
			"server":  s.GetStats(),
		})
	case pathDeals:
		if s.handlers.Deals == nil {
			s.handleNotFound(ctx)
			break
		}
		s.handlers.Deals.ServeHTTP(ctx)
	case pathLogs:
		if s.handlers.Ingest == nil {
			s.handleNotFound(ctx)
			break
		}
		deals.SetCORS(ctx)
		if ctx.IsOptions() {
			ctx.SetStatusCode(fasthttp.StatusOK)
			break
		}
		s.handlers.Ingest.ServeHTTP(ctx)
	case pathLogsRecent:
		s.handleLogList(ctx, (*logstore.Store).Recent)
	case pathLogsArchive:
		s.handleLogList(ctx, (*logstore.Store).Archived)
	case pathLogsZip:
		s.handleArchiveZip(ctx)
	default:
		s.handleNotFound(ctx)
	}

	status := ctx.Response.StatusCode()
	if status >= fasthttp.StatusBadRequest {
		s.failedRequests.Add(1)
	}
	s.logRequest(ctx, path, status, s.now().Sub(start))
}

func (s *Server) handleHealth(ctx *fasthttp.RequestCtx) {
	writeJSON(ctx, fasthttp.StatusOK, map[string]any{
		"status":     "ok",
		"version":    version.Short(),
		"session_id": s.app.SessionID(),
		"queued":     s.app.QueueLen(),
	})
}

func (s *Server) handleNotFound(ctx *fasthttp.RequestCtx) {
	writeJSON(ctx, fasthttp.StatusNotFound, map[string]any{
		"error": "Not Found",
		"path":  string(ctx.Path()),
	})
}

// readPreamble handles CORS and method checks shared by the log store
// routes. It reports whether the handler should continue.
func (s *Server) readPreamble(ctx *fasthttp.RequestCtx) bool {
	deals.SetCORS(ctx)
	if s.handlers.Logs == nil {
		s.handleNotFound(ctx)
		return false
	}

	switch {
	case ctx.IsOptions():
		ctx.SetStatusCode(fasthttp.StatusOK)
		return false
	case ctx.IsGet():
		return true
	default:
		writeJSON(ctx, fasthttp.StatusMethodNotAllowed, map[string]string{
			"error": "Method not allowed",
		})
		return false
	}
}

func (s *Server) queryContext(ctx *fasthttp.RequestCtx) (context.Context, context.CancelFunc) {
	reqCtx, cancel := context.WithTimeout(context.Background(), s.opts.QueryTimeout)
	return postgrest.WithAuthorization(reqCtx, string(ctx.Request.Header.Peek("Authorization"))), cancel
}

func (s *Server) handleLogList(ctx *fasthttp.RequestCtx, query func(*logstore.Store, context.Context) ([]logstore.AppLog, error)) {
	if !s.readPreamble(ctx) {
		return
	}

	reqCtx, cancel := s.queryContext(ctx)
	defer cancel()

	logs, err := query(s.handlers.Logs, reqCtx)
	if err != nil {
		s.logger.Error("msg", "Log query failed",
			"component", "server",
			"path", string(ctx.Path()),
			"error", err)
		writeJSON(ctx, fasthttp.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetContentType("application/json")
	if err := logstore.ExportJSON(ctx, logs); err != nil {
		s.logger.Warn("msg", "Failed to write log list",
			"component", "server",
			"error", err)
	}
}

func (s *Server) handleArchiveZip(ctx *fasthttp.RequestCtx) {
	if !s.readPreamble(ctx) {
		return
	}

	reqCtx, cancel := s.queryContext(ctx)
	defer cancel()

	logs, err := s.handlers.Logs.Archived(reqCtx)
	if err != nil {
		s.logger.Error("msg", "Archive export failed",
			"component", "server",
			"error", err)
		writeJSON(ctx, fasthttp.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	now := s.now()
	var buf bytes.Buffer
	if err := logstore.ExportZip(&buf, logs, now); err != nil {
		writeJSON(ctx, fasthttp.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	name := strings.TrimSuffix(logstore.ArchiveName(now), ".json") + ".zip"
	ctx.Response.Header.Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, name))
	ctx.SetContentType("application/zip")
	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetBody(buf.Bytes())
}

// logRequest records the request in the application log. The caller's
// user id is attached when their bearer token verifies.
func (s *Server) logRequest(ctx *fasthttp.RequestCtx, path string, status int, elapsed time.Duration) {
	fields := core.Fields(
		"method", string(ctx.Method()),
		"path", path,
		"status", status,
		"duration_ms", elapsed.Milliseconds(),
		"remote_addr", ctx.RemoteIP().String(),
	)
	if userID, err := s.handlers.Verifier.Subject(string(ctx.Request.Header.Peek("Authorization"))); err == nil {
		fields["user_id"] = core.String(userID)
	}

	level := core.LevelInfo
	switch {
	case status >= fasthttp.StatusInternalServerError:
		level = core.LevelError
	case status >= fasthttp.StatusBadRequest:
		level = core.LevelWarn
	}

	s.app.LogFrom(core.Origin{
		URL:       string(ctx.RequestURI()),
		UserAgent: string(ctx.UserAgent()),
	}, core.LogEntry{
		Level:   level,
		Message: fmt.Sprintf("%s %s %d", ctx.Method(), path, status),
		Context: fields,
	})
}

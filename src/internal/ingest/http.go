package ingest

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"dealflow/src/internal/core"

	"github.com/lixenwraith/log"
	"github.com/valyala/fasthttp"
)

// HTTPOptions configures the HTTP relay.
type HTTPOptions struct {
	// bcrypt hash of the API key clients must send; empty disables the check
	APIKeyHash string

	// Source for entries that do not set one
	DefaultSource string
}

// HTTPHandler accepts POSTed client logs.
type HTTPHandler struct {
	relay   Relay
	decoder *Decoder
	keys    *keyChecker
	logger  *log.Logger

	// Statistics
	totalEntries    atomic.Uint64
	invalidRequests atomic.Uint64
	authFailures    atomic.Uint64
	lastEntryTime   atomic.Value // time.Time
}

// NewHTTPHandler creates an HTTP relay into relay.
func NewHTTPHandler(relay Relay, opts HTTPOptions, logger *log.Logger) (*HTTPHandler, error) {
	keys, err := newKeyChecker(opts.APIKeyHash)
	if err != nil {
		return nil, err
	}

	h := &HTTPHandler{
		relay:   relay,
		decoder: NewDecoder(opts.DefaultSource),
		keys:    keys,
		logger:  logger,
	}
	h.lastEntryTime.Store(time.Time{})
	return h, nil
}

// ServeHTTP handles POST requests carrying one entry or an array of them.
func (h *HTTPHandler) ServeHTTP(ctx *fasthttp.RequestCtx) {
	if !ctx.IsPost() {
		writeJSON(ctx, fasthttp.StatusMethodNotAllowed, map[string]string{
			"error": "Method not allowed",
		})
		return
	}

	if err := h.keys.check(apiKey(ctx)); err != nil {
		h.authFailures.Add(1)
		h.logger.Warn("msg", "Ingest request rejected",
			"component", "http_ingest",
			"remote_addr", ctx.RemoteAddr().String(),
			"error", err)
		writeJSON(ctx, fasthttp.StatusUnauthorized, map[string]string{"error": err.Error()})
		return
	}

	body := ctx.PostBody()
	if len(body) == 0 {
		h.invalidRequests.Add(1)
		writeJSON(ctx, fasthttp.StatusBadRequest, map[string]string{
			"error": "Empty request body",
		})
		return
	}

	records, err := h.decoder.Decode(body)
	if err != nil {
		h.invalidRequests.Add(1)
		writeJSON(ctx, fasthttp.StatusBadRequest, map[string]string{
			"error": fmt.Sprintf("Invalid log format: %v", err),
		})
		return
	}

	// Fall back to what the browser told us about the page
	fallback := core.Origin{
		URL:       string(ctx.Request.Header.Peek("X-Page-URL")),
		UserAgent: string(ctx.UserAgent()),
	}
	if fallback.URL == "" {
		fallback.URL = string(ctx.Referer())
	}

	for _, rec := range records {
		origin := rec.Origin
		if origin.URL == "" {
			origin.URL = fallback.URL
		}
		if origin.UserAgent == "" {
			origin.UserAgent = fallback.UserAgent
		}
		h.relay.LogFrom(origin, rec.Entry)
	}

	h.totalEntries.Add(uint64(len(records)))
	h.lastEntryTime.Store(time.Now())

	writeJSON(ctx, fasthttp.StatusAccepted, map[string]any{
		"accepted": len(records),
	})
}

func (h *HTTPHandler) GetStats() map[string]any {
	last, _ := h.lastEntryTime.Load().(time.Time)
	return map[string]any{
		"total_entries":    h.totalEntries.Load(),
		"invalid_requests": h.invalidRequests.Load(),
		"auth_failures":    h.authFailures.Load(),
		"last_entry":       last,
	}
}

func apiKey(ctx *fasthttp.RequestCtx) string {
	if key := ctx.Request.Header.Peek("apikey"); len(key) > 0 {
		return string(key)
	}
	return string(ctx.Request.Header.Peek("X-API-Key"))
}

func writeJSON(ctx *fasthttp.RequestCtx, status int, v any) {
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	json.NewEncoder(ctx).Encode(v)
}

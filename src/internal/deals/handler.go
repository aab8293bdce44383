package deals

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/lixenwraith/log"
	"github.com/valyala/fasthttp"
)

const allowedHeaders = "authorization, x-client-info, apikey, content-type"

// Handler serves GET /deals and GET /deals?id=<id>.
type Handler struct {
	store   Store
	timeout time.Duration
	logger  *log.Logger
}

// NewHandler creates a deals handler. Store calls are bounded by timeout.
func NewHandler(store Store, timeout time.Duration, logger *log.Logger) *Handler {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Handler{store: store, timeout: timeout, logger: logger}
}

// ServeHTTP is the fasthttp request handler.
func (h *Handler) ServeHTTP(ctx *fasthttp.RequestCtx) {
	SetCORS(ctx)

	switch string(ctx.Method()) {
	case fasthttp.MethodOptions:
		ctx.SetStatusCode(fasthttp.StatusOK)
		return
	case fasthttp.MethodGet:
	default:
		writeJSON(ctx, fasthttp.StatusMethodNotAllowed, map[string]string{
			"error": "Method not allowed",
		})
		return
	}

	reqCtx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()
	reqCtx = withCaller(reqCtx, string(ctx.Request.Header.Peek("Authorization")))

	if id := string(ctx.QueryArgs().Peek("id")); id != "" {
		deal, err := h.store.Get(reqCtx, id)
		if err != nil {
			if !errors.Is(err, ErrNotFound) {
				h.logger.Warn("msg", "Deal lookup failed",
					"component", "deals",
					"id", id,
					"error", err)
			}
			writeJSON(ctx, fasthttp.StatusNotFound, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(ctx, fasthttp.StatusOK, deal)
		return
	}

	list, err := h.store.List(reqCtx)
	if err != nil {
		h.logger.Error("msg", "Deal listing failed",
			"component", "deals",
			"error", err)
		writeJSON(ctx, fasthttp.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, list)
}

// SetCORS adds the cross-origin headers browsers need to call the API.
func SetCORS(ctx *fasthttp.RequestCtx) {
	ctx.Response.Header.Set("Access-Control-Allow-Origin", "*")
	ctx.Response.Header.Set("Access-Control-Allow-Headers", allowedHeaders)
}

func writeJSON(ctx *fasthttp.RequestCtx, status int, v any) {
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	json.NewEncoder(ctx).Encode(v)
}

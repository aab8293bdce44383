// Package postgrest is a small fasthttp client for the hosted table API
// (PostgREST dialect) that stores logs and deals.
package postgrest

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"dealflow/src/internal/version"

	"github.com/lixenwraith/log"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fastjson"
)

const restPrefix = "/rest/v1/"

// Options configures a Client.
type Options struct {
	// Base project URL, e.g. https://xyz.supabase.co
	URL string

	// Anonymous (or service) API key sent as apikey header and default bearer
	APIKey string

	// Applied when the caller's context carries no deadline
	Timeout time.Duration

	// Dial overrides the network dialer (tests use an in-memory listener)
	Dial fasthttp.DialFunc
}

// Client issues table requests.
type Client struct {
	base    string
	apiKey  string
	timeout time.Duration
	http    *fasthttp.Client
	logger  *log.Logger

	// Statistics
	totalRequests  atomic.Uint64
	failedRequests atomic.Uint64
}

type authKey struct{}

// WithAuthorization returns a context whose requests forward the given
// Authorization header value instead of the API key bearer.
func WithAuthorization(ctx context.Context, header string) context.Context {
	if header == "" {
		return ctx
	}
	return context.WithValue(ctx, authKey{}, header)
}

// Authorization returns the header set by WithAuthorization, if any.
func Authorization(ctx context.Context) string {
	header, _ := ctx.Value(authKey{}).(string)
	return header
}

// New creates a Client.
func New(opts Options, logger *log.Logger) (*Client, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("backend URL cannot be empty")
	}
	u, err := url.Parse(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid backend URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("backend URL must use http or https scheme")
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	c := &Client{
		base:    strings.TrimRight(opts.URL, "/"),
		apiKey:  opts.APIKey,
		timeout: timeout,
		logger:  logger,
		http: &fasthttp.Client{
			MaxConnsPerHost:               10,
			MaxIdleConnDuration:           10 * time.Second,
			ReadTimeout:                   timeout,
			WriteTimeout:                  timeout,
			DisableHeaderNamesNormalizing: true,
			Dial:                          opts.Dial,
		},
	}

	return c, nil
}

// Insert bulk-inserts a JSON array body into table.
func (c *Client) Insert(ctx context.Context, table string, body []byte) error {
	_, err := c.do(ctx, fasthttp.MethodPost, table, nil, body)
	return err
}

// Select runs a filtered read and returns the raw JSON array.
func (c *Client) Select(ctx context.Context, table string, query url.Values) ([]byte, error) {
	return c.do(ctx, fasthttp.MethodGet, table, query, nil)
}

// Stats returns request counters.
func (c *Client) Stats() map[string]any {
	return map[string]any{
		"base_url":        c.base,
		"total_requests":  c.totalRequests.Load(),
		"failed_requests": c.failedRequests.Load(),
	}
}

func (c *Client) do(ctx context.Context, method, table string, query url.Values, body []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.totalRequests.Add(1)

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	uri := c.base + restPrefix + table
	if len(query) > 0 {
		uri += "?" + query.Encode()
	}
	req.SetRequestURI(uri)
	req.Header.SetMethod(method)
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", c.authorization(ctx))
	req.Header.Set("User-Agent", version.UserAgent())
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.SetContentType("application/json")
		req.Header.Set("Prefer", "return=minimal")
		req.SetBody(body)
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.timeout)
	}

	if err := c.http.DoDeadline(req, resp, deadline); err != nil {
		c.failedRequests.Add(1)
		if errors.Is(err, fasthttp.ErrTimeout) {
			return nil, fmt.Errorf("%s %s: %w", method, table, context.DeadlineExceeded)
		}
		return nil, fmt.Errorf("%s %s: request failed: %w", method, table, err)
	}

	status := resp.StatusCode()
	if status < 200 || status >= 300 {
		c.failedRequests.Add(1)
		apiErr := parseError(status, resp.Body())
		c.logger.Debug("msg", "Backend request rejected",
			"component", "postgrest",
			"method", method,
			"table", table,
			"status_code", status,
			"error", apiErr.Message)
		return nil, apiErr
	}

	out := make([]byte, len(resp.Body()))
	copy(out, resp.Body())
	return out, nil
}

func (c *Client) authorization(ctx context.Context) string {
	if header := Authorization(ctx); header != "" {
		return header
	}
	return "Bearer " + c.apiKey
}

// APIError is a non-2xx response from the backend.
type APIError struct {
	Status  int
	Code    string
	Message string
	Details string
	Hint    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("backend returned status %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("backend returned status %d: %s", e.Status, e.Message)
}

// parseError decodes the PostgREST error document. Bodies that are not
// JSON are used verbatim as the message.
func parseError(status int, body []byte) *APIError {
	apiErr := &APIError{Status: status}

	v, err := fastjson.ParseBytes(body)
	if err != nil || v.Type() != fastjson.TypeObject {
		apiErr.Message = strings.TrimSpace(string(body))
		if apiErr.Message == "" {
			apiErr.Message = fasthttp.StatusMessage(status)
		}
		return apiErr
	}

	apiErr.Code = string(v.GetStringBytes("code"))
	apiErr.Message = string(v.GetStringBytes("message"))
	apiErr.Details = string(v.GetStringBytes("details"))
	apiErr.Hint = string(v.GetStringBytes("hint"))
	if apiErr.Message == "" {
		// auth endpoints use error/error_description
		apiErr.Message = string(v.GetStringBytes("error_description"))
		if apiErr.Message == "" {
			apiErr.Message = string(v.GetStringBytes("error"))
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = fasthttp.StatusMessage(status)
	}
	return apiErr
}

package ingest

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"dealflow/src/internal/applog"
	"dealflow/src/internal/core"

	"github.com/lixenwraith/log"
	"github.com/panjf2000/gnet/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"golang.org/x/crypto/bcrypt"
)

type fakeRelay struct {
	mu      sync.Mutex
	origins []core.Origin
	entries []core.LogEntry
}

func (r *fakeRelay) LogFrom(origin core.Origin, entry core.LogEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.origins = append(r.origins, origin)
	r.entries = append(r.entries, entry)
}

func TestDecoder(t *testing.T) {
	d := NewDecoder("")

	t.Run("SingleObject", func(t *testing.T) {
		records, err := d.Decode([]byte(`{
			"level":"error","message":"Uncaught: x is undefined",
			"context":{"filename":"app.js","lineno":12,"ratio":0.5,"tags":["a",true,null],"nested":{"k":"v"}},
			"stack_trace":"TypeError: x is undefined","url":"https://app.example/","user_agent":"UA"}`))
		require.NoError(t, err)
		require.Len(t, records, 1)

		rec := records[0]
		assert.Equal(t, core.LevelError, rec.Entry.Level)
		assert.Equal(t, core.SourceFrontend, rec.Entry.Source)
		assert.Equal(t, "TypeError: x is undefined", rec.Entry.StackTrace)
		assert.Equal(t, "https://app.example/", rec.Origin.URL)
		assert.Equal(t, "UA", rec.Origin.UserAgent)

		ctx := rec.Entry.Context
		assert.Equal(t, core.KindInt, ctx["lineno"].Kind())
		assert.Equal(t, int64(12), ctx["lineno"].Int())
		assert.Equal(t, core.KindFloat, ctx["ratio"].Kind())
		assert.Len(t, ctx["tags"].Items(), 3)
		assert.True(t, ctx["tags"].Items()[2].IsNull())
		assert.Equal(t, "v", ctx["nested"].Fields()["k"].Str())
	})

	t.Run("Array", func(t *testing.T) {
		records, err := d.Decode([]byte(`[{"message":"a"},{"message":"b","level":"warning","source":"worker"}]`))
		require.NoError(t, err)
		require.Len(t, records, 2)
		assert.Equal(t, core.LevelInfo, records[0].Entry.Level)
		assert.Equal(t, core.LevelWarn, records[1].Entry.Level)
		assert.Equal(t, "worker", records[1].Entry.Source)
	})

	testCases := []struct {
		name string
		body string
	}{
		{"InvalidJSON", `{"message":`},
		{"MissingMessage", `{"level":"info"}`},
		{"BadLevel", `{"message":"x","level":"loud"}`},
		{"ContextNotObject", `{"message":"x","context":[1]}`},
		{"EmptyArray", `[]`},
		{"ArrayWithBadEntry", `[{"message":"ok"},{"level":"info"}]`},
		{"Scalar", `"hello"`},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := d.Decode([]byte(tc.body))
			assert.Error(t, err)
		})
	}
}

func post(h *HTTPHandler, body string, headers map[string]string) *fasthttp.RequestCtx {
	ctx := &fasthttp.RequestCtx{}
	ctx.Request.Header.SetMethod(fasthttp.MethodPost)
	ctx.Request.SetRequestURI("/logs")
	for k, v := range headers {
		ctx.Request.Header.Set(k, v)
	}
	ctx.Request.SetBodyString(body)
	h.ServeHTTP(ctx)
	return ctx
}

func TestHTTPHandler(t *testing.T) {
	logger := log.NewLogger()

	t.Run("Accepted", func(t *testing.T) {
		relay := &fakeRelay{}
		h, err := NewHTTPHandler(relay, HTTPOptions{}, logger)
		require.NoError(t, err)

		ctx := post(h, `[{"message":"a"},{"message":"b","url":"https://own/"}]`, map[string]string{
			"Referer":    "https://app.example/deals",
			"User-Agent": "Mozilla/5.0",
		})
		assert.Equal(t, fasthttp.StatusAccepted, ctx.Response.StatusCode())

		var resp map[string]int
		require.NoError(t, json.Unmarshal(ctx.Response.Body(), &resp))
		assert.Equal(t, 2, resp["accepted"])

		require.Len(t, relay.entries, 2)
		assert.Equal(t, "https://app.example/deals", relay.origins[0].URL)
		assert.Equal(t, "Mozilla/5.0", relay.origins[0].UserAgent)
		assert.Equal(t, "https://own/", relay.origins[1].URL)
	})

	t.Run("PageURLHeaderWins", func(t *testing.T) {
		relay := &fakeRelay{}
		h, err := NewHTTPHandler(relay, HTTPOptions{}, logger)
		require.NoError(t, err)

		post(h, `{"message":"a"}`, map[string]string{
			"Referer":    "https://app.example/",
			"X-Page-URL": "https://app.example/deals/7",
		})
		require.Len(t, relay.origins, 1)
		assert.Equal(t, "https://app.example/deals/7", relay.origins[0].URL)
	})

	t.Run("BadRequests", func(t *testing.T) {
		relay := &fakeRelay{}
		h, err := NewHTTPHandler(relay, HTTPOptions{}, logger)
		require.NoError(t, err)

		assert.Equal(t, fasthttp.StatusBadRequest, post(h, "", nil).Response.StatusCode())
		ctx := post(h, `{"level":"info"}`, nil)
		assert.Equal(t, fasthttp.StatusBadRequest, ctx.Response.StatusCode())
		assert.Contains(t, string(ctx.Response.Body()), "Invalid log format")
		assert.Empty(t, relay.entries)
	})

	t.Run("MethodNotAllowed", func(t *testing.T) {
		h, err := NewHTTPHandler(&fakeRelay{}, HTTPOptions{}, logger)
		require.NoError(t, err)

		ctx := &fasthttp.RequestCtx{}
		ctx.Request.Header.SetMethod(fasthttp.MethodGet)
		h.ServeHTTP(ctx)
		assert.Equal(t, fasthttp.StatusMethodNotAllowed, ctx.Response.StatusCode())
	})

	t.Run("APIKey", func(t *testing.T) {
		hash, err := bcrypt.GenerateFromPassword([]byte("ingest-key"), bcrypt.MinCost)
		require.NoError(t, err)

		relay := &fakeRelay{}
		h, err := NewHTTPHandler(relay, HTTPOptions{APIKeyHash: string(hash)}, logger)
		require.NoError(t, err)

		assert.Equal(t, fasthttp.StatusUnauthorized,
			post(h, `{"message":"a"}`, nil).Response.StatusCode())
		assert.Equal(t, fasthttp.StatusUnauthorized,
			post(h, `{"message":"a"}`, map[string]string{"apikey": "wrong"}).Response.StatusCode())

		// Second request hits the verified-key cache
		for i := 0; i < 2; i++ {
			ctx := post(h, `{"message":"a"}`, map[string]string{"X-API-Key": "ingest-key"})
			assert.Equal(t, fasthttp.StatusAccepted, ctx.Response.StatusCode())
		}
		assert.Len(t, relay.entries, 2)
		assert.Equal(t, uint64(2), h.GetStats()["auth_failures"])
	})

	t.Run("InvalidHash", func(t *testing.T) {
		_, err := NewHTTPHandler(&fakeRelay{}, HTTPOptions{APIKeyHash: "plaintext"}, logger)
		assert.Error(t, err)
	})
}

func TestTCPClientFeed(t *testing.T) {
	t.Run("SplitsLines", func(t *testing.T) {
		c := &tcpClient{}
		lines, err := c.feed([]byte("{\"message\":\"a\"}\r\n\n{\"mess"), 1024, 256)
		require.NoError(t, err)
		require.Len(t, lines, 1)
		assert.Equal(t, `{"message":"a"}`, string(lines[0]))

		lines, err = c.feed([]byte("age\":\"b\"}\n"), 1024, 256)
		require.NoError(t, err)
		require.Len(t, lines, 1)
		assert.Equal(t, `{"message":"b"}`, string(lines[0]))
	})

	t.Run("BufferLimit", func(t *testing.T) {
		c := &tcpClient{}
		_, err := c.feed(make([]byte, 2048), 1024, 256)
		assert.Error(t, err)
	})

	t.Run("LineLimit", func(t *testing.T) {
		c := &tcpClient{}
		_, err := c.feed([]byte(strings.Repeat("x", 300)), 1024, 256)
		assert.Error(t, err)

		c = &tcpClient{}
		_, err = c.feed([]byte(strings.Repeat("x", 300)+"\n"), 1024, 256)
		assert.Error(t, err)
	})
}

func TestTCPServer(t *testing.T) {
	logger := log.NewLogger()

	t.Run("RequiresPort", func(t *testing.T) {
		_, err := NewTCPServer(&fakeRelay{}, TCPOptions{}, logger)
		assert.Error(t, err)
	})

	t.Run("HandleLine", func(t *testing.T) {
		relay := &fakeRelay{}
		s, err := NewTCPServer(relay, TCPOptions{Port: 9099, DefaultSource: "tcp"}, logger)
		require.NoError(t, err)

		s.handleLine([]byte(`{"message":"worker started","context":{"pid":42}}`), "127.0.0.1:5000")
		s.handleLine([]byte(`not json`), "127.0.0.1:5000")

		require.Len(t, relay.entries, 1)
		assert.Equal(t, "tcp", relay.entries[0].Source)
		stats := s.GetStats()
		assert.Equal(t, uint64(1), stats["total_entries"])
		assert.Equal(t, uint64(1), stats["invalid_entries"])
	})
}

func TestKeyChecker(t *testing.T) {
	k, err := newKeyChecker("")
	require.NoError(t, err)
	assert.NoError(t, k.check(""), "nil checker accepts everything")

	hash, err := bcrypt.GenerateFromPassword([]byte("k1"), bcrypt.MinCost)
	require.NoError(t, err)
	k, err = newKeyChecker(string(hash))
	require.NoError(t, err)

	assert.ErrorIs(t, k.check(""), ErrUnauthorized)
	assert.ErrorIs(t, k.check("k2"), ErrUnauthorized)
	assert.NoError(t, k.check("k1"))
	assert.NoError(t, k.check("k1"))
}

// panickingRelay fails every relay and records what its Recover caught.
type panickingRelay struct {
	recovered []any
	ctx       core.Context
}

func (r *panickingRelay) LogFrom(origin core.Origin, entry core.LogEntry) {
	panic("relay exploded")
}

func (r *panickingRelay) Recover(ctx core.Context) {
	if v := recover(); v != nil {
		r.recovered = append(r.recovered, v)
		r.ctx = ctx
	}
}

// trafficConn serves one read to OnTraffic.
type trafficConn struct {
	gnet.Conn
	data []byte
}

func (c *trafficConn) Next(n int) ([]byte, error) {
	data := c.data
	c.data = nil
	return data, nil
}

func TestTCPHandler_OnTraffic(t *testing.T) {
	logger := log.NewLogger()

	newHandler := func(relay Relay) (*tcpHandler, *trafficConn) {
		s, err := NewTCPServer(relay, TCPOptions{Port: 9099}, logger)
		require.NoError(t, err)
		conn := &trafficConn{}
		h := &tcpHandler{server: s, clients: map[gnet.Conn]*tcpClient{
			conn: {authenticated: true, remoteAddr: "127.0.0.1:5000"},
		}}
		return h, conn
	}

	t.Run("Relays", func(t *testing.T) {
		relay := &fakeRelay{}
		h, conn := newHandler(relay)
		conn.data = []byte("{\"message\":\"a\"}\n{\"message\":\"b\"}\n")

		assert.Equal(t, gnet.None, h.OnTraffic(conn))
		assert.Len(t, relay.entries, 2)
	})

	t.Run("PanicClosesConnection", func(t *testing.T) {
		relay := &panickingRelay{}
		h, conn := newHandler(relay)
		conn.data = []byte("{\"message\":\"a\"}\n")

		var action gnet.Action
		require.NotPanics(t, func() { action = h.OnTraffic(conn) })
		assert.Equal(t, gnet.Close, action)
		require.Len(t, relay.recovered, 1)
		assert.Equal(t, "relay exploded", relay.recovered[0])
		assert.Equal(t, "127.0.0.1:5000", relay.ctx["remote_addr"].Str())
	})

	t.Run("UnknownConnection", func(t *testing.T) {
		h, _ := newHandler(&fakeRelay{})
		assert.Equal(t, gnet.Close, h.OnTraffic(&trafficConn{}))
	})
}

// stalledSink holds every insert until release is closed.
type stalledSink struct {
	release chan struct{}
	entered chan struct{}
}

func (s *stalledSink) Insert(ctx context.Context, rows []core.Row) error {
	s.entered <- struct{}{}
	<-s.release
	return nil
}

func (s *stalledSink) Name() string { return "stalled" }

func TestHTTPHandler_FatalEntryDoesNotWaitForSink(t *testing.T) {
	logger := log.NewLogger()
	sink := &stalledSink{release: make(chan struct{}), entered: make(chan struct{}, 1)}
	opts := applog.DefaultOptions()
	opts.Mirror = nil
	pipeline := applog.New(sink, opts, logger)
	t.Cleanup(func() {
		close(sink.release)
		pipeline.Wait()
	})

	h, err := NewHTTPHandler(pipeline, HTTPOptions{}, logger)
	require.NoError(t, err)

	start := time.Now()
	ctx := post(h, `{"level":"fatal","message":"x"}`, nil)
	assert.Equal(t, fasthttp.StatusAccepted, ctx.Response.StatusCode())
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	select {
	case <-sink.entered:
	case <-time.After(time.Second):
		t.Fatal("fatal entry was not flushed")
	}
}

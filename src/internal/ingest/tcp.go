package ingest

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"dealflow/src/internal/core"

	"github.com/lixenwraith/log"
	"github.com/lixenwraith/log/compat"
	"github.com/panjf2000/gnet/v2"
)

const (
	defaultMaxBufferSize = 10 * 1024 * 1024 // 10MB max per client
	defaultMaxLineLength = 1 * 1024 * 1024  // 1MB max per log line
)

// TCPOptions configures the TCP relay.
type TCPOptions struct {
	Host string
	Port int64

	// bcrypt hash of the key sent as "AUTH <key>" on the first line; empty
	// disables the handshake
	APIKeyHash string

	DefaultSource string
	MaxLineLength int
	MaxBufferSize int
}

// TCPServer accepts newline-delimited JSON log entries.
type TCPServer struct {
	opts    TCPOptions
	relay   Relay
	decoder *Decoder
	keys    *keyChecker
	logger  *log.Logger

	engine   *gnet.Engine
	engineMu sync.Mutex
	wg       sync.WaitGroup

	// Statistics
	totalEntries   atomic.Uint64
	invalidEntries atomic.Uint64
	authFailures   atomic.Uint64
	activeConns    atomic.Int64
	startTime      time.Time
}

// NewTCPServer creates a TCP relay into relay.
func NewTCPServer(relay Relay, opts TCPOptions, logger *log.Logger) (*TCPServer, error) {
	if opts.Port < 1 || opts.Port > 65535 {
		return nil, fmt.Errorf("tcp ingest requires a valid port, got %d", opts.Port)
	}
	if opts.Host == "" {
		opts.Host = "127.0.0.1"
	}
	if opts.MaxLineLength <= 0 {
		opts.MaxLineLength = defaultMaxLineLength
	}
	if opts.MaxBufferSize <= 0 {
		opts.MaxBufferSize = defaultMaxBufferSize
	}

	keys, err := newKeyChecker(opts.APIKeyHash)
	if err != nil {
		return nil, err
	}

	return &TCPServer{
		opts:    opts,
		relay:   relay,
		decoder: NewDecoder(opts.DefaultSource),
		keys:    keys,
		logger:  logger,
	}, nil
}

// Start runs the gnet engine in the background.
func (t *TCPServer) Start() error {
	handler := &tcpHandler{
		server:  t,
		clients: make(map[gnet.Conn]*tcpClient),
	}
	addr := fmt.Sprintf("tcp://%s:%d", t.opts.Host, t.opts.Port)
	t.startTime = time.Now()

	errChan := make(chan error, 1)
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		t.logger.Info("msg", "TCP ingest starting",
			"component", "tcp_ingest",
			"address", addr)

		err := gnet.Run(handler, addr,
			gnet.WithLogger(compat.NewGnetAdapter(t.logger)),
			gnet.WithMulticore(true),
			gnet.WithReusePort(true),
		)
		if err != nil {
			t.logger.Error("msg", "TCP ingest failed",
				"component", "tcp_ingest",
				"address", addr,
				"error", err)
		}
		errChan <- err
	}()

	// Wait briefly for the engine to fail to bind
	select {
	case err := <-errChan:
		t.wg.Wait()
		return err
	case <-time.After(100 * time.Millisecond):
		return nil
	}
}

// Stop shuts the engine down and waits for it to exit.
func (t *TCPServer) Stop() {
	t.engineMu.Lock()
	engine := t.engine
	t.engineMu.Unlock()

	if engine != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		(*engine).Stop(ctx)
	}
	t.wg.Wait()

	t.logger.Info("msg", "TCP ingest stopped", "component", "tcp_ingest")
}

func (t *TCPServer) GetStats() map[string]any {
	return map[string]any{
		"port":               t.opts.Port,
		"active_connections": t.activeConns.Load(),
		"total_entries":      t.totalEntries.Load(),
		"invalid_entries":    t.invalidEntries.Load(),
		"auth_failures":      t.authFailures.Load(),
		"start_time":         t.startTime,
	}
}

// tcpClient is per-connection state.
type tcpClient struct {
	buffer        bytes.Buffer
	authenticated bool
	remoteAddr    string
}

// feed appends data and returns the complete lines now available, without
// their terminators. It fails when the client exceeds the buffer or line
// limits.
func (c *tcpClient) feed(data []byte, maxBuffer, maxLine int) ([][]byte, error) {
	if c.buffer.Len()+len(data) > maxBuffer {
		return nil, fmt.Errorf("client buffer limit %d exceeded", maxBuffer)
	}
	c.buffer.Write(data)

	var lines [][]byte
	for {
		idx := bytes.IndexByte(c.buffer.Bytes(), '\n')
		if idx < 0 {
			break
		}
		line := bytes.TrimRight(c.buffer.Next(idx+1), "\r\n")
		if len(line) == 0 {
			continue
		}
		if len(line) > maxLine {
			return lines, fmt.Errorf("line of %d bytes exceeds limit %d", len(line), maxLine)
		}
		lines = append(lines, bytes.Clone(line))
	}

	if c.buffer.Len() > maxLine {
		return lines, fmt.Errorf("line too long without newline")
	}
	return lines, nil
}

// tcpHandler handles gnet events.
type tcpHandler struct {
	gnet.BuiltinEventEngine
	server  *TCPServer
	clients map[gnet.Conn]*tcpClient
	mu      sync.RWMutex
}

func (h *tcpHandler) OnBoot(eng gnet.Engine) gnet.Action {
	h.server.engineMu.Lock()
	h.server.engine = &eng
	h.server.engineMu.Unlock()

	h.server.logger.Debug("msg", "TCP ingest booted",
		"component", "tcp_ingest",
		"port", h.server.opts.Port)
	return gnet.None
}

func (h *tcpHandler) OnOpen(c gnet.Conn) (out []byte, action gnet.Action) {
	client := &tcpClient{
		authenticated: h.server.keys == nil,
		remoteAddr:    c.RemoteAddr().String(),
	}

	h.mu.Lock()
	h.clients[c] = client
	h.mu.Unlock()

	count := h.server.activeConns.Add(1)
	h.server.logger.Debug("msg", "TCP connection opened",
		"component", "tcp_ingest",
		"remote_addr", client.remoteAddr,
		"active_connections", count)

	if !client.authenticated {
		return []byte("AUTH_REQUIRED\n"), gnet.None
	}
	return nil, gnet.None
}

func (h *tcpHandler) OnClose(c gnet.Conn, err error) gnet.Action {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()

	count := h.server.activeConns.Add(-1)
	h.server.logger.Debug("msg", "TCP connection closed",
		"component", "tcp_ingest",
		"remote_addr", c.RemoteAddr().String(),
		"active_connections", count,
		"error", err)
	return gnet.None
}

// OnTraffic runs on the event loop. When the relay can capture panics, a
// panic while reading or relaying is logged and closes only that
// connection.
func (h *tcpHandler) OnTraffic(c gnet.Conn) (action gnet.Action) {
	h.mu.RLock()
	client, exists := h.clients[c]
	h.mu.RUnlock()
	if !exists {
		return gnet.Close
	}

	if rec, ok := h.server.relay.(Recoverer); ok {
		// Left in place when traffic panics
		action = gnet.Close
		defer rec.Recover(core.Fields(
			"component", "tcp_ingest",
			"remote_addr", client.remoteAddr,
		))
	}
	return h.traffic(c, client)
}

func (h *tcpHandler) traffic(c gnet.Conn, client *tcpClient) gnet.Action {
	data, err := c.Next(-1)
	if err != nil {
		h.server.logger.Error("msg", "Error reading from connection",
			"component", "tcp_ingest",
			"error", err)
		return gnet.Close
	}

	lines, feedErr := client.feed(data, h.server.opts.MaxBufferSize, h.server.opts.MaxLineLength)
	for _, line := range lines {
		if !client.authenticated {
			if !h.authenticate(c, client, line) {
				return gnet.Close
			}
			continue
		}
		h.server.handleLine(line, client.remoteAddr)
	}

	if feedErr != nil {
		h.server.invalidEntries.Add(1)
		h.server.logger.Warn("msg", "Closing TCP connection",
			"component", "tcp_ingest",
			"remote_addr", client.remoteAddr,
			"error", feedErr)
		return gnet.Close
	}
	return gnet.None
}

func (h *tcpHandler) authenticate(c gnet.Conn, client *tcpClient, line []byte) bool {
	key, ok := strings.CutPrefix(string(line), "AUTH ")
	if !ok || h.server.keys.check(strings.TrimSpace(key)) != nil {
		h.server.authFailures.Add(1)
		h.server.logger.Warn("msg", "TCP authentication failed",
			"component", "tcp_ingest",
			"remote_addr", client.remoteAddr)
		c.AsyncWrite([]byte("AUTH_FAIL\n"), nil)
		return false
	}

	client.authenticated = true
	c.AsyncWrite([]byte("AUTH_OK\n"), nil)
	return true
}

// handleLine relays one JSON entry. Invalid lines are counted and skipped.
func (t *TCPServer) handleLine(line []byte, remoteAddr string) {
	records, err := t.decoder.Decode(line)
	if err != nil {
		t.invalidEntries.Add(1)
		t.logger.Debug("msg", "Invalid JSON log entry",
			"component", "tcp_ingest",
			"remote_addr", remoteAddr,
			"error", err)
		return
	}

	for _, rec := range records {
		t.relay.LogFrom(rec.Origin, rec.Entry)
	}
	t.totalEntries.Add(uint64(len(records)))
}

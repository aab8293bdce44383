// Package applog is the application log pipeline: entries are filtered,
// mirrored to the console, enriched and queued in memory, then delivered to
// a sink in batches. Failed batches go back to the front of the queue.
package applog

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"dealflow/src/internal/clock"
	"dealflow/src/internal/core"
	"dealflow/src/internal/format"
	"dealflow/src/internal/sink"

	"github.com/google/uuid"
	"github.com/lixenwraith/log"
	"golang.org/x/term"
)

// Options configures a Logger.
type Options struct {
	// Entries below MinLevel are dropped before anything else happens
	MinLevel core.Level

	// Queue length that triggers an immediate flush, and the max batch size
	BatchSize int

	// Delay between the first queued entry and the timed flush
	FlushInterval time.Duration

	// Upper bound for a single sink call
	SinkTimeout time.Duration

	// Cap for the doubling retry delay after consecutive failures
	MaxRetryDelay time.Duration

	// Failed deliveries after which an entry is dropped. 0 keeps entries
	// until they are delivered.
	MaxAttempts int

	// Optional content filter applied after the level check
	Filter EntryFilter

	// Source stamped on entries that do not set one
	Source string

	// Origin stamped on entries passed to Log
	URL       string
	UserAgent string

	// Console mirror; nil disables it
	Mirror io.Writer

	Clock clock.Clock
}

// EntryFilter decides whether an entry that passed the level check is
// kept.
type EntryFilter interface {
	Apply(entry core.LogEntry) bool
}

// DefaultOptions returns the standard pipeline settings.
func DefaultOptions() Options {
	return Options{
		MinLevel:      core.LevelInfo,
		BatchSize:     core.DefaultBatchSize,
		FlushInterval: core.DefaultFlushInterval,
		SinkTimeout:   core.DefaultSinkTimeout,
		MaxRetryDelay: core.DefaultMaxRetryDelay,
		Source:        core.SourceBackend,
		Mirror:        os.Stderr,
		Clock:         clock.Real(),
	}
}

// pending is a queued entry with its delivery history.
type pending struct {
	entry    core.QueuedEntry
	attempts int
}

// Logger batches log entries into a sink. It is safe for concurrent use.
type Logger struct {
	sink      sink.Sink
	opts      Options
	clock     clock.Clock
	logger    *log.Logger
	sessionID string
	minLevel  atomic.Int32

	// Console mirror
	mirror   io.Writer
	mirrorMu sync.Mutex
	text     *format.TextFormatter

	// Queue state, guarded by mu
	mu       sync.Mutex
	idle     *sync.Cond
	queue    []pending
	timer    *clock.Timer
	timerGen uint64
	flushing bool
	closed   bool
	failures int

	// Statistics
	totalEnqueued  atomic.Uint64
	totalFiltered  atomic.Uint64
	totalDelivered atomic.Uint64
	totalDropped   atomic.Uint64
	failedFlushes  atomic.Uint64
	lastFlush      atomic.Value // time.Time

	abandonedInserts atomic.Uint64
}

// New creates a Logger delivering to s. Zero-valued options fall back to
// their defaults; logger receives the pipeline's own diagnostics.
func New(s sink.Sink, opts Options, logger *log.Logger) *Logger {
	defaults := DefaultOptions()
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaults.BatchSize
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = defaults.FlushInterval
	}
	if opts.SinkTimeout <= 0 {
		opts.SinkTimeout = defaults.SinkTimeout
	}
	if opts.MaxRetryDelay <= 0 {
		opts.MaxRetryDelay = defaults.MaxRetryDelay
	}
	if opts.MaxRetryDelay < opts.FlushInterval {
		opts.MaxRetryDelay = opts.FlushInterval
	}
	if opts.MaxAttempts < 0 {
		opts.MaxAttempts = 0
	}
	if opts.Source == "" {
		opts.Source = defaults.Source
	}
	if opts.Clock == nil {
		opts.Clock = defaults.Clock
	}

	l := &Logger{
		sink:      s,
		opts:      opts,
		clock:     opts.Clock,
		logger:    logger,
		sessionID: uuid.NewString(),
		mirror:    opts.Mirror,
		text:      format.NewTextFormatter(isTerminal(opts.Mirror)),
	}
	l.idle = sync.NewCond(&l.mu)
	l.minLevel.Store(int32(opts.MinLevel))
	l.lastFlush.Store(time.Time{})

	logger.Debug("msg", "Log pipeline created",
		"component", "applog",
		"sink", s.Name(),
		"session_id", l.sessionID,
		"batch_size", opts.BatchSize,
		"flush_interval", opts.FlushInterval)
	return l
}

func (l *Logger) Debug(msg string, ctx core.Context) {
	l.Log(core.LogEntry{Level: core.LevelDebug, Message: msg, Context: ctx})
}

func (l *Logger) Info(msg string, ctx core.Context) {
	l.Log(core.LogEntry{Level: core.LevelInfo, Message: msg, Context: ctx})
}

func (l *Logger) Warn(msg string, ctx core.Context) {
	l.Log(core.LogEntry{Level: core.LevelWarn, Message: msg, Context: ctx})
}

// Error logs at error level. A non-nil err contributes errorName to the
// context and its stack text to the entry.
func (l *Logger) Error(msg string, ctx core.Context, err error) {
	l.Log(errorEntry(core.LevelError, msg, ctx, err))
}

// Fatal logs at fatal level and flushes before returning. It does not exit.
func (l *Logger) Fatal(msg string, ctx core.Context, err error) {
	l.Log(errorEntry(core.LevelFatal, msg, ctx, err))
}

// Log records entry with the logger's own origin. A fatal entry is
// flushed before Log returns.
func (l *Logger) Log(entry core.LogEntry) {
	origin := core.Origin{URL: l.opts.URL, UserAgent: l.opts.UserAgent}
	if l.record(origin, entry) && entry.Level == core.LevelFatal {
		l.Flush(context.Background())
	}
}

// LogFrom records an entry produced elsewhere, e.g. relayed from a browser.
// It never waits on the sink: a relayed fatal entry starts its flush in
// the background.
func (l *Logger) LogFrom(origin core.Origin, entry core.LogEntry) {
	if l.record(origin, entry) && entry.Level == core.LevelFatal {
		go l.Flush(context.Background())
	}
}

// record applies the level gate and filter, mirrors and enqueues entry. It
// reports whether the entry was kept.
func (l *Logger) record(origin core.Origin, entry core.LogEntry) bool {
	if entry.Level < l.MinLevel() {
		l.totalFiltered.Add(1)
		return false
	}
	if l.opts.Filter != nil && !l.opts.Filter.Apply(entry) {
		l.totalFiltered.Add(1)
		return false
	}

	l.writeMirror(entry)

	l.enqueue(core.QueuedEntry{
		LogEntry:  entry,
		URL:       origin.URL,
		UserAgent: origin.UserAgent,
		SessionID: l.sessionID,
		CreatedAt: l.clock.Now(),
	})
	return true
}

// SetMinLevel changes the severity threshold for subsequent entries.
func (l *Logger) SetMinLevel(level core.Level) {
	l.minLevel.Store(int32(level))
}

// MinLevel returns the current severity threshold.
func (l *Logger) MinLevel() core.Level {
	return core.Level(l.minLevel.Load())
}

// QueueLen returns the number of entries waiting for delivery. Entries in
// an in-flight batch are not counted.
func (l *Logger) QueueLen() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// SessionID returns the identifier stamped on every entry of this Logger.
func (l *Logger) SessionID() string {
	return l.sessionID
}

// Stats contains pipeline counters.
type Stats struct {
	SessionID      string
	Sink           string
	MinLevel       core.Level
	Queued         int
	Flushing       bool
	TotalEnqueued  uint64
	TotalFiltered  uint64
	TotalDelivered uint64
	TotalDropped   uint64
	FailedFlushes  uint64
	LastFlush      time.Time

	// Sink calls still running after SinkTimeout gave up on them
	AbandonedInserts uint64
}

func (l *Logger) Stats() Stats {
	l.mu.Lock()
	queued, flushing := len(l.queue), l.flushing
	l.mu.Unlock()

	last, _ := l.lastFlush.Load().(time.Time)
	return Stats{
		SessionID:      l.sessionID,
		Sink:           l.sink.Name(),
		MinLevel:       l.MinLevel(),
		Queued:         queued,
		Flushing:       flushing,
		TotalEnqueued:  l.totalEnqueued.Load(),
		TotalFiltered:  l.totalFiltered.Load(),
		TotalDelivered: l.totalDelivered.Load(),
		TotalDropped:   l.totalDropped.Load(),
		FailedFlushes:  l.failedFlushes.Load(),
		LastFlush:      last,

		AbandonedInserts: l.abandonedInserts.Load(),
	}
}

func (l *Logger) writeMirror(entry core.LogEntry) {
	if l.mirror == nil {
		return
	}
	line := l.text.FormatEntry(entry)

	l.mirrorMu.Lock()
	defer l.mirrorMu.Unlock()
	_, _ = l.mirror.Write(line)
}

func errorEntry(level core.Level, msg string, ctx core.Context, err error) core.LogEntry {
	entry := core.LogEntry{Level: level, Message: msg, Context: ctx}
	if err == nil {
		return entry
	}
	entry.Context = ctx.With("errorName", ErrorName(err))
	entry.StackTrace = StackText(err)
	return entry
}

// ErrorName returns a short type name for err. Errors may provide their own
// through a Name() string method.
func ErrorName(err error) string {
	if named, ok := err.(interface{ Name() string }); ok {
		return named.Name()
	}
	name := fmt.Sprintf("%T", err)
	if len(name) > 0 && name[0] == '*' {
		name = name[1:]
	}
	return name
}

// StackText returns the most detailed rendering of err available: its own
// StackTrace() string if it has one, otherwise the %+v form.
func StackText(err error) string {
	if st, ok := err.(interface{ StackTrace() string }); ok {
		return st.StackTrace()
	}
	return fmt.Sprintf("%+v", err)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}

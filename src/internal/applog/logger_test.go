package applog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"dealflow/src/internal/clock"
	"dealflow/src/internal/core"

	"github.com/lixenwraith/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

// fakeSink records every Insert call. Errors in errs are returned by
// successive calls; a non-nil block holds calls until it is closed.
type fakeSink struct {
	mu      sync.Mutex
	calls   [][]core.Row
	errs    []error
	panicOn int // 1-based call number that panics
	block   chan struct{}
	entered chan struct{}
}

func (f *fakeSink) Insert(ctx context.Context, rows []core.Row) error {
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.block != nil {
		<-f.block
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, append([]core.Row(nil), rows...))
	if f.panicOn == len(f.calls) {
		panic("sink exploded")
	}
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return err
	}
	return nil
}

func (f *fakeSink) Name() string { return "fake" }

func (f *fakeSink) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeSink) call(i int) []core.Row {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[i]
}

func newTestLogger(t *testing.T, s *fakeSink, mutate func(*Options)) (*Logger, *clock.FakeClock) {
	t.Helper()

	fake := clock.Fake(epoch)
	opts := DefaultOptions()
	opts.Mirror = nil
	opts.Clock = fake
	if mutate != nil {
		mutate(&opts)
	}
	return New(s, opts, log.NewLogger()), fake
}

func messages(rows []core.Row) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.Message
	}
	return out
}

func TestLogger_SizeTrigger(t *testing.T) {
	s := &fakeSink{}
	l, _ := newTestLogger(t, s, nil)

	for i := 0; i < 9; i++ {
		l.Info(fmt.Sprintf("m%d", i), nil)
	}
	assert.Equal(t, 9, l.QueueLen())
	assert.Zero(t, s.callCount())

	l.Info("m9", nil)
	assert.Equal(t, 0, l.QueueLen(), "batch is taken before the call returns")

	l.Wait()
	require.Equal(t, 1, s.callCount())
	rows := s.call(0)
	require.Len(t, rows, 10)
	assert.Equal(t, []string{"m0", "m1", "m2", "m3", "m4", "m5", "m6", "m7", "m8", "m9"}, messages(rows))
}

func TestLogger_MinLevel(t *testing.T) {
	t.Run("DefaultDropsDebug", func(t *testing.T) {
		s := &fakeSink{}
		l, _ := newTestLogger(t, s, nil)

		l.Debug("noise", nil)
		assert.Equal(t, 0, l.QueueLen())
		assert.Equal(t, uint64(1), l.Stats().TotalFiltered)
	})

	t.Run("RaisedThreshold", func(t *testing.T) {
		s := &fakeSink{}
		l, fake := newTestLogger(t, s, nil)
		l.SetMinLevel(core.LevelWarn)

		l.Debug("a", nil)
		l.Info("b", nil)
		assert.Equal(t, 0, l.QueueLen())
		assert.Equal(t, 0, fake.Pending())

		fake.Advance(time.Minute)
		assert.Zero(t, s.callCount())

		l.Warn("c", nil)
		assert.Equal(t, 1, l.QueueLen())
	})

	t.Run("FilteredNotMirrored", func(t *testing.T) {
		var mirror bytes.Buffer
		s := &fakeSink{}
		l, _ := newTestLogger(t, s, func(o *Options) {
			o.Mirror = &mirror
			o.MinLevel = core.LevelError
		})

		l.Warn("hidden", nil)
		assert.Empty(t, mirror.String())
	})
}

type messageFilter string

func (m messageFilter) Apply(entry core.LogEntry) bool {
	return !strings.Contains(entry.Message, string(m))
}

func TestLogger_ContentFilter(t *testing.T) {
	var mirror bytes.Buffer
	s := &fakeSink{}
	l, _ := newTestLogger(t, s, func(o *Options) {
		o.Mirror = &mirror
		o.Filter = messageFilter("ResizeObserver")
	})

	l.Error("ResizeObserver loop limit exceeded", nil, nil)
	l.Error("checkout failed", nil, nil)

	assert.Equal(t, 1, l.QueueLen())
	assert.Equal(t, uint64(1), l.Stats().TotalFiltered)
	assert.NotContains(t, mirror.String(), "ResizeObserver")
}

func TestLogger_TimeTrigger(t *testing.T) {
	s := &fakeSink{}
	l, fake := newTestLogger(t, s, nil)

	l.Info("one", nil)
	l.Info("two", nil)
	assert.Equal(t, 1, fake.Pending(), "single timer for the first entry")

	fake.Advance(core.DefaultFlushInterval - time.Millisecond)
	assert.Zero(t, s.callCount())

	fake.Advance(time.Millisecond)
	require.Equal(t, 1, s.callCount())
	assert.Equal(t, []string{"one", "two"}, messages(s.call(0)))
	assert.Equal(t, 0, l.QueueLen())
	assert.Equal(t, 0, fake.Pending())
}

func TestLogger_RetryAfterFailure(t *testing.T) {
	s := &fakeSink{errs: []error{errors.New("503 Service Unavailable")}}
	l, fake := newTestLogger(t, s, nil)

	for i := 0; i < 3; i++ {
		l.Error(fmt.Sprintf("e%d", i), nil, nil)
	}

	fake.Advance(core.DefaultFlushInterval)
	require.Equal(t, 1, s.callCount())
	assert.Equal(t, 3, l.QueueLen(), "failed batch is requeued")
	assert.Equal(t, uint64(1), l.Stats().FailedFlushes)

	fake.Advance(core.DefaultFlushInterval)
	require.Equal(t, 2, s.callCount())
	assert.Equal(t, s.call(0), s.call(1))
	assert.Equal(t, 0, l.QueueLen())
	assert.Equal(t, uint64(3), l.Stats().TotalDelivered)
}

func TestLogger_RequeueAtFront(t *testing.T) {
	s := &fakeSink{errs: []error{errors.New("timeout")}}
	l, fake := newTestLogger(t, s, func(o *Options) { o.BatchSize = 2 })

	l.Info("a", nil)
	fake.Advance(core.DefaultFlushInterval)
	require.Equal(t, 1, s.callCount())

	l.Info("b", nil)
	l.Info("c", nil)
	l.Wait()

	// Size trigger flushed the front of the queue: the failed entry first
	require.Equal(t, 2, s.callCount())
	assert.Equal(t, []string{"a", "b"}, messages(s.call(1)))
	assert.Equal(t, 1, l.QueueLen())
}

func TestNew_ZeroOptionsUseDefaults(t *testing.T) {
	l, _ := newTestLogger(t, &fakeSink{}, func(o *Options) {
		*o = Options{Clock: o.Clock}
	})

	defaults := DefaultOptions()
	assert.Equal(t, defaults.BatchSize, l.opts.BatchSize)
	assert.Equal(t, defaults.FlushInterval, l.opts.FlushInterval)
	assert.Equal(t, defaults.SinkTimeout, l.opts.SinkTimeout)
	assert.Equal(t, defaults.MaxRetryDelay, l.opts.MaxRetryDelay)
	assert.Equal(t, defaults.Source, l.opts.Source)

	// A cap below the interval is raised to it
	l, _ = newTestLogger(t, &fakeSink{}, func(o *Options) {
		o.FlushInterval = 10 * time.Second
		o.MaxRetryDelay = time.Second
	})
	assert.Equal(t, 10*time.Second, l.opts.MaxRetryDelay)
}

func TestLogger_Backoff(t *testing.T) {
	fail := errors.New("down")
	s := &fakeSink{errs: []error{fail, fail, fail}}
	l, fake := newTestLogger(t, s, func(o *Options) { o.MaxRetryDelay = 15 * time.Second })

	l.Info("x", nil)
	fake.Advance(5 * time.Second) // failure 1, retry in 5s
	fake.Advance(5 * time.Second) // failure 2, retry in 10s
	require.Equal(t, 2, s.callCount())

	fake.Advance(9 * time.Second)
	assert.Equal(t, 2, s.callCount())
	fake.Advance(time.Second) // failure 3, retry capped at 15s
	require.Equal(t, 3, s.callCount())

	fake.Advance(14 * time.Second)
	assert.Equal(t, 3, s.callCount())
	fake.Advance(time.Second)
	assert.Equal(t, 4, s.callCount())
	assert.Equal(t, 0, l.QueueLen())

	// Success resets the delay
	l.Info("y", nil)
	fake.Advance(5 * time.Second)
	assert.Equal(t, 5, s.callCount())
}

func TestLogger_FatalFlushesImmediately(t *testing.T) {
	s := &fakeSink{}
	l, fake := newTestLogger(t, s, nil)

	l.Info("before", nil)
	l.Fatal("db gone", core.Fields("attempt", 3), errors.New("connection refused"))

	require.Equal(t, 1, s.callCount())
	rows := s.call(0)
	require.Len(t, rows, 2)
	assert.Equal(t, "fatal", rows[1].Level)
	assert.Equal(t, "errors.errorString", rows[1].Context["errorName"].Str())
	assert.Equal(t, int64(3), rows[1].Context["attempt"].Int())
	require.NotNil(t, rows[1].StackTrace)
	assert.Equal(t, "connection refused", *rows[1].StackTrace)
	assert.Equal(t, 0, fake.Pending())
}

func TestLogger_RelayedFatalDoesNotBlock(t *testing.T) {
	s := &fakeSink{block: make(chan struct{}), entered: make(chan struct{}, 1)}
	l, _ := newTestLogger(t, s, nil)

	returned := make(chan struct{})
	go func() {
		l.LogFrom(core.Origin{URL: "https://app.example/"}, core.LogEntry{Level: core.LevelFatal, Message: "client crashed"})
		close(returned)
	}()

	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("LogFrom waited on the sink")
	}

	// The flush still starts right away
	select {
	case <-s.entered:
	case <-time.After(time.Second):
		t.Fatal("relayed fatal entry did not trigger a flush")
	}
	close(s.block)
	l.Wait()
	require.Equal(t, 1, s.callCount())
	assert.Equal(t, "fatal", s.call(0)[0].Level)
}

func TestLogger_FlushCoalesces(t *testing.T) {
	s := &fakeSink{block: make(chan struct{}), entered: make(chan struct{}, 1)}
	l, _ := newTestLogger(t, s, nil)

	for i := 0; i < 10; i++ {
		l.Info("m", nil)
	}
	<-s.entered

	// In flight: further requests return without a sink call
	l.Flush(context.Background())
	l.Flush(context.Background())
	assert.True(t, l.Stats().Flushing)

	close(s.block)
	l.Wait()
	assert.Equal(t, 1, s.callCount())
}

func TestLogger_SinkTimeout(t *testing.T) {
	s := &fakeSink{block: make(chan struct{})}
	t.Cleanup(func() { close(s.block) })
	l, _ := newTestLogger(t, s, func(o *Options) { o.SinkTimeout = 20 * time.Millisecond })

	l.Info("stuck", nil)
	l.Flush(context.Background())

	assert.Equal(t, 1, l.QueueLen())
	assert.Equal(t, uint64(1), l.Stats().FailedFlushes)
	assert.Equal(t, uint64(1), l.Stats().AbandonedInserts)
	assert.False(t, l.Stats().Flushing)
}

func TestLogger_SinkPanic(t *testing.T) {
	s := &fakeSink{panicOn: 1}
	l, _ := newTestLogger(t, s, nil)

	l.Info("a", nil)
	assert.NotPanics(t, func() { l.Flush(context.Background()) })
	assert.Equal(t, 1, l.QueueLen())

	l.Flush(context.Background())
	assert.Equal(t, 0, l.QueueLen())
	assert.Equal(t, 2, s.callCount())
}

func TestLogger_MaxAttempts(t *testing.T) {
	fail := errors.New("rejected")
	s := &fakeSink{errs: []error{fail, fail}}
	l, _ := newTestLogger(t, s, func(o *Options) { o.MaxAttempts = 2 })

	l.Info("poison", nil)
	l.Flush(context.Background())
	assert.Equal(t, 1, l.QueueLen())

	l.Flush(context.Background())
	assert.Equal(t, 0, l.QueueLen())
	assert.Equal(t, uint64(1), l.Stats().TotalDropped)
}

func TestLogger_Enrichment(t *testing.T) {
	s := &fakeSink{}
	l, _ := newTestLogger(t, s, func(o *Options) {
		o.URL = "service://dealflow"
		o.UserAgent = "dealflow/test"
	})

	l.Info("own", nil)
	l.LogFrom(core.Origin{URL: "https://app.example/deals", UserAgent: "Mozilla/5.0"}, core.LogEntry{
		Level:   core.LevelWarn,
		Message: "relayed",
		Source:  core.SourceFrontend,
	})
	l.Flush(context.Background())

	require.Equal(t, 1, s.callCount())
	rows := s.call(0)
	require.Len(t, rows, 2)

	assert.Equal(t, core.SourceBackend, rows[0].Source)
	assert.Equal(t, "service://dealflow", rows[0].URL)
	assert.Equal(t, "dealflow/test", rows[0].UserAgent)
	assert.Equal(t, epoch.Format(time.RFC3339Nano), rows[0].CreatedAt)
	assert.NotNil(t, rows[0].Context)
	assert.Nil(t, rows[0].StackTrace)

	assert.Equal(t, core.SourceFrontend, rows[1].Source)
	assert.Equal(t, "https://app.example/deals", rows[1].URL)
	assert.Equal(t, "Mozilla/5.0", rows[1].UserAgent)

	for _, r := range rows {
		assert.Equal(t, l.SessionID(), r.SessionID)
	}

	other, _ := newTestLogger(t, &fakeSink{}, nil)
	assert.NotEqual(t, l.SessionID(), other.SessionID())
}

func TestLogger_ErrorWithoutErr(t *testing.T) {
	s := &fakeSink{}
	l, _ := newTestLogger(t, s, nil)

	l.Error("plain", core.Fields("k", "v"), nil)
	l.Flush(context.Background())

	row := s.call(0)[0]
	_, hasName := row.Context["errorName"]
	assert.False(t, hasName)
	assert.Nil(t, row.StackTrace)
}

func TestLogger_Mirror(t *testing.T) {
	var mirror bytes.Buffer
	l, _ := newTestLogger(t, &fakeSink{}, func(o *Options) { o.Mirror = &mirror })

	l.Warn("slow response", core.Fields("ms", 1200))
	assert.Equal(t, "[WARN] slow response {\"ms\":1200}\n", mirror.String())
}

func TestLogger_Close(t *testing.T) {
	t.Run("DrainsQueue", func(t *testing.T) {
		s := &fakeSink{}
		l, fake := newTestLogger(t, s, nil)

		for i := 0; i < 25; i++ {
			l.Info("m", nil)
		}
		require.NoError(t, l.Close(context.Background()))

		total := 0
		for i := 0; i < s.callCount(); i++ {
			total += len(s.call(i))
		}
		assert.Equal(t, 25, total)
		assert.Equal(t, 0, fake.Pending())

		l.Info("late", nil)
		assert.Equal(t, 0, l.QueueLen())
		assert.Equal(t, uint64(1), l.Stats().TotalDropped)
	})

	t.Run("ReportsUndelivered", func(t *testing.T) {
		s := &fakeSink{errs: []error{errors.New("down")}}
		l, _ := newTestLogger(t, s, nil)

		l.Info("a", nil)
		l.Info("b", nil)
		err := l.Close(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "2 log entries")
		assert.Equal(t, 2, l.QueueLen())
	})

	t.Run("ContextDone", func(t *testing.T) {
		s := &fakeSink{}
		l, _ := newTestLogger(t, s, nil)
		l.Info("a", nil)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		assert.Error(t, l.Close(ctx))
		assert.Zero(t, s.callCount())
	})
}

func TestErrorName(t *testing.T) {
	assert.Equal(t, "errors.errorString", ErrorName(errors.New("x")))
	assert.Equal(t, "fmt.wrapError", ErrorName(fmt.Errorf("wrap: %w", errors.New("x"))))
	assert.Equal(t, "PanicError", ErrorName(&PanicError{Value: "boom"}))
}

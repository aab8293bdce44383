package applog

import (
	"context"
	"fmt"
	"time"

	"dealflow/src/internal/core"
)

// Flush delivers one batch from the front of the queue. It returns
// immediately when the queue is empty or another flush is in flight.
func (l *Logger) Flush(ctx context.Context) {
	l.mu.Lock()
	batch := l.takeBatchLocked()
	l.mu.Unlock()

	if batch == nil {
		return
	}
	l.deliver(ctx, batch)
}

// Wait blocks until no flush is in flight.
func (l *Logger) Wait() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for l.flushing {
		l.idle.Wait()
	}
}

// Close stops the flush timer and delivers queued entries until the queue
// is empty, a delivery fails, or ctx ends. Entries logged afterwards are
// discarded. The error reports entries that could not be delivered.
func (l *Logger) Close(ctx context.Context) error {
	l.mu.Lock()
	l.closed = true
	l.stopTimerLocked()
	l.mu.Unlock()

	stop := context.AfterFunc(ctx, func() {
		l.mu.Lock()
		l.idle.Broadcast()
		l.mu.Unlock()
	})
	defer stop()

	for ctx.Err() == nil {
		l.mu.Lock()
		for l.flushing && ctx.Err() == nil {
			l.idle.Wait()
		}
		if ctx.Err() != nil {
			l.mu.Unlock()
			break
		}
		batch := l.takeBatchLocked()
		l.mu.Unlock()

		if batch == nil {
			break
		}
		if err := l.deliver(ctx, batch); err != nil {
			break
		}
	}

	remaining := l.QueueLen()
	if remaining > 0 {
		l.logger.Error("msg", "Log pipeline closed with undelivered entries",
			"component", "applog",
			"sink", l.sink.Name(),
			"undelivered", remaining)
		return fmt.Errorf("%d log entries were not delivered", remaining)
	}

	l.logger.Debug("msg", "Log pipeline closed",
		"component", "applog",
		"delivered", l.totalDelivered.Load())
	return nil
}

// deliver sends a batch taken by takeBatchLocked and settles the result.
func (l *Logger) deliver(ctx context.Context, batch []pending) error {
	rows := make([]core.Row, len(batch))
	for i, p := range batch {
		rows[i] = p.entry.Row(l.opts.Source)
	}

	err := l.insert(ctx, rows)
	l.finish(batch, err)
	return err
}

// insert calls the sink bounded by SinkTimeout. A sink that ignores its
// context is abandoned when the timeout expires and may still complete
// while the requeued batch is retried, so a batch can land twice; such
// calls are counted in Stats.AbandonedInserts. A panicking sink counts as
// a failed delivery.
func (l *Logger) insert(ctx context.Context, rows []core.Row) error {
	ctx, cancel := context.WithTimeout(ctx, l.opts.SinkTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("sink %s panicked: %v", l.sink.Name(), r)
			}
		}()
		done <- l.sink.Insert(ctx, rows)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		l.abandonedInserts.Add(1)
		return fmt.Errorf("sink %s: %w", l.sink.Name(), ctx.Err())
	}
}

func (l *Logger) finish(batch []pending, err error) {
	l.mu.Lock()
	var dropped []pending
	if err != nil {
		l.failures++
		dropped = l.requeueLocked(batch)
	} else {
		l.failures = 0
	}
	failures := l.failures

	l.flushing = false
	var next time.Duration
	if len(l.queue) > 0 && !l.closed {
		next = l.retryDelayLocked()
		l.scheduleLocked(next)
	}
	l.idle.Broadcast()
	l.mu.Unlock()

	if err == nil {
		l.totalDelivered.Add(uint64(len(batch)))
		l.lastFlush.Store(time.Now())
		l.logger.Debug("msg", "Log batch delivered",
			"component", "applog",
			"sink", l.sink.Name(),
			"batch_size", len(batch))
		return
	}

	l.failedFlushes.Add(1)
	l.logger.Warn("msg", "Log batch delivery failed, entries requeued",
		"component", "applog",
		"sink", l.sink.Name(),
		"batch_size", len(batch),
		"consecutive_failures", failures,
		"retry_in", next,
		"error", err)

	if len(dropped) > 0 {
		l.totalDropped.Add(uint64(len(dropped)))
		l.logger.Error("msg", "Log entries dropped after max delivery attempts",
			"component", "applog",
			"sink", l.sink.Name(),
			"dropped", len(dropped),
			"max_attempts", l.opts.MaxAttempts)
	}
}

package applog

import (
	"context"
	"time"

	"dealflow/src/internal/core"
)

// enqueue appends entry and applies the size and time triggers.
func (l *Logger) enqueue(entry core.QueuedEntry) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		l.totalDropped.Add(1)
		l.logger.Debug("msg", "Log entry after close discarded",
			"component", "applog",
			"level", entry.Level.String())
		return
	}

	l.queue = append(l.queue, pending{entry: entry})
	l.totalEnqueued.Add(1)

	var batch []pending
	if len(l.queue) >= l.opts.BatchSize {
		batch = l.takeBatchLocked()
	}
	if batch == nil && l.timer == nil && len(l.queue) > 0 {
		l.scheduleLocked(l.opts.FlushInterval)
	}
	l.mu.Unlock()

	if batch != nil {
		go l.deliver(context.Background(), batch)
	}
}

// takeBatchLocked cancels any pending timer and removes up to BatchSize
// entries from the front of the queue, marking a flush in progress. It
// returns nil when the queue is empty or a flush is already running.
// Caller must hold mu.
func (l *Logger) takeBatchLocked() []pending {
	l.stopTimerLocked()

	if l.flushing || len(l.queue) == 0 {
		return nil
	}

	n := min(l.opts.BatchSize, len(l.queue))
	batch := make([]pending, n)
	copy(batch, l.queue[:n])

	rest := make([]pending, len(l.queue)-n, max(len(l.queue)-n, l.opts.BatchSize))
	copy(rest, l.queue[n:])
	l.queue = rest

	l.flushing = true
	return batch
}

// requeueLocked puts a failed batch back at the front in original order.
// Entries that reached MaxAttempts are returned instead. Caller must hold mu.
func (l *Logger) requeueLocked(batch []pending) (dropped []pending) {
	kept := make([]pending, 0, len(batch)+len(l.queue))
	for _, p := range batch {
		p.attempts++
		if l.opts.MaxAttempts > 0 && p.attempts >= l.opts.MaxAttempts {
			dropped = append(dropped, p)
			continue
		}
		kept = append(kept, p)
	}
	l.queue = append(kept, l.queue...)
	return dropped
}

// scheduleLocked arms the flush timer, replacing any pending one. Caller
// must hold mu.
func (l *Logger) scheduleLocked(d time.Duration) {
	l.stopTimerLocked()
	l.timerGen++
	gen := l.timerGen
	l.timer = l.clock.AfterFunc(d, func() { l.onTimer(gen) })
}

func (l *Logger) stopTimerLocked() {
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
		l.timerGen++
	}
}

func (l *Logger) onTimer(gen uint64) {
	l.mu.Lock()
	if gen != l.timerGen {
		// Replaced or cancelled after it started firing
		l.mu.Unlock()
		return
	}
	l.timer = nil
	batch := l.takeBatchLocked()
	l.mu.Unlock()

	if batch != nil {
		l.deliver(context.Background(), batch)
	}
}

// retryDelayLocked returns the wait before the next timed flush: the flush
// interval, doubled for every consecutive failure past the first and capped
// at MaxRetryDelay. Caller must hold mu.
func (l *Logger) retryDelayLocked() time.Duration {
	d := l.opts.FlushInterval
	for i := 1; i < l.failures && d < l.opts.MaxRetryDelay; i++ {
		d *= 2
	}
	return min(d, l.opts.MaxRetryDelay)
}

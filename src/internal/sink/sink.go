package sink

import (
	"context"
	"time"

	"dealflow/src/internal/core"
)

// Sink is the persistent, append-only destination for log rows.
type Sink interface {
	// Insert writes rows in one bulk operation. Any returned error means
	// the caller must treat the whole batch as undelivered.
	Insert(ctx context.Context, rows []core.Row) error

	// Name identifies the sink in diagnostics
	Name() string
}

// Stats contains statistics about a sink
type Stats struct {
	Type          string
	TotalRows     uint64
	TotalBatches  uint64
	FailedBatches uint64
	LastBatch     time.Time
	Details       map[string]any
}

// StatsReporter is implemented by sinks that expose counters.
type StatsReporter interface {
	GetStats() Stats
}

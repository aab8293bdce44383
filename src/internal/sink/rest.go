package sink

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"dealflow/src/internal/core"
	"dealflow/src/internal/format"

	"github.com/lixenwraith/log"
)

// Inserter is the part of the backend client used by RESTSink.
type Inserter interface {
	Insert(ctx context.Context, table string, body []byte) error
}

// RESTSink bulk-inserts rows into the hosted log table.
type RESTSink struct {
	client    Inserter
	table     string
	formatter *format.JSONFormatter
	logger    *log.Logger

	// Statistics
	totalRows     atomic.Uint64
	totalBatches  atomic.Uint64
	failedBatches atomic.Uint64
	lastBatch     atomic.Value // time.Time
}

// NewRESTSink creates a sink writing to table through client.
func NewRESTSink(client Inserter, table string, logger *log.Logger) (*RESTSink, error) {
	if client == nil {
		return nil, fmt.Errorf("REST sink client cannot be nil")
	}
	if table == "" {
		table = core.LogsTable
	}

	s := &RESTSink{
		client:    client,
		table:     table,
		formatter: format.NewJSONFormatter(false, logger),
		logger:    logger,
	}
	s.lastBatch.Store(time.Time{})
	return s, nil
}

func (s *RESTSink) Name() string {
	return "rest:" + s.table
}

// Insert sends rows as one JSON array.
func (s *RESTSink) Insert(ctx context.Context, rows []core.Row) error {
	if len(rows) == 0 {
		return nil
	}

	s.totalBatches.Add(1)
	s.lastBatch.Store(time.Now())

	body, err := s.formatter.FormatBatch(rows)
	if err != nil {
		s.failedBatches.Add(1)
		return fmt.Errorf("failed to format batch: %w", err)
	}

	if err := s.client.Insert(ctx, s.table, body); err != nil {
		s.failedBatches.Add(1)
		return err
	}

	s.totalRows.Add(uint64(len(rows)))
	s.logger.Debug("msg", "Batch inserted",
		"component", "rest_sink",
		"table", s.table,
		"batch_size", len(rows))
	return nil
}

func (s *RESTSink) GetStats() Stats {
	last, _ := s.lastBatch.Load().(time.Time)
	return Stats{
		Type:          "rest",
		TotalRows:     s.totalRows.Load(),
		TotalBatches:  s.totalBatches.Load(),
		FailedBatches: s.failedBatches.Load(),
		LastBatch:     last,
		Details: map[string]any{
			"table": s.table,
		},
	}
}

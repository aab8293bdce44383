package filter

import (
	"fmt"
	"sync/atomic"

	"dealflow/src/internal/config"
	"dealflow/src/internal/core"

	"github.com/lixenwraith/log"
)

// Chain applies filters in order; an entry must pass all of them.
type Chain struct {
	filters []*Filter
	logger  *log.Logger

	// Statistics
	totalProcessed atomic.Uint64
	totalPassed    atomic.Uint64
}

// NewChain builds a chain from configs. It returns nil for an empty list;
// a nil Chain passes everything.
func NewChain(configs []config.FilterConfig, logger *log.Logger) (*Chain, error) {
	if len(configs) == 0 {
		return nil, nil
	}

	chain := &Chain{
		filters: make([]*Filter, 0, len(configs)),
		logger:  logger,
	}
	for i, cfg := range configs {
		f, err := NewFilter(cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("filter[%d]: %w", i, err)
		}
		chain.filters = append(chain.filters, f)
	}

	logger.Info("msg", "Filter chain created",
		"component", "filter_chain",
		"filter_count", len(configs))
	return chain, nil
}

// Apply reports whether entry passes every filter.
func (c *Chain) Apply(entry core.LogEntry) bool {
	if c == nil {
		return true
	}
	c.totalProcessed.Add(1)

	for i, f := range c.filters {
		if !f.Apply(entry) {
			c.logger.Debug("msg", "Entry filtered out",
				"component", "filter_chain",
				"filter_index", i,
				"filter_type", f.config.Type)
			return false
		}
	}

	c.totalPassed.Add(1)
	return true
}

func (c *Chain) GetStats() map[string]any {
	if c == nil {
		return map[string]any{"filter_count": 0}
	}
	filterStats := make([]map[string]any, len(c.filters))
	for i, f := range c.filters {
		filterStats[i] = f.GetStats()
	}
	return map[string]any{
		"filter_count":    len(c.filters),
		"total_processed": c.totalProcessed.Load(),
		"total_passed":    c.totalPassed.Load(),
		"filters":         filterStats,
	}
}

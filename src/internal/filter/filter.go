// Package filter keeps or drops application log entries by regex before
// they reach the pipeline queue.
package filter

import (
	"fmt"
	"regexp"
	"strings"
	"sync/atomic"

	"dealflow/src/internal/config"
	"dealflow/src/internal/core"

	"github.com/lixenwraith/log"
)

// Filter matches one field of an entry against a pattern set.
type Filter struct {
	config   config.FilterConfig
	patterns []*regexp.Regexp
	logger   *log.Logger

	// Statistics
	totalProcessed atomic.Uint64
	totalMatched   atomic.Uint64
	totalDropped   atomic.Uint64
}

// NewFilter compiles cfg. Type defaults to include, Logic to or.
func NewFilter(cfg config.FilterConfig, logger *log.Logger) (*Filter, error) {
	if cfg.Type == "" {
		cfg.Type = config.FilterTypeInclude
	}
	if cfg.Logic == "" {
		cfg.Logic = config.FilterLogicOr
	}

	f := &Filter{
		config:   cfg,
		patterns: make([]*regexp.Regexp, 0, len(cfg.Patterns)),
		logger:   logger,
	}
	for i, pattern := range cfg.Patterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid regex pattern[%d] '%s': %w", i, pattern, err)
		}
		f.patterns = append(f.patterns, re)
	}

	logger.Debug("msg", "Filter created",
		"component", "filter",
		"type", cfg.Type,
		"logic", cfg.Logic,
		"field", cfg.Field,
		"pattern_count", len(f.patterns))
	return f, nil
}

// Apply reports whether entry passes. A filter without patterns passes
// everything.
func (f *Filter) Apply(entry core.LogEntry) bool {
	f.totalProcessed.Add(1)
	if len(f.patterns) == 0 {
		return true
	}

	matched := f.matches(f.text(entry))
	if matched {
		f.totalMatched.Add(1)
	}

	pass := matched
	if f.config.Type == config.FilterTypeExclude {
		pass = !matched
	}
	if !pass {
		f.totalDropped.Add(1)
	}
	return pass
}

func (f *Filter) text(entry core.LogEntry) string {
	switch f.config.Field {
	case "message":
		return entry.Message
	case "source":
		return entry.Source
	case "stack_trace":
		return entry.StackTrace
	case "context":
		// Sorted keys keep matching stable
		b, err := entry.Context.MarshalJSON()
		if err != nil {
			return ""
		}
		return string(b)
	}

	var sb strings.Builder
	if entry.Source != "" {
		sb.WriteString(entry.Source)
		sb.WriteByte(' ')
	}
	sb.WriteString(entry.Level.Upper())
	sb.WriteByte(' ')
	sb.WriteString(entry.Message)
	return sb.String()
}

func (f *Filter) matches(text string) bool {
	if f.config.Logic == config.FilterLogicAnd {
		for _, re := range f.patterns {
			if !re.MatchString(text) {
				return false
			}
		}
		return true
	}

	for _, re := range f.patterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

func (f *Filter) GetStats() map[string]any {
	return map[string]any{
		"type":            f.config.Type,
		"logic":           f.config.Logic,
		"field":           f.config.Field,
		"pattern_count":   len(f.patterns),
		"total_processed": f.totalProcessed.Load(),
		"total_matched":   f.totalMatched.Load(),
		"total_dropped":   f.totalDropped.Load(),
	}
}

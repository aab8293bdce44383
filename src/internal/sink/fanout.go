package sink

import (
	"context"
	"strings"

	"dealflow/src/internal/core"

	"github.com/lixenwraith/log"
)

// Fanout writes every batch to a primary sink and a set of secondary copies.
// Only the primary decides delivery; secondary failures are logged.
type Fanout struct {
	primary     Sink
	secondaries []Sink
	logger      *log.Logger
}

// NewFanout creates a fan-out sink. With no secondaries it behaves exactly
// like primary.
func NewFanout(primary Sink, logger *log.Logger, secondaries ...Sink) *Fanout {
	return &Fanout{
		primary:     primary,
		secondaries: secondaries,
		logger:      logger,
	}
}

func (f *Fanout) Name() string {
	names := []string{f.primary.Name()}
	for _, s := range f.secondaries {
		names = append(names, s.Name())
	}
	return strings.Join(names, "+")
}

func (f *Fanout) Insert(ctx context.Context, rows []core.Row) error {
	if err := f.primary.Insert(ctx, rows); err != nil {
		return err
	}

	for _, s := range f.secondaries {
		if err := s.Insert(ctx, rows); err != nil {
			f.logger.Warn("msg", "Secondary sink insert failed",
				"component", "fanout_sink",
				"sink", s.Name(),
				"batch_size", len(rows),
				"error", err)
		}
	}
	return nil
}

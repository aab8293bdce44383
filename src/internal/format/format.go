package format

import (
	"fmt"

	"dealflow/src/internal/core"

	"github.com/lixenwraith/log"
)

// Formatter defines the interface for transforming a log row into bytes.
type Formatter interface {
	// Format takes a Row and returns the formatted bytes, newline terminated.
	Format(row core.Row) ([]byte, error)

	// Name returns the formatter type name
	Name() string
}

// New creates a Formatter by name. An empty name selects json.
func New(name string, logger *log.Logger) (Formatter, error) {
	if name == "" {
		name = "json"
	}

	switch name {
	case "json":
		return NewJSONFormatter(false, logger), nil
	case "text":
		return NewTextFormatter(false), nil
	default:
		return nil, fmt.Errorf("unknown formatter type: %s", name)
	}
}

package format

import (
	"encoding/json"
	"fmt"

	"dealflow/src/internal/core"

	"github.com/lixenwraith/log"
)

// JSONFormatter encodes rows in the table's column shape.
type JSONFormatter struct {
	pretty bool
	logger *log.Logger
}

// NewJSONFormatter creates a JSON formatter.
func NewJSONFormatter(pretty bool, logger *log.Logger) *JSONFormatter {
	return &JSONFormatter{
		pretty: pretty,
		logger: logger,
	}
}

// Format encodes a single row followed by a newline.
func (f *JSONFormatter) Format(row core.Row) ([]byte, error) {
	var result []byte
	var err error
	if f.pretty {
		result, err = json.MarshalIndent(row, "", "  ")
	} else {
		result, err = json.Marshal(row)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to marshal row: %w", err)
	}

	return append(result, '\n'), nil
}

func (f *JSONFormatter) Name() string {
	return "json"
}

// FormatBatch encodes rows as one JSON array, the body of a bulk insert.
// Rows that fail to encode are skipped and reported.
func (f *JSONFormatter) FormatBatch(rows []core.Row) ([]byte, error) {
	batch := make([]json.RawMessage, 0, len(rows))

	for _, row := range rows {
		encoded, err := json.Marshal(row)
		if err != nil {
			if f.logger != nil {
				f.logger.Warn("msg", "Failed to format row in batch",
					"component", "json_formatter",
					"level", row.Level,
					"error", err)
			}
			continue
		}
		batch = append(batch, encoded)
	}

	if f.pretty {
		return json.MarshalIndent(batch, "", "  ")
	}
	return json.Marshal(batch)
}

package format

import (
	"encoding/json"
	"strings"
	"testing"

	"dealflow/src/internal/core"

	"github.com/lixenwraith/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger() *log.Logger {
	return log.NewLogger()
}

func testRow() core.Row {
	stack := "main.go:10"
	return core.Row{
		Level:      "error",
		Message:    "checkout failed",
		Context:    core.Fields("deal_id", "d-7", "attempt", 2),
		Source:     core.SourceFrontend,
		SessionID:  "s-1",
		URL:        "https://app.example/deals/d-7",
		UserAgent:  "Mozilla/5.0",
		StackTrace: &stack,
		CreatedAt:  "2024-01-01T12:00:00Z",
	}
}

func TestNewFormatter(t *testing.T) {
	logger := newTestLogger()

	testCases := []struct {
		name        string
		formatName  string
		expected    string
		expectError bool
	}{
		{name: "Default", formatName: "", expected: "json"},
		{name: "JSONFormatter", formatName: "json", expected: "json"},
		{name: "TextFormatter", formatName: "text", expected: "text"},
		{name: "Unknown", formatName: "xml", expectError: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f, err := New(tc.formatName, logger)
			if tc.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, f.Name())
		})
	}
}

func TestJSONFormatter(t *testing.T) {
	f := NewJSONFormatter(false, newTestLogger())

	t.Run("Format", func(t *testing.T) {
		out, err := f.Format(testRow())
		require.NoError(t, err)
		assert.True(t, strings.HasSuffix(string(out), "\n"))

		var decoded map[string]any
		require.NoError(t, json.Unmarshal(out, &decoded))
		assert.Equal(t, "error", decoded["level"])
		assert.Equal(t, "s-1", decoded["session_id"])
		assert.Equal(t, "main.go:10", decoded["stack_trace"])
		ctx := decoded["context"].(map[string]any)
		assert.Equal(t, "d-7", ctx["deal_id"])
	})

	t.Run("NullStackTrace", func(t *testing.T) {
		row := testRow()
		row.StackTrace = nil
		out, err := f.Format(row)
		require.NoError(t, err)
		assert.Contains(t, string(out), `"stack_trace":null`)
	})

	t.Run("FormatBatch", func(t *testing.T) {
		rows := []core.Row{testRow(), testRow()}
		rows[1].Message = "second"

		out, err := f.FormatBatch(rows)
		require.NoError(t, err)

		var decoded []map[string]any
		require.NoError(t, json.Unmarshal(out, &decoded))
		require.Len(t, decoded, 2)
		assert.Equal(t, "checkout failed", decoded[0]["message"])
		assert.Equal(t, "second", decoded[1]["message"])
	})

	t.Run("EmptyBatch", func(t *testing.T) {
		out, err := f.FormatBatch(nil)
		require.NoError(t, err)
		assert.Equal(t, "[]", string(out))
	})
}

func TestTextFormatter(t *testing.T) {
	t.Run("Plain", func(t *testing.T) {
		f := NewTextFormatter(false)
		out := f.FormatEntry(core.LogEntry{
			Level:   core.LevelWarn,
			Message: "slow response",
			Context: core.Fields("ms", 1200),
		})
		assert.Equal(t, "[WARN] slow response {\"ms\":1200}\n", string(out))
	})

	t.Run("NoContext", func(t *testing.T) {
		f := NewTextFormatter(false)
		out, err := f.Format(core.Row{Level: "info", Message: "ready"})
		require.NoError(t, err)
		assert.Equal(t, "[INFO] ready\n", string(out))
	})

	t.Run("Color", func(t *testing.T) {
		f := NewTextFormatter(true)
		out := f.FormatEntry(core.LogEntry{Level: core.LevelError, Message: "x"})
		assert.True(t, strings.HasPrefix(string(out), "\x1b[31m[ERROR]\x1b[0m"))
	})
}

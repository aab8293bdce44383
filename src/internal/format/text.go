package format

import (
	"bytes"
	"encoding/json"
	"strings"

	"dealflow/src/internal/core"
)

const ansiReset = "\x1b[0m"

var levelColors = map[string]string{
	"debug": "\x1b[90m",
	"info":  "\x1b[36m",
	"warn":  "\x1b[33m",
	"error": "\x1b[31m",
	"fatal": "\x1b[1;31m",
}

// TextFormatter renders the console mirror line: "[LEVEL] message {context}".
type TextFormatter struct {
	color bool
}

// NewTextFormatter creates a text formatter. With color set, the level tag
// is wrapped in ANSI color codes.
func NewTextFormatter(color bool) *TextFormatter {
	return &TextFormatter{color: color}
}

func (f *TextFormatter) Format(row core.Row) ([]byte, error) {
	return f.render(row.Level, row.Message, row.Context), nil
}

// FormatEntry renders a caller entry before enrichment.
func (f *TextFormatter) FormatEntry(entry core.LogEntry) []byte {
	return f.render(entry.Level.String(), entry.Message, entry.Context)
}

func (f *TextFormatter) Name() string {
	return "text"
}

func (f *TextFormatter) render(level, message string, ctx core.Context) []byte {
	var buf bytes.Buffer

	color, hasColor := levelColors[level]
	if f.color && hasColor {
		buf.WriteString(color)
	}
	buf.WriteByte('[')
	buf.WriteString(strings.ToUpper(level))
	buf.WriteByte(']')
	if f.color && hasColor {
		buf.WriteString(ansiReset)
	}

	buf.WriteByte(' ')
	buf.WriteString(message)

	if len(ctx) > 0 {
		if encoded, err := json.Marshal(ctx); err == nil {
			buf.WriteByte(' ')
			buf.Write(encoded)
		}
	}

	buf.WriteByte('\n')
	return buf.Bytes()
}

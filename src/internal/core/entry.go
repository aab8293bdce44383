package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Context carries structured fields attached to a log entry.
type Context map[string]Value

// Fields builds a Context from alternating key/value arguments. A trailing
// key without a value is stored as null; non-string keys are formatted.
func Fields(kv ...any) Context {
	ctx := make(Context, len(kv)/2)
	for i := 0; i < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			key = fmt.Sprint(kv[i])
		}
		if i+1 < len(kv) {
			ctx[key] = ValueOf(kv[i+1])
		} else {
			ctx[key] = Null()
		}
	}
	return ctx
}

// With returns a copy of c with key set to v.
func (c Context) With(key string, v any) Context {
	out := make(Context, len(c)+1)
	for k, item := range c {
		out[k] = item
	}
	out[key] = ValueOf(v)
	return out
}

// Merge returns a copy of c overlaid with other.
func (c Context) Merge(other Context) Context {
	out := make(Context, len(c)+len(other))
	for k, item := range c {
		out[k] = item
	}
	for k, item := range other {
		out[k] = item
	}
	return out
}

// MarshalJSON always produces an object; a nil Context encodes as {}.
func (c Context) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := encodeObject(&buf, c); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (c *Context) UnmarshalJSON(data []byte) error {
	var v Value
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch v.Kind() {
	case KindNull:
		*c = Context{}
	case KindObject:
		*c = Context(v.Fields())
	default:
		return fmt.Errorf("context must be a JSON object, got %s", v.Kind())
	}
	return nil
}

// LogEntry is a log call as supplied by the caller.
type LogEntry struct {
	Level      Level
	Message    string
	Context    Context
	Source     string
	StackTrace string
}

// Origin describes where an entry was produced. Relayed client logs carry
// their own page URL and user agent.
type Origin struct {
	URL       string
	UserAgent string
}

// QueuedEntry is a LogEntry enriched at enqueue time.
type QueuedEntry struct {
	LogEntry
	URL       string
	UserAgent string
	SessionID string
	CreatedAt time.Time
}

// Row is the shape written to the persistent log table.
type Row struct {
	Level      string  `json:"level"`
	Message    string  `json:"message"`
	Context    Context `json:"context"`
	Source     string  `json:"source"`
	SessionID  string  `json:"session_id"`
	URL        string  `json:"url"`
	UserAgent  string  `json:"user_agent"`
	StackTrace *string `json:"stack_trace"`
	CreatedAt  string  `json:"created_at"`
}

// Row converts the entry into the sink's row shape. An empty source falls
// back to defaultSource.
func (q QueuedEntry) Row(defaultSource string) Row {
	source := q.Source
	if source == "" {
		source = defaultSource
	}

	ctx := q.Context
	if ctx == nil {
		ctx = Context{}
	}

	var stack *string
	if q.StackTrace != "" {
		s := q.StackTrace
		stack = &s
	}

	return Row{
		Level:      q.Level.String(),
		Message:    q.Message,
		Context:    ctx,
		Source:     source,
		SessionID:  q.SessionID,
		URL:        q.URL,
		UserAgent:  q.UserAgent,
		StackTrace: stack,
		CreatedAt:  q.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

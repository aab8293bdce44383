// Package ingest relays logs produced outside the service (browsers, other
// processes) into the log pipeline over HTTP and TCP.
package ingest

import (
	"fmt"

	"dealflow/src/internal/core"

	"github.com/valyala/fastjson"
)

// Relay accepts decoded entries. *applog.Logger implements it.
type Relay interface {
	LogFrom(origin core.Origin, entry core.LogEntry)
}

// Recoverer captures a panic in progress. It is deferred directly, so
// implementations may call recover. *applog.Logger implements it.
type Recoverer interface {
	Recover(ctx core.Context)
}

// Record is one decoded log entry with the origin it reported.
type Record struct {
	Origin core.Origin
	Entry  core.LogEntry
}

// Decoder parses client log documents. It is safe for concurrent use.
type Decoder struct {
	parser        fastjson.ParserPool
	defaultSource string
}

// NewDecoder creates a Decoder stamping defaultSource on entries without
// a source.
func NewDecoder(defaultSource string) *Decoder {
	if defaultSource == "" {
		defaultSource = core.SourceFrontend
	}
	return &Decoder{defaultSource: defaultSource}
}

// Decode parses a single entry object or an array of them. Any invalid
// entry fails the whole document.
func (d *Decoder) Decode(body []byte) ([]Record, error) {
	p := d.parser.Get()
	defer d.parser.Put(p)

	v, err := p.ParseBytes(body)
	if err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	if v.Type() != fastjson.TypeArray {
		rec, err := d.record(v)
		if err != nil {
			return nil, err
		}
		return []Record{rec}, nil
	}

	arr, _ := v.Array()
	if len(arr) == 0 {
		return nil, fmt.Errorf("no log entries found")
	}
	records := make([]Record, 0, len(arr))
	for i, item := range arr {
		rec, err := d.record(item)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func (d *Decoder) record(v *fastjson.Value) (Record, error) {
	if v.Type() != fastjson.TypeObject {
		return Record{}, fmt.Errorf("log entry must be a JSON object")
	}

	message := string(v.GetStringBytes("message"))
	if message == "" {
		return Record{}, fmt.Errorf("missing required field: message")
	}

	level := core.LevelInfo
	if raw := v.GetStringBytes("level"); len(raw) > 0 {
		parsed, err := core.ParseLevel(string(raw))
		if err != nil {
			return Record{}, err
		}
		level = parsed
	}

	var ctx core.Context
	switch c := v.Get("context"); {
	case c == nil, c.Type() == fastjson.TypeNull:
	case c.Type() == fastjson.TypeObject:
		ctx = core.Context(convert(c).Fields())
	default:
		return Record{}, fmt.Errorf("context must be a JSON object")
	}

	source := string(v.GetStringBytes("source"))
	if source == "" {
		source = d.defaultSource
	}

	return Record{
		Origin: core.Origin{
			URL:       string(v.GetStringBytes("url")),
			UserAgent: string(v.GetStringBytes("user_agent")),
		},
		Entry: core.LogEntry{
			Level:      level,
			Message:    message,
			Context:    ctx,
			Source:     source,
			StackTrace: string(v.GetStringBytes("stack_trace")),
		},
	}, nil
}

// convert copies a parsed value out of the parser's memory.
func convert(v *fastjson.Value) core.Value {
	switch v.Type() {
	case fastjson.TypeTrue:
		return core.Bool(true)
	case fastjson.TypeFalse:
		return core.Bool(false)
	case fastjson.TypeNumber:
		if i, err := v.Int64(); err == nil {
			return core.Int(i)
		}
		f, _ := v.Float64()
		return core.Float(f)
	case fastjson.TypeString:
		b, _ := v.StringBytes()
		return core.String(string(b))
	case fastjson.TypeArray:
		arr, _ := v.Array()
		items := make([]core.Value, len(arr))
		for i, item := range arr {
			items[i] = convert(item)
		}
		return core.List(items...)
	case fastjson.TypeObject:
		obj, _ := v.Object()
		fields := make(map[string]core.Value, obj.Len())
		obj.Visit(func(key []byte, item *fastjson.Value) {
			fields[string(key)] = convert(item)
		})
		return core.Object(fields)
	default:
		return core.Null()
	}
}

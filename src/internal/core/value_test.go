package core

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueOf(t *testing.T) {
	t.Run("Scalars", func(t *testing.T) {
		assert.Equal(t, KindNull, ValueOf(nil).Kind())
		assert.Equal(t, KindBool, ValueOf(true).Kind())
		assert.Equal(t, int64(42), ValueOf(42).Int())
		assert.Equal(t, int64(7), ValueOf(uint8(7)).Int())
		assert.Equal(t, 1.5, ValueOf(1.5).Float())
		assert.Equal(t, "x", ValueOf("x").Str())
	})

	t.Run("ErrorAndTime", func(t *testing.T) {
		assert.Equal(t, "boom", ValueOf(errors.New("boom")).Str())
		ts := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
		assert.Equal(t, "2024-03-01T10:00:00Z", ValueOf(ts).Str())
	})

	t.Run("Collections", func(t *testing.T) {
		v := ValueOf(map[string]any{
			"ids":  []int{1, 2},
			"name": "deal",
		})
		require.Equal(t, KindObject, v.Kind())
		ids := v.Fields()["ids"]
		require.Equal(t, KindList, ids.Kind())
		assert.Len(t, ids.Items(), 2)
		assert.Equal(t, int64(2), ids.Items()[1].Int())
	})

	t.Run("NilPointer", func(t *testing.T) {
		var p *int
		assert.True(t, ValueOf(p).IsNull())
	})
}

func TestValue_JSON(t *testing.T) {
	v := Object(map[string]Value{
		"b":     Bool(false),
		"a":     Int(1),
		"price": Float(2.5),
		"tags":  List(String("x"), Null()),
	})

	out, err := json.Marshal(v)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1,"b":false,"price":2.5,"tags":["x",null]}`, string(out))

	var decoded Value
	require.NoError(t, json.Unmarshal(out, &decoded))
	assert.True(t, v.Equal(decoded))
	assert.Equal(t, KindInt, decoded.Fields()["a"].Kind(), "integral numbers stay integers")
}

func TestContext(t *testing.T) {
	t.Run("NilEncodesAsObject", func(t *testing.T) {
		var c Context
		out, err := json.Marshal(c)
		require.NoError(t, err)
		assert.Equal(t, "{}", string(out))
	})

	t.Run("Fields", func(t *testing.T) {
		c := Fields("deal_id", "d-1", "count", 3, "dangling")
		assert.Equal(t, "d-1", c["deal_id"].Str())
		assert.Equal(t, int64(3), c["count"].Int())
		assert.True(t, c["dangling"].IsNull())
	})

	t.Run("WithDoesNotMutate", func(t *testing.T) {
		base := Fields("a", 1)
		next := base.With("b", 2)
		assert.Len(t, base, 1)
		assert.Len(t, next, 2)
	})

	t.Run("RejectsNonObject", func(t *testing.T) {
		var c Context
		assert.Error(t, json.Unmarshal([]byte(`[1,2]`), &c))
	})
}

func TestQueuedEntry_Row(t *testing.T) {
	created := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	q := QueuedEntry{
		LogEntry:  LogEntry{Level: LevelWarn, Message: "slow"},
		URL:       "https://app.example/deals",
		UserAgent: "ua",
		SessionID: "s-1",
		CreatedAt: created,
	}

	row := q.Row(SourceFrontend)
	assert.Equal(t, "warn", row.Level)
	assert.Equal(t, SourceFrontend, row.Source)
	assert.Nil(t, row.StackTrace)
	assert.NotNil(t, row.Context)
	assert.Equal(t, "2024-05-06T07:08:09Z", row.CreatedAt)

	q.StackTrace = "trace"
	q.Source = "worker"
	row = q.Row(SourceFrontend)
	require.NotNil(t, row.StackTrace)
	assert.Equal(t, "trace", *row.StackTrace)
	assert.Equal(t, "worker", row.Source)
}

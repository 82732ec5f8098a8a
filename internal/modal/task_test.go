package modal

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimestamp(t *testing.T) {
	cases := map[string]time.Time{
		"2024-01-02T03:04:05Z":        time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		"2024-01-02T03:04:05.5+02:00": time.Date(2024, 1, 2, 1, 4, 5, 5e8, time.UTC),
		"2024-01-02T03:04:05":         time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		"2024-01-02 03:04:05":         time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		"2024-01-02":                  time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		" 2024-01-02 ":                time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
	}
	for in, want := range cases {
		ts := ParseTimestamp(in)
		require.NotNil(t, ts, in)
		assert.True(t, ts.Parsed(), in)
		assert.True(t, ts.Time.Equal(want), "%s parsed as %s", in, ts.Time)
	}

	assert.Nil(t, ParseTimestamp(""))
	raw := ParseTimestamp("next week")
	require.NotNil(t, raw)
	assert.False(t, raw.Parsed())
	assert.Equal(t, "next week", raw.String())
}

func TestTimestamp_KeyRoundTripsAndSorts(t *testing.T) {
	older := ParseTimestamp("1800-05-01T00:00:00Z")
	newer := ParseTimestamp("2300-01-01T00:00:00.25Z")

	assert.Less(t, older.Key(), newer.Key())
	assert.Equal(t, -1, older.Compare(*newer))
	assert.Equal(t, *newer, *ParseTimestamp(newer.Key()))

	raw := ParseTimestamp("not a time")
	assert.Equal(t, *raw, *ParseTimestamp(raw.Key()))
}

func TestCallback_DecodesLoosePayloads(t *testing.T) {
	var cb Callback
	require.NoError(t, json.Unmarshal([]byte(`{
		"task_id": "abc",
		"task": {
			"created_at": "2024-01-01",
			"completed_at": 1704067200,
			"params": ["x"],
			"response": {"label": "cat"}
		}
	}`), &cb))

	require.NotNil(t, cb.Task.CreatedAt)
	assert.Equal(t, "2024-01-01T00:00:00Z", cb.Task.CreatedAt.String())
	require.NotNil(t, cb.Task.CompletedAt)
	assert.Equal(t, "1704067200", cb.Task.CompletedAt.Raw)
	assert.Equal(t, []any{"x"}, cb.Task.Params)
	assert.Empty(t, cb.Task.Attachment())
}

func TestCallback_EmptyTimestampIsZero(t *testing.T) {
	var cb Callback
	require.NoError(t, json.Unmarshal([]byte(`{"task_id":"abc","task":{"created_at":"","completed_at":null}}`), &cb))
	require.NotNil(t, cb.Task.CreatedAt)
	assert.True(t, cb.Task.CreatedAt.IsZero())
	assert.Nil(t, cb.Task.CompletedAt)
}

func TestTask_JSONRoundTrip(t *testing.T) {
	in := Task{
		TaskID:      "abc",
		CreatedAt:   ParseTimestamp("2024-01-01T00:00:00Z"),
		CompletedAt: ParseTimestamp("whenever"),
		Params:      map[string]any{"attachment": "https://example.com/a.png"},
	}
	b, err := json.Marshal(in)
	require.NoError(t, err)
	assert.JSONEq(t, `{"task_id":"abc","created_at":"2024-01-01T00:00:00Z","completed_at":"whenever","params":{"attachment":"https://example.com/a.png"}}`, string(b))

	var out Task
	require.NoError(t, json.Unmarshal(b, &out))
	assert.Equal(t, in, out)
	assert.Equal(t, "https://example.com/a.png", out.Attachment())
}

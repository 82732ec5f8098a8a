package modal

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
)

// Timestamp is a point in time as reported by the external service. A value that does not
// parse as a time is kept verbatim in Raw so the stored record matches what was sent.
type Timestamp struct {
	Time time.Time
	Raw  string
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	time.DateOnly,
}

// keyLayout is fixed width, so keys of parsed times sort chronologically as text.
const keyLayout = "2006-01-02T15:04:05.000000000Z"

func NewTimestamp(t time.Time) *Timestamp {
	return &Timestamp{Time: t.UTC()}
}

// ParseTimestamp reads s leniently. An empty s yields nil.
func ParseTimestamp(s string) *Timestamp {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, trimmed); err == nil {
			return NewTimestamp(t)
		}
	}
	return &Timestamp{Raw: s}
}

// Parsed reports whether the value was understood as a time.
func (ts Timestamp) Parsed() bool { return ts.Raw == "" && !ts.Time.IsZero() }

func (ts Timestamp) IsZero() bool { return ts.Raw == "" && ts.Time.IsZero() }

// Key is the stored text form. ParseTimestamp(ts.Key()) gives ts back.
func (ts Timestamp) Key() string {
	if ts.Raw != "" {
		return ts.Raw
	}
	return ts.Time.UTC().Format(keyLayout)
}

func (ts Timestamp) String() string {
	if ts.Raw != "" {
		return ts.Raw
	}
	return ts.Time.UTC().Format(time.RFC3339Nano)
}

// Compare orders parsed times chronologically and everything else by Key.
func (ts Timestamp) Compare(o Timestamp) int {
	if ts.Parsed() && o.Parsed() {
		return ts.Time.Compare(o.Time)
	}
	return strings.Compare(ts.Key(), o.Key())
}

func (ts Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(ts.String())
}

func (ts *Timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		// Numbers, objects and the like are kept as their JSON text.
		*ts = Timestamp{Raw: string(data)}
		return nil
	}
	if parsed := ParseTimestamp(s); parsed != nil {
		*ts = *parsed
		return nil
	}
	*ts = Timestamp{}
	return nil
}

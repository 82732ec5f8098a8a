package store

import (
	"encoding/json"
	"strings"

	"github.com/pkg/errors"

	"scale-task-dashboard/internal/modal"
)

const tasksTable = "tasks"

// selectColumns returns the column list for q, internal id first.
func selectColumns(q Query) []string {
	return append([]string{"id"}, q.Fields...)
}

func listSQL(q Query, idExpr string) (string, []string) {
	cols := selectColumns(q)
	exprs := make([]string, len(cols))
	for i, c := range cols {
		exprs[i] = c
		if c == "id" {
			exprs[i] = idExpr
		}
	}
	dir := "ASC"
	if q.Descending {
		dir = "DESC"
	}
	query := "SELECT " + strings.Join(exprs, ", ") + " FROM " + tasksTable +
		" ORDER BY " + q.SortBy + " " + dir + " NULLS LAST"
	return query, cols
}

// jsonArg encodes an opaque blob for a JSON/text column; nil stays NULL.
func jsonArg(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if m, ok := v.(map[string]any); ok && m == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "encode json column")
	}
	return string(b), nil
}

func decodeJSON(raw []byte, column string) (any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, errors.Wrapf(err, "decode %s", column)
	}
	return v, nil
}

// timestampArg is the text stored for ts. Timestamps are kept as text so values that
// never parsed as times survive; parsed ones use a fixed-width UTC form that sorts
// chronologically.
func timestampArg(ts *modal.Timestamp) any {
	if ts = nilIfZero(ts); ts == nil {
		return nil
	}
	return ts.Key()
}

func timestampFromText(s *string) *modal.Timestamp {
	if s == nil {
		return nil
	}
	return modal.ParseTimestamp(*s)
}

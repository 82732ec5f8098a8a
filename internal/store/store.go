// Package store adapts task reads and callback upserts onto an external document store.
// Backends are chosen by the scheme of the connection target; none of them carry business
// logic and none of them retry.
package store

import (
	"context"
	"net/url"
	"slices"
	"strings"

	"github.com/pkg/errors"

	"scale-task-dashboard/internal/modal"
)

// Store is the contract the dashboard needs from persistence.
type Store interface {
	// ListTasks returns every task ordered and projected as q describes.
	ListTasks(ctx context.Context, q Query) ([]modal.Task, error)
	// GetTask looks a task up by its store-internal identifier.
	GetTask(ctx context.Context, id string) (modal.Task, error)
	// GetTaskByTaskID looks a task up by its external task_id.
	GetTaskByTaskID(ctx context.Context, taskID string) (modal.Task, error)
	// UpsertTask replaces the record keyed by taskID with t, creating it when absent.
	UpsertTask(ctx context.Context, taskID string, t modal.Task) (modal.Task, error)
	Close(ctx context.Context) error
}

// Field names shared by every backend.
const (
	FieldTaskID      = "task_id"
	FieldCreatedAt   = "created_at"
	FieldCompletedAt = "completed_at"
	FieldStatus      = "status"
	FieldParams      = "params"
	FieldResponse    = "response"
)

var (
	allFields      = []string{FieldTaskID, FieldCreatedAt, FieldCompletedAt, FieldStatus, FieldParams, FieldResponse}
	sortableFields = []string{FieldTaskID, FieldCreatedAt, FieldCompletedAt, FieldStatus}
)

// Query describes the ordering and projection of ListTasks. The internal id is always
// returned; an empty Fields selects every field.
type Query struct {
	SortBy     string
	Descending bool
	Fields     []string
}

// GridQuery is the listing the dashboard index renders: newest first, without response.
var GridQuery = Query{
	SortBy:     FieldCreatedAt,
	Descending: true,
	Fields:     []string{FieldTaskID, FieldCreatedAt, FieldCompletedAt, FieldStatus, FieldParams},
}

func (q Query) normalize() (Query, error) {
	if q.SortBy == "" {
		q.SortBy = FieldCreatedAt
	}
	if !slices.Contains(sortableFields, q.SortBy) {
		return q, errors.Wrapf(ErrInvalidQuery, "cannot sort by %q", q.SortBy)
	}
	if len(q.Fields) == 0 {
		q.Fields = allFields
	}
	for _, f := range q.Fields {
		if !slices.Contains(allFields, f) {
			return q, errors.Wrapf(ErrInvalidQuery, "unknown field %q", f)
		}
	}
	return q, nil
}

func (q Query) has(field string) bool {
	return slices.Contains(q.Fields, field)
}

// project clears every field q does not select.
func project(t modal.Task, q Query) modal.Task {
	out := modal.Task{ID: t.ID}
	if q.has(FieldTaskID) {
		out.TaskID = t.TaskID
	}
	if q.has(FieldCreatedAt) {
		out.CreatedAt = t.CreatedAt
	}
	if q.has(FieldCompletedAt) {
		out.CompletedAt = t.CompletedAt
	}
	if q.has(FieldStatus) {
		out.Status = t.Status
	}
	if q.has(FieldParams) {
		out.Params = t.Params
	}
	if q.has(FieldResponse) {
		out.Response = t.Response
	}
	return out
}

// Error is a named store failure. The name is what the error page shows as the error kind.
type Error struct {
	name string
	msg  string
}

func (e *Error) Error() string { return e.msg }

// Name returns the kind of failure, e.g. "NotFoundError".
func (e *Error) Name() string { return e.name }

var (
	ErrNotFound      = &Error{name: "NotFoundError", msg: "task not found"}
	ErrMalformedID   = &Error{name: "CastError", msg: "malformed task identifier"}
	ErrNotConfigured = &Error{name: "ConfigurationError", msg: "no store connection target configured"}
	ErrInvalidQuery  = &Error{name: "QueryError", msg: "invalid task query"}
	ErrMissingTaskID = &Error{name: "ValidationError", msg: "task_id is required"}
)

// nilIfZero drops timestamps the payload sent empty.
func nilIfZero(ts *modal.Timestamp) *modal.Timestamp {
	if ts == nil || ts.IsZero() {
		return nil
	}
	return ts
}

// Open connects to the store named by uri. An empty uri yields a store whose every
// operation fails with ErrNotConfigured so the process can still start.
func Open(ctx context.Context, uri string) (Store, error) {
	uri = strings.TrimSpace(uri)
	if uri == "" {
		return Unconfigured{}, nil
	}
	u, err := url.Parse(uri)
	if err != nil {
		return nil, errors.Wrap(err, "parse store uri")
	}
	switch u.Scheme {
	case "mongodb", "mongodb+srv":
		return OpenMongo(ctx, uri)
	case "postgres", "postgresql":
		return OpenPostgres(ctx, uri)
	case "sqlite", "sqlite3":
		return OpenSQLite(ctx, strings.TrimPrefix(uri, u.Scheme+"://"))
	case "memory":
		return NewMemory(), nil
	default:
		return nil, errors.Errorf("unsupported store scheme %q", u.Scheme)
	}
}

// Unconfigured is the store used when no connection target was given.
type Unconfigured struct{}

func (Unconfigured) ListTasks(context.Context, Query) ([]modal.Task, error) {
	return nil, errors.WithStack(ErrNotConfigured)
}

func (Unconfigured) GetTask(context.Context, string) (modal.Task, error) {
	return modal.Task{}, errors.WithStack(ErrNotConfigured)
}

func (Unconfigured) GetTaskByTaskID(context.Context, string) (modal.Task, error) {
	return modal.Task{}, errors.WithStack(ErrNotConfigured)
}

func (Unconfigured) UpsertTask(context.Context, string, modal.Task) (modal.Task, error) {
	return modal.Task{}, errors.WithStack(ErrNotConfigured)
}

func (Unconfigured) Close(context.Context) error { return nil }

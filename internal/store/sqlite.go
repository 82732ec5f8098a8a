package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"scale-task-dashboard/internal/modal"
)

// SQLite stores tasks in a local database file. Timestamps and the opaque blobs are text.
type SQLite struct {
	db *sql.DB
}

func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return nil, errors.New("sqlite store needs a file path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "create db directory")
	}

	dsn := fmt.Sprintf("%s?_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite3")
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLite{db: db}
	if err := s.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) initSchema(ctx context.Context) error {
	stmts := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		`CREATE TABLE IF NOT EXISTS tasks (
			id           TEXT PRIMARY KEY,
			task_id      TEXT NOT NULL UNIQUE,
			created_at   TEXT,
			completed_at TEXT,
			status       TEXT NOT NULL DEFAULT '',
			params       TEXT,
			response     TEXT
		);`,
		"CREATE INDEX IF NOT EXISTS idx_tasks_created_at ON tasks(created_at DESC);",
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "init sqlite schema")
		}
	}
	return nil
}

func (s *SQLite) ListTasks(ctx context.Context, q Query) ([]modal.Task, error) {
	q, err := q.normalize()
	if err != nil {
		return nil, err
	}
	query, cols := listSQL(q, "id")
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "list tasks")
	}
	defer rows.Close()

	tasks := make([]modal.Task, 0)
	for rows.Next() {
		t, err := scanSQLiteTask(rows, cols)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "list tasks")
	}
	return tasks, nil
}

func (s *SQLite) GetTask(ctx context.Context, id string) (modal.Task, error) {
	if _, err := uuid.Parse(id); err != nil {
		return modal.Task{}, errors.Wrapf(ErrMalformedID, "id %q", id)
	}
	return s.getOne(ctx, "id", id)
}

func (s *SQLite) GetTaskByTaskID(ctx context.Context, taskID string) (modal.Task, error) {
	return s.getOne(ctx, "task_id", taskID)
}

func (s *SQLite) getOne(ctx context.Context, col, val string) (modal.Task, error) {
	cols := selectColumns(Query{Fields: allFields})
	row := s.db.QueryRowContext(ctx,
		"SELECT "+strings.Join(cols, ", ")+" FROM tasks WHERE "+col+" = ?", val)
	t, err := scanSQLiteTask(row, cols)
	if errors.Is(err, sql.ErrNoRows) {
		return modal.Task{}, errors.Wrapf(ErrNotFound, "%s %s", col, val)
	}
	return t, err
}

func (s *SQLite) UpsertTask(ctx context.Context, taskID string, t modal.Task) (modal.Task, error) {
	if taskID == "" {
		return modal.Task{}, errors.WithStack(ErrMissingTaskID)
	}
	params, err := jsonArg(t.Params)
	if err != nil {
		return modal.Task{}, err
	}
	response, err := jsonArg(t.Response)
	if err != nil {
		return modal.Task{}, err
	}

	cols := selectColumns(Query{Fields: allFields})
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO tasks (id, task_id, created_at, completed_at, status, params, response)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(task_id) DO UPDATE SET
			created_at = excluded.created_at,
			completed_at = excluded.completed_at,
			status = excluded.status,
			params = excluded.params,
			response = excluded.response
		RETURNING `+strings.Join(cols, ", "),
		uuid.NewString(), taskID, timestampArg(t.CreatedAt), timestampArg(t.CompletedAt), t.Status, params, response)
	out, err := scanSQLiteTask(row, cols)
	if err != nil {
		return modal.Task{}, errors.Wrapf(err, "upsert task_id %s", taskID)
	}
	return out, nil
}

func (s *SQLite) Close(context.Context) error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteTask(sc rowScanner, cols []string) (modal.Task, error) {
	var (
		t                  modal.Task
		created, completed *string
		params, response   sql.NullString
	)
	dests := make([]any, len(cols))
	for i, c := range cols {
		switch c {
		case "id":
			dests[i] = &t.ID
		case FieldTaskID:
			dests[i] = &t.TaskID
		case FieldCreatedAt:
			dests[i] = &created
		case FieldCompletedAt:
			dests[i] = &completed
		case FieldStatus:
			dests[i] = &t.Status
		case FieldParams:
			dests[i] = &params
		case FieldResponse:
			dests[i] = &response
		}
	}
	if err := sc.Scan(dests...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return t, err
		}
		return t, errors.Wrap(err, "scan task")
	}

	t.CreatedAt = timestampFromText(created)
	t.CompletedAt = timestampFromText(completed)
	var err error
	if t.Params, err = decodeJSON([]byte(params.String), FieldParams); err != nil {
		return t, err
	}
	if t.Response, err = decodeJSON([]byte(response.String), FieldResponse); err != nil {
		return t, err
	}
	return t, nil
}

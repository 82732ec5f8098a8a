package store

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"scale-task-dashboard/internal/modal"
)

// Postgres stores tasks in a `tasks` table. The pool connects lazily and the schema is
// ensured on first use, so an unreachable server only fails the requests that touch it.
type Postgres struct {
	pool *pgxpool.Pool

	mu    sync.Mutex
	ready bool
}

func OpenPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse database url")
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "connect")
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) ensureSchema(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ready {
		return nil
	}
	stmts := []string{
		`create table if not exists tasks (
			id           uuid primary key,
			task_id      text not null unique,
			created_at   text collate "C",
			completed_at text collate "C",
			status       text not null default '',
			params       jsonb,
			response     jsonb
		)`,
		`create index if not exists idx_tasks_created_at on tasks (created_at desc)`,
	}
	for _, stmt := range stmts {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return errors.Wrap(err, "ensure postgres schema")
		}
	}
	p.ready = true
	return nil
}

func (p *Postgres) ListTasks(ctx context.Context, q Query) ([]modal.Task, error) {
	q, err := q.normalize()
	if err != nil {
		return nil, err
	}
	if err := p.ensureSchema(ctx); err != nil {
		return nil, err
	}
	query, cols := listSQL(q, "id::text")
	rows, err := p.pool.Query(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "list tasks")
	}
	defer rows.Close()

	tasks := make([]modal.Task, 0)
	for rows.Next() {
		t, err := scanPgTask(rows, cols)
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

func (p *Postgres) GetTask(ctx context.Context, id string) (modal.Task, error) {
	if _, err := uuid.Parse(id); err != nil {
		return modal.Task{}, errors.Wrapf(ErrMalformedID, "id %q", id)
	}
	return p.getOne(ctx, "id = $1::uuid", id)
}

func (p *Postgres) GetTaskByTaskID(ctx context.Context, taskID string) (modal.Task, error) {
	return p.getOne(ctx, "task_id = $1", taskID)
}

func (p *Postgres) getOne(ctx context.Context, where, arg string) (modal.Task, error) {
	if err := p.ensureSchema(ctx); err != nil {
		return modal.Task{}, err
	}
	cols := selectColumns(Query{Fields: allFields})
	row := p.pool.QueryRow(ctx, "select "+pgColumns(cols)+" from tasks where "+where, arg)
	t, err := scanPgTask(row, cols)
	if errors.Is(err, pgx.ErrNoRows) {
		return modal.Task{}, errors.Wrapf(ErrNotFound, "%s", arg)
	}
	return t, err
}

func (p *Postgres) UpsertTask(ctx context.Context, taskID string, t modal.Task) (modal.Task, error) {
	if taskID == "" {
		return modal.Task{}, errors.WithStack(ErrMissingTaskID)
	}
	if err := p.ensureSchema(ctx); err != nil {
		return modal.Task{}, err
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
	row := p.pool.QueryRow(ctx, `
		insert into tasks (id, task_id, created_at, completed_at, status, params, response)
		values ($1::uuid, $2, $3, $4, $5, $6::jsonb, $7::jsonb)
		on conflict (task_id) do update
		set created_at = excluded.created_at,
		    completed_at = excluded.completed_at,
		    status = excluded.status,
		    params = excluded.params,
		    response = excluded.response
		returning `+pgColumns(cols),
		uuid.NewString(), taskID, timestampArg(t.CreatedAt), timestampArg(t.CompletedAt), t.Status, params, response)
	out, err := scanPgTask(row, cols)
	if err != nil {
		return modal.Task{}, errors.Wrapf(err, "upsert task_id %s", taskID)
	}
	return out, nil
}

func (p *Postgres) Close(context.Context) error {
	p.pool.Close()
	return nil
}

func pgColumns(cols []string) string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = c
		if c == "id" {
			out[i] = "id::text"
		}
	}
	return strings.Join(out, ", ")
}

func scanPgTask(sc pgx.Row, cols []string) (modal.Task, error) {
	var (
		t                  modal.Task
		created, completed *string
		params, response   []byte
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
		if errors.Is(err, pgx.ErrNoRows) {
			return t, err
		}
		return t, errors.Wrap(err, "scan task")
	}

	t.CreatedAt = timestampFromText(created)
	t.CompletedAt = timestampFromText(completed)
	var err error
	if t.Params, err = decodeJSON(params, FieldParams); err != nil {
		return t, err
	}
	if t.Response, err = decodeJSON(response, FieldResponse); err != nil {
		return t, err
	}
	return t, nil
}

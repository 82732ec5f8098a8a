package store

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"scale-task-dashboard/internal/modal"
)

// Memory keeps tasks in process. It backs memory:// targets and tests.
type Memory struct {
	mu       sync.RWMutex
	tasks    []modal.Task
	byID     map[string]int
	byTaskID map[string]int
}

func NewMemory() *Memory {
	return &Memory{
		byID:     make(map[string]int),
		byTaskID: make(map[string]int),
	}
}

func (m *Memory) ListTasks(_ context.Context, q Query) ([]modal.Task, error) {
	q, err := q.normalize()
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	out := slices.Clone(m.tasks)
	m.mu.RUnlock()

	// Sort on full records; the sort field need not be projected.
	slices.SortStableFunc(out, func(a, b modal.Task) int {
		return compareField(a, b, q.SortBy, q.Descending)
	})
	for i := range out {
		out[i] = project(out[i], q)
	}
	return out, nil
}

func (m *Memory) GetTask(_ context.Context, id string) (modal.Task, error) {
	if _, err := uuid.Parse(id); err != nil {
		return modal.Task{}, errors.Wrapf(ErrMalformedID, "id %q", id)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	i, ok := m.byID[id]
	if !ok {
		return modal.Task{}, errors.Wrapf(ErrNotFound, "id %s", id)
	}
	return m.tasks[i], nil
}

func (m *Memory) GetTaskByTaskID(_ context.Context, taskID string) (modal.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	i, ok := m.byTaskID[taskID]
	if !ok {
		return modal.Task{}, errors.Wrapf(ErrNotFound, "task_id %s", taskID)
	}
	return m.tasks[i], nil
}

func (m *Memory) UpsertTask(_ context.Context, taskID string, t modal.Task) (modal.Task, error) {
	if taskID == "" {
		return modal.Task{}, errors.WithStack(ErrMissingTaskID)
	}
	t.TaskID = taskID
	t.CreatedAt = nilIfZero(t.CreatedAt)
	t.CompletedAt = nilIfZero(t.CompletedAt)

	m.mu.Lock()
	defer m.mu.Unlock()
	if i, ok := m.byTaskID[taskID]; ok {
		t.ID = m.tasks[i].ID
		m.tasks[i] = t
		return t, nil
	}
	t.ID = uuid.NewString()
	m.tasks = append(m.tasks, t)
	m.byID[t.ID] = len(m.tasks) - 1
	m.byTaskID[taskID] = len(m.tasks) - 1
	return t, nil
}

func (m *Memory) Close(context.Context) error { return nil }

// compareField orders a before b on field; absent timestamps sort last in either direction.
func compareField(a, b modal.Task, field string, desc bool) int {
	var c int
	switch field {
	case FieldCreatedAt:
		if r, ok := compareNil(a.CreatedAt, b.CreatedAt); ok {
			return r
		}
		c = a.CreatedAt.Compare(*b.CreatedAt)
	case FieldCompletedAt:
		if r, ok := compareNil(a.CompletedAt, b.CompletedAt); ok {
			return r
		}
		c = a.CompletedAt.Compare(*b.CompletedAt)
	case FieldStatus:
		c = strings.Compare(a.Status, b.Status)
	default:
		c = strings.Compare(a.TaskID, b.TaskID)
	}
	if desc {
		return -c
	}
	return c
}

func compareNil(a, b *modal.Timestamp) (int, bool) {
	switch {
	case a == nil && b == nil:
		return 0, true
	case a == nil:
		return 1, true
	case b == nil:
		return -1, true
	}
	return 0, false
}

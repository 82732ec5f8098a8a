// Package dispatch runs callback persistence after the HTTP response has been sent.
// Outcomes end in the log; nothing is reported back to the request.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/client"

	"scale-task-dashboard/internal/activities"
	"scale-task-dashboard/internal/modal"
	"scale-task-dashboard/internal/workflows"
)

type Dispatcher interface {
	// Dispatch starts persisting cb and returns immediately.
	Dispatch(cb modal.Callback)
	// Wait blocks until every dispatched callback has finished. Used at shutdown.
	Wait()
}

// Detached upserts each callback on its own goroutine.
type Detached struct {
	activities *activities.Activities
	wg         sync.WaitGroup
}

func NewDetached(a *activities.Activities) *Detached {
	return &Detached{activities: a}
}

func (d *Detached) Dispatch(cb modal.Callback) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer recoverTo(d.activities.Logger, cb.TaskID)
		_, _ = d.activities.UpsertTask(context.Background(), cb)
	}()
}

func (d *Detached) Wait() { d.wg.Wait() }

// Temporal hands each callback to the PersistTask workflow. Only the enqueue outcome is
// logged here; the upsert result is logged by the worker.
type Temporal struct {
	client    client.Client
	taskQueue string
	logger    *slog.Logger
	wg        sync.WaitGroup
}

func NewTemporal(c client.Client, taskQueue string, logger *slog.Logger) *Temporal {
	if taskQueue == "" {
		taskQueue = workflows.TaskQueue
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Temporal{client: c, taskQueue: taskQueue, logger: logger}
}

func (t *Temporal) Dispatch(cb modal.Callback) {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer recoverTo(t.logger, cb.TaskID)

		// Each callback is its own execution; updates for one task_id are not serialized.
		opts := client.StartWorkflowOptions{
			ID:                       "persist-" + cb.TaskID + "-" + uuid.NewString(),
			TaskQueue:                t.taskQueue,
			WorkflowExecutionTimeout: 1 * time.Minute,
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		we, err := t.client.ExecuteWorkflow(ctx, opts, workflows.PersistTask, cb)
		if err != nil {
			t.logger.Error("error enqueuing task update", "task_id", cb.TaskID, "error", err)
			return
		}
		t.logger.Info("task update enqueued", "task_id", cb.TaskID, "workflow_id", we.GetID(), "run_id", we.GetRunID())
	}()
}

func (t *Temporal) Wait() { t.wg.Wait() }

func recoverTo(logger *slog.Logger, taskID string) {
	if r := recover(); r != nil {
		logger.Error("task update panicked", "task_id", taskID, "panic", fmt.Sprint(r))
	}
}

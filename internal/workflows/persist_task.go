package workflows

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"scale-task-dashboard/internal/modal"
)

const TaskQueue = "SCALE_TASK_QUEUE"

// UpsertTaskActivity is the registered name of activities.Activities.UpsertTask.
const UpsertTaskActivity = "UpsertTask"

// PersistTask upserts one callback and returns the stored task's internal id.
// The activity runs exactly once: a failed upsert is reported, never retried.
func PersistTask(ctx workflow.Context, cb modal.Callback) (string, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("persist task started", "task_id", cb.TaskID)

	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 1,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	var task modal.Task
	if err := workflow.ExecuteActivity(ctx, UpsertTaskActivity, cb).Get(ctx, &task); err != nil {
		logger.Error("failed to persist task", "task_id", cb.TaskID, "error", err)
		return "", err
	}

	logger.Info("persist task completed", "task_id", cb.TaskID, "id", task.ID)
	return task.ID, nil
}

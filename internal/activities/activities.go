package activities

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"scale-task-dashboard/internal/modal"
	"scale-task-dashboard/internal/otel"
	"scale-task-dashboard/internal/store"
)

// Activities persists callbacks. The same struct is registered with the Temporal worker
// and called directly by the in-process dispatcher.
type Activities struct {
	Store    store.Store
	Logger   *slog.Logger
	Metrics  *otel.Metrics
	Provider *otel.Provider
}

func New(s store.Store, logger *slog.Logger, provider *otel.Provider, metrics *otel.Metrics) *Activities {
	if logger == nil {
		logger = slog.Default()
	}
	if provider == nil {
		provider = otel.Noop()
	}
	return &Activities{Store: s, Logger: logger, Metrics: metrics, Provider: provider}
}

// UpsertTask replaces the stored task for cb.TaskID with cb.Task and logs the outcome.
func (a *Activities) UpsertTask(ctx context.Context, cb modal.Callback) (modal.Task, error) {
	ctx, span := a.Provider.Tracer.Start(ctx, "task.upsert")
	defer span.End()
	span.SetAttributes(attribute.String("task_id", cb.TaskID))

	start := time.Now()
	task, err := a.Store.UpsertTask(ctx, cb.TaskID, cb.Task)
	if a.Metrics != nil {
		a.Metrics.UpsertDuration.Record(ctx, time.Since(start).Seconds())
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if a.Metrics != nil {
			a.Metrics.UpsertErrors.Add(ctx, 1)
		}
		a.Logger.Error("error updating task", "task_id", cb.TaskID, "error", err)
		return modal.Task{}, err
	}

	a.Logger.Info("task successfully updated", "task_id", cb.TaskID, "id", task.ID, "status", task.Status)
	return task, nil
}

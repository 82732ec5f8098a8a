package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/client"

	"scale-task-dashboard/internal/config"
	"scale-task-dashboard/internal/modal"
	"scale-task-dashboard/internal/workflows"
)

// starter persists one task through the PersistTask workflow, bypassing the HTTP callback.
// Useful for backfilling a task the external service never called back about.
func main() {
	var (
		configPath = flag.String("config", os.Getenv("DASHBOARD_CONFIG"), "path to a YAML config file")
		taskID     = flag.String("task", "", "external task_id (required)")
		status     = flag.String("status", "completed", "task status")
		attachment = flag.String("attachment", "", "params.attachment image URL")
		completed  = flag.String("completed", "", "completed_at; defaults to now")
	)
	flag.Parse()
	if *taskID == "" {
		log.Fatal("-task is required")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	completedAt := modal.NewTimestamp(time.Now())
	if *completed != "" {
		completedAt = modal.ParseTimestamp(*completed)
	}
	cb := modal.Callback{
		TaskID: *taskID,
		Task: modal.Task{
			Status:      *status,
			CompletedAt: completedAt,
		},
	}
	if *attachment != "" {
		cb.Task.Params = map[string]any{"attachment": *attachment}
	}

	c, err := client.Dial(client.Options{HostPort: cfg.Persist.TemporalHostPort})
	if err != nil {
		log.Fatalf("unable to create Temporal client: %v", err)
	}
	defer c.Close()

	opts := client.StartWorkflowOptions{
		ID:                                       "persist-" + *taskID + "-manual",
		TaskQueue:                                cfg.Persist.TaskQueue,
		WorkflowExecutionTimeout:                 1 * time.Minute,
		WorkflowExecutionErrorWhenAlreadyStarted: true,
		WorkflowIDReusePolicy:                    enums.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	we, err := c.ExecuteWorkflow(ctx, opts, workflows.PersistTask, cb)
	if err != nil {
		log.Fatalf("unable to execute workflow: %v", err)
	}
	log.Printf("started workflow: WorkflowID=%s RunID=%s\n", we.GetID(), we.GetRunID())

	ctx2, cancel2 := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel2()

	var id string
	if err := we.Get(ctx2, &id); err != nil {
		log.Fatalf("unable to get workflow result: %v", err)
	}
	log.Printf("task %s stored with id %s\n", *taskID, id)
}

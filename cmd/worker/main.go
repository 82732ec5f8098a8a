package main

import (
	"context"
	"flag"
	"log"
	"os"

	"go.temporal.io/sdk/client"
	tlog "go.temporal.io/sdk/log"
	"go.temporal.io/sdk/worker"

	"scale-task-dashboard/internal/activities"
	"scale-task-dashboard/internal/config"
	"scale-task-dashboard/internal/otel"
	"scale-task-dashboard/internal/store"
	"scale-task-dashboard/internal/telemetry"
	"scale-task-dashboard/internal/workflows"
)

// The worker runs PersistTask for dashboards configured with persist.mode=temporal.
func main() {
	configPath := flag.String("config", os.Getenv("DASHBOARD_CONFIG"), "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := telemetry.NewLogger(os.Stdout, cfg.LogLevel).With("component", "worker")

	ctx := context.Background()
	provider, err := otel.Init(ctx, cfg.OTel)
	if err != nil {
		log.Fatalf("init otel: %v", err)
	}
	defer provider.Shutdown(ctx)
	metrics, err := otel.NewMetrics(provider.Meter)
	if err != nil {
		log.Fatalf("create metrics: %v", err)
	}

	if cfg.StoreURI == "" {
		logger.Warn("no store connection target given; every PersistTask will fail")
	}
	st, err := store.Open(ctx, cfg.StoreURI)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer st.Close(ctx)

	c, err := client.Dial(client.Options{
		HostPort: cfg.Persist.TemporalHostPort,
		Logger:   tlog.NewStructuredLogger(logger),
	})
	if err != nil {
		log.Fatalf("unable to create Temporal client: %v", err)
	}
	defer c.Close()

	w := worker.New(c, cfg.Persist.TaskQueue, worker.Options{})
	w.RegisterWorkflow(workflows.PersistTask)
	w.RegisterActivity(activities.New(st, logger, provider, metrics))

	logger.Info("worker started", "task_queue", cfg.Persist.TaskQueue)
	if err := w.Run(worker.InterruptCh()); err != nil {
		log.Fatalf("worker exited: %v", err)
	}
}

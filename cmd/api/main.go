package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.temporal.io/sdk/client"
	tlog "go.temporal.io/sdk/log"

	"scale-task-dashboard/internal/activities"
	"scale-task-dashboard/internal/config"
	"scale-task-dashboard/internal/dispatch"
	"scale-task-dashboard/internal/otel"
	"scale-task-dashboard/internal/server"
	"scale-task-dashboard/internal/store"
	"scale-task-dashboard/internal/telemetry"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", os.Getenv("DASHBOARD_CONFIG"), "path to a YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		log.Fatalf("api: %v", err)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := telemetry.NewLogger(os.Stdout, cfg.LogLevel).With("component", "api")
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	provider, err := otel.Init(ctx, cfg.OTel)
	if err != nil {
		return fmt.Errorf("init otel: %w", err)
	}
	defer provider.Shutdown(context.Background())
	metrics, err := otel.NewMetrics(provider.Meter)
	if err != nil {
		return fmt.Errorf("create metrics: %w", err)
	}

	if cfg.StoreURI == "" {
		logger.Warn("no store connection target given; set STORE_URI or MONGODB_URI. Task requests will fail until one is configured.")
	}
	st, err := store.Open(ctx, cfg.StoreURI)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close(context.Background())

	acts := activities.New(st, logger.With("component", "persist"), provider, metrics)
	dispatcher, closeDispatcher, err := newDispatcher(cfg, acts, logger)
	if err != nil {
		return err
	}
	defer closeDispatcher()

	auth := server.NewCallbackAuth(cfg.CallbackAuthKey)
	if cfg.Path != "" {
		watchConfig(ctx, cfg.Path, auth, logger)
	}

	srv := server.New(server.Options{
		Store:        st,
		Dispatcher:   dispatcher,
		Auth:         auth,
		Logger:       logger,
		Metrics:      metrics,
		MaxBodyBytes: cfg.MaxBodyBytes,
	})
	httpServer := &http.Server{
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	ln, err := net.Listen("tcp", cfg.Addr())
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	logger.Info("dashboard listening",
		"addr", ln.Addr().String(),
		"persist_mode", cfg.Persist.Mode,
		"callback_auth", auth.Enabled(),
	)
	if err := serve(ctx, httpServer, ln, dispatcher, logger); err != nil {
		return err
	}
	logger.Info("dashboard stopped")
	return nil
}

// serve runs srv on ln until ctx ends, then drains in order: the HTTP handlers first,
// then the upserts they dispatched. Serve returns as soon as Shutdown starts, so it
// waits for Shutdown itself before touching the dispatcher.
func serve(ctx context.Context, srv *http.Server, ln net.Listener, d dispatch.Dispatcher, logger *slog.Logger) error {
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown", "error", err)
		}
	}()

	err := srv.Serve(ln)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	<-drained

	d.Wait()
	return nil
}

func newDispatcher(cfg config.Config, acts *activities.Activities, logger *slog.Logger) (dispatch.Dispatcher, func(), error) {
	if cfg.Persist.Mode != config.PersistTemporal {
		return dispatch.NewDetached(acts), func() {}, nil
	}
	tc, err := client.Dial(client.Options{
		HostPort: cfg.Persist.TemporalHostPort,
		Logger:   tlog.NewStructuredLogger(logger.With("component", "temporal")),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("unable to create Temporal client: %w", err)
	}
	return dispatch.NewTemporal(tc, cfg.Persist.TaskQueue, logger), tc.Close, nil
}

// watchConfig applies a rotated callback_auth_key without a restart.
func watchConfig(ctx context.Context, path string, auth *server.CallbackAuth, logger *slog.Logger) {
	w := config.NewWatcher(path, logger)
	if err := w.Start(ctx); err != nil {
		logger.Warn("config watcher disabled", "path", path, "error", err)
		return
	}
	go func() {
		for range w.Events() {
			next, err := config.Load(path)
			if err != nil {
				logger.Error("config reload failed", "path", path, "error", err)
				continue
			}
			auth.SetKey(next.CallbackAuthKey)
			logger.Info("callback auth key reloaded", "callback_auth", auth.Enabled())
		}
	}()
}

package entrypoint

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mrlokans/clinicsync/internal/config"
	"github.com/mrlokans/clinicsync/internal/entities"
	http_controllers "github.com/mrlokans/clinicsync/internal/http"
	"github.com/mrlokans/clinicsync/internal/logging"
	"github.com/mrlokans/clinicsync/internal/scheduler"
	"github.com/mrlokans/clinicsync/internal/tasks"
)

// syncLogRetentionDays is how long completed sync logs are kept.
const syncLogRetentionDays = 90

// ShutdownFunc is called during graceful shutdown to clean up resources.
type ShutdownFunc func(ctx context.Context)

func Serve(router *gin.Engine, cfg *config.Config, logger *zap.Logger, onShutdown ShutdownFunc) {
	timeout := time.Duration(cfg.Global.ShutdownTimeoutInSeconds) * time.Second

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler: router,
	}

	go func() {
		logger.Info("starting server", zap.String("addr", srv.Addr))
		// service connections
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	// kill (no param) default send syscall.SIGTERM
	// kill -2 is syscall.SIGINT
	// kill -9 is syscall.SIGKILL but can't be caught, so don't need add it
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server", zap.Duration("timeout", timeout))

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	// Call shutdown callback first (e.g., to stop task queue)
	if onShutdown != nil {
		onShutdown(ctx)
	}

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("server shutdown", zap.Error(err))
	}

	logger.Info("server exiting")
}

func Run(cfg *config.Config, version string) {
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Encoding)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	logger.Info("starting clinicsync", zap.String("version", version))

	app, err := NewApp(cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize application", zap.Error(err))
	}
	defer func() {
		if err := app.Close(); err != nil {
			logger.Error("error closing database", zap.Error(err))
		}
	}()

	// Initialize task queue if enabled
	var taskClient *tasks.Client
	var taskCtxCancel context.CancelFunc
	if cfg.Tasks.Enabled {
		taskClient, err = tasks.NewClient(cfg.Database.Path, tasks.ConfigFrom(cfg.Tasks), logger)
		if err != nil {
			logger.Fatal("failed to initialize task queue", zap.Error(err))
		}
		defer func() {
			if err := taskClient.Close(); err != nil {
				logger.Error("error closing task client", zap.Error(err))
			}
		}()

		// Register task queues
		taskClient.Register(
			tasks.NewBackfillStepQueue(app.Orchestrator, taskClient, logger),
			tasks.NewRecomputeSummariesQueue(app.Summaries, logger),
			tasks.NewPruneSyncLogsQueue(app.SyncLogs, logger),
		)

		// Completed runs hand the summary rebuild to the queue.
		app.OnRunComplete(func(ctx context.Context, run *entities.SyncLog) {
			if run.Type != entities.SyncTypeAppointments {
				return
			}
			if _, err := taskClient.Add(tasks.RecomputeSummariesTask{}).Ctx(ctx).Save(); err != nil {
				logger.Error("failed to enqueue summary rebuild", zap.Uint("sync_log_id", run.ID), zap.Error(err))
			}
		})

		// Start task workers in background
		var taskCtx context.Context
		taskCtx, taskCtxCancel = context.WithCancel(context.Background())
		go taskClient.Start(taskCtx)
	}

	// Scheduled sync and recompute
	var pipeline *scheduler.PipelineScheduler
	if cfg.Sync.ScheduleEnabled {
		pipeline = scheduler.NewPipelineScheduler(logger, scheduleEntries(cfg, app, taskClient)...)
		if err := pipeline.Start(context.Background()); err != nil {
			logger.Fatal("failed to start scheduler", zap.Error(err))
		}
	}

	routerCfg := http_controllers.RouterConfig{
		Database:   app.DB,
		Backfiller: app.Orchestrator,
		SyncLogs:   app.SyncLogs,
		Drilldown:  app.Drilldown,
		Rebuilder:  app.Summaries,
		Version:    version,
		TaskClient: taskClient,
	}

	router := http_controllers.NewRouter(routerCfg)

	// Shutdown callback for graceful cleanup
	onShutdown := func(ctx context.Context) {
		if pipeline != nil {
			pipeline.Stop()
		}
		if taskClient != nil && taskCtxCancel != nil {
			taskClient.Stop(ctx)
			taskCtxCancel()
		}
	}

	Serve(router, cfg, logger, onShutdown)
}

// scheduleEntries builds the cron jobs. With a task queue the jobs only
// enqueue work; without one they run inline.
func scheduleEntries(cfg *config.Config, app *App, taskClient *tasks.Client) []scheduler.Entry {
	budget := cfg.Sync.InvocationBudget + time.Minute

	if taskClient != nil {
		return []scheduler.Entry{
			{Name: scheduler.JobSync, Schedule: cfg.Sync.Schedule, Job: scheduler.EnqueueBackfillJob(taskClient, app.SyncLogs, cfg.Sync.IncrementalLookback), Timeout: time.Minute},
			{Name: scheduler.JobRecompute, Schedule: cfg.Sync.RecomputeSchedule, Job: scheduler.EnqueueRecomputeJob(taskClient), Timeout: time.Minute},
			{Name: scheduler.JobPrune, Schedule: "@weekly", Job: scheduler.EnqueuePruneJob(taskClient, syncLogRetentionDays), Timeout: time.Minute},
		}
	}
	return []scheduler.Entry{
		{Name: scheduler.JobSync, Schedule: cfg.Sync.Schedule, Job: scheduler.ContinueBackfillJob(app.Orchestrator, cfg.Sync.IncrementalLookback), Timeout: 2 * budget},
		{Name: scheduler.JobRecompute, Schedule: cfg.Sync.RecomputeSchedule, Job: scheduler.RecomputeJob(app.Summaries), Timeout: 10 * time.Minute},
	}
}

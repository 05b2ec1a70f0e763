package entrypoint

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mrlokans/clinicsync/internal/config"
	"github.com/mrlokans/clinicsync/internal/database"
	"github.com/mrlokans/clinicsync/internal/database/replica"
	"github.com/mrlokans/clinicsync/internal/database/sales"
	"github.com/mrlokans/clinicsync/internal/database/summaries"
	"github.com/mrlokans/clinicsync/internal/database/synclog"
	"github.com/mrlokans/clinicsync/internal/drilldown"
	"github.com/mrlokans/clinicsync/internal/entities"
	"github.com/mrlokans/clinicsync/internal/forecast"
	"github.com/mrlokans/clinicsync/internal/lookup"
	"github.com/mrlokans/clinicsync/internal/normalizer"
	"github.com/mrlokans/clinicsync/internal/platform"
	"github.com/mrlokans/clinicsync/internal/segments"
	"github.com/mrlokans/clinicsync/internal/syncer"
)

// App holds the components shared by the server and the CLI commands.
type App struct {
	Config *config.Config
	Logger *zap.Logger

	DB           *database.Database
	SyncLogs     *synclog.Repository
	Replica      *replica.Repository
	Summaries    *summaries.Repository
	Orchestrator *syncer.Orchestrator
	Drilldown    *drilldown.Service
}

// NewApp opens the replica and wires the sync pipeline and the
// intelligence views. Completed runs rebuild the summaries inline until
// OnRunComplete installs another hook.
func NewApp(cfg *config.Config, logger *zap.Logger) (*App, error) {
	if err := cfg.Platform.Validate(); err != nil {
		logger.Warn("platform is not fully configured; backfills will fail", zap.Error(err))
	}

	db, err := database.NewDatabase(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	app := &App{
		Config:    cfg,
		Logger:    logger,
		DB:        db,
		SyncLogs:  synclog.NewRepository(db.DB),
		Replica:   replica.NewRepository(db.DB),
		Summaries: summaries.NewRepository(db.DB),
	}

	// Provider names are backfilled from the snapshot taken at startup.
	table, err := lookup.Load(app.Replica, cfg.Platform.Locations)
	if err != nil {
		logger.Warn("failed to load provider lookup", zap.Error(err))
		table = lookup.New(nil, cfg.Platform.Locations)
	}

	client := platform.NewGraphQLClient(cfg.Platform.URL, cfg.Platform.APIKey, cfg.Platform.BusinessID, cfg.Platform.HTTPTimeout)
	fetcher := platform.NewRetryingFetcher(client, cfg.Sync.MaxRetries, cfg.Sync.BaseBackoff, cfg.Sync.MaxBackoff, logger)
	ingestor := normalizer.NewIngestor(
		normalizer.New(normalizer.NewClassifier(normalizer.DefaultRules), table),
		normalizer.NewWriter(db.DB, logger),
	)
	app.Orchestrator = syncer.New(fetcher, ingestor, app.SyncLogs, cfg.Platform.Locations, syncer.OptionsFromConfig(cfg.Sync), logger)
	app.Orchestrator.OnComplete(app.rebuildOnComplete)

	salesRepo := sales.NewRepository(db.DB)
	app.Drilldown = drilldown.NewService(
		app.Summaries,
		forecast.NewEngine(salesRepo, forecast.RateProjection{}, cfg.Forecast.SafetyStockPct),
		func(context.Context) (*lookup.Table, error) {
			return lookup.Load(app.Replica, cfg.Platform.Locations)
		},
		segments.ThresholdsFromConfig(cfg.Segments),
		cfg.Export.MaxRows,
	)

	return app, nil
}

// OnRunComplete replaces the hook run after a backfill completes.
func (a *App) OnRunComplete(hook syncer.CompletionHook) {
	a.Orchestrator.OnComplete(hook)
}

func (a *App) rebuildOnComplete(ctx context.Context, run *entities.SyncLog) {
	if run.Type != entities.SyncTypeAppointments {
		return
	}
	if _, err := a.Recompute(ctx); err != nil {
		a.Logger.Error("summary rebuild after sync failed", zap.Uint("sync_log_id", run.ID), zap.Error(err))
	}
}

// Recompute rebuilds the client summaries as of now.
func (a *App) Recompute(ctx context.Context) (*summaries.Stats, error) {
	start := time.Now()
	stats, err := a.Summaries.Rebuild(ctx, start)
	if err != nil {
		return nil, err
	}
	a.Logger.Info("client summaries rebuilt",
		zap.Int64("appointments", stats.Appointments),
		zap.Int("visit_rows", stats.VisitRows),
		zap.Int("tox_rows", stats.ToxRows),
		zap.Duration("took", time.Since(start)),
	)
	return stats, nil
}

// Close releases the database.
func (a *App) Close() error {
	return a.DB.Close()
}

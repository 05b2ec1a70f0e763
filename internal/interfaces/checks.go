package interfaces

// This file contains compile-time interface implementation checks.
// These ensure that concrete types satisfy their interfaces at compile time,
// catching missing methods before runtime.
//
// To verify all checks pass: go build ./internal/interfaces/...

import (
	"github.com/mrlokans/clinicsync/internal/database/replica"
	"github.com/mrlokans/clinicsync/internal/database/sales"
	"github.com/mrlokans/clinicsync/internal/database/summaries"
	"github.com/mrlokans/clinicsync/internal/database/synclog"
	"github.com/mrlokans/clinicsync/internal/drilldown"
	"github.com/mrlokans/clinicsync/internal/forecast"
	"github.com/mrlokans/clinicsync/internal/http"
	"github.com/mrlokans/clinicsync/internal/lookup"
	"github.com/mrlokans/clinicsync/internal/normalizer"
	"github.com/mrlokans/clinicsync/internal/platform"
	"github.com/mrlokans/clinicsync/internal/scheduler"
	"github.com/mrlokans/clinicsync/internal/syncer"
	"github.com/mrlokans/clinicsync/internal/tasks"
)

// =============================================================================
// Data Access Layer
// =============================================================================

// Sync run state
var _ syncer.RunStore = (*synclog.Repository)(nil)
var _ http.SyncLogStore = (*synclog.Repository)(nil)
var _ tasks.SyncLogPruner = (*synclog.Repository)(nil)
var _ scheduler.RunChecker = (*synclog.Repository)(nil)

// Reference data
var _ lookup.ProviderSource = (*replica.Repository)(nil)

// Materialized summaries
var _ drilldown.SummarySource = (*summaries.Repository)(nil)
var _ tasks.Rebuilder = (*summaries.Repository)(nil)
var _ http.SummaryRebuilder = (*summaries.Repository)(nil)

// Sales
var _ forecast.SalesSource = (*sales.Repository)(nil)
var _ drilldown.ForecastSource = (*forecast.Engine)(nil)

// =============================================================================
// External Services
// =============================================================================

// Fetcher implementations
var _ platform.Fetcher = (*platform.GraphQLClient)(nil)
var _ platform.Fetcher = (*platform.RetryingFetcher)(nil)

// =============================================================================
// Sync Pipeline
// =============================================================================

var _ syncer.Ingester = (*normalizer.Ingestor)(nil)
var _ http.Backfiller = (*syncer.Orchestrator)(nil)
var _ tasks.Backfiller = (*syncer.Orchestrator)(nil)
var _ scheduler.Continuer = (*syncer.Orchestrator)(nil)

// =============================================================================
// Task Queue
// =============================================================================

var _ tasks.Enqueuer = (*tasks.Client)(nil)
var _ http.TaskQueue = (*tasks.Client)(nil)

// Estimator implementations
var _ forecast.Estimator = forecast.RateProjection{}

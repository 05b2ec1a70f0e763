// Package interfaces documents the core abstractions used throughout the application.
//
// # Interface Categories
//
// ## Data Access Interfaces
//
//   - syncer.RunStore: Sync run checkpoints (internal/database/synclog)
//   - lookup.ProviderSource: Provider reference data (internal/database/replica)
//   - drilldown.SummarySource: Materialized client summaries (internal/database/summaries)
//   - forecast.SalesSource: Per-SKU sales aggregates (internal/database/sales)
//
// ## External Service Interfaces
//
//   - platform.Fetcher: One page of platform records (internal/platform)
//
// ## Pipeline Interfaces
//
//   - syncer.Ingester: Normalize and write one raw record (internal/normalizer)
//   - forecast.Estimator: Demand projection from a sales window (internal/forecast)
//   - tasks.Backfiller, scheduler.Continuer, http.Backfiller: Backfill invocations (internal/syncer)
//
// # Adding a New Platform Resource
//
// To backfill another record type (e.g., gift card sales):
//
//  1. Add the query and resource name in internal/platform/
//
//  2. Add a SyncType in internal/entities/sync_log.go and map it to the
//     resource in internal/syncer/orchestrator.go
//
//  3. Normalize and write it in internal/normalizer/, dispatching on the
//     resource in Ingestor.Ingest
//
// # Adding a New Drilldown View
//
//  1. Derive rows in internal/segments/ or internal/forecast/
//
//  2. Add the view, its sort columns and its CSV columns in internal/drilldown/
//
//  3. Register the kind in IntelligenceController (internal/http/intelligence.go)
//
// # Compile-Time Interface Checks
//
// All implementations should include compile-time checks to ensure they satisfy
// their interfaces. This catches missing methods at compile time rather than runtime:
//
//	var _ SomeInterface = (*MyImplementation)(nil)
//
// See checks.go for examples.
package interfaces

package http

import (
	"github.com/mrlokans/clinicsync/internal/database"
	"github.com/mrlokans/clinicsync/internal/drilldown"
	"github.com/mrlokans/clinicsync/internal/tasks"
)

// RouterConfig contains all dependencies and configuration needed
// to create the HTTP router.
type RouterConfig struct {
	// Core dependencies
	Database *database.Database

	// Sync pipeline
	Backfiller Backfiller
	SyncLogs   SyncLogStore

	// Intelligence views
	Drilldown *drilldown.Service
	Rebuilder SummaryRebuilder

	// Application info
	Version string

	// Task queue client (optional)
	TaskClient *tasks.Client
}

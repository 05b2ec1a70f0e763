package http

import (
	"context"
	"time"

	"github.com/mrlokans/clinicsync/internal/database/summaries"
	"github.com/mrlokans/clinicsync/internal/entities"
	"github.com/mrlokans/clinicsync/internal/syncer"
)

// Backfiller runs one bounded backfill invocation.
type Backfiller interface {
	Backfill(ctx context.Context, req syncer.BackfillRequest) (*syncer.BackfillResult, error)
}

// SyncLogStore reads persisted sync runs.
type SyncLogStore interface {
	Get(id uint) (*entities.SyncLog, error)
	List(limit, offset int) ([]entities.SyncLog, int64, error)
}

// SummaryRebuilder recomputes the materialized client summaries.
type SummaryRebuilder interface {
	Rebuild(ctx context.Context, now time.Time) (*summaries.Stats, error)
}

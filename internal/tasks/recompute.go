package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/mikestefanello/backlite"
	"go.uber.org/zap"

	"github.com/mrlokans/clinicsync/internal/database/summaries"
)

// QueueRecomputeSummaries is the queue name of RecomputeSummariesTask.
const QueueRecomputeSummaries = "recompute_summaries"

// Rebuilder recomputes the materialized client summaries.
type Rebuilder interface {
	Rebuild(ctx context.Context, now time.Time) (*summaries.Stats, error)
}

// RecomputeSummariesTask rebuilds both summary tables from the replica.
type RecomputeSummariesTask struct{}

// Config returns the queue configuration for summary recomputes.
func (t RecomputeSummariesTask) Config() backlite.QueueConfig {
	return backlite.QueueConfig{
		Name:        QueueRecomputeSummaries,
		MaxAttempts: 2,
		Backoff:     time.Minute,
		Timeout:     10 * time.Minute,
		Retention: &backlite.Retention{
			Duration:   24 * time.Hour,
			OnlyFailed: false,
			Data:       &backlite.RetainData{OnlyFailed: true},
		},
	}
}

// RecomputeSummariesProcessor creates a processor function for
// RecomputeSummariesTask.
func RecomputeSummariesProcessor(r Rebuilder, logger *zap.Logger) backlite.QueueProcessor[RecomputeSummariesTask] {
	return func(ctx context.Context, task RecomputeSummariesTask) error {
		if r == nil {
			return fmt.Errorf("summary rebuilder not configured")
		}

		stats, err := r.Rebuild(ctx, time.Now())
		if err != nil {
			return fmt.Errorf("recompute summaries: %w", err)
		}

		logger.Info("summaries recomputed",
			zap.Int64("appointments", stats.Appointments),
			zap.Int("visit_rows", stats.VisitRows),
			zap.Int("tox_rows", stats.ToxRows),
		)
		return nil
	}
}

// NewRecomputeSummariesQueue creates a backlite queue for summary recomputes.
func NewRecomputeSummariesQueue(r Rebuilder, logger *zap.Logger) backlite.Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return backlite.NewQueue(RecomputeSummariesProcessor(r, logger))
}

package scheduler

import (
	"context"
	"time"

	"github.com/mrlokans/clinicsync/internal/entities"
	"github.com/mrlokans/clinicsync/internal/syncer"
	"github.com/mrlokans/clinicsync/internal/tasks"
)

// Continuer resumes or starts a backfill run.
type Continuer interface {
	Continue(ctx context.Context, syncType entities.SyncType, stopBefore *time.Time) (*syncer.BackfillResult, error)
}

// stopBefore is the incremental window start, or nil for a full backfill.
func stopBefore(lookback time.Duration, now func() time.Time) *time.Time {
	if lookback <= 0 {
		return nil
	}
	t := now().Add(-lookback)
	return &t
}

// RunChecker reports whether a run of syncType is being worked on.
type RunChecker interface {
	IsRunning(syncType entities.SyncType) (bool, error)
}

// ContinueBackfillJob runs one invocation of every sync type per tick. New
// runs only reach back lookback from now. A type whose run is busy elsewhere
// is left for the next tick.
func ContinueBackfillJob(c Continuer, lookback time.Duration, types ...entities.SyncType) Job {
	if len(types) == 0 {
		types = []entities.SyncType{entities.SyncTypeAppointments, entities.SyncTypeProductSales}
	}
	return func(ctx context.Context) error {
		for _, t := range types {
			_, err := c.Continue(ctx, t, stopBefore(lookback, time.Now))
			if err != nil && !syncer.IsBusy(err) {
				return err
			}
		}
		return nil
	}
}

// EnqueueBackfillJob hands every sync type to the backfill_step queue. A type
// with a live run already has a step chain, so the tick adds nothing for it.
func EnqueueBackfillJob(q tasks.Enqueuer, runs RunChecker, lookback time.Duration, types ...entities.SyncType) Job {
	if len(types) == 0 {
		types = []entities.SyncType{entities.SyncTypeAppointments, entities.SyncTypeProductSales}
	}
	return func(ctx context.Context) error {
		for _, t := range types {
			running, err := runs.IsRunning(t)
			if err != nil {
				return err
			}
			if running {
				continue
			}
			task := tasks.BackfillStepTask{Type: t, StopBeforeDate: stopBefore(lookback, time.Now)}
			if _, err := q.Add(task).Ctx(ctx).Save(); err != nil {
				return err
			}
		}
		return nil
	}
}

// RecomputeJob rebuilds the summaries inline.
func RecomputeJob(r tasks.Rebuilder) Job {
	return func(ctx context.Context) error {
		_, err := r.Rebuild(ctx, time.Now())
		return err
	}
}

// EnqueueRecomputeJob hands a summary rebuild to the task queue.
func EnqueueRecomputeJob(q tasks.Enqueuer) Job {
	return func(ctx context.Context) error {
		_, err := q.Add(tasks.RecomputeSummariesTask{}).Ctx(ctx).Save()
		return err
	}
}

// EnqueuePruneJob hands sync log pruning to the task queue.
func EnqueuePruneJob(q tasks.Enqueuer, retentionDays int) Job {
	return func(ctx context.Context) error {
		_, err := q.Add(tasks.PruneSyncLogsTask{RetentionDays: retentionDays}).Ctx(ctx).Save()
		return err
	}
}

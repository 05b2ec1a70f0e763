package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mikestefanello/backlite"
	"go.uber.org/zap"

	"github.com/mrlokans/clinicsync/internal/database/synclog"
	"github.com/mrlokans/clinicsync/internal/entities"
	"github.com/mrlokans/clinicsync/internal/syncer"
)

// QueueBackfillStep is the queue name of BackfillStepTask.
const QueueBackfillStep = "backfill_step"

// busyRetryDelay is how long a step waits when another run holds the
// orchestrator.
const busyRetryDelay = 30 * time.Second

// Backfiller runs one bounded backfill invocation.
type Backfiller interface {
	Backfill(ctx context.Context, req syncer.BackfillRequest) (*syncer.BackfillResult, error)
	Continue(ctx context.Context, syncType entities.SyncType, stopBefore *time.Time) (*syncer.BackfillResult, error)
}

// Enqueuer adds tasks to the queue.
type Enqueuer interface {
	Add(tasks ...backlite.Task) *backlite.TaskAddOp
}

// BackfillStepTask runs one orchestrator invocation. Without a SyncLogID it
// continues the newest unfinished run of Type, or starts one. Unless the run
// is done it enqueues the next step for the same SyncLog.
type BackfillStepTask struct {
	SyncLogID      uint              `json:"sync_log_id,omitempty"`
	Type           entities.SyncType `json:"type,omitempty"`
	StopBeforeDate *time.Time        `json:"stop_before_date,omitempty"`
}

// Config returns the queue configuration for backfill steps.
func (t BackfillStepTask) Config() backlite.QueueConfig {
	return backlite.QueueConfig{
		Name:        QueueBackfillStep,
		MaxAttempts: 1,
		Backoff:     time.Minute,
		Timeout:     2 * time.Minute,
		Retention: &backlite.Retention{
			Duration:   24 * time.Hour,
			OnlyFailed: false,
			Data:       &backlite.RetainData{OnlyFailed: true},
		},
	}
}

// BackfillStepProcessor creates a processor function for BackfillStepTask.
// A failed step is not re-enqueued; the next scheduled tick resumes the run
// from its checkpoint. A step whose run is leased elsewhere is dropped, since
// the holder's chain carries the run on. A step that found the orchestrator
// busy with another run is put back with a delay.
func BackfillStepProcessor(b Backfiller, queue Enqueuer, logger *zap.Logger) backlite.QueueProcessor[BackfillStepTask] {
	return func(ctx context.Context, task BackfillStepTask) error {
		if b == nil {
			return fmt.Errorf("backfiller not configured")
		}

		var (
			res *syncer.BackfillResult
			err error
		)
		if task.SyncLogID != 0 {
			res, err = b.Backfill(ctx, syncer.BackfillRequest{SyncLogID: task.SyncLogID})
		} else {
			syncType := task.Type
			if syncType == "" {
				syncType = entities.SyncTypeAppointments
			}
			res, err = b.Continue(ctx, syncType, task.StopBeforeDate)
		}
		switch {
		case errors.Is(err, synclog.ErrLeased):
			logger.Info("backfill step skipped, run is leased by another invocation",
				zap.Uint("sync_log_id", task.SyncLogID),
				zap.String("type", string(task.Type)),
			)
			return nil
		case errors.Is(err, syncer.ErrBusy) && queue != nil:
			if _, err := queue.Add(task).Wait(busyRetryDelay).Save(); err != nil {
				return fmt.Errorf("requeue busy backfill step: %w", err)
			}
			return nil
		case err != nil:
			return fmt.Errorf("backfill step: %w", err)
		}

		logger.Info("backfill step finished",
			zap.Uint("sync_log_id", res.SyncLogID),
			zap.Int("processed", res.Processed),
			zap.Bool("done", res.Done),
		)
		if res.Done || queue == nil {
			return nil
		}

		if _, err := queue.Add(BackfillStepTask{SyncLogID: res.SyncLogID}).Save(); err != nil {
			return fmt.Errorf("enqueue next backfill step: %w", err)
		}
		return nil
	}
}

// NewBackfillStepQueue creates a backlite queue for backfill steps.
func NewBackfillStepQueue(b Backfiller, queue Enqueuer, logger *zap.Logger) backlite.Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return backlite.NewQueue(BackfillStepProcessor(b, queue, logger))
}

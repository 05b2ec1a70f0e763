package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/mikestefanello/backlite"
	"go.uber.org/zap"
)

// QueuePruneSyncLogs is the queue name of PruneSyncLogsTask.
const QueuePruneSyncLogs = "prune_sync_logs"

// SyncLogPruner deletes finished sync runs.
type SyncLogPruner interface {
	DeleteCompletedBefore(cutoff time.Time) (int64, error)
}

// PruneSyncLogsTask removes completed sync logs older than the retention period.
type PruneSyncLogsTask struct {
	RetentionDays int `json:"retention_days"`
}

// Config returns the queue configuration for sync log pruning.
func (t PruneSyncLogsTask) Config() backlite.QueueConfig {
	return backlite.QueueConfig{
		Name:        QueuePruneSyncLogs,
		MaxAttempts: 3,
		Backoff:     5 * time.Minute,
		Timeout:     2 * time.Minute,
		Retention: &backlite.Retention{
			Duration:   24 * time.Hour,
			OnlyFailed: false,
			Data:       &backlite.RetainData{OnlyFailed: true},
		},
	}
}

// PruneSyncLogsProcessor creates a processor function for PruneSyncLogsTask.
func PruneSyncLogsProcessor(pruner SyncLogPruner, logger *zap.Logger) backlite.QueueProcessor[PruneSyncLogsTask] {
	return func(ctx context.Context, task PruneSyncLogsTask) error {
		if pruner == nil {
			return fmt.Errorf("sync log pruner not configured")
		}

		retentionDays := task.RetentionDays
		if retentionDays <= 0 {
			retentionDays = 90
		}
		cutoff := time.Now().Add(-time.Duration(retentionDays) * 24 * time.Hour)

		deleted, err := pruner.DeleteCompletedBefore(cutoff)
		if err != nil {
			return fmt.Errorf("prune sync logs: %w", err)
		}

		logger.Info("pruned completed sync logs",
			zap.Int64("deleted", deleted),
			zap.Int("retention_days", retentionDays),
		)
		return nil
	}
}

// NewPruneSyncLogsQueue creates a backlite queue for sync log pruning.
func NewPruneSyncLogsQueue(pruner SyncLogPruner, logger *zap.Logger) backlite.Queue {
	return backlite.NewQueue(PruneSyncLogsProcessor(pruner, logger))
}

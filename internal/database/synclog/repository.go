// Package synclog provides database operations for backfill run checkpoints.
//
// A SyncLog row is the only place a run's resume position lives. Every
// checkpoint write lands before the orchestrator returns from a page.
//
// # Usage
//
//	repo := synclog.NewRepository(db)
//	run, err := repo.Create(entities.SyncTypeAppointments, []string{"main"}, nil)
//	run, err = repo.Claim(run.ID, invocationID)
//	err = repo.SaveCheckpoint(run.ID, synclog.Checkpoint{Holder: invocationID, Cursor: "abc"})
//	err = repo.Release(run.ID, invocationID)
package synclog

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/mrlokans/clinicsync/internal/entities"
)

// StaleAfter is how long a running log may go without a checkpoint before it
// is considered interrupted.
const StaleAfter = 10 * time.Minute

var (
	ErrNotFound         = errors.New("sync log not found")
	ErrAlreadyCompleted = errors.New("sync log already completed")

	// ErrLeased is returned when another invocation holds the run, or took
	// it over from the caller.
	ErrLeased = errors.New("sync log is leased by another invocation")
)

// Checkpoint is the resumable position persisted after every page. With
// Holder set the write only lands while Holder still owns the lease.
type Checkpoint struct {
	Holder          string
	Cursor          string
	LocationIndex   int
	OldestSeen      *time.Time
	ReachedStopDate bool
	ProcessedDelta  int
	CreatedDelta    int
	FailedDelta     int
}

// Repository handles all sync log database operations.
type Repository struct {
	db  *gorm.DB
	now func() time.Time
}

// NewRepository creates a new sync log repository.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db, now: time.Now}
}

// WithClock returns a copy of the repository using now as its time source.
func (r *Repository) WithClock(now func() time.Time) *Repository {
	return &Repository{db: r.db, now: now}
}

// Create starts a new running log, freezing the location key list so a later
// configuration change cannot shift what an index refers to.
func (r *Repository) Create(syncType entities.SyncType, locationKeys []string, stopBefore *time.Time) (*entities.SyncLog, error) {
	keys, err := json.Marshal(locationKeys)
	if err != nil {
		return nil, fmt.Errorf("encode location keys: %w", err)
	}

	now := r.now()
	run := entities.SyncLog{
		Type:         syncType,
		Status:       entities.SyncStatusRunning,
		LocationKeys: datatypes.JSON(keys),
		StopBefore:   stopBefore,
		StartedAt:    now,
		UpdatedAt:    now,
	}
	if err := r.db.Create(&run).Error; err != nil {
		return nil, fmt.Errorf("create sync log: %w", err)
	}
	return &run, nil
}

// Get retrieves a sync log by ID.
func (r *Repository) Get(id uint) (*entities.SyncLog, error) {
	var run entities.SyncLog
	err := r.db.First(&run, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// List returns the most recent sync logs, newest first.
func (r *Repository) List(limit, offset int) ([]entities.SyncLog, int64, error) {
	var total int64
	if err := r.db.Model(&entities.SyncLog{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var runs []entities.SyncLog
	err := r.db.Order("id DESC").Limit(limit).Offset(offset).Find(&runs).Error
	if err != nil {
		return nil, 0, err
	}
	return runs, total, nil
}

// LatestOpen returns the newest log of syncType that has not completed, or
// ErrNotFound.
func (r *Repository) LatestOpen(syncType entities.SyncType) (*entities.SyncLog, error) {
	var run entities.SyncLog
	err := r.db.
		Where("type = ? AND status <> ?", syncType, entities.SyncStatusCompleted).
		Order("id DESC").
		First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// SaveCheckpoint persists the resume position and adds the page's counters.
// It also renews the lease, since staleness is judged by updated_at.
func (r *Repository) SaveCheckpoint(id uint, cp Checkpoint) error {
	q := r.db.Model(&entities.SyncLog{}).Where("id = ?", id)
	if cp.Holder != "" {
		q = q.Where("lease_holder = ?", cp.Holder)
	}
	res := q.Updates(map[string]any{
		"cursor":            cp.Cursor,
		"location_index":    cp.LocationIndex,
		"oldest_seen":       cp.OldestSeen,
		"reached_stop_date": cp.ReachedStopDate,
		"processed_count":   gorm.Expr("processed_count + ?", cp.ProcessedDelta),
		"created_count":     gorm.Expr("created_count + ?", cp.CreatedDelta),
		"failed_count":      gorm.Expr("failed_count + ?", cp.FailedDelta),
		"updated_at":        r.now(),
	})
	if res.Error != nil {
		return fmt.Errorf("save checkpoint: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		if cp.Holder == "" {
			return ErrNotFound
		}
		if _, err := r.Get(id); err != nil {
			return err
		}
		return ErrLeased
	}
	return nil
}

// Complete marks the run completed.
func (r *Repository) Complete(id uint) error {
	now := r.now()
	return r.finish(id, map[string]any{
		"status":       entities.SyncStatusCompleted,
		"error":        "",
		"lease_holder": "",
		"updated_at":   now,
		"completed_at": now,
	})
}

// Fail marks the run failed with errorMsg. The checkpoint columns are left
// untouched so the next invocation resumes from the last good page.
func (r *Repository) Fail(id uint, errorMsg string) error {
	now := r.now()
	return r.finish(id, map[string]any{
		"status":       entities.SyncStatusFailed,
		"error":        errorMsg,
		"lease_holder": "",
		"updated_at":   now,
		"completed_at": now,
	})
}

func (r *Repository) finish(id uint, updates map[string]any) error {
	res := r.db.Model(&entities.SyncLog{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Claim leases the run to holder, reopening it if it failed. A running run
// whose holder checkpointed within StaleAfter is ErrLeased; an older lease is
// taken over. The update only matches the state read here, so of two
// concurrent claims at most one wins.
func (r *Repository) Claim(id uint, holder string) (*entities.SyncLog, error) {
	run, err := r.Get(id)
	if err != nil {
		return nil, err
	}
	if run.Status == entities.SyncStatusCompleted {
		return run, ErrAlreadyCompleted
	}

	now := r.now()
	if run.Status == entities.SyncStatusRunning && run.LeaseHolder != "" && !run.UpdatedAt.Before(now.Add(-StaleAfter)) {
		return run, ErrLeased
	}

	res := r.db.Model(&entities.SyncLog{}).
		Where("id = ? AND status = ? AND COALESCE(lease_holder, '') = ?", id, run.Status, run.LeaseHolder).
		Updates(map[string]any{
			"status":       entities.SyncStatusRunning,
			"error":        "",
			"lease_holder": holder,
			"completed_at": nil,
			"updated_at":   now,
		})
	if res.Error != nil {
		return nil, fmt.Errorf("claim sync log: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return run, ErrLeased
	}
	return r.Get(id)
}

// Release drops holder's lease. It does nothing once the lease has moved on
// or the run has finished.
func (r *Repository) Release(id uint, holder string) error {
	return r.db.Model(&entities.SyncLog{}).
		Where("id = ? AND lease_holder = ?", id, holder).
		UpdateColumn("lease_holder", "").Error
}

// IsRunning checks if a run of syncType is in progress, either inside an
// invocation or between the steps of a chain. A run is considered stale if it
// has not checkpointed for StaleAfter; stale runs are marked failed so they
// can be resumed.
func (r *Repository) IsRunning(syncType entities.SyncType) (bool, error) {
	var run entities.SyncLog
	err := r.db.
		Where("type = ? AND status = ?", syncType, entities.SyncStatusRunning).
		Order("id DESC").
		First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if run.UpdatedAt.Before(r.now().Add(-StaleAfter)) {
		_ = r.Fail(run.ID, "sync was interrupted")
		return false, nil
	}

	return true, nil
}

// DeleteCompletedBefore removes completed runs that finished before cutoff.
// Failed and running logs are kept; they are still resumable.
func (r *Repository) DeleteCompletedBefore(cutoff time.Time) (int64, error) {
	res := r.db.
		Where("status = ? AND completed_at < ?", entities.SyncStatusCompleted, cutoff).
		Delete(&entities.SyncLog{})
	return res.RowsAffected, res.Error
}

// LocationKeys decodes the frozen location key snapshot of run.
func LocationKeys(run *entities.SyncLog) ([]string, error) {
	if len(run.LocationKeys) == 0 {
		return nil, nil
	}
	var keys []string
	if err := json.Unmarshal(run.LocationKeys, &keys); err != nil {
		return nil, fmt.Errorf("decode location keys: %w", err)
	}
	return keys, nil
}

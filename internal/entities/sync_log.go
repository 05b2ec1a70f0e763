package entities

import (
	"time"

	"gorm.io/datatypes"
)

type SyncType string

const (
	SyncTypeAppointments SyncType = "appointments"
	SyncTypeProductSales SyncType = "product_sales"
)

type SyncStatus string

const (
	SyncStatusRunning   SyncStatus = "running"
	SyncStatusCompleted SyncStatus = "completed"
	SyncStatusFailed    SyncStatus = "failed"
)

// SyncLog is one backfill run. Cursor, LocationIndex and OldestSeen form the
// checkpoint a later invocation resumes from. LeaseHolder names the invocation
// currently writing the run; it is empty between invocations.
type SyncLog struct {
	ID              uint           `gorm:"primaryKey" json:"id"`
	Type            SyncType       `gorm:"size:50;index" json:"type"`
	Status          SyncStatus     `gorm:"size:20;index" json:"status"`
	Cursor          string         `gorm:"type:text" json:"cursor"`
	LocationIndex   int            `json:"location_index"`
	LocationKeys    datatypes.JSON `json:"location_keys"`
	OldestSeen      *time.Time     `json:"oldest_seen,omitempty"`
	StopBefore      *time.Time     `json:"stop_before,omitempty"`
	ReachedStopDate bool           `json:"reached_stop_date"`
	ProcessedCount  int            `json:"processed_count"`
	CreatedCount    int            `json:"created_count"`
	FailedCount     int            `json:"failed_count"`
	Error           string         `gorm:"type:text" json:"error,omitempty"`
	LeaseHolder     string         `gorm:"size:64" json:"lease_holder,omitempty"`
	StartedAt       time.Time      `json:"started_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty"`
}

func (SyncLog) TableName() string {
	return "sync_logs"
}

// IsTerminal reports whether the run can no longer make progress.
func (l SyncLog) IsTerminal() bool {
	return l.Status == SyncStatusCompleted
}

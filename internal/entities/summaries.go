package entities

import "time"

// ClientVisitSummary is a materialized rollup of a client's completed visits.
// It is rebuilt wholesale from appointments and never edited in place.
type ClientVisitSummary struct {
	ClientID          uint       `gorm:"primaryKey;autoIncrement:false" json:"client_id"`
	Client            Client     `gorm:"foreignKey:ClientID" json:"-"`
	LocationKey       string     `gorm:"index;size:64" json:"location_key"`
	LastProviderID    *uint      `gorm:"index" json:"last_provider_id,omitempty"`
	VisitCount        int        `json:"visit_count"`
	TotalSpend        float64    `json:"total_spend"`
	FirstVisitAt      *time.Time `json:"first_visit_at,omitempty"`
	LastVisitAt       *time.Time `gorm:"index" json:"last_visit_at,omitempty"`
	NextAppointmentAt *time.Time `json:"next_appointment_at,omitempty"`
	AvgIntervalDays   *float64   `json:"avg_interval_days,omitempty"`
	ComputedAt        time.Time  `json:"computed_at"`
}

// ClientToxSummary is the same rollup restricted to neuromodulator visits.
type ClientToxSummary struct {
	ClientID        uint       `gorm:"primaryKey;autoIncrement:false" json:"client_id"`
	Client          Client     `gorm:"foreignKey:ClientID" json:"-"`
	LocationKey     string     `gorm:"index;size:64" json:"location_key"`
	LastProviderID  *uint      `gorm:"index" json:"last_provider_id,omitempty"`
	ToxVisitCount   int        `json:"tox_visit_count"`
	ToxSpend        float64    `json:"tox_spend"`
	FirstToxAt      *time.Time `json:"first_tox_at,omitempty"`
	LastToxAt       *time.Time `gorm:"index" json:"last_tox_at,omitempty"`
	NextToxAt       *time.Time `json:"next_tox_at,omitempty"`
	AvgIntervalDays *float64   `json:"avg_interval_days,omitempty"`
	ComputedAt      time.Time  `json:"computed_at"`
}

package segments

import (
	"time"

	"github.com/mrlokans/clinicsync/internal/entities"
	"github.com/mrlokans/clinicsync/internal/lookup"
)

// ClientInfo is the contact and attribution part shared by every row.
type ClientInfo struct {
	ClientID     uint   `json:"client_id"`
	ExternalID   string `json:"external_id"`
	Name         string `json:"name"`
	Email        string `json:"email"`
	Phone        string `json:"phone"`
	LocationKey  string `json:"location_key"`
	LocationName string `json:"location_name"`
	ProviderID   *uint  `json:"provider_id,omitempty"`
	ProviderName string `json:"provider_name"`
}

// ToxRow is one client on the tox lifecycle axis.
type ToxRow struct {
	ClientInfo
	Segment         Segment    `json:"segment"`
	ToxVisitCount   int        `json:"tox_visit_count"`
	ToxSpend        float64    `json:"tox_spend"`
	FirstToxAt      *time.Time `json:"first_tox_at,omitempty"`
	LastToxAt       *time.Time `json:"last_tox_at,omitempty"`
	NextToxAt       *time.Time `json:"next_tox_at,omitempty"`
	AvgIntervalDays *float64   `json:"avg_interval_days,omitempty"`
	IntervalDays    float64    `json:"interval_days"`
	DaysSinceLast   float64    `json:"days_since_last"`
	Ratio           float64    `json:"ratio"`
}

// RebookingRow is one client on the rebooking-gap axis.
type RebookingRow struct {
	ClientInfo
	Bucket         Bucket     `json:"bucket"`
	VisitCount     int        `json:"visit_count"`
	TotalSpend     float64    `json:"total_spend"`
	LastVisitAt    *time.Time `json:"last_visit_at,omitempty"`
	HoursSinceLast float64    `json:"hours_since_last"`
}

// Action kinds.
const (
	ActionTox       = "tox"
	ActionRebooking = "rebooking"
)

// ActionRow is one outreach candidate from either axis.
type ActionRow struct {
	ClientInfo
	Kind        string     `json:"kind"`
	Segment     string     `json:"segment"`
	LastVisitAt *time.Time `json:"last_visit_at,omitempty"`
	DaysSince   float64    `json:"days_since"`
	Spend       float64    `json:"spend"`
}

// Engine derives segment rows from summaries. It is read-only.
type Engine struct {
	thresholds Thresholds
	lookup     *lookup.Table
}

// NewEngine creates an engine. table may be nil.
func NewEngine(th Thresholds, table *lookup.Table) *Engine {
	return &Engine{thresholds: th, lookup: table}
}

// Thresholds returns the engine's tox cutoffs.
func (e *Engine) Thresholds() Thresholds {
	return e.thresholds
}

func (e *Engine) info(c entities.Client, clientID uint, locationKey string, providerID *uint) ClientInfo {
	return ClientInfo{
		ClientID:     clientID,
		ExternalID:   c.ExternalID,
		Name:         c.FullName(),
		Email:        c.Email,
		Phone:        c.Phone,
		LocationKey:  locationKey,
		LocationName: e.lookup.LocationName(locationKey),
		ProviderID:   providerID,
		ProviderName: e.lookup.ProviderName(providerID),
	}
}

// Tox classifies every summary, dropping clients not on the axis.
func (e *Engine) Tox(summaries []entities.ClientToxSummary, now time.Time) []ToxRow {
	rows := make([]ToxRow, 0, len(summaries))
	for _, s := range summaries {
		seg, pos, ok := ToxSegment(s, now, e.thresholds)
		if !ok {
			continue
		}
		rows = append(rows, ToxRow{
			ClientInfo:      e.info(s.Client, s.ClientID, s.LocationKey, s.LastProviderID),
			Segment:         seg,
			ToxVisitCount:   s.ToxVisitCount,
			ToxSpend:        s.ToxSpend,
			FirstToxAt:      s.FirstToxAt,
			LastToxAt:       s.LastToxAt,
			NextToxAt:       s.NextToxAt,
			AvgIntervalDays: s.AvgIntervalDays,
			IntervalDays:    pos.IntervalDays,
			DaysSinceLast:   pos.DaysSinceLast,
			Ratio:           pos.Ratio,
		})
	}
	return rows
}

// Rebooking classifies every summary, dropping clients not on the axis.
func (e *Engine) Rebooking(summaries []entities.ClientVisitSummary, now time.Time) []RebookingRow {
	rows := make([]RebookingRow, 0, len(summaries))
	for _, s := range summaries {
		bucket, hours, ok := RebookingBucket(s, now)
		if !ok {
			continue
		}
		rows = append(rows, RebookingRow{
			ClientInfo:     e.info(s.Client, s.ClientID, s.LocationKey, s.LastProviderID),
			Bucket:         bucket,
			VisitCount:     s.VisitCount,
			TotalSpend:     s.TotalSpend,
			LastVisitAt:    s.LastVisitAt,
			HoursSinceLast: hours,
		})
	}
	return rows
}

// Actions is every actionable tox row followed by every rebooking row. A
// rebooking row is always actionable: clients with a future appointment are
// already off that axis.
func (e *Engine) Actions(tox []ToxRow, rebooking []RebookingRow) []ActionRow {
	rows := make([]ActionRow, 0, len(tox)+len(rebooking))
	for _, t := range tox {
		if !IsActionable(t.Segment) {
			continue
		}
		rows = append(rows, ActionRow{
			ClientInfo:  t.ClientInfo,
			Kind:        ActionTox,
			Segment:     string(t.Segment),
			LastVisitAt: t.LastToxAt,
			DaysSince:   t.DaysSinceLast,
			Spend:       t.ToxSpend,
		})
	}
	for _, r := range rebooking {
		rows = append(rows, ActionRow{
			ClientInfo:  r.ClientInfo,
			Kind:        ActionRebooking,
			Segment:     string(r.Bucket),
			LastVisitAt: r.LastVisitAt,
			DaysSince:   r.HoursSinceLast / 24,
			Spend:       r.TotalSpend,
		})
	}
	return rows
}

// Package summaries materializes per-client visit and tox rollups from the
// replica and serves them to the segmentation and drilldown layers.
//
// Summary tables are derived data: Rebuild drops and recomputes both tables
// in one transaction, so they can be regenerated at any time without loss.
package summaries

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/mrlokans/clinicsync/internal/entities"
)

const batchSize = 500

// Stats reports how many rows a rebuild produced.
type Stats struct {
	Appointments int64 `json:"appointments"`
	VisitRows    int   `json:"visit_rows"`
	ToxRows      int   `json:"tox_rows"`
}

// Filter narrows candidate rows before segmentation.
type Filter struct {
	LocationKey string
	ProviderIDs []uint
	Search      string
}

// Repository handles summary reads and rebuilds.
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new summaries repository.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// visit is the slice of an appointment the rollups need.
type visit struct {
	at        time.Time
	location  string
	completed bool
	tox       bool
	spend     float64
	toxSpend  float64
	provider  *uint
}

// Rebuild recomputes both summary tables from appointments and their line
// items as of now.
func (r *Repository) Rebuild(ctx context.Context, now time.Time) (*Stats, error) {
	stats := &Stats{}
	byClient := make(map[uint][]visit)

	var batch []entities.Appointment
	res := r.db.WithContext(ctx).
		Preload("Services", func(db *gorm.DB) *gorm.DB { return db.Order("id") }).
		FindInBatches(&batch, batchSize, func(tx *gorm.DB, _ int) error {
			for i := range batch {
				if v, ok := toVisit(&batch[i], now); ok {
					byClient[batch[i].ClientID] = append(byClient[batch[i].ClientID], v)
				}
			}
			return nil
		})
	if res.Error != nil {
		return nil, fmt.Errorf("load appointments: %w", res.Error)
	}
	stats.Appointments = res.RowsAffected

	ids := make([]uint, 0, len(byClient))
	for id := range byClient {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var visits []entities.ClientVisitSummary
	var toxes []entities.ClientToxSummary
	for _, id := range ids {
		vs, tox := fold(id, byClient[id], now)
		visits = append(visits, vs)
		if tox.ToxVisitCount > 0 || tox.NextToxAt != nil {
			toxes = append(toxes, tox)
		}
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&entities.ClientVisitSummary{}).Error; err != nil {
			return fmt.Errorf("clear visit summaries: %w", err)
		}
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&entities.ClientToxSummary{}).Error; err != nil {
			return fmt.Errorf("clear tox summaries: %w", err)
		}
		if len(visits) > 0 {
			if err := tx.Omit("Client").CreateInBatches(&visits, batchSize).Error; err != nil {
				return fmt.Errorf("insert visit summaries: %w", err)
			}
		}
		if len(toxes) > 0 {
			if err := tx.Omit("Client").CreateInBatches(&toxes, batchSize).Error; err != nil {
				return fmt.Errorf("insert tox summaries: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	stats.VisitRows = len(visits)
	stats.ToxRows = len(toxes)
	return stats, nil
}

// toVisit keeps completed visits and future bookings; everything else
// (cancellations, past no-shows) does not feed a rollup.
func toVisit(a *entities.Appointment, now time.Time) (visit, bool) {
	if a.ClientID == 0 || a.IsCancelled() {
		return visit{}, false
	}
	completed := a.IsCompleted()
	if !completed && !a.StartAt.After(now) {
		return visit{}, false
	}

	v := visit{at: a.StartAt, location: a.LocationKey, completed: completed}
	for _, s := range a.Services {
		v.spend += s.Price
		if s.HasSlug(entities.ServiceSlugTox) {
			v.tox = true
			v.toxSpend += s.Price
		}
		if v.provider == nil && s.ProviderID != nil {
			v.provider = s.ProviderID
		}
	}
	return v, true
}

func fold(clientID uint, vs []visit, now time.Time) (entities.ClientVisitSummary, entities.ClientToxSummary) {
	sort.SliceStable(vs, func(i, j int) bool { return vs[i].at.Before(vs[j].at) })

	summary := entities.ClientVisitSummary{ClientID: clientID, ComputedAt: now}
	tox := entities.ClientToxSummary{ClientID: clientID, ComputedAt: now}
	var visitAts, toxAts []time.Time

	for i := range vs {
		v := vs[i]
		at := v.at
		if !v.completed {
			if summary.NextAppointmentAt == nil {
				summary.NextAppointmentAt = &at
				if summary.LocationKey == "" {
					summary.LocationKey = v.location
				}
			}
			if v.tox && tox.NextToxAt == nil {
				tox.NextToxAt = &at
				if tox.LocationKey == "" {
					tox.LocationKey = v.location
				}
			}
			continue
		}

		summary.VisitCount++
		summary.TotalSpend += v.spend
		if summary.FirstVisitAt == nil {
			summary.FirstVisitAt = &at
		}
		summary.LastVisitAt = &at
		summary.LocationKey = v.location
		if v.provider != nil {
			summary.LastProviderID = v.provider
		}
		visitAts = append(visitAts, at)

		if v.tox {
			tox.ToxVisitCount++
			tox.ToxSpend += v.toxSpend
			if tox.FirstToxAt == nil {
				tox.FirstToxAt = &at
			}
			tox.LastToxAt = &at
			tox.LocationKey = v.location
			if v.provider != nil {
				tox.LastProviderID = v.provider
			}
			toxAts = append(toxAts, at)
		}
	}

	summary.AvgIntervalDays = averageIntervalDays(visitAts)
	tox.AvgIntervalDays = averageIntervalDays(toxAts)
	return summary, tox
}

// averageIntervalDays returns the mean gap between consecutive visits, or nil
// with fewer than two visits.
func averageIntervalDays(ats []time.Time) *float64 {
	if len(ats) < 2 {
		return nil
	}
	span := ats[len(ats)-1].Sub(ats[0]).Hours() / 24
	avg := span / float64(len(ats)-1)
	return &avg
}

// ToxRows returns tox summaries with their clients, narrowed by f.
func (r *Repository) ToxRows(ctx context.Context, f Filter) ([]entities.ClientToxSummary, error) {
	var rows []entities.ClientToxSummary
	q := r.db.WithContext(ctx).Model(&entities.ClientToxSummary{}).
		Joins("JOIN clients ON clients.id = client_tox_summaries.client_id").
		Preload("Client")
	q = applyFilter(q, "client_tox_summaries", f)
	if err := q.Order("client_tox_summaries.client_id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load tox summaries: %w", err)
	}
	return rows, nil
}

// VisitRows returns visit summaries with their clients, narrowed by f.
func (r *Repository) VisitRows(ctx context.Context, f Filter) ([]entities.ClientVisitSummary, error) {
	var rows []entities.ClientVisitSummary
	q := r.db.WithContext(ctx).Model(&entities.ClientVisitSummary{}).
		Joins("JOIN clients ON clients.id = client_visit_summaries.client_id").
		Preload("Client")
	q = applyFilter(q, "client_visit_summaries", f)
	if err := q.Order("client_visit_summaries.client_id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load visit summaries: %w", err)
	}
	return rows, nil
}

// LastComputedAt returns when the visit summaries were last rebuilt, or nil
// if they never were.
func (r *Repository) LastComputedAt(ctx context.Context) (*time.Time, error) {
	var row entities.ClientVisitSummary
	err := r.db.WithContext(ctx).Order("computed_at DESC").Limit(1).Find(&row).Error
	if err != nil {
		return nil, err
	}
	if row.ClientID == 0 {
		return nil, nil
	}
	return &row.ComputedAt, nil
}

func applyFilter(q *gorm.DB, table string, f Filter) *gorm.DB {
	if f.LocationKey != "" {
		q = q.Where(table+".location_key = ?", f.LocationKey)
	}
	if len(f.ProviderIDs) > 0 {
		q = q.Where(table+".last_provider_id IN ?", f.ProviderIDs)
	}
	if s := strings.ToLower(strings.TrimSpace(f.Search)); s != "" {
		like := "%" + s + "%"
		q = q.Where(
			"LOWER(clients.first_name || ' ' || clients.last_name) LIKE ? OR LOWER(clients.display_name) LIKE ? OR LOWER(clients.email) LIKE ? OR LOWER(clients.phone) LIKE ?",
			like, like, like, like,
		)
	}
	return q
}

// Package replica provides idempotent writes into the local copy of the
// scheduling platform's clients, appointments, line items and sales.
//
// Every write is keyed by the platform's external id, so replaying a page
// produces the same rows. Callers that need several writes to land together
// construct the repository from a transaction handle.
package replica

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mrlokans/clinicsync/internal/entities"
)

// Repository handles all replica database operations.
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new replica repository.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// keepNonEmpty updates column from the incoming row unless the incoming value
// is blank, so a sparse record never erases a richer one.
func keepNonEmpty(table, column string) clause.Expr {
	return gorm.Expr(fmt.Sprintf(
		"CASE WHEN COALESCE(EXCLUDED.%[2]s, '') <> '' THEN EXCLUDED.%[2]s ELSE %[1]s.%[2]s END",
		table, column,
	))
}

// UpsertClient inserts or updates a client by external id and returns its
// local id.
func (r *Repository) UpsertClient(c *entities.Client) (uint, error) {
	if c.ExternalID == "" {
		return 0, errors.New("client external id is empty")
	}

	err := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "external_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"first_name":   keepNonEmpty("clients", "first_name"),
			"last_name":    keepNonEmpty("clients", "last_name"),
			"display_name": keepNonEmpty("clients", "display_name"),
			"email":        keepNonEmpty("clients", "email"),
			"phone":        keepNonEmpty("clients", "phone"),
			"updated_at":   gorm.Expr("EXCLUDED.updated_at"),
		}),
	}).Create(c).Error
	if err != nil {
		return 0, fmt.Errorf("upsert client %s: %w", c.ExternalID, err)
	}

	return r.idByExternal(&entities.Client{}, c.ExternalID)
}

// UpsertProvider inserts or renames a provider by external id and returns its
// local id.
func (r *Repository) UpsertProvider(p *entities.Provider) (uint, error) {
	if p.ExternalID == "" {
		return 0, errors.New("provider external id is empty")
	}

	err := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "external_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"name":       keepNonEmpty("providers", "name"),
			"updated_at": gorm.Expr("EXCLUDED.updated_at"),
		}),
	}).Create(p).Error
	if err != nil {
		return 0, fmt.Errorf("upsert provider %s: %w", p.ExternalID, err)
	}

	return r.idByExternal(&entities.Provider{}, p.ExternalID)
}

// UpsertAppointment inserts or updates an appointment by external id. It
// reports whether the row was new. Line items are not touched; see
// ReplaceServices.
func (r *Repository) UpsertAppointment(a *entities.Appointment) (uint, bool, error) {
	if a.ExternalID == "" {
		return 0, false, errors.New("appointment external id is empty")
	}
	if a.ClientID == 0 {
		return 0, false, fmt.Errorf("appointment %s has no client", a.ExternalID)
	}

	var existing int64
	if err := r.db.Model(&entities.Appointment{}).Where("external_id = ?", a.ExternalID).Count(&existing).Error; err != nil {
		return 0, false, err
	}

	err := r.db.Omit(clause.Associations).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "external_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"client_id", "location_key", "status", "start_at", "end_at",
			"cancelled_at", "cancel_reason", "notes", "updated_at",
		}),
	}).Create(a).Error
	if err != nil {
		return 0, false, fmt.Errorf("upsert appointment %s: %w", a.ExternalID, err)
	}

	id, err := r.idByExternal(&entities.Appointment{}, a.ExternalID)
	if err != nil {
		return 0, false, err
	}
	return id, existing == 0, nil
}

// ReplaceServices deletes every line item of the appointment and inserts
// services as the new set. It must run inside the same transaction as the
// appointment upsert.
func (r *Repository) ReplaceServices(appointmentID uint, services []entities.AppointmentService) error {
	if err := r.db.Where("appointment_id = ?", appointmentID).Delete(&entities.AppointmentService{}).Error; err != nil {
		return fmt.Errorf("delete line items: %w", err)
	}
	if len(services) == 0 {
		return nil
	}

	rows := make([]entities.AppointmentService, len(services))
	for i, s := range services {
		s.ID = 0
		s.AppointmentID = appointmentID
		rows[i] = s
	}
	if err := r.db.Create(&rows).Error; err != nil {
		return fmt.Errorf("insert line items: %w", err)
	}
	return nil
}

// Services returns the line items of an appointment in insertion order.
func (r *Repository) Services(appointmentID uint) ([]entities.AppointmentService, error) {
	var rows []entities.AppointmentService
	err := r.db.Where("appointment_id = ?", appointmentID).Order("id").Find(&rows).Error
	return rows, err
}

// InsertSale appends a product sale. A sale already present is left as is and
// reported as not created.
func (r *Repository) InsertSale(s *entities.ProductSale) (bool, error) {
	if s.ExternalID == "" {
		return false, errors.New("sale external id is empty")
	}

	res := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "external_id"}},
		DoNothing: true,
	}).Create(s)
	if res.Error != nil {
		return false, fmt.Errorf("insert sale %s: %w", s.ExternalID, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// ClientIDByExternal resolves a client's local id, returning 0 when unknown.
func (r *Repository) ClientIDByExternal(externalID string) (uint, error) {
	id, err := r.idByExternal(&entities.Client{}, externalID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	return id, err
}

// Providers returns every known provider.
func (r *Repository) Providers() ([]entities.Provider, error) {
	var rows []entities.Provider
	err := r.db.Order("id").Find(&rows).Error
	return rows, err
}

func (r *Repository) idByExternal(model any, externalID string) (uint, error) {
	var id uint
	err := r.db.Model(model).Select("id").Where("external_id = ?", externalID).Limit(1).Scan(&id).Error
	if err != nil {
		return 0, err
	}
	if id == 0 {
		return 0, gorm.ErrRecordNotFound
	}
	return id, nil
}

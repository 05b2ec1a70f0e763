package normalizer

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/mrlokans/clinicsync/internal/database/replica"
	"github.com/mrlokans/clinicsync/internal/entities"
	"github.com/mrlokans/clinicsync/internal/platform"
)

// Writer applies normalized records to the replica. Each record is written
// in its own transaction.
type Writer struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewWriter creates a writer bound to db.
func NewWriter(db *gorm.DB, logger *zap.Logger) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{db: db, logger: logger}
}

// Apply upserts the client, providers and appointment, then replaces the
// appointment's line items with rec.Services. It reports whether the
// appointment was new.
func (w *Writer) Apply(ctx context.Context, rec *Record) (bool, error) {
	var created bool
	err := w.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := replica.NewRepository(tx)

		client := rec.Client
		client.ID = 0
		clientID, err := repo.UpsertClient(&client)
		if err != nil {
			return err
		}

		services := make([]entities.AppointmentService, 0, len(rec.Services))
		for _, s := range rec.Services {
			line := s.AppointmentService
			line.ProviderID = nil
			if s.Provider != nil {
				p := *s.Provider
				p.ID = 0
				providerID, err := repo.UpsertProvider(&p)
				if err != nil {
					return err
				}
				line.ProviderID = &providerID
			}
			services = append(services, line)
		}

		appt := rec.Appointment
		appt.ID = 0
		appt.ClientID = clientID
		appt.Services = nil
		apptID, isNew, err := repo.UpsertAppointment(&appt)
		if err != nil {
			return err
		}
		created = isNew

		return repo.ReplaceServices(apptID, services)
	})
	if err != nil {
		return false, fmt.Errorf("apply appointment %s: %w", rec.Appointment.ExternalID, err)
	}
	w.logger.Debug("appointment applied",
		zap.String("external_id", rec.Appointment.ExternalID),
		zap.Int("services", len(rec.Services)),
		zap.Bool("created", created),
	)
	return created, nil
}

// ApplySale appends a product sale, upserting its client and provider first.
func (w *Writer) ApplySale(ctx context.Context, rec *SaleRecord) (bool, error) {
	var created bool
	err := w.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := replica.NewRepository(tx)

		sale := rec.Sale
		sale.ID = 0
		sale.ClientID = nil
		sale.ProviderID = nil

		if rec.Client != nil {
			client := *rec.Client
			client.ID = 0
			id, err := repo.UpsertClient(&client)
			if err != nil {
				return err
			}
			sale.ClientID = &id
		}
		if rec.Provider != nil {
			p := *rec.Provider
			p.ID = 0
			id, err := repo.UpsertProvider(&p)
			if err != nil {
				return err
			}
			sale.ProviderID = &id
		}

		isNew, err := repo.InsertSale(&sale)
		created = isNew
		return err
	})
	if err != nil {
		return false, fmt.Errorf("apply sale %s: %w", rec.Sale.ExternalID, err)
	}
	w.logger.Debug("sale applied",
		zap.String("external_id", rec.Sale.ExternalID),
		zap.String("sku", rec.Sale.SKU),
		zap.Bool("created", created),
	)
	return created, nil
}

// Outcome is the result of ingesting one raw record.
type Outcome struct {
	Created    bool
	OccurredAt time.Time
}

// Ingestor normalizes and writes raw records of any supported resource.
type Ingestor struct {
	normalizer *Normalizer
	writer     *Writer
}

// NewIngestor pairs a normalizer with a writer.
func NewIngestor(n *Normalizer, w *Writer) *Ingestor {
	return &Ingestor{normalizer: n, writer: w}
}

// Ingest handles one raw node of resource fetched at locationKey.
func (i *Ingestor) Ingest(ctx context.Context, resource string, raw []byte, locationKey string) (Outcome, error) {
	switch resource {
	case platform.ResourceAppointments:
		rec, err := i.normalizer.Normalize(raw, locationKey)
		if err != nil {
			return Outcome{}, err
		}
		created, err := i.writer.Apply(ctx, rec)
		return Outcome{Created: created, OccurredAt: rec.Appointment.StartAt}, err

	case platform.ResourceProductSales:
		rec, err := i.normalizer.NormalizeSale(raw, locationKey)
		if err != nil {
			return Outcome{}, err
		}
		created, err := i.writer.ApplySale(ctx, rec)
		return Outcome{Created: created, OccurredAt: rec.Sale.SoldAt}, err
	}
	return Outcome{}, fmt.Errorf("unknown resource %q", resource)
}

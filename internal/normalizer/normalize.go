// Package normalizer maps raw platform records into replica entities and
// writes them idempotently.
package normalizer

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/mrlokans/clinicsync/internal/entities"
	"github.com/mrlokans/clinicsync/internal/lookup"
)

var (
	ErrMissingID     = errors.New("record has no id")
	ErrMissingClient = errors.New("record has no client")
	ErrMissingStart  = errors.New("appointment has no start time")
)

// Record is one appointment with its client and line items, ready to write.
type Record struct {
	Client      entities.Client
	Appointment entities.Appointment
	Services    []Service
}

// Service is a line item plus the provider who rendered it, if any.
type Service struct {
	entities.AppointmentService
	Provider *entities.Provider
}

// SaleRecord is one product sale with its optional client and provider.
type SaleRecord struct {
	Sale     entities.ProductSale
	Client   *entities.Client
	Provider *entities.Provider
}

type rawRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type rawClient struct {
	ID          string `json:"id"`
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	Name        string `json:"name"`
	Email       string `json:"email"`
	MobilePhone string `json:"mobilePhone"`
}

type rawAppointment struct {
	ID           string     `json:"id"`
	State        string     `json:"state"`
	StartAt      *time.Time `json:"startAt"`
	EndAt        *time.Time `json:"endAt"`
	Notes        string     `json:"notes"`
	Cancelled    bool       `json:"cancelled"`
	Cancellation *struct {
		CancelledAt *time.Time `json:"cancelledAt"`
		Reason      string     `json:"reason"`
		Notes       string     `json:"notes"`
	} `json:"cancellation"`
	Client   *rawClient `json:"client"`
	Services []struct {
		ID       string   `json:"id"`
		Price    *float64 `json:"price"`
		Duration int      `json:"duration"`
		Service  *struct {
			ID       string  `json:"id"`
			Name     string  `json:"name"`
			Category *rawRef `json:"category"`
		} `json:"service"`
		Staff *rawRef `json:"staff"`
	} `json:"appointmentServices"`
}

type rawSale struct {
	ID       string     `json:"id"`
	SoldAt   *time.Time `json:"soldAt"`
	Quantity int        `json:"quantity"`
	NetSales float64    `json:"netSales"`
	Product  *struct {
		SKU  string `json:"sku"`
		Name string `json:"name"`
	} `json:"product"`
	Client *rawClient `json:"client"`
	Staff  *rawRef    `json:"staff"`
}

// Normalizer converts raw records. It performs no I/O.
type Normalizer struct {
	classifier *Classifier
	lookup     *lookup.Table
}

// New creates a normalizer. A nil classifier uses DefaultRules; a nil table
// disables provider name backfill.
func New(classifier *Classifier, table *lookup.Table) *Normalizer {
	if classifier == nil {
		classifier = NewClassifier(DefaultRules)
	}
	return &Normalizer{classifier: classifier, lookup: table}
}

// Normalize maps one raw appointment node fetched at locationKey.
func (n *Normalizer) Normalize(raw []byte, locationKey string) (*Record, error) {
	var in rawAppointment
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, fmt.Errorf("decode appointment: %w", err)
	}
	if strings.TrimSpace(in.ID) == "" {
		return nil, ErrMissingID
	}
	if in.Client == nil || strings.TrimSpace(in.Client.ID) == "" {
		return nil, fmt.Errorf("appointment %s: %w", in.ID, ErrMissingClient)
	}
	if in.StartAt == nil {
		return nil, fmt.Errorf("appointment %s: %w", in.ID, ErrMissingStart)
	}

	rec := &Record{Client: clientFrom(in.Client)}

	start := in.StartAt.UTC()
	end := start
	if in.EndAt != nil {
		end = in.EndAt.UTC()
	}

	appt := entities.Appointment{
		ExternalID:  strings.TrimSpace(in.ID),
		LocationKey: locationKey,
		Status:      strings.ToLower(strings.TrimSpace(in.State)),
		StartAt:     start,
		EndAt:       end,
		Notes:       in.Notes,
	}
	if c := in.Cancellation; c != nil {
		if c.CancelledAt != nil {
			at := c.CancelledAt.UTC()
			appt.CancelledAt = &at
		}
		appt.CancelReason = firstNonEmpty(c.Reason, c.Notes)
	}
	if in.Cancelled || appt.CancelledAt != nil {
		appt.Status = entities.AppointmentStatusCancelled
	}
	rec.Appointment = appt

	for i, s := range in.Services {
		line := Service{AppointmentService: entities.AppointmentService{
			DurationMinutes: s.Duration,
		}}
		if s.Price != nil {
			if math.IsNaN(*s.Price) || math.IsInf(*s.Price, 0) {
				return nil, fmt.Errorf("appointment %s line %d: invalid price", in.ID, i)
			}
			line.Price = *s.Price
		}
		if s.Service != nil {
			line.ServiceName = strings.TrimSpace(s.Service.Name)
			if s.Service.Category != nil {
				line.CategoryName = strings.TrimSpace(s.Service.Category.Name)
			}
		}
		line.ServiceSlug = n.classifier.Classify(line.ServiceName, line.CategoryName)
		line.Provider = n.provider(s.Staff)
		if line.Provider != nil {
			line.ProviderName = line.Provider.Name
		}
		rec.Services = append(rec.Services, line)
	}

	return rec, nil
}

// NormalizeSale maps one raw product sale node fetched at locationKey.
func (n *Normalizer) NormalizeSale(raw []byte, locationKey string) (*SaleRecord, error) {
	var in rawSale
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, fmt.Errorf("decode sale: %w", err)
	}
	if strings.TrimSpace(in.ID) == "" {
		return nil, ErrMissingID
	}
	if in.SoldAt == nil {
		return nil, fmt.Errorf("sale %s has no sale time", in.ID)
	}

	rec := &SaleRecord{Sale: entities.ProductSale{
		ExternalID:  strings.TrimSpace(in.ID),
		SoldAt:      in.SoldAt.UTC(),
		LocationKey: locationKey,
		Quantity:    in.Quantity,
		NetSales:    in.NetSales,
	}}
	if in.Product != nil {
		rec.Sale.SKU = strings.TrimSpace(in.Product.SKU)
		rec.Sale.ProductName = strings.TrimSpace(in.Product.Name)
	}
	if rec.Sale.SKU == "" {
		rec.Sale.SKU = rec.Sale.ProductName
	}
	if in.Client != nil && strings.TrimSpace(in.Client.ID) != "" {
		c := clientFrom(in.Client)
		rec.Client = &c
	}
	rec.Provider = n.provider(in.Staff)
	return rec, nil
}

func (n *Normalizer) provider(staff *rawRef) *entities.Provider {
	if staff == nil || strings.TrimSpace(staff.ID) == "" {
		return nil
	}
	p := &entities.Provider{
		ExternalID: strings.TrimSpace(staff.ID),
		Name:       strings.TrimSpace(staff.Name),
	}
	if p.Name == "" {
		if known, ok := n.lookup.ProviderByExternal(p.ExternalID); ok {
			p.Name = known.Name
		}
	}
	return p
}

func clientFrom(in *rawClient) entities.Client {
	c := entities.Client{
		ExternalID:  strings.TrimSpace(in.ID),
		FirstName:   strings.TrimSpace(in.FirstName),
		LastName:    strings.TrimSpace(in.LastName),
		DisplayName: strings.TrimSpace(in.Name),
		Email:       strings.ToLower(strings.TrimSpace(in.Email)),
		Phone:       strings.TrimSpace(in.MobilePhone),
	}
	c.DisplayName = c.FullName()
	return c
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

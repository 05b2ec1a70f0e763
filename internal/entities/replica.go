package entities

import (
	"strings"
	"time"
)

// Appointment statuses as lower-cased from the platform's state enum.
const (
	AppointmentStatusBooked    = "booked"
	AppointmentStatusConfirmed = "confirmed"
	AppointmentStatusArrived   = "arrived"
	AppointmentStatusActive    = "active"
	AppointmentStatusFinal     = "final"
	AppointmentStatusCompleted = "completed"
	AppointmentStatusCancelled = "cancelled"
)

// Service slugs assigned by the normalizer's classification table.
const (
	ServiceSlugTox    = "tox"
	ServiceSlugFiller = "filler"
)

type Client struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	ExternalID      string     `gorm:"uniqueIndex;size:128;not null" json:"external_id"`
	FirstName       string     `gorm:"size:128" json:"first_name"`
	LastName        string     `gorm:"size:128" json:"last_name"`
	DisplayName     string     `gorm:"index;size:256" json:"display_name"`
	Email           string     `gorm:"index;size:256" json:"email,omitempty"`
	Phone           string     `gorm:"size:64" json:"phone,omitempty"`
	CreditBalance   *float64   `json:"credit_balance,omitempty"`
	CreditCheckedAt *time.Time `json:"credit_checked_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// FullName returns the richest name available for the client.
func (c Client) FullName() string {
	joined := strings.TrimSpace(strings.TrimSpace(c.FirstName) + " " + strings.TrimSpace(c.LastName))
	display := strings.TrimSpace(c.DisplayName)
	if len(display) > len(joined) {
		return display
	}
	return joined
}

type Provider struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	ExternalID string    `gorm:"uniqueIndex;size:128;not null" json:"external_id"`
	Name       string    `gorm:"size:256" json:"name"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type Appointment struct {
	ID           uint                 `gorm:"primaryKey" json:"id"`
	ExternalID   string               `gorm:"uniqueIndex;size:128;not null" json:"external_id"`
	ClientID     uint                 `gorm:"index" json:"client_id"`
	Client       Client               `gorm:"foreignKey:ClientID" json:"-"`
	LocationKey  string               `gorm:"index;size:64" json:"location_key"`
	Status       string               `gorm:"index;size:32" json:"status"`
	StartAt      time.Time            `gorm:"index" json:"start_at"`
	EndAt        time.Time            `json:"end_at"`
	CancelledAt  *time.Time           `json:"cancelled_at,omitempty"`
	CancelReason string               `gorm:"size:256" json:"cancel_reason,omitempty"`
	Notes        string               `gorm:"type:text" json:"notes,omitempty"`
	Services     []AppointmentService `gorm:"foreignKey:AppointmentID" json:"services,omitempty"`
	CreatedAt    time.Time            `json:"created_at"`
	UpdatedAt    time.Time            `json:"updated_at"`
}

// IsCancelled reports whether the appointment was cancelled on the platform.
func (a Appointment) IsCancelled() bool {
	return a.CancelledAt != nil || a.Status == AppointmentStatusCancelled || a.Status == "canceled"
}

// IsCompleted reports whether the visit actually happened.
func (a Appointment) IsCompleted() bool {
	if a.IsCancelled() {
		return false
	}
	return a.Status == AppointmentStatusFinal || a.Status == AppointmentStatusCompleted
}

type AppointmentService struct {
	ID              uint    `gorm:"primaryKey" json:"id"`
	AppointmentID   uint    `gorm:"index;not null" json:"appointment_id"`
	ServiceName     string  `gorm:"size:256" json:"service_name"`
	CategoryName    string  `gorm:"size:256" json:"category_name,omitempty"`
	ServiceSlug     *string `gorm:"index;size:64" json:"service_slug"`
	ProviderID      *uint   `gorm:"index" json:"provider_id,omitempty"`
	ProviderName    string  `gorm:"size:256" json:"provider_name,omitempty"`
	Price           float64 `json:"price"`
	DurationMinutes int     `json:"duration_minutes"`
}

// HasSlug reports whether the line item was classified as slug.
func (s AppointmentService) HasSlug(slug string) bool {
	return s.ServiceSlug != nil && *s.ServiceSlug == slug
}

type ProductSale struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	ExternalID  string    `gorm:"uniqueIndex;size:128;not null" json:"external_id"`
	SoldAt      time.Time `gorm:"index" json:"sold_at"`
	ClientID    *uint     `gorm:"index" json:"client_id,omitempty"`
	ProviderID  *uint     `gorm:"index" json:"provider_id,omitempty"`
	LocationKey string    `gorm:"index;size:64" json:"location_key"`
	SKU         string    `gorm:"index;size:128" json:"sku"`
	ProductName string    `gorm:"size:256" json:"product_name"`
	Quantity    int       `json:"quantity"`
	NetSales    float64   `json:"net_sales"`
	CreatedAt   time.Time `json:"created_at"`
}

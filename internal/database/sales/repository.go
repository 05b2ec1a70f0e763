// Package sales provides read queries over replicated product sales.
package sales

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/mrlokans/clinicsync/internal/entities"
)

// Filter narrows the sales a query aggregates.
type Filter struct {
	SKU         string
	LocationKey string
	ProviderIDs []uint
	Search      string
}

// Product is one SKU seen in the sales history.
type Product struct {
	SKU         string    `json:"sku"`
	ProductName string    `json:"product_name"`
	TotalUnits  int       `json:"total_units"`
	LastSoldAt  time.Time `json:"last_sold_at"`
}

// RepeatStat counts a SKU's distinct purchasers and those who bought it more
// than once.
type RepeatStat struct {
	SKU      string
	Buyers   int
	Repeater int
}

// Repository handles product sale queries.
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new sales repository.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) scoped(ctx context.Context, f Filter) *gorm.DB {
	q := r.db.WithContext(ctx).Model(&entities.ProductSale{}).Where("sku <> ''")
	if f.SKU != "" {
		q = q.Where("sku = ?", f.SKU)
	}
	if f.LocationKey != "" {
		q = q.Where("location_key = ?", f.LocationKey)
	}
	if len(f.ProviderIDs) > 0 {
		q = q.Where("provider_id IN ?", f.ProviderIDs)
	}
	if s := strings.ToLower(strings.TrimSpace(f.Search)); s != "" {
		like := "%" + s + "%"
		q = q.Where("LOWER(sku) LIKE ? OR LOWER(product_name) LIKE ?", like, like)
	}
	return q
}

// Products lists every SKU matching f with its most recent product name.
func (r *Repository) Products(ctx context.Context, f Filter) ([]Product, error) {
	type row struct {
		SKU        string
		TotalUnits int
	}
	var rows []row
	err := r.scoped(ctx, f).
		Select("sku, SUM(quantity) AS total_units").
		Group("sku").
		Order("sku").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}

	out := make([]Product, 0, len(rows))
	for _, rw := range rows {
		var latest entities.ProductSale
		err := r.db.WithContext(ctx).
			Where("sku = ?", rw.SKU).
			Order("sold_at DESC, id DESC").
			Limit(1).
			Find(&latest).Error
		if err != nil {
			return nil, fmt.Errorf("latest sale for %s: %w", rw.SKU, err)
		}
		out = append(out, Product{
			SKU:         rw.SKU,
			ProductName: latest.ProductName,
			TotalUnits:  rw.TotalUnits,
			LastSoldAt:  latest.SoldAt,
		})
	}
	return out, nil
}

// UnitsBySKU sums quantities sold in [since, until) per SKU. Sale times are
// stored in UTC, so the bounds are compared in UTC too.
func (r *Repository) UnitsBySKU(ctx context.Context, f Filter, since, until time.Time) (map[string]int, error) {
	type row struct {
		SKU   string
		Units int
	}
	var rows []row
	err := r.scoped(ctx, f).
		Select("sku, SUM(quantity) AS units").
		Where("sold_at >= ? AND sold_at < ?", since.UTC(), until.UTC()).
		Group("sku").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("sum units: %w", err)
	}

	out := make(map[string]int, len(rows))
	for _, rw := range rows {
		out[rw.SKU] = rw.Units
	}
	return out, nil
}

// RepeatBySKU counts, over all time, how many distinct known clients bought
// each SKU and how many of them bought it more than once.
func (r *Repository) RepeatBySKU(ctx context.Context, f Filter) (map[string]RepeatStat, error) {
	perClient := r.scoped(ctx, f).
		Select("sku, client_id, COUNT(*) AS purchases").
		Where("client_id IS NOT NULL").
		Group("sku, client_id")

	var rows []RepeatStat
	err := r.db.WithContext(ctx).
		Table("(?) AS per_client", perClient).
		Select("sku, COUNT(*) AS buyers, SUM(CASE WHEN purchases > 1 THEN 1 ELSE 0 END) AS repeater").
		Group("sku").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("repeat purchases: %w", err)
	}

	out := make(map[string]RepeatStat, len(rows))
	for _, rw := range rows {
		out[rw.SKU] = rw
	}
	return out, nil
}

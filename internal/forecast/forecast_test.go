package forecast

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrlokans/clinicsync/internal/database"
	"github.com/mrlokans/clinicsync/internal/database/sales"
	"github.com/mrlokans/clinicsync/internal/entities"
)

var now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func setupTestDB(t *testing.T) *database.Database {
	db, err := database.NewQuietDatabase(filepath.Join(t.TempDir(), "forecast.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func seedSale(t *testing.T, db *database.Database, ext, sku string, client *uint, qty int, ago time.Duration) {
	require.NoError(t, db.DB.Create(&entities.ProductSale{
		ExternalID:  ext,
		SKU:         sku,
		ProductName: sku + " product",
		ClientID:    client,
		Quantity:    qty,
		SoldAt:      now.Add(-ago),
	}).Error)
}

func TestRateProjection(t *testing.T) {
	var est RateProjection

	assert.InDelta(t, 12, est.Estimate(12, 30, 30), 0.0001)
	assert.InDelta(t, 4, est.Estimate(12, 90, 30), 0.0001)
	assert.Zero(t, est.Estimate(0, 30, 30))
	assert.Zero(t, est.Estimate(5, 0, 30))
}

func TestRepeatRatePct(t *testing.T) {
	assert.Zero(t, RepeatRatePct(0, 0))
	assert.Zero(t, RepeatRatePct(5, 0))
	assert.InDelta(t, 50, RepeatRatePct(2, 1), 0.0001)
	assert.InDelta(t, 33.3, RepeatRatePct(3, 1), 0.0001)
}

func TestEngine_All(t *testing.T) {
	db := setupTestDB(t)

	var clients []uint
	for _, ext := range []string{"c1", "c2"} {
		c := entities.Client{ExternalID: ext}
		require.NoError(t, db.DB.Create(&c).Error)
		clients = append(clients, c.ID)
	}

	day := 24 * time.Hour
	seedSale(t, db, "s1", "SPF", &clients[0], 4, 5*day)
	seedSale(t, db, "s2", "SPF", &clients[0], 6, 20*day)
	seedSale(t, db, "s3", "SPF", &clients[1], 5, 60*day)
	seedSale(t, db, "s4", "OLD", &clients[1], 3, 200*day)

	engine := NewEngine(sales.NewRepository(db.DB), nil, 20)
	all, err := engine.All(context.Background(), sales.Filter{}, now)
	require.NoError(t, err)
	require.Len(t, all, 2)

	old := all[0]
	assert.Equal(t, "OLD", old.SKU)
	assert.Zero(t, old.Units90d)
	assert.Zero(t, old.Forecast90d)
	assert.Zero(t, old.SuggestedOrder90d)
	assert.Zero(t, old.SuggestedOrder30d)

	spf := all[1]
	assert.Equal(t, "SPF", spf.SKU)
	assert.Equal(t, "SPF product", spf.ProductName)
	assert.Equal(t, 10, spf.Units30d)
	assert.Equal(t, 15, spf.Units90d)
	assert.InDelta(t, 10, spf.Forecast30d, 0.0001)
	assert.InDelta(t, 15, spf.Forecast90d, 0.0001)
	assert.Equal(t, 12, spf.SuggestedOrder30d)
	assert.Equal(t, 18, spf.SuggestedOrder90d)
	assert.Equal(t, 2, spf.Buyers)
	assert.Equal(t, 1, spf.RepeatBuyers)
	assert.InDelta(t, 50, spf.RepeatRatePct, 0.0001)
	require.NotNil(t, spf.LastSoldAt)
}

func TestEngine_Forecast_ZeroCase(t *testing.T) {
	db := setupTestDB(t)
	engine := NewEngine(sales.NewRepository(db.DB), nil, 20)

	fc, err := engine.Forecast(context.Background(), "NEVER-SOLD", now)
	require.NoError(t, err)
	assert.Equal(t, "NEVER-SOLD", fc.SKU)
	assert.Zero(t, fc.Units30d)
	assert.Zero(t, fc.Units90d)
	assert.Zero(t, fc.Forecast90d)
	assert.Zero(t, fc.SuggestedOrder90d)
	assert.Zero(t, fc.RepeatRatePct)
}

type failingSource struct{}

func (failingSource) Products(context.Context, sales.Filter) ([]sales.Product, error) {
	return nil, errors.New("db down")
}

func (failingSource) UnitsBySKU(context.Context, sales.Filter, time.Time, time.Time) (map[string]int, error) {
	return nil, nil
}

func (failingSource) RepeatBySKU(context.Context, sales.Filter) (map[string]sales.RepeatStat, error) {
	return nil, nil
}

func TestEngine_PropagatesErrors(t *testing.T) {
	engine := NewEngine(failingSource{}, nil, 20)

	_, err := engine.All(context.Background(), sales.Filter{}, now)
	assert.Error(t, err)
}

type doubling struct{}

func (doubling) Estimate(units, _, _ int) float64 { return float64(units * 2) }

func TestEngine_CustomEstimator(t *testing.T) {
	engine := NewEngine(nil, doubling{}, 0)

	fc := engine.build("X", 3, 9, sales.RepeatStat{})
	assert.InDelta(t, 6, fc.Forecast30d, 0.0001)
	assert.Equal(t, 6, fc.SuggestedOrder30d)
	assert.Equal(t, 18, fc.SuggestedOrder90d)
}

// Package forecast projects per-SKU demand from trailing sales windows and
// suggests reorder quantities.
package forecast

import (
	"context"
	"math"
	"time"

	"github.com/mrlokans/clinicsync/internal/database/sales"
)

const (
	Window30 = 30
	Window90 = 90
)

// Estimator projects demand over horizonDays from units sold in the trailing
// windowDays.
type Estimator interface {
	Estimate(units, windowDays, horizonDays int) float64
}

// RateProjection extends the trailing daily rate over the horizon.
type RateProjection struct{}

func (RateProjection) Estimate(units, windowDays, horizonDays int) float64 {
	if units <= 0 || windowDays <= 0 || horizonDays <= 0 {
		return 0
	}
	return float64(units) / float64(windowDays) * float64(horizonDays)
}

// SalesSource is the read side of the sales repository.
type SalesSource interface {
	Products(ctx context.Context, f sales.Filter) ([]sales.Product, error)
	UnitsBySKU(ctx context.Context, f sales.Filter, since, until time.Time) (map[string]int, error)
	RepeatBySKU(ctx context.Context, f sales.Filter) (map[string]sales.RepeatStat, error)
}

// Forecast is the demand picture of one SKU.
type Forecast struct {
	SKU               string     `json:"sku"`
	ProductName       string     `json:"product_name"`
	Units30d          int        `json:"units_30d"`
	Units90d          int        `json:"units_90d"`
	Forecast30d       float64    `json:"forecast_30d"`
	Forecast90d       float64    `json:"forecast_90d"`
	SuggestedOrder30d int        `json:"suggested_order_30d"`
	SuggestedOrder90d int        `json:"suggested_order_90d"`
	RepeatRatePct     float64    `json:"repeat_rate_pct"`
	Buyers            int        `json:"buyers"`
	RepeatBuyers      int        `json:"repeat_buyers"`
	LastSoldAt        *time.Time `json:"last_sold_at,omitempty"`
}

// Engine computes forecasts. It only reads.
type Engine struct {
	sales          SalesSource
	estimator      Estimator
	safetyStockPct float64
}

// NewEngine creates an engine. A nil estimator uses RateProjection.
func NewEngine(src SalesSource, estimator Estimator, safetyStockPct float64) *Engine {
	if estimator == nil {
		estimator = RateProjection{}
	}
	if safetyStockPct < 0 {
		safetyStockPct = 0
	}
	return &Engine{sales: src, estimator: estimator, safetyStockPct: safetyStockPct}
}

// All forecasts every SKU matching f.
func (e *Engine) All(ctx context.Context, f sales.Filter, now time.Time) ([]Forecast, error) {
	products, err := e.sales.Products(ctx, f)
	if err != nil {
		return nil, err
	}
	units30, err := e.sales.UnitsBySKU(ctx, f, now.AddDate(0, 0, -Window30), now)
	if err != nil {
		return nil, err
	}
	units90, err := e.sales.UnitsBySKU(ctx, f, now.AddDate(0, 0, -Window90), now)
	if err != nil {
		return nil, err
	}
	repeats, err := e.sales.RepeatBySKU(ctx, f)
	if err != nil {
		return nil, err
	}

	out := make([]Forecast, 0, len(products))
	for _, p := range products {
		fc := e.build(p.SKU, units30[p.SKU], units90[p.SKU], repeats[p.SKU])
		fc.ProductName = p.ProductName
		if !p.LastSoldAt.IsZero() {
			last := p.LastSoldAt
			fc.LastSoldAt = &last
		}
		out = append(out, fc)
	}
	return out, nil
}

// Forecast computes one SKU. A SKU with no sales yields zeros.
func (e *Engine) Forecast(ctx context.Context, sku string, now time.Time) (*Forecast, error) {
	all, err := e.All(ctx, sales.Filter{SKU: sku}, now)
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		fc := e.build(sku, 0, 0, sales.RepeatStat{})
		return &fc, nil
	}
	return &all[0], nil
}

func (e *Engine) build(sku string, units30, units90 int, rep sales.RepeatStat) Forecast {
	fc := Forecast{
		SKU:          sku,
		Units30d:     units30,
		Units90d:     units90,
		Forecast30d:  round2(e.estimator.Estimate(units30, Window30, Window30)),
		Forecast90d:  round2(e.estimator.Estimate(units90, Window90, Window90)),
		Buyers:       rep.Buyers,
		RepeatBuyers: rep.Repeater,
	}
	fc.SuggestedOrder30d = e.suggest(fc.Forecast30d)
	fc.SuggestedOrder90d = e.suggest(fc.Forecast90d)
	fc.RepeatRatePct = RepeatRatePct(rep.Buyers, rep.Repeater)
	return fc
}

// suggest pads the forecast with safety stock and rounds up to whole units.
func (e *Engine) suggest(forecast float64) int {
	if forecast <= 0 || math.IsNaN(forecast) || math.IsInf(forecast, 0) {
		return 0
	}
	return int(math.Ceil(round2(forecast * (1 + e.safetyStockPct/100))))
}

// RepeatRatePct is the share of buyers who bought more than once, in
// percent with one decimal. No buyers is 0.
func RepeatRatePct(buyers, repeaters int) float64 {
	if buyers <= 0 || repeaters <= 0 {
		return 0
	}
	return math.Round(float64(repeaters)/float64(buyers)*1000) / 10
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

package drilldown

import (
	"cmp"
	"sort"
	"strings"
	"time"

	"github.com/mrlokans/clinicsync/internal/forecast"
	"github.com/mrlokans/clinicsync/internal/segments"
)

// Sort directions.
const (
	Asc  = "asc"
	Desc = "desc"
)

type sortSpec[T any] struct {
	columns map[string]func(a, b T) int
	def     string
}

// resolve parses "column" or "column:direction". Anything outside the
// allow-list falls back to the default sort as a whole.
func (s sortSpec[T]) resolve(raw string) (string, string) {
	col, dir, _ := strings.Cut(strings.ToLower(strings.TrimSpace(raw)), ":")
	if _, ok := s.columns[col]; !ok || (dir != "" && dir != Asc && dir != Desc) {
		col, dir, _ = strings.Cut(s.def, ":")
		return col, dir
	}
	if dir == "" {
		dir = Asc
	}
	return col, dir
}

// apply sorts rows in place and returns the sort actually used.
func (s sortSpec[T]) apply(rows []T, raw string, tiebreak func(a, b T) int) string {
	col, dir := s.resolve(raw)
	less := s.columns[col]
	sort.SliceStable(rows, func(i, j int) bool {
		c := less(rows[i], rows[j])
		if dir == Desc {
			c = -c
		}
		if c == 0 && tiebreak != nil {
			c = tiebreak(rows[i], rows[j])
		}
		return c < 0
	})
	return col + ":" + dir
}

func cmpFold(a, b string) int {
	return strings.Compare(strings.ToLower(a), strings.ToLower(b))
}

// cmpTime orders nil after every time.
func cmpTime(a, b *time.Time) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	}
	return a.Compare(*b)
}

var toxSort = sortSpec[segments.ToxRow]{
	def: "days_since_last:desc",
	columns: map[string]func(a, b segments.ToxRow) int{
		"name":            func(a, b segments.ToxRow) int { return cmpFold(a.Name, b.Name) },
		"segment":         func(a, b segments.ToxRow) int { return cmp.Compare(toxRank(a.Segment), toxRank(b.Segment)) },
		"days_since_last": func(a, b segments.ToxRow) int { return cmp.Compare(a.DaysSinceLast, b.DaysSinceLast) },
		"ratio":           func(a, b segments.ToxRow) int { return cmp.Compare(a.Ratio, b.Ratio) },
		"last_tox_at":     func(a, b segments.ToxRow) int { return cmpTime(a.LastToxAt, b.LastToxAt) },
		"tox_visit_count": func(a, b segments.ToxRow) int { return cmp.Compare(a.ToxVisitCount, b.ToxVisitCount) },
		"tox_spend":       func(a, b segments.ToxRow) int { return cmp.Compare(a.ToxSpend, b.ToxSpend) },
		"provider":        func(a, b segments.ToxRow) int { return cmpFold(a.ProviderName, b.ProviderName) },
		"location":        func(a, b segments.ToxRow) int { return cmpFold(a.LocationKey, b.LocationKey) },
	},
}

var rebookingSort = sortSpec[segments.RebookingRow]{
	def: "hours_since_last:asc",
	columns: map[string]func(a, b segments.RebookingRow) int{
		"name":             func(a, b segments.RebookingRow) int { return cmpFold(a.Name, b.Name) },
		"bucket":           func(a, b segments.RebookingRow) int { return cmp.Compare(bucketRank(a.Bucket), bucketRank(b.Bucket)) },
		"hours_since_last": func(a, b segments.RebookingRow) int { return cmp.Compare(a.HoursSinceLast, b.HoursSinceLast) },
		"last_visit_at":    func(a, b segments.RebookingRow) int { return cmpTime(a.LastVisitAt, b.LastVisitAt) },
		"visit_count":      func(a, b segments.RebookingRow) int { return cmp.Compare(a.VisitCount, b.VisitCount) },
		"total_spend":      func(a, b segments.RebookingRow) int { return cmp.Compare(a.TotalSpend, b.TotalSpend) },
		"provider":         func(a, b segments.RebookingRow) int { return cmpFold(a.ProviderName, b.ProviderName) },
		"location":         func(a, b segments.RebookingRow) int { return cmpFold(a.LocationKey, b.LocationKey) },
	},
}

var actionSort = sortSpec[segments.ActionRow]{
	def: "days_since:desc",
	columns: map[string]func(a, b segments.ActionRow) int{
		"name":       func(a, b segments.ActionRow) int { return cmpFold(a.Name, b.Name) },
		"kind":       func(a, b segments.ActionRow) int { return strings.Compare(a.Kind, b.Kind) },
		"segment":    func(a, b segments.ActionRow) int { return strings.Compare(a.Segment, b.Segment) },
		"days_since": func(a, b segments.ActionRow) int { return cmp.Compare(a.DaysSince, b.DaysSince) },
		"spend":      func(a, b segments.ActionRow) int { return cmp.Compare(a.Spend, b.Spend) },
		"provider":   func(a, b segments.ActionRow) int { return cmpFold(a.ProviderName, b.ProviderName) },
		"location":   func(a, b segments.ActionRow) int { return cmpFold(a.LocationKey, b.LocationKey) },
	},
}

var productSort = sortSpec[forecast.Forecast]{
	def: "units_90d:desc",
	columns: map[string]func(a, b forecast.Forecast) int{
		"sku":                 func(a, b forecast.Forecast) int { return cmpFold(a.SKU, b.SKU) },
		"product_name":        func(a, b forecast.Forecast) int { return cmpFold(a.ProductName, b.ProductName) },
		"units_30d":           func(a, b forecast.Forecast) int { return cmp.Compare(a.Units30d, b.Units30d) },
		"units_90d":           func(a, b forecast.Forecast) int { return cmp.Compare(a.Units90d, b.Units90d) },
		"suggested_order_30d": func(a, b forecast.Forecast) int { return cmp.Compare(a.SuggestedOrder30d, b.SuggestedOrder30d) },
		"suggested_order_90d": func(a, b forecast.Forecast) int { return cmp.Compare(a.SuggestedOrder90d, b.SuggestedOrder90d) },
		"repeat_rate_pct":     func(a, b forecast.Forecast) int { return cmp.Compare(a.RepeatRatePct, b.RepeatRatePct) },
		"last_sold_at":        func(a, b forecast.Forecast) int { return cmpTime(a.LastSoldAt, b.LastSoldAt) },
	},
}

func toxRank(s segments.Segment) int {
	for i, v := range segments.ToxSegments {
		if v == s {
			return i
		}
	}
	return len(segments.ToxSegments)
}

func bucketRank(b segments.Bucket) int {
	for i, v := range segments.RebookingBuckets {
		if v == b {
			return i
		}
	}
	return len(segments.RebookingBuckets)
}

package drilldown

import (
	"encoding/csv"
	"io"
	"strconv"
	"time"

	"github.com/mrlokans/clinicsync/internal/forecast"
	"github.com/mrlokans/clinicsync/internal/segments"
)

type column[T any] struct {
	header string
	value  func(T) string
}

func clientColumns[T any](info func(T) segments.ClientInfo) []column[T] {
	return []column[T]{
		{"client_id", func(r T) string { return strconv.FormatUint(uint64(info(r).ClientID), 10) }},
		{"external_id", func(r T) string { return info(r).ExternalID }},
		{"name", func(r T) string { return info(r).Name }},
		{"email", func(r T) string { return info(r).Email }},
		{"phone", func(r T) string { return info(r).Phone }},
		{"location", func(r T) string { return info(r).LocationName }},
		{"provider", func(r T) string { return info(r).ProviderName }},
	}
}

var toxColumns = append(clientColumns(func(r segments.ToxRow) segments.ClientInfo { return r.ClientInfo }),
	column[segments.ToxRow]{"segment", func(r segments.ToxRow) string { return string(r.Segment) }},
	column[segments.ToxRow]{"tox_visit_count", func(r segments.ToxRow) string { return strconv.Itoa(r.ToxVisitCount) }},
	column[segments.ToxRow]{"tox_spend", func(r segments.ToxRow) string { return formatFloat(r.ToxSpend) }},
	column[segments.ToxRow]{"last_tox_at", func(r segments.ToxRow) string { return formatTime(r.LastToxAt) }},
	column[segments.ToxRow]{"next_tox_at", func(r segments.ToxRow) string { return formatTime(r.NextToxAt) }},
	column[segments.ToxRow]{"interval_days", func(r segments.ToxRow) string { return formatFloat(r.IntervalDays) }},
	column[segments.ToxRow]{"days_since_last", func(r segments.ToxRow) string { return formatFloat(r.DaysSinceLast) }},
)

var rebookingColumns = append(clientColumns(func(r segments.RebookingRow) segments.ClientInfo { return r.ClientInfo }),
	column[segments.RebookingRow]{"bucket", func(r segments.RebookingRow) string { return string(r.Bucket) }},
	column[segments.RebookingRow]{"visit_count", func(r segments.RebookingRow) string { return strconv.Itoa(r.VisitCount) }},
	column[segments.RebookingRow]{"total_spend", func(r segments.RebookingRow) string { return formatFloat(r.TotalSpend) }},
	column[segments.RebookingRow]{"last_visit_at", func(r segments.RebookingRow) string { return formatTime(r.LastVisitAt) }},
	column[segments.RebookingRow]{"hours_since_last", func(r segments.RebookingRow) string { return formatFloat(r.HoursSinceLast) }},
)

var actionColumns = append(clientColumns(func(r segments.ActionRow) segments.ClientInfo { return r.ClientInfo }),
	column[segments.ActionRow]{"kind", func(r segments.ActionRow) string { return r.Kind }},
	column[segments.ActionRow]{"segment", func(r segments.ActionRow) string { return r.Segment }},
	column[segments.ActionRow]{"last_visit_at", func(r segments.ActionRow) string { return formatTime(r.LastVisitAt) }},
	column[segments.ActionRow]{"days_since", func(r segments.ActionRow) string { return formatFloat(r.DaysSince) }},
	column[segments.ActionRow]{"spend", func(r segments.ActionRow) string { return formatFloat(r.Spend) }},
)

var productColumns = []column[forecast.Forecast]{
	{"sku", func(r forecast.Forecast) string { return r.SKU }},
	{"product_name", func(r forecast.Forecast) string { return r.ProductName }},
	{"units_30d", func(r forecast.Forecast) string { return strconv.Itoa(r.Units30d) }},
	{"units_90d", func(r forecast.Forecast) string { return strconv.Itoa(r.Units90d) }},
	{"forecast_30d", func(r forecast.Forecast) string { return formatFloat(r.Forecast30d) }},
	{"forecast_90d", func(r forecast.Forecast) string { return formatFloat(r.Forecast90d) }},
	{"suggested_order_30d", func(r forecast.Forecast) string { return strconv.Itoa(r.SuggestedOrder30d) }},
	{"suggested_order_90d", func(r forecast.Forecast) string { return strconv.Itoa(r.SuggestedOrder90d) }},
	{"repeat_rate_pct", func(r forecast.Forecast) string { return formatFloat(r.RepeatRatePct) }},
	{"last_sold_at", func(r forecast.Forecast) string { return formatTime(r.LastSoldAt) }},
}

func writeCSV[T any](w io.Writer, cols []column[T], rows []T) error {
	cw := csv.NewWriter(w)

	record := make([]string, len(cols))
	for i, c := range cols {
		record[i] = c.header
	}
	if err := cw.Write(record); err != nil {
		return err
	}

	for _, r := range rows {
		for i, c := range cols {
			record[i] = c.value(r)
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

// WriteToxCSV writes a header row and one row per client.
func WriteToxCSV(w io.Writer, rows []segments.ToxRow) error {
	return writeCSV(w, toxColumns, rows)
}

// WriteRebookingCSV writes a header row and one row per client.
func WriteRebookingCSV(w io.Writer, rows []segments.RebookingRow) error {
	return writeCSV(w, rebookingColumns, rows)
}

// WriteActionsCSV writes a header row and one row per action.
func WriteActionsCSV(w io.Writer, rows []segments.ActionRow) error {
	return writeCSV(w, actionColumns, rows)
}

// WriteProductsCSV writes a header row and one row per SKU.
func WriteProductsCSV(w io.Writer, rows []forecast.Forecast) error {
	return writeCSV(w, productColumns, rows)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

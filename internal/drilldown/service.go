// Package drilldown serves paginated, filterable and sortable views of the
// segmentation and forecast outputs, plus unpaginated exports of the same
// views.
package drilldown

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mrlokans/clinicsync/internal/database/sales"
	"github.com/mrlokans/clinicsync/internal/database/summaries"
	"github.com/mrlokans/clinicsync/internal/entities"
	"github.com/mrlokans/clinicsync/internal/forecast"
	"github.com/mrlokans/clinicsync/internal/lookup"
	"github.com/mrlokans/clinicsync/internal/segments"
)

const (
	DefaultPageSize = 25
	MaxPageSize     = 200

	// SegmentActionable selects every tox segment except on_schedule.
	SegmentActionable = "actionable"

	// Product segments.
	SegmentReorder = "reorder"
	SegmentStale   = "stale"
)

// ErrInvalidFilter is returned for a segment value the view does not know.
var ErrInvalidFilter = errors.New("invalid filter")

// Filters narrow a view. Every field is optional.
type Filters struct {
	Location string
	Provider string
	Segment  string
	Search   string
	Sort     string
}

// Result is one page of a view. Summary counts cover every row matching the
// filters other than Segment, so they add up across segments.
type Result[T any] struct {
	Rows       []T            `json:"rows"`
	Total      int            `json:"total"`
	Page       int            `json:"page"`
	PageSize   int            `json:"pageSize"`
	TotalPages int            `json:"totalPages"`
	Sort       string         `json:"sort"`
	Summary    map[string]int `json:"summary"`
	ComputedAt *time.Time     `json:"computedAt,omitempty"`
}

// Export is a whole view, capped at the service's row limit.
type Export[T any] struct {
	Rows      []T
	Total     int
	Truncated bool
}

// SummarySource reads materialized client summaries.
type SummarySource interface {
	ToxRows(ctx context.Context, f summaries.Filter) ([]entities.ClientToxSummary, error)
	VisitRows(ctx context.Context, f summaries.Filter) ([]entities.ClientVisitSummary, error)
	LastComputedAt(ctx context.Context) (*time.Time, error)
}

// ForecastSource computes SKU forecasts.
type ForecastSource interface {
	All(ctx context.Context, f sales.Filter, now time.Time) ([]forecast.Forecast, error)
}

// LookupLoader snapshots reference data for one request.
type LookupLoader func(ctx context.Context) (*lookup.Table, error)

// Service builds drilldown views.
type Service struct {
	summaries     SummarySource
	forecasts     ForecastSource
	loadLookup    LookupLoader
	thresholds    segments.Thresholds
	maxExportRows int
	now           func() time.Time
}

// NewService creates a drilldown service.
func NewService(src SummarySource, fc ForecastSource, loader LookupLoader, th segments.Thresholds, maxExportRows int) *Service {
	if maxExportRows <= 0 {
		maxExportRows = 10000
	}
	if loader == nil {
		loader = func(context.Context) (*lookup.Table, error) { return nil, nil }
	}
	return &Service{
		summaries:     src,
		forecasts:     fc,
		loadLookup:    loader,
		thresholds:    th,
		maxExportRows: maxExportRows,
		now:           time.Now,
	}
}

// WithClock returns a copy of the service using now as its time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	c := *s
	c.now = now
	return &c
}

// MaxExportRows is the cap applied to exports.
func (s *Service) MaxExportRows() int {
	return s.maxExportRows
}

type scope struct {
	table   *lookup.Table
	filter  summaries.Filter
	noMatch bool
}

func (s *Service) scope(ctx context.Context, f Filters) (scope, error) {
	table, err := s.loadLookup(ctx)
	if err != nil {
		return scope{}, fmt.Errorf("load lookup: %w", err)
	}
	sc := scope{
		table: table,
		filter: summaries.Filter{
			LocationKey: strings.TrimSpace(f.Location),
			Search:      f.Search,
		},
	}
	if p := strings.TrimSpace(f.Provider); p != "" {
		sc.filter.ProviderIDs = table.MatchProviders(p)
		sc.noMatch = len(sc.filter.ProviderIDs) == 0
	}
	return sc, nil
}

func (s *Service) toxView(ctx context.Context, f Filters) ([]segments.ToxRow, map[string]int, string, error) {
	var segFilter func(segments.Segment) bool
	switch seg := strings.TrimSpace(f.Segment); seg {
	case "":
	case SegmentActionable:
		segFilter = segments.IsActionable
	default:
		want, ok := segments.ParseSegment(seg)
		if !ok {
			return nil, nil, "", fmt.Errorf("%w: unknown tox segment %q", ErrInvalidFilter, seg)
		}
		segFilter = func(s segments.Segment) bool { return s == want }
	}

	summary := make(map[string]int, len(segments.ToxSegments)+1)
	for _, seg := range segments.ToxSegments {
		summary[string(seg)] = 0
	}
	summary[SegmentActionable] = 0

	sc, err := s.scope(ctx, f)
	if err != nil || sc.noMatch {
		return nil, summary, toxSort.apply(nil, f.Sort, nil), err
	}
	candidates, err := s.summaries.ToxRows(ctx, sc.filter)
	if err != nil {
		return nil, nil, "", err
	}

	all := segments.NewEngine(s.thresholds, sc.table).Tox(candidates, s.now())
	rows := all[:0]
	for _, r := range all {
		summary[string(r.Segment)]++
		if segments.IsActionable(r.Segment) {
			summary[SegmentActionable]++
		}
		if segFilter == nil || segFilter(r.Segment) {
			rows = append(rows, r)
		}
	}

	used := toxSort.apply(rows, f.Sort, func(a, b segments.ToxRow) int { return cmp.Compare(a.ClientID, b.ClientID) })
	return rows, summary, used, nil
}

func (s *Service) rebookingView(ctx context.Context, f Filters) ([]segments.RebookingRow, map[string]int, string, error) {
	var want segments.Bucket
	if seg := strings.TrimSpace(f.Segment); seg != "" {
		b, ok := segments.ParseBucket(seg)
		if !ok {
			return nil, nil, "", fmt.Errorf("%w: unknown rebooking bucket %q", ErrInvalidFilter, seg)
		}
		want = b
	}

	summary := make(map[string]int, len(segments.RebookingBuckets))
	for _, b := range segments.RebookingBuckets {
		summary[string(b)] = 0
	}

	sc, err := s.scope(ctx, f)
	if err != nil || sc.noMatch {
		return nil, summary, rebookingSort.apply(nil, f.Sort, nil), err
	}
	candidates, err := s.summaries.VisitRows(ctx, sc.filter)
	if err != nil {
		return nil, nil, "", err
	}

	all := segments.NewEngine(s.thresholds, sc.table).Rebooking(candidates, s.now())
	rows := all[:0]
	for _, r := range all {
		summary[string(r.Bucket)]++
		if want == "" || r.Bucket == want {
			rows = append(rows, r)
		}
	}

	used := rebookingSort.apply(rows, f.Sort, func(a, b segments.RebookingRow) int { return cmp.Compare(a.ClientID, b.ClientID) })
	return rows, summary, used, nil
}

func (s *Service) actionsView(ctx context.Context, f Filters) ([]segments.ActionRow, map[string]int, string, error) {
	seg := strings.TrimSpace(f.Segment)
	if seg != "" && seg != segments.ActionTox && seg != segments.ActionRebooking {
		_, isSeg := segments.ParseSegment(seg)
		_, isBucket := segments.ParseBucket(seg)
		if !isBucket && (!isSeg || seg == string(segments.SegmentOnSchedule)) {
			return nil, nil, "", fmt.Errorf("%w: unknown action segment %q", ErrInvalidFilter, seg)
		}
	}

	unfiltered := f
	unfiltered.Segment = ""
	unfiltered.Sort = ""
	tox, _, _, err := s.toxView(ctx, unfiltered)
	if err != nil {
		return nil, nil, "", err
	}
	rebooking, _, _, err := s.rebookingView(ctx, unfiltered)
	if err != nil {
		return nil, nil, "", err
	}

	summary := map[string]int{segments.ActionTox: 0, segments.ActionRebooking: 0}
	all := segments.NewEngine(s.thresholds, nil).Actions(tox, rebooking)
	rows := all[:0]
	for _, r := range all {
		summary[r.Kind]++
		summary[r.Kind+":"+r.Segment]++
		if seg == "" || seg == r.Kind || seg == r.Segment {
			rows = append(rows, r)
		}
	}

	used := actionSort.apply(rows, f.Sort, func(a, b segments.ActionRow) int {
		if c := strings.Compare(a.Kind, b.Kind); c != 0 {
			return c
		}
		return cmp.Compare(a.ClientID, b.ClientID)
	})
	return rows, summary, used, nil
}

func (s *Service) productsView(ctx context.Context, f Filters) ([]forecast.Forecast, map[string]int, string, error) {
	seg := strings.TrimSpace(f.Segment)
	if seg != "" && seg != SegmentReorder && seg != SegmentStale {
		return nil, nil, "", fmt.Errorf("%w: unknown product segment %q", ErrInvalidFilter, seg)
	}

	summary := map[string]int{
		"skus": 0, "units_30d": 0, "units_90d": 0,
		"suggested_order_30d": 0, "suggested_order_90d": 0,
		SegmentReorder: 0, SegmentStale: 0,
	}

	sc, err := s.scope(ctx, f)
	if err != nil || sc.noMatch {
		return nil, summary, productSort.apply(nil, f.Sort, nil), err
	}
	all, err := s.forecasts.All(ctx, sales.Filter{
		LocationKey: sc.filter.LocationKey,
		ProviderIDs: sc.filter.ProviderIDs,
		Search:      f.Search,
	}, s.now())
	if err != nil {
		return nil, nil, "", err
	}

	rows := all[:0]
	for _, fc := range all {
		reorder := fc.SuggestedOrder30d > 0
		stale := fc.Units90d == 0
		summary["skus"]++
		summary["units_30d"] += fc.Units30d
		summary["units_90d"] += fc.Units90d
		summary["suggested_order_30d"] += fc.SuggestedOrder30d
		summary["suggested_order_90d"] += fc.SuggestedOrder90d
		if reorder {
			summary[SegmentReorder]++
		}
		if stale {
			summary[SegmentStale]++
		}
		if seg == "" || (seg == SegmentReorder && reorder) || (seg == SegmentStale && stale) {
			rows = append(rows, fc)
		}
	}

	used := productSort.apply(rows, f.Sort, func(a, b forecast.Forecast) int { return strings.Compare(a.SKU, b.SKU) })
	return rows, summary, used, nil
}

// Tox returns a page of the tox lifecycle view.
func (s *Service) Tox(ctx context.Context, f Filters, page, pageSize int) (*Result[segments.ToxRow], error) {
	rows, summary, used, err := s.toxView(ctx, f)
	if err != nil {
		return nil, err
	}
	return resultOf(ctx, s, rows, summary, used, page, pageSize), nil
}

// Rebooking returns a page of the rebooking-gap view.
func (s *Service) Rebooking(ctx context.Context, f Filters, page, pageSize int) (*Result[segments.RebookingRow], error) {
	rows, summary, used, err := s.rebookingView(ctx, f)
	if err != nil {
		return nil, err
	}
	return resultOf(ctx, s, rows, summary, used, page, pageSize), nil
}

// Actions returns a page of outreach candidates from both axes.
func (s *Service) Actions(ctx context.Context, f Filters, page, pageSize int) (*Result[segments.ActionRow], error) {
	rows, summary, used, err := s.actionsView(ctx, f)
	if err != nil {
		return nil, err
	}
	return resultOf(ctx, s, rows, summary, used, page, pageSize), nil
}

// Products returns a page of SKU forecasts.
func (s *Service) Products(ctx context.Context, f Filters, page, pageSize int) (*Result[forecast.Forecast], error) {
	rows, summary, used, err := s.productsView(ctx, f)
	if err != nil {
		return nil, err
	}
	res := paginate(rows, page, pageSize)
	res.Summary = summary
	res.Sort = used
	return res, nil
}

// ExportTox returns the whole tox view.
func (s *Service) ExportTox(ctx context.Context, f Filters) (*Export[segments.ToxRow], error) {
	rows, _, _, err := s.toxView(ctx, f)
	if err != nil {
		return nil, err
	}
	return capRows(rows, s.maxExportRows), nil
}

// ExportRebooking returns the whole rebooking view.
func (s *Service) ExportRebooking(ctx context.Context, f Filters) (*Export[segments.RebookingRow], error) {
	rows, _, _, err := s.rebookingView(ctx, f)
	if err != nil {
		return nil, err
	}
	return capRows(rows, s.maxExportRows), nil
}

// ExportActions returns the whole actions view.
func (s *Service) ExportActions(ctx context.Context, f Filters) (*Export[segments.ActionRow], error) {
	rows, _, _, err := s.actionsView(ctx, f)
	if err != nil {
		return nil, err
	}
	return capRows(rows, s.maxExportRows), nil
}

// ExportProducts returns the whole products view.
func (s *Service) ExportProducts(ctx context.Context, f Filters) (*Export[forecast.Forecast], error) {
	rows, _, _, err := s.productsView(ctx, f)
	if err != nil {
		return nil, err
	}
	return capRows(rows, s.maxExportRows), nil
}

func resultOf[T any](ctx context.Context, s *Service, rows []T, summary map[string]int, used string, page, pageSize int) *Result[T] {
	res := paginate(rows, page, pageSize)
	res.Summary = summary
	res.Sort = used
	if computed, err := s.summaries.LastComputedAt(ctx); err == nil {
		res.ComputedAt = computed
	}
	return res
}

// NormalizePage clamps page to at least 1 and pageSize to [1, MaxPageSize].
func NormalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	return page, pageSize
}

func paginate[T any](rows []T, page, pageSize int) *Result[T] {
	page, pageSize = NormalizePage(page, pageSize)
	total := len(rows)

	start := (page - 1) * pageSize
	if start > total {
		start = total
	}
	end := start + pageSize
	if end > total {
		end = total
	}

	out := make([]T, end-start)
	copy(out, rows[start:end])
	return &Result[T]{
		Rows:       out,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: (total + pageSize - 1) / pageSize,
	}
}

func capRows[T any](rows []T, limit int) *Export[T] {
	exp := &Export[T]{Rows: rows, Total: len(rows)}
	if len(rows) > limit {
		exp.Rows = rows[:limit]
		exp.Truncated = true
	}
	return exp
}

package http

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrlokans/clinicsync/internal/config"
	"github.com/mrlokans/clinicsync/internal/database/sales"
	"github.com/mrlokans/clinicsync/internal/database/summaries"
	"github.com/mrlokans/clinicsync/internal/drilldown"
	"github.com/mrlokans/clinicsync/internal/entities"
	"github.com/mrlokans/clinicsync/internal/forecast"
	"github.com/mrlokans/clinicsync/internal/lookup"
	"github.com/mrlokans/clinicsync/internal/segments"
)

var viewNow = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

type stubSummaries struct {
	tox    []entities.ClientToxSummary
	visits []entities.ClientVisitSummary
	err    error
}

func (s *stubSummaries) ToxRows(context.Context, summaries.Filter) ([]entities.ClientToxSummary, error) {
	return append([]entities.ClientToxSummary(nil), s.tox...), s.err
}

func (s *stubSummaries) VisitRows(context.Context, summaries.Filter) ([]entities.ClientVisitSummary, error) {
	return append([]entities.ClientVisitSummary(nil), s.visits...), s.err
}

func (s *stubSummaries) LastComputedAt(context.Context) (*time.Time, error) {
	t := viewNow.Add(-time.Hour)
	return &t, nil
}

type stubForecasts []forecast.Forecast

func (s stubForecasts) All(context.Context, sales.Filter, time.Time) ([]forecast.Forecast, error) {
	return append([]forecast.Forecast(nil), s...), nil
}

func daysAgo(n int) *time.Time {
	t := viewNow.Add(-time.Duration(n) * 24 * time.Hour)
	return &t
}

func avg(v float64) *float64 { return &v }

func namedClient(id uint, name string) entities.Client {
	c := entities.Client{ExternalID: "cl-" + name, DisplayName: name}
	c.ID = id
	return c
}

func newIntelligenceRouter(t *testing.T, src *stubSummaries, rebuilder SummaryRebuilder) *gin.Engine {
	t.Helper()

	products := stubForecasts{
		{SKU: "SPF-50", ProductName: "Sunscreen", Units30d: 10, Units90d: 15, SuggestedOrder30d: 12, SuggestedOrder90d: 18},
		{SKU: "OLD-CREAM"},
	}
	table := lookup.New(nil, []config.Location{{Key: "downtown", Token: "t", Name: "Downtown Clinic"}})
	loader := func(context.Context) (*lookup.Table, error) { return table, nil }

	svc := drilldown.NewService(src, products, loader, segments.DefaultThresholds, 0).
		WithClock(func() time.Time { return viewNow })

	var cfg RouterConfig
	cfg.Drilldown = svc
	cfg.Rebuilder = rebuilder
	return NewRouter(cfg)
}

func defaultSummaries() *stubSummaries {
	return &stubSummaries{
		tox: []entities.ClientToxSummary{
			{ClientID: 1, Client: namedClient(1, "Ada"), LocationKey: "downtown", ToxVisitCount: 3, LastToxAt: daysAgo(80), AvgIntervalDays: avg(90)},
			{ClientID: 2, Client: namedClient(2, "Bea"), LocationKey: "downtown", ToxVisitCount: 2, LastToxAt: daysAgo(100), AvgIntervalDays: avg(90)},
			{ClientID: 4, Client: namedClient(4, "Dov"), LocationKey: "downtown", ToxVisitCount: 2, LastToxAt: daysAgo(300), AvgIntervalDays: avg(100)},
		},
		visits: []entities.ClientVisitSummary{
			{ClientID: 1, Client: namedClient(1, "Ada"), LocationKey: "downtown", VisitCount: 1, LastVisitAt: daysAgo(1)},
			{ClientID: 2, Client: namedClient(2, "Bea"), LocationKey: "downtown", VisitCount: 3, LastVisitAt: daysAgo(20)},
		},
	}
}

func get(router *gin.Engine, target string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", target, nil))
	return w
}

func TestIntelligenceController_View(t *testing.T) {
	router := newIntelligenceRouter(t, defaultSummaries(), nil)

	t.Run("returns a page with segment counts", func(t *testing.T) {
		w := get(router, "/intelligence/tox")
		require.Equal(t, http.StatusOK, w.Code)

		var res drilldown.Result[segments.ToxRow]
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
		assert.Equal(t, 3, res.Total)
		assert.Equal(t, 1, res.Summary["on_schedule"])
		assert.Equal(t, 1, res.Summary["due"])
		assert.Equal(t, 1, res.Summary["lost"])
		assert.Equal(t, 2, res.Summary["actionable"])
		assert.Equal(t, "Downtown Clinic", res.Rows[0].LocationName)
	})

	t.Run("segment filter narrows rows but not the summary", func(t *testing.T) {
		w := get(router, "/intelligence/tox?segment=actionable")
		require.Equal(t, http.StatusOK, w.Code)

		var res drilldown.Result[segments.ToxRow]
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
		assert.Equal(t, 2, res.Total)
		assert.Equal(t, 1, res.Summary["on_schedule"])
	})

	t.Run("paginates", func(t *testing.T) {
		w := get(router, "/intelligence/tox?page=2&page_size=1&sort=name:asc")
		require.Equal(t, http.StatusOK, w.Code)

		var res drilldown.Result[segments.ToxRow]
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
		require.Len(t, res.Rows, 1)
		assert.Equal(t, "Bea", res.Rows[0].Name)
		assert.Equal(t, 3, res.TotalPages)
		assert.Equal(t, "name:asc", res.Sort)
		assert.Contains(t, w.Body.String(), `"pageSize":1`)

		w = get(router, "/intelligence/tox?pageSize=2")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"pageSize":2`)
		assert.Contains(t, w.Body.String(), `"totalPages":2`)
	})

	t.Run("serves every kind", func(t *testing.T) {
		for _, kind := range []string{KindTox, KindRebooking, KindActions, KindProducts} {
			w := get(router, "/intelligence/"+kind)
			assert.Equal(t, http.StatusOK, w.Code, kind)
		}
	})

	t.Run("invalid segment is 400", func(t *testing.T) {
		w := get(router, "/intelligence/tox?segment=sleepy")
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "invalid_filter")
	})

	t.Run("unknown kind is 404", func(t *testing.T) {
		assert.Equal(t, http.StatusNotFound, get(router, "/intelligence/hair").Code)
		assert.Equal(t, http.StatusNotFound, get(router, "/intelligence/hair/export").Code)
	})

	t.Run("unknown format is 400", func(t *testing.T) {
		assert.Equal(t, http.StatusBadRequest, get(router, "/intelligence/tox?format=xml").Code)
	})

	t.Run("source failure is 500", func(t *testing.T) {
		broken := newIntelligenceRouter(t, &stubSummaries{err: errors.New("locked")}, nil)
		assert.Equal(t, http.StatusInternalServerError, get(broken, "/intelligence/tox").Code)
	})
}

func TestIntelligenceController_CSV(t *testing.T) {
	router := newIntelligenceRouter(t, defaultSummaries(), nil)

	t.Run("format=csv exports the filtered view", func(t *testing.T) {
		w := get(router, "/intelligence/tox?format=csv&segment=actionable")
		require.Equal(t, http.StatusOK, w.Code)

		assert.Equal(t, "text/csv; charset=utf-8", w.Header().Get("Content-Type"))
		disposition := w.Header().Get("Content-Disposition")
		assert.True(t, strings.HasPrefix(disposition, `attachment; filename="tox-`), disposition)
		assert.True(t, strings.HasSuffix(disposition, `.csv"`), disposition)
		assert.Equal(t, "2", w.Header().Get("X-Total-Count"))
		assert.Equal(t, "false", w.Header().Get("X-Export-Truncated"))

		records, err := csv.NewReader(w.Body).ReadAll()
		require.NoError(t, err)
		assert.Len(t, records, 3, "header plus one row per match")
		assert.Equal(t, "client_id", records[0][0])
	})

	t.Run("export endpoint matches the paginated total", func(t *testing.T) {
		page := get(router, "/intelligence/products?segment=reorder&page_size=1")
		require.Equal(t, http.StatusOK, page.Code)
		var res drilldown.Result[forecast.Forecast]
		require.NoError(t, json.Unmarshal(page.Body.Bytes(), &res))

		w := get(router, "/intelligence/products/export?segment=reorder")
		require.Equal(t, http.StatusOK, w.Code)
		records, err := csv.NewReader(w.Body).ReadAll()
		require.NoError(t, err)
		assert.Len(t, records, res.Total+1)
		assert.Equal(t, "SPF-50", records[1][0])
	})

	t.Run("invalid segment is 400 before any CSV is written", func(t *testing.T) {
		w := get(router, "/intelligence/rebooking/export?segment=3d")
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Empty(t, w.Header().Get("Content-Disposition"))
	})
}

func TestIntelligenceController_Recompute(t *testing.T) {
	post := func(router *gin.Engine) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest("POST", "/intelligence/recompute", nil))
		return w
	}

	t.Run("rebuilds inline without a task queue", func(t *testing.T) {
		rb := &fakeRebuilder{stats: &summaries.Stats{Appointments: 12, VisitRows: 4, ToxRows: 2}}
		w := post(newIntelligenceRouter(t, defaultSummaries(), rb))

		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, 1, rb.calls)
		assert.Contains(t, w.Body.String(), `"visit_rows":4`)
	})

	t.Run("rebuild failure is 500", func(t *testing.T) {
		rb := &fakeRebuilder{err: errors.New("locked")}
		assert.Equal(t, http.StatusInternalServerError, post(newIntelligenceRouter(t, defaultSummaries(), rb)).Code)
	})

	t.Run("no rebuilder is 503", func(t *testing.T) {
		assert.Equal(t, http.StatusServiceUnavailable, post(newIntelligenceRouter(t, defaultSummaries(), nil)).Code)
	})
}

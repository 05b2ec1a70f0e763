package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mrlokans/clinicsync/internal/drilldown"
	"github.com/mrlokans/clinicsync/internal/forecast"
	"github.com/mrlokans/clinicsync/internal/segments"
	"github.com/mrlokans/clinicsync/internal/tasks"
)

// Intelligence view kinds.
const (
	KindTox       = "tox"
	KindRebooking = "rebooking"
	KindActions   = "actions"
	KindProducts  = "products"
)

// viewHandler serves one view kind as a JSON page or a CSV export.
type viewHandler interface {
	page(ctx context.Context, f drilldown.Filters, page, pageSize int) (any, error)
	export(c *gin.Context, kind string, f drilldown.Filters)
}

// view binds a drilldown view of row type T to its CSV writer.
type view[T any] struct {
	list     func(ctx context.Context, f drilldown.Filters, page, pageSize int) (*drilldown.Result[T], error)
	exporter func(ctx context.Context, f drilldown.Filters) (*drilldown.Export[T], error)
	write    func(w io.Writer, rows []T) error
}

func (v view[T]) page(ctx context.Context, f drilldown.Filters, page, pageSize int) (any, error) {
	return v.list(ctx, f, page, pageSize)
}

func (v view[T]) export(c *gin.Context, kind string, f drilldown.Filters) {
	exp, err := v.exporter(c.Request.Context(), f)
	if err != nil {
		respondViewError(c, err, kind)
		return
	}

	filename := fmt.Sprintf("%s-%s.csv", kind, time.Now().UTC().Format("20060102"))
	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	c.Header("X-Total-Count", strconv.Itoa(exp.Total))
	c.Header("X-Export-Truncated", strconv.FormatBool(exp.Truncated))
	c.Status(http.StatusOK)

	if err := v.write(c.Writer, exp.Rows); err != nil {
		// Headers are already sent; the client sees a short file.
		zap.L().Error("csv export interrupted", zap.String("kind", kind), zap.Error(err))
	}
}

// IntelligenceController serves the segmentation and forecast views.
type IntelligenceController struct {
	views     map[string]viewHandler
	rebuilder SummaryRebuilder
	queue     tasks.Enqueuer
}

// NewIntelligenceController creates a new IntelligenceController. With a
// non-nil queue, recomputes run in the background.
func NewIntelligenceController(svc *drilldown.Service, rebuilder SummaryRebuilder, queue tasks.Enqueuer) *IntelligenceController {
	return &IntelligenceController{
		views: map[string]viewHandler{
			KindTox:       view[segments.ToxRow]{svc.Tox, svc.ExportTox, drilldown.WriteToxCSV},
			KindRebooking: view[segments.RebookingRow]{svc.Rebooking, svc.ExportRebooking, drilldown.WriteRebookingCSV},
			KindActions:   view[segments.ActionRow]{svc.Actions, svc.ExportActions, drilldown.WriteActionsCSV},
			KindProducts:  view[forecast.Forecast]{svc.Products, svc.ExportProducts, drilldown.WriteProductsCSV},
		},
		rebuilder: rebuilder,
		queue:     queue,
	}
}

// filtersFromQuery reads the view filters shared by every kind.
func filtersFromQuery(c *gin.Context) drilldown.Filters {
	return drilldown.Filters{
		Location: c.Query("location"),
		Provider: c.Query("provider"),
		Segment:  c.Query("segment"),
		Search:   c.Query("search"),
		Sort:     c.Query("sort"),
	}
}

func (ic *IntelligenceController) lookup(c *gin.Context) (string, viewHandler, bool) {
	kind := c.Param("kind")
	v, ok := ic.views[kind]
	if !ok {
		respondNotFound(c, "view "+strconv.Quote(kind))
		return "", nil, false
	}
	return kind, v, true
}

// View handles GET /intelligence/:kind
// Returns one page of the view, or the whole view as CSV with ?format=csv.
func (ic *IntelligenceController) View(c *gin.Context) {
	kind, v, ok := ic.lookup(c)
	if !ok {
		return
	}
	f := filtersFromQuery(c)

	switch c.DefaultQuery("format", "json") {
	case "csv":
		v.export(c, kind, f)
		return
	case "json":
	default:
		respondBadRequest(c, "format must be json or csv")
		return
	}

	pageSize := parseIntQuery(c, "pageSize", parseIntQuery(c, "page_size", parseIntQuery(c, "limit", drilldown.DefaultPageSize)))
	res, err := v.page(c.Request.Context(), f, parseIntQuery(c, "page", 1), pageSize)
	if err != nil {
		respondViewError(c, err, kind)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Export handles GET /intelligence/:kind/export
// Streams the whole filtered view as CSV.
func (ic *IntelligenceController) Export(c *gin.Context) {
	kind, v, ok := ic.lookup(c)
	if !ok {
		return
	}
	v.export(c, kind, filtersFromQuery(c))
}

// Recompute handles POST /intelligence/recompute
// Rebuilds the client summaries, in the background when a task queue is
// configured.
func (ic *IntelligenceController) Recompute(c *gin.Context) {
	if ic.queue != nil {
		ids, err := ic.queue.Add(tasks.RecomputeSummariesTask{}).Ctx(c.Request.Context()).Save()
		if err != nil {
			respondInternalError(c, err, "enqueue recompute")
			return
		}
		respondAccepted(c, "recompute enqueued", gin.H{"task_id": ids[0]})
		return
	}

	if ic.rebuilder == nil {
		respondError(c, http.StatusServiceUnavailable, "summary rebuild is not configured")
		return
	}
	stats, err := ic.rebuilder.Rebuild(c.Request.Context(), time.Now())
	if err != nil {
		respondInternalError(c, err, "recompute summaries")
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: "summaries recomputed", Data: stats})
}

func respondViewError(c *gin.Context, err error, kind string) {
	if errors.Is(err, drilldown.ErrInvalidFilter) {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "invalid_filter"})
		return
	}
	respondInternalError(c, err, kind+" view")
}

package http

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mrlokans/clinicsync/internal/database/synclog"
	"github.com/mrlokans/clinicsync/internal/entities"
	"github.com/mrlokans/clinicsync/internal/platform"
	"github.com/mrlokans/clinicsync/internal/syncer"
)

// SyncController exposes backfill invocations and their run logs.
type SyncController struct {
	backfiller Backfiller
	logs       SyncLogStore
}

// NewSyncController creates a new SyncController.
func NewSyncController(backfiller Backfiller, logs SyncLogStore) *SyncController {
	return &SyncController{backfiller: backfiller, logs: logs}
}

// BackfillBody is the request body of POST /sync/backfill. Every field is
// optional; an empty body starts a new appointments run.
type BackfillBody struct {
	Type           string `json:"type"`
	Cursor         string `json:"cursor"`
	SyncLogID      uint   `json:"syncLogId"`
	LocationIndex  int    `json:"locationIndex"`
	StopBeforeDate string `json:"stopBeforeDate"` // YYYY-MM-DD or RFC 3339
}

func (b BackfillBody) request() (syncer.BackfillRequest, error) {
	req := syncer.BackfillRequest{
		Type:          entities.SyncType(b.Type),
		Cursor:        b.Cursor,
		SyncLogID:     b.SyncLogID,
		LocationIndex: b.LocationIndex,
	}
	if b.LocationIndex < 0 {
		return req, errors.New("locationIndex must not be negative")
	}
	if b.StopBeforeDate != "" {
		t, err := parseDate(b.StopBeforeDate)
		if err != nil {
			return req, errors.New("invalid stopBeforeDate")
		}
		req.StopBeforeDate = &t
	}
	return req, nil
}

// parseDate accepts a calendar date (UTC midnight) or an RFC 3339 timestamp.
func parseDate(raw string) (time.Time, error) {
	if t, err := time.Parse(time.DateOnly, raw); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, raw)
}

// Backfill handles POST /sync/backfill
// Runs one bounded invocation and returns where the run stands. Callers keep
// posting the returned syncLogId until done is true.
func (sc *SyncController) Backfill(c *gin.Context) {
	// Chunked bodies report no length, so an empty body is only known once
	// decoding hits EOF.
	var body BackfillBody
	if err := c.ShouldBindJSON(&body); err != nil && !errors.Is(err, io.EOF) {
		respondBadRequest(c, "invalid request body")
		return
	}
	req, err := body.request()
	if err != nil {
		respondBadRequest(c, err.Error())
		return
	}

	res, err := sc.backfiller.Backfill(c.Request.Context(), req)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, res)
	case syncer.IsBusy(err):
		c.JSON(http.StatusConflict, ErrorResponse{
			Error: err.Error(),
			Code:  "sync_busy",
		})
	case errors.Is(err, syncer.ErrUnknownType), errors.Is(err, syncer.ErrUnknownLocation):
		respondBadRequest(c, err.Error())
	case errors.Is(err, synclog.ErrNotFound):
		respondNotFound(c, "sync log")
	case res != nil:
		status := http.StatusInternalServerError
		if errors.Is(err, platform.ErrFatal) || errors.Is(err, platform.ErrUnauthorized) {
			status = http.StatusBadGateway
		}
		c.JSON(status, ErrorResponse{
			Error:   err.Error(),
			Code:    "sync_failed",
			Details: res,
		})
	default:
		respondInternalError(c, err, "backfill")
	}
}

// ListLogs handles GET /sync/logs
// Returns sync runs, newest first.
func (sc *SyncController) ListLogs(c *gin.Context) {
	limit, offset := parseLimitOffset(c, 20, 100)

	runs, total, err := sc.logs.List(limit, offset)
	if err != nil {
		respondInternalError(c, err, "list sync logs")
		return
	}

	c.JSON(http.StatusOK, newPaginatedResponse(runs, total, limit, offset))
}

// GetLog handles GET /sync/logs/:id
// Returns one run including its checkpoint.
func (sc *SyncController) GetLog(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	run, err := sc.logs.Get(id)
	if errors.Is(err, synclog.ErrNotFound) {
		respondNotFound(c, "sync log")
		return
	}
	if err != nil {
		respondInternalError(c, err, "get sync log")
		return
	}

	c.JSON(http.StatusOK, run)
}

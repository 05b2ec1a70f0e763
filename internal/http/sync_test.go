package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrlokans/clinicsync/internal/database/synclog"
	"github.com/mrlokans/clinicsync/internal/entities"
	"github.com/mrlokans/clinicsync/internal/platform"
	"github.com/mrlokans/clinicsync/internal/syncer"
)

func newSyncRouter(b Backfiller, logs SyncLogStore) *gin.Engine {
	return NewRouter(RouterConfig{Backfiller: b, SyncLogs: logs})
}

func postBackfill(router *gin.Engine, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/sync/backfill", strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	router.ServeHTTP(w, req)
	return w
}

func TestSyncController_Backfill(t *testing.T) {
	t.Run("maps the body to a request and returns the result", func(t *testing.T) {
		b := &fakeBackfiller{res: &syncer.BackfillResult{
			Processed: 50, Created: 48, NextCursor: "c50", SyncLogID: 3, LocationIndex: 1,
		}}
		router := newSyncRouter(b, &fakeSyncLogs{})

		w := postBackfill(router, `{"syncLogId":3,"cursor":"c0","locationIndex":1,"stopBeforeDate":"2025-01-01"}`)

		require.Equal(t, http.StatusOK, w.Code)
		require.Len(t, b.requests, 1)
		req := b.requests[0]
		assert.Equal(t, uint(3), req.SyncLogID)
		assert.Equal(t, "c0", req.Cursor)
		assert.Equal(t, 1, req.LocationIndex)
		require.NotNil(t, req.StopBeforeDate)
		assert.True(t, req.StopBeforeDate.Equal(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)))

		var res syncer.BackfillResult
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
		assert.Equal(t, 50, res.Processed)
		assert.Equal(t, "c50", res.NextCursor)
		assert.False(t, res.Done)
		assert.Contains(t, w.Body.String(), `"syncLogId":3`)
	})

	t.Run("empty body starts a default run", func(t *testing.T) {
		b := &fakeBackfiller{res: &syncer.BackfillResult{Done: true}}
		router := newSyncRouter(b, &fakeSyncLogs{})

		w := postBackfill(router, "")

		assert.Equal(t, http.StatusOK, w.Code)
		require.Len(t, b.requests, 1)
		assert.Equal(t, syncer.BackfillRequest{}, b.requests[0])
	})

	t.Run("accepts RFC 3339 stop dates", func(t *testing.T) {
		b := &fakeBackfiller{res: &syncer.BackfillResult{}}
		router := newSyncRouter(b, &fakeSyncLogs{})

		w := postBackfill(router, `{"stopBeforeDate":"2025-01-01T10:00:00Z"}`)

		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, 10, b.requests[0].StopBeforeDate.Hour())
	})

	t.Run("rejects invalid input", func(t *testing.T) {
		tests := []struct {
			name string
			body string
			want string
		}{
			{"malformed json", `{"syncLogId":`, "invalid request body"},
			{"bad date", `{"stopBeforeDate":"yesterday"}`, "invalid stopBeforeDate"},
			{"negative index", `{"locationIndex":-1}`, "locationIndex"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				b := &fakeBackfiller{}
				w := postBackfill(newSyncRouter(b, &fakeSyncLogs{}), tt.body)

				assert.Equal(t, http.StatusBadRequest, w.Code)
				assert.Contains(t, w.Body.String(), tt.want)
				assert.Empty(t, b.requests)
			})
		}
	})

	t.Run("maps orchestrator errors", func(t *testing.T) {
		partial := &syncer.BackfillResult{Processed: 100, NextCursor: "c100", SyncLogID: 9}
		tests := []struct {
			name   string
			res    *syncer.BackfillResult
			err    error
			status int
			want   string
		}{
			{"unknown type", nil, fmt.Errorf("%w: %q", syncer.ErrUnknownType, "invoices"), http.StatusBadRequest, "unknown sync type"},
			{"unknown log", nil, synclog.ErrNotFound, http.StatusNotFound, "sync log not found"},
			{"fatal platform error", partial, fmt.Errorf("fetch: %w", platform.ErrFatal), http.StatusBadGateway, `"nextCursor":"c100"`},
			{"storage error", partial, errors.New("disk full"), http.StatusInternalServerError, `"code":"sync_failed"`},
			{"error before any work", nil, errors.New("disk full"), http.StatusInternalServerError, "internal server error"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				b := &fakeBackfiller{res: tt.res, err: tt.err}
				w := postBackfill(newSyncRouter(b, &fakeSyncLogs{}), `{}`)

				assert.Equal(t, tt.status, w.Code)
				assert.Contains(t, w.Body.String(), tt.want)
			})
		}
	})

	t.Run("reports a busy run as a conflict", func(t *testing.T) {
		for _, err := range []error{
			syncer.ErrBusy,
			fmt.Errorf("resume run 3: %w", synclog.ErrLeased),
		} {
			b := &fakeBackfiller{err: err}
			w := postBackfill(newSyncRouter(b, &fakeSyncLogs{}), `{"syncLogId":3}`)

			assert.Equal(t, http.StatusConflict, w.Code, err.Error())
			assert.Contains(t, w.Body.String(), `"code":"sync_busy"`)
		}
	})

	t.Run("decodes a chunked body", func(t *testing.T) {
		b := &fakeBackfiller{res: &syncer.BackfillResult{}}
		router := newSyncRouter(b, &fakeSyncLogs{})

		w := httptest.NewRecorder()
		req := httptest.NewRequest("POST", "/sync/backfill", strings.NewReader(`{"syncLogId":7,"cursor":"c100"}`))
		req.Header.Set("Content-Type", "application/json")
		req.ContentLength = -1
		router.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		require.Len(t, b.requests, 1)
		assert.Equal(t, uint(7), b.requests[0].SyncLogID)
		assert.Equal(t, "c100", b.requests[0].Cursor)
	})
}

func TestSyncController_Logs(t *testing.T) {
	logs := &fakeSyncLogs{runs: []entities.SyncLog{
		{ID: 3, Type: entities.SyncTypeAppointments, Status: entities.SyncStatusRunning, Cursor: "c150", LocationIndex: 1},
		{ID: 2, Type: entities.SyncTypeProductSales, Status: entities.SyncStatusCompleted},
		{ID: 1, Type: entities.SyncTypeAppointments, Status: entities.SyncStatusFailed, Error: "boom"},
	}}
	router := newSyncRouter(&fakeBackfiller{}, logs)

	t.Run("lists runs with pagination metadata", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest("GET", "/sync/logs?limit=2", nil))

		require.Equal(t, http.StatusOK, w.Code)
		var resp struct {
			Data    []entities.SyncLog `json:"data"`
			Total   int64              `json:"total"`
			HasMore bool               `json:"has_more"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Len(t, resp.Data, 2)
		assert.Equal(t, int64(3), resp.Total)
		assert.True(t, resp.HasMore)
	})

	t.Run("returns one run with its checkpoint", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest("GET", "/sync/logs/3", nil))

		require.Equal(t, http.StatusOK, w.Code)
		var run entities.SyncLog
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &run))
		assert.Equal(t, "c150", run.Cursor)
		assert.Equal(t, 1, run.LocationIndex)
	})

	t.Run("missing run is 404", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest("GET", "/sync/logs/42", nil))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("bad id is 400", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest("GET", "/sync/logs/abc", nil))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("store failure is 500", func(t *testing.T) {
		broken := newSyncRouter(&fakeBackfiller{}, &fakeSyncLogs{err: errors.New("locked")})
		w := httptest.NewRecorder()
		broken.ServeHTTP(w, httptest.NewRequest("GET", "/sync/logs", nil))
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mrlokans/clinicsync/internal/tasks"
)

func newTasksRouter(t *testing.T) *gin.Engine {
	t.Helper()

	client, err := tasks.NewClient(filepath.Join(t.TempDir(), "main.db"), tasks.DefaultConfig(), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	// Registered but never started, so enqueued tasks stay pending.
	client.Register(
		tasks.NewBackfillStepQueue(nil, nil, zap.NewNop()),
		tasks.NewRecomputeSummariesQueue(&fakeRebuilder{}, zap.NewNop()),
		tasks.NewPruneSyncLogsQueue(nil, zap.NewNop()),
	)
	return NewRouter(RouterConfig{TaskClient: client})
}

func TestTasksController(t *testing.T) {
	router := newTasksRouter(t)

	t.Run("lists task types", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest("GET", "/api/tasks/types", nil))

		require.Equal(t, http.StatusOK, w.Code)
		for _, name := range []string{"backfill_step", "recompute_summaries", "prune_sync_logs"} {
			assert.Contains(t, w.Body.String(), name)
		}
	})

	t.Run("enqueues a task and reports it pending", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest("POST", "/api/tasks/backfill_step/run",
			strings.NewReader(`{"type":"product_sales","stop_before_date":"2025-01-01"}`))
		req.Header.Set("Content-Type", "application/json")
		router.ServeHTTP(w, req)

		require.Equal(t, http.StatusAccepted, w.Code)
		var resp struct {
			TaskID string `json:"task_id"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		require.NotEmpty(t, resp.TaskID)

		w = httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest("GET", "/api/tasks/"+resp.TaskID, nil))
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"status":"pending"`)
	})

	t.Run("enqueues without a body", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest("POST", "/api/tasks/recompute_summaries/run", nil))
		assert.Equal(t, http.StatusAccepted, w.Code)
	})

	t.Run("rejects unknown types and bad dates", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest("POST", "/api/tasks/enrich_book/run", nil))
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "unknown task type")

		w = httptest.NewRecorder()
		req := httptest.NewRequest("POST", "/api/tasks/backfill_step/run", strings.NewReader(`{"stop_before_date":"soon"}`))
		req.Header.Set("Content-Type", "application/json")
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestRouter_RegistersOnlyConfiguredControllers(t *testing.T) {
	router := NewRouter(RouterConfig{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/ping", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"message":"pong"}`, w.Body.String())

	for _, path := range []string{"/sync/logs", "/intelligence/tox", "/api/tasks/types"} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest("GET", path, nil))
		assert.Equal(t, http.StatusNotFound, w.Code, path)
	}
}

package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrlokans/clinicsync/internal/database"
	"github.com/mrlokans/clinicsync/internal/entities"
)

func setupHealthTestDB(t *testing.T) *database.Database {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.NewQuietDatabase(filepath.Join(t.TempDir(), "health.db"))
	require.NoError(t, err)
	return db
}

func getHealth(t *testing.T, controller *HealthController) (int, HealthResponse) {
	t.Helper()

	router := gin.New()
	router.GET("/health", controller.Status)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/health", nil)
	router.ServeHTTP(w, req)

	var response HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	return w.Code, response
}

func TestHealthController_Status(t *testing.T) {
	t.Run("returns healthy when database is connected", func(t *testing.T) {
		db := setupHealthTestDB(t)
		defer db.Close()

		code, response := getHealth(t, NewHealthController(db, nil, "1.0.0"))

		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, "healthy", response.Status)
		assert.Equal(t, "1.0.0", response.Version)
		assert.Equal(t, "ok", response.Checks["database"])
		assert.Contains(t, response.Time, "T")
		assert.NotContains(t, response.Checks, "last_sync")
	})

	t.Run("returns healthy when database is nil", func(t *testing.T) {
		code, response := getHealth(t, NewHealthController(nil, nil, "1.0.0"))

		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, "healthy", response.Status)
		assert.Equal(t, "not configured", response.Checks["database"])
	})

	t.Run("returns unhealthy when database connection is closed", func(t *testing.T) {
		db := setupHealthTestDB(t)
		require.NoError(t, db.Close())

		code, response := getHealth(t, NewHealthController(db, nil, "1.0.0"))

		assert.Equal(t, http.StatusServiceUnavailable, code)
		assert.Equal(t, "unhealthy", response.Status)
		assert.Contains(t, response.Checks["database"], "error")
	})

	t.Run("reports the latest sync run", func(t *testing.T) {
		updated := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
		logs := &fakeSyncLogs{runs: []entities.SyncLog{
			{ID: 2, Status: entities.SyncStatusFailed, UpdatedAt: updated},
		}}

		code, response := getHealth(t, NewHealthController(nil, logs, "1.0.0"))

		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, "failed at 2026-03-04T05:06:07Z", response.Checks["last_sync"])
	})

	t.Run("reports a missing sync history", func(t *testing.T) {
		_, response := getHealth(t, NewHealthController(nil, &fakeSyncLogs{}, ""))

		assert.Equal(t, "never", response.Checks["last_sync"])
		assert.Empty(t, response.Version)
	})
}

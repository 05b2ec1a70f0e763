package http

import (
	"github.com/gin-gonic/gin"

	"github.com/mrlokans/clinicsync/internal/tasks"
)

// NewRouter creates and configures the HTTP router with all endpoints.
// Controllers whose dependencies are missing from cfg are not registered.
func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	health := NewHealthController(cfg.Database, cfg.SyncLogs, cfg.Version)

	// Health endpoints
	router.GET("/health", health.Status)
	router.GET("/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"message": "pong",
		})
	})

	// Sync endpoints
	if cfg.Backfiller != nil && cfg.SyncLogs != nil {
		syncController := NewSyncController(cfg.Backfiller, cfg.SyncLogs)
		router.POST("/sync/backfill", syncController.Backfill)
		router.GET("/sync/logs", syncController.ListLogs)
		router.GET("/sync/logs/:id", syncController.GetLog)
	}

	// Intelligence endpoints
	if cfg.Drilldown != nil {
		var queue tasks.Enqueuer
		if cfg.TaskClient != nil {
			queue = cfg.TaskClient
		}
		intelligence := NewIntelligenceController(cfg.Drilldown, cfg.Rebuilder, queue)
		group := router.Group("/intelligence")
		group.POST("/recompute", intelligence.Recompute)
		group.GET("/:kind", intelligence.View)
		group.GET("/:kind/export", intelligence.Export)
	}

	// Task queue management endpoints
	if cfg.TaskClient != nil {
		tasksController := NewTasksController(cfg.TaskClient)
		router.GET("/api/tasks/types", tasksController.ListTaskTypes)
		router.GET("/api/tasks/:id", tasksController.GetTaskStatus)
		router.POST("/api/tasks/:type/run", tasksController.RunTask)
	}

	return router
}

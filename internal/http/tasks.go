package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mikestefanello/backlite"

	"github.com/mrlokans/clinicsync/internal/entities"
	"github.com/mrlokans/clinicsync/internal/tasks"
)

// TaskStatusReader reports the state of a queued task.
type TaskStatusReader interface {
	Status(ctx context.Context, taskID string) (backlite.TaskStatus, error)
}

// TaskQueue is the part of the task client the controller uses.
type TaskQueue interface {
	tasks.Enqueuer
	TaskStatusReader
}

// TasksController handles task queue management endpoints.
type TasksController struct {
	client TaskQueue
}

// NewTasksController creates a new TasksController.
func NewTasksController(client TaskQueue) *TasksController {
	return &TasksController{client: client}
}

// TaskTypeInfo describes an available task type.
type TaskTypeInfo struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Queue       string `json:"queue"`
}

// ListTaskTypes handles GET /api/tasks/types
// Returns the list of available task types that can be triggered.
func (tc *TasksController) ListTaskTypes(c *gin.Context) {
	types := []TaskTypeInfo{
		{
			Type:        tasks.QueueBackfillStep,
			Description: "Run one backfill invocation and chain the next until the run is done",
			Queue:       tasks.QueueBackfillStep,
		},
		{
			Type:        tasks.QueueRecomputeSummaries,
			Description: "Rebuild the client visit and tox summaries from the replica",
			Queue:       tasks.QueueRecomputeSummaries,
		},
		{
			Type:        tasks.QueuePruneSyncLogs,
			Description: "Delete completed sync logs older than the retention period",
			Queue:       tasks.QueuePruneSyncLogs,
		},
	}

	c.JSON(http.StatusOK, gin.H{
		"task_types": types,
	})
}

// GetTaskStatus handles GET /api/tasks/:id
// Returns the status of a specific task.
func (tc *TasksController) GetTaskStatus(c *gin.Context) {
	taskID := c.Param("id")
	if taskID == "" {
		respondBadRequest(c, "task ID is required")
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	status, err := tc.client.Status(ctx, taskID)
	if err != nil {
		respondInternalError(c, err, "task status")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":     taskID,
		"status": taskStatusToString(status),
	})
}

// RunTaskRequest is the request body for running a task.
type RunTaskRequest struct {
	// SyncLogID continues a specific run (backfill_step only)
	SyncLogID uint `json:"sync_log_id,omitempty" form:"sync_log_id"`
	// Type selects the resource when no run is given (backfill_step only)
	Type string `json:"type,omitempty" form:"type"`
	// StopBeforeDate bounds a new run, YYYY-MM-DD or RFC 3339 (backfill_step only)
	StopBeforeDate string `json:"stop_before_date,omitempty" form:"stop_before_date"`
	// RetentionDays overrides the default retention (prune_sync_logs only)
	RetentionDays int `json:"retention_days,omitempty" form:"retention_days"`
}

// RunTask handles POST /api/tasks/:type/run
// Manually triggers a task of the specified type.
func (tc *TasksController) RunTask(c *gin.Context) {
	taskType := c.Param("type")

	var req RunTaskRequest
	if c.ContentType() == "application/x-www-form-urlencoded" || c.ContentType() == "multipart/form-data" {
		_ = c.ShouldBind(&req)
	} else if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondBadRequest(c, "invalid request body")
			return
		}
	}

	var task backlite.Task
	switch taskType {
	case tasks.QueueBackfillStep:
		step := tasks.BackfillStepTask{
			SyncLogID: req.SyncLogID,
			Type:      entities.SyncType(req.Type),
		}
		if req.StopBeforeDate != "" {
			t, err := parseDate(req.StopBeforeDate)
			if err != nil {
				respondBadRequest(c, "invalid stop_before_date")
				return
			}
			step.StopBeforeDate = &t
		}
		task = step

	case tasks.QueueRecomputeSummaries:
		task = tasks.RecomputeSummariesTask{}

	case tasks.QueuePruneSyncLogs:
		task = tasks.PruneSyncLogsTask{RetentionDays: req.RetentionDays}

	default:
		respondBadRequest(c, fmt.Sprintf("unknown task type: %s", taskType))
		return
	}

	ids, err := tc.client.Add(task).Ctx(c.Request.Context()).Save()
	if err != nil {
		respondInternalError(c, err, "enqueue "+taskType)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"success": true,
		"task_id": ids[0],
		"type":    taskType,
		"message": "task enqueued",
	})
}

func taskStatusToString(status backlite.TaskStatus) string {
	switch status {
	case backlite.TaskStatusPending:
		return "pending"
	case backlite.TaskStatusRunning:
		return "running"
	case backlite.TaskStatusSuccess:
		return "success"
	case backlite.TaskStatusFailure:
		return "failure"
	case backlite.TaskStatusNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"custody_tracker/internal/models"
	"custody_tracker/internal/review"
	"custody_tracker/internal/scheduler"
)

type TaskScheduler interface {
	Create(ctx context.Context, in scheduler.CreateInput) (*models.Task, error)
	Deactivate(ctx context.Context, id uint) (*models.Task, error)
}

type TaskReviewer interface {
	Report(ctx context.Context, taskID uint) (*review.Report, error)
}

type TaskController struct {
	scheduler TaskScheduler
	reviewer  TaskReviewer
}

func NewTaskController(s TaskScheduler, r TaskReviewer) *TaskController {
	return &TaskController{scheduler: s, reviewer: r}
}

// CreateTask assigns a sealed pack to a field agent.
func (tc *TaskController) CreateTask(c *gin.Context) {
	var input scheduler.CreateInput
	if err := c.ShouldBindJSON(&input); err != nil {
		bindError(c, err)
		return
	}

	task, err := tc.scheduler.Create(c.Request.Context(), input)
	if err != nil {
		respondError(c, err, nil)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"task": task})
}

// GetTask returns the review aggregate: task, events, attendance and audit trail.
func (tc *TaskController) GetTask(c *gin.Context) {
	id, ok := taskIDParam(c)
	if !ok {
		return
	}
	report, err := tc.reviewer.Report(c.Request.Context(), id)
	if err != nil {
		respondError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (tc *TaskController) DeactivateTask(c *gin.Context) {
	id, ok := taskIDParam(c)
	if !ok {
		return
	}
	task, err := tc.scheduler.Deactivate(c.Request.Context(), id)
	if err != nil {
		respondError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"task": task})
}

// Health reports liveness.
func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)})
}

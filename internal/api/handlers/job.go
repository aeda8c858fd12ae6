package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/luo-one/mailkeeper/internal/database/models"
	"github.com/luo-one/mailkeeper/internal/mailbox"
	"github.com/luo-one/mailkeeper/internal/services"
)

// RunTrigger starts an on-demand ingestion run
type RunTrigger interface {
	Trigger(ctx context.Context, trigger models.JobTrigger, q *mailbox.Query) (*models.JobRun, error)
	State() services.SchedulerState
}

// JobHandler exposes run triggering and run bookkeeping
type JobHandler struct {
	trigger  RunTrigger
	recorder *services.RunRecorder
	logger   *slog.Logger
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(trigger RunTrigger, recorder *services.RunRecorder, logger *slog.Logger) *JobHandler {
	return &JobHandler{
		trigger:  trigger,
		recorder: recorder,
		logger:   logger.With("component", "job_handler"),
	}
}

// TriggerResponse summarizes the run started by a trigger
type TriggerResponse struct {
	JobRunID  uint             `json:"job_run_id"`
	Status    models.JobStatus `json:"status"`
	StartedAt time.Time        `json:"started_at"`
}

// Trigger runs an ingestion now and waits for it to finish
// POST /api/job/trigger
func (h *JobHandler) Trigger(c *gin.Context) {
	var q mailbox.Query
	if err := c.ShouldBindJSON(&q); err != nil && !errors.Is(err, io.EOF) {
		respondError(c, http.StatusBadRequest, CodeValidation, "Invalid search criteria: "+err.Error())
		return
	}

	var query *mailbox.Query
	if !q.IsEmpty() {
		query = &q
	}

	// A client that disconnects does not cancel the run it started
	run, err := h.trigger.Trigger(context.WithoutCancel(c.Request.Context()), models.JobTriggerManual, query)
	if err != nil {
		if errors.Is(err, services.ErrRunInProgress) {
			respondError(c, http.StatusConflict, CodeRunInProgress, "An ingestion run is already in progress")
			return
		}
		h.logger.Error("trigger failed", "error", err)
		respondError(c, http.StatusInternalServerError, CodeInternal, "Failed to run ingestion")
		return
	}

	respondOK(c, http.StatusOK, TriggerResponse{
		JobRunID:  run.ID,
		Status:    run.Status,
		StartedAt: run.StartedAt,
	})
}

// Metrics returns the last run and all-time totals
// GET /api/job/metrics
func (h *JobHandler) Metrics(c *gin.Context) {
	m, err := h.recorder.Metrics(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to load job metrics", "error", err)
		respondError(c, http.StatusInternalServerError, CodeInternal, "Failed to load job metrics")
		return
	}
	respondOK(c, http.StatusOK, gin.H{
		"metrics":         m,
		"scheduler_state": h.trigger.State(),
	})
}

// ListRuns pages through recorded runs, newest first
// GET /api/job/runs
func (h *JobHandler) ListRuns(c *gin.Context) {
	page, size, ok := parsePaging(c, 10)
	if !ok {
		return
	}

	result, err := h.recorder.ListRuns(c.Request.Context(), page, size)
	if err != nil {
		h.logger.Error("failed to list runs", "error", err)
		respondError(c, http.StatusInternalServerError, CodeInternal, "Failed to list runs")
		return
	}
	respondOK(c, http.StatusOK, result)
}

// GetRun returns one run
// GET /api/job/runs/:id
func (h *JobHandler) GetRun(c *gin.Context) {
	id, ok := parseID(c, "id", "run")
	if !ok {
		return
	}

	run, err := h.recorder.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, http.StatusNotFound, CodeNotFound, "Run not found")
		return
	}
	respondOK(c, http.StatusOK, run)
}

package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/luo-one/mailkeeper/internal/database/models"
	"gorm.io/gorm"
)

// RunRecorder keeps the bookkeeping record of each ingestion run.
type RunRecorder struct {
	db *gorm.DB
}

// NewRunRecorder creates a new RunRecorder
func NewRunRecorder(db *gorm.DB) *RunRecorder {
	return &RunRecorder{db: db}
}

// JobMetrics summarizes the latest run and all-time totals
type JobMetrics struct {
	LastRunStart         *time.Time        `json:"last_run_start"`
	LastRunEnd           *time.Time        `json:"last_run_end"`
	LastStatus           *models.JobStatus `json:"last_status"`
	LastError            *string           `json:"last_error"`
	TotalRuns            int64             `json:"total_runs"`
	TotalMessagesFetched int64             `json:"total_messages_fetched"`
	TotalMessagesSaved   int64             `json:"total_messages_saved"`
}

// Begin inserts a running JobRun. It commits on its own, outside any message transaction.
func (r *RunRecorder) Begin(ctx context.Context, trigger models.JobTrigger) (*models.JobRun, error) {
	run := &models.JobRun{
		StartedAt: time.Now().UTC(),
		Status:    models.JobStatusRunning,
		Trigger:   trigger,
	}
	if err := r.db.WithContext(ctx).Create(run).Error; err != nil {
		return nil, fmt.Errorf("begin job run: %w", err)
	}
	return run, nil
}

// Finish finalizes run exactly once. A second call returns ErrRunAlreadyFinished
// and leaves the stored record untouched.
func (r *RunRecorder) Finish(ctx context.Context, run *models.JobRun, fetched, saved int, status models.JobStatus, detail string) error {
	if !status.IsFinal() {
		return fmt.Errorf("%w: %q", ErrInvalidRunStatus, status)
	}
	if fetched < 0 || saved < 0 {
		return fmt.Errorf("finish job run %d: negative counts", run.ID)
	}
	if run.Status.IsFinal() {
		return ErrRunAlreadyFinished
	}

	finishedAt := time.Now().UTC()
	var errMsg *string
	if detail != "" {
		errMsg = &detail
	}

	res := r.db.WithContext(ctx).
		Model(&models.JobRun{}).
		Where("id = ? AND status = ?", run.ID, models.JobStatusRunning).
		Updates(map[string]interface{}{
			"finished_at":      finishedAt,
			"messages_fetched": fetched,
			"messages_saved":   saved,
			"status":           status,
			"error_message":    errMsg,
		})
	if res.Error != nil {
		return fmt.Errorf("finish job run %d: %w", run.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrRunAlreadyFinished
	}

	run.FinishedAt = &finishedAt
	run.MessagesFetched = fetched
	run.MessagesSaved = saved
	run.Status = status
	run.ErrorMessage = errMsg

	runsTotal.WithLabelValues(string(run.Trigger), string(status)).Inc()
	runDuration.WithLabelValues(string(run.Trigger)).Observe(finishedAt.Sub(run.StartedAt).Seconds())
	return nil
}

// Get returns one run by ID
func (r *RunRecorder) Get(ctx context.Context, id uint) (*models.JobRun, error) {
	var run models.JobRun
	if err := r.db.WithContext(ctx).First(&run, id).Error; err != nil {
		return nil, err
	}
	return &run, nil
}

// Last returns the most recently started run, or nil if none exists
func (r *RunRecorder) Last(ctx context.Context) (*models.JobRun, error) {
	var run models.JobRun
	err := r.db.WithContext(ctx).Order("id DESC").Limit(1).Take(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// Metrics derives the observability summary from the job_runs table
func (r *RunRecorder) Metrics(ctx context.Context) (*JobMetrics, error) {
	last, err := r.Last(ctx)
	if err != nil {
		return nil, err
	}

	var totals struct {
		Runs    int64
		Fetched int64
		Saved   int64
	}
	err = r.db.WithContext(ctx).
		Model(&models.JobRun{}).
		Select("COUNT(*) AS runs, COALESCE(SUM(messages_fetched), 0) AS fetched, COALESCE(SUM(messages_saved), 0) AS saved").
		Scan(&totals).Error
	if err != nil {
		return nil, err
	}

	m := &JobMetrics{
		TotalRuns:            totals.Runs,
		TotalMessagesFetched: totals.Fetched,
		TotalMessagesSaved:   totals.Saved,
	}
	if last != nil {
		status := last.Status
		m.LastRunStart = &last.StartedAt
		m.LastRunEnd = last.FinishedAt
		m.LastStatus = &status
		m.LastError = last.ErrorMessage
	}
	return m, nil
}

// RunListResult is one page of runs, newest first
type RunListResult struct {
	Runs     []models.JobRun `json:"runs"`
	Total    int64           `json:"total"`
	Page     int             `json:"page"`
	PageSize int             `json:"page_size"`
}

// ListRuns pages through job runs, newest first
func (r *RunRecorder) ListRuns(ctx context.Context, page, pageSize int) (*RunListResult, error) {
	page, pageSize = normalizePage(page, pageSize)

	var total int64
	if err := r.db.WithContext(ctx).Model(&models.JobRun{}).Count(&total).Error; err != nil {
		return nil, err
	}

	var runs []models.JobRun
	err := r.db.WithContext(ctx).
		Order("id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&runs).Error
	if err != nil {
		return nil, err
	}

	return &RunListResult{Runs: runs, Total: total, Page: page, PageSize: pageSize}, nil
}

const (
	defaultPageSize = 10
	maxPageSize     = 100
)

func normalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return page, pageSize
}

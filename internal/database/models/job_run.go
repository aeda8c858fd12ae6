package models

import (
	"time"
)

// JobRun records one execution of the ingestion pipeline
type JobRun struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	StartedAt       time.Time  `gorm:"not null;index" json:"started_at"`
	FinishedAt      *time.Time `json:"finished_at"`
	MessagesFetched int        `gorm:"default:0;not null" json:"messages_fetched"`
	MessagesSaved   int        `gorm:"default:0;not null" json:"messages_saved"`
	Status          JobStatus  `gorm:"size:50;default:'running';not null" json:"status"`
	ErrorMessage    *string    `gorm:"type:text" json:"error_message"`
	Trigger         JobTrigger `gorm:"size:20" json:"trigger"`
}

// JobStatus represents the state of a JobRun
type JobStatus string

const (
	JobStatusRunning JobStatus = "running"
	JobStatusSuccess JobStatus = "success"
	JobStatusError   JobStatus = "error"
)

// IsFinal reports whether the status is terminal
func (s JobStatus) IsFinal() bool {
	return s == JobStatusSuccess || s == JobStatusError
}

// JobTrigger identifies what started a run
type JobTrigger string

const (
	JobTriggerScheduled JobTrigger = "scheduled"
	JobTriggerManual    JobTrigger = "manual"
	JobTriggerCLI       JobTrigger = "cli"
)

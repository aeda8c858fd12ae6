package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mailkeeper",
			Name:      "runs_total",
			Help:      "Total number of ingestion runs by trigger and final status.",
		},
		[]string{"trigger", "status"},
	)

	runDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mailkeeper",
			Name:      "run_duration_seconds",
			Help:      "Duration of ingestion runs.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"trigger"},
	)

	messagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mailkeeper",
			Name:      "messages_total",
			Help:      "Messages observed by ingestion runs, by outcome.",
		},
		[]string{"outcome"}, // fetched, saved, duplicate, filtered, undecodable, no_message_id
	)

	attachmentsWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mailkeeper",
			Name:      "attachments_written_total",
			Help:      "Attachment blobs written to the blob store.",
		},
	)

	attachmentBytesWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mailkeeper",
			Name:      "attachment_bytes_written_total",
			Help:      "Bytes of attachment content written to the blob store.",
		},
	)

	attachmentWriteFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mailkeeper",
			Name:      "attachment_write_failures_total",
			Help:      "Attachment writes that failed and were rolled back.",
		},
	)

	blobDeleteFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mailkeeper",
			Name:      "blob_delete_failures_total",
			Help:      "Best-effort blob deletions that failed and left an orphan file.",
		},
	)

	skippedTicks = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mailkeeper",
			Name:      "scheduler_skipped_ticks_total",
			Help:      "Scheduled ticks skipped because a run was in flight.",
		},
	)

	rejectedTriggers = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mailkeeper",
			Name:      "scheduler_rejected_triggers_total",
			Help:      "On-demand triggers rejected because a run was in flight.",
		},
	)
)

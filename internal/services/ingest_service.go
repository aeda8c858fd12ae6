package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/luo-one/mailkeeper/internal/database/models"
	"github.com/luo-one/mailkeeper/internal/filter"
	"github.com/luo-one/mailkeeper/internal/mailbox"
	"gorm.io/gorm"
)

// DefaultMailbox is selected when none is configured
const DefaultMailbox = "INBOX"

// IngestService runs the ingestion pipeline: search, fetch, decode,
// deduplicate, filter and persist, recording the outcome as a JobRun.
type IngestService struct {
	db          *gorm.DB
	transport   mailbox.Transport
	mailboxName string
	dedup       *DedupGate
	filters     *FilterService
	writer      *AttachmentWriter
	recorder    *RunRecorder
	logService  *LogService
	logger      *slog.Logger
}

// IngestConfig wires the collaborators of an IngestService
type IngestConfig struct {
	DB          *gorm.DB
	Transport   mailbox.Transport
	MailboxName string
	Writer      *AttachmentWriter
	Recorder    *RunRecorder
	Filters     *FilterService
	LogService  *LogService
	Logger      *slog.Logger
}

// NewIngestService creates a new IngestService
func NewIngestService(cfg IngestConfig) *IngestService {
	name := cfg.MailboxName
	if name == "" {
		name = DefaultMailbox
	}
	return &IngestService{
		db:          cfg.DB,
		transport:   cfg.Transport,
		mailboxName: name,
		dedup:       NewDedupGate(cfg.DB),
		filters:     cfg.Filters,
		writer:      cfg.Writer,
		recorder:    cfg.Recorder,
		logService:  cfg.LogService,
		logger:      cfg.Logger.With("component", "ingest"),
	}
}

// RunOnce executes one ingestion run and returns the finalized JobRun.
// Failures inside the run are recorded on the JobRun with status error; the
// returned error is non-nil only when the run could not be recorded.
func (s *IngestService) RunOnce(ctx context.Context, trigger models.JobTrigger, q *mailbox.Query) (*models.JobRun, error) {
	run, err := s.recorder.Begin(ctx, trigger)
	if err != nil {
		return nil, err
	}

	s.logger.Info("run started", "run_id", run.ID, "trigger", trigger, "criteria", q.String())

	tally, runErr := s.execute(ctx, run, q)

	status := models.JobStatusSuccess
	detail := ""
	if runErr != nil {
		status = models.JobStatusError
		detail = runErr.Error()
	}

	// The run must be finalized even when the caller's context is already done
	if err := s.recorder.Finish(context.WithoutCancel(ctx), run, tally.fetched, tally.saved, status, detail); err != nil {
		s.logger.Error("failed to finalize run", "run_id", run.ID, "error", err)
		return run, err
	}

	s.recordActivity(s.logService.LogRunFinished(run))
	if runErr != nil {
		s.logger.Error("run failed", "run_id", run.ID, "fetched", tally.fetched, "saved", tally.saved, "error", runErr)
	} else {
		s.logger.Info("run completed", "run_id", run.ID, "fetched", tally.fetched, "saved", tally.saved)
	}
	return run, nil
}

// runTally counts search hits and persisted messages; partial counts survive a failed run
type runTally struct {
	fetched int
	saved   int
}

// execute converts a panic into a run error so bookkeeping still completes
func (s *IngestService) execute(ctx context.Context, run *models.JobRun, q *mailbox.Query) (tally runTally, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during run: %v", r)
		}
	}()
	err = s.ingest(ctx, run, q, &tally)
	return tally, err
}

func (s *IngestService) ingest(ctx context.Context, run *models.JobRun, q *mailbox.Query, tally *runTally) error {
	rules, err := s.filters.EnabledRules(ctx)
	if err != nil {
		return fmt.Errorf("load filters: %w", err)
	}
	if inert := filter.Inert(rules); len(inert) > 0 {
		s.logger.Warn("filters without conditions are ignored", "filters", inert)
		s.recordActivity(s.logService.LogFilterInert(run.ID, inert))
	}

	session, err := s.transport.Open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := session.Close(); err != nil {
			s.logger.Warn("failed to close mailbox session", "run_id", run.ID, "error", err)
		}
	}()

	if err := session.SelectMailbox(s.mailboxName); err != nil {
		return err
	}

	uids, err := session.Search(q)
	if err != nil {
		return err
	}
	tally.fetched = len(uids)
	messagesTotal.WithLabelValues("fetched").Add(float64(len(uids)))
	s.logger.Info("search completed", "run_id", run.ID, "found", len(uids))

	for _, uid := range uids {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("run cancelled: %w", err)
		}

		raw, err := session.Fetch(uid)
		if err != nil {
			return err
		}

		msg, err := mailbox.Decode(raw)
		if err != nil {
			messagesTotal.WithLabelValues("undecodable").Inc()
			s.logger.Warn("skipping undecodable message", "run_id", run.ID, "uid", uid, "error", err)
			s.recordActivity(s.logService.LogMessageSkipped(run.ID, MessageDetails{UID: uid, Reason: "decode", ErrorMsg: err.Error()}))
			continue
		}

		if msg.MessageID == "" {
			messagesTotal.WithLabelValues("no_message_id").Inc()
			s.logger.Warn("skipping message without Message-ID", "run_id", run.ID, "uid", uid)
			s.recordActivity(s.logService.LogMessageSkipped(run.ID, MessageDetails{UID: uid, Subject: msg.Subject, From: msg.From, Reason: "missing_message_id"}))
			continue
		}

		seen, err := s.dedup.Seen(ctx, msg.MessageID)
		if err != nil {
			return &PersistenceError{Err: fmt.Errorf("dedup lookup %s: %w", msg.MessageID, err)}
		}
		if seen {
			messagesTotal.WithLabelValues("duplicate").Inc()
			s.logger.Debug("message already stored", "message_id", msg.MessageID)
			s.recordActivity(s.logService.LogDebug(run.ID, models.LogModuleIngest, "duplicate", "Message already stored",
				MessageDetails{UID: uid, MessageID: msg.MessageID}))
			continue
		}

		candidate := filter.Candidate{Sender: msg.From, Subject: msg.Subject, Body: msg.Body}
		if !filter.Accepts(candidate, rules) {
			messagesTotal.WithLabelValues("filtered").Inc()
			s.logger.Debug("message rejected by filters", "message_id", msg.MessageID)
			s.recordActivity(s.logService.LogDebug(run.ID, models.LogModuleIngest, "filtered", "Message rejected by filters",
				MessageDetails{UID: uid, MessageID: msg.MessageID, Subject: msg.Subject, From: msg.From}))
			continue
		}

		email, err := s.persist(ctx, run, msg)
		if err != nil {
			return err
		}
		tally.saved++
		messagesTotal.WithLabelValues("saved").Inc()
		s.recordActivity(s.logService.LogMessageSaved(run.ID, MessageDetails{
			UID:       uid,
			MessageID: msg.MessageID,
			EmailID:   email.ID,
			Subject:   msg.Subject,
			From:      msg.From,
		}))
	}

	return nil
}

// persist stores one message and its attachments in a single transaction.
// On failure the transaction rolls back and blobs already written are removed.
func (s *IngestService) persist(ctx context.Context, run *models.JobRun, msg *mailbox.RawMessage) (*models.Email, error) {
	email := newEmailRecord(msg)
	set := &WriteSet{}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(email).Error; err != nil {
			return &PersistenceError{Err: fmt.Errorf("insert email %s: %w", msg.MessageID, err)}
		}
		for _, att := range msg.Attachments {
			if _, err := s.writer.Write(ctx, tx, set, email, att.Filename, att.MimeType, att.Content); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.writer.Compensate(set)
		var persistErr *PersistenceError
		if !errors.As(err, &persistErr) {
			return nil, &PersistenceError{Err: fmt.Errorf("commit email %s: %w", msg.MessageID, err)}
		}
		// Logged after the transaction ends; the log insert would otherwise wait on its write lock
		if persistErr.Filename != "" {
			s.recordActivity(s.logService.LogAttachmentWriteFailed(run.ID, AttachmentDetails{
				EmailID:  email.ID,
				Filename: persistErr.Filename,
				ErrorMsg: persistErr.Err.Error(),
			}))
		}
		return nil, err
	}
	return email, nil
}

// recordActivity reports a failed activity log write; the run continues regardless
func (s *IngestService) recordActivity(err error) {
	if err != nil {
		s.logger.Debug("failed to write activity log", "error", err)
	}
}

func newEmailRecord(msg *mailbox.RawMessage) *models.Email {
	email := &models.Email{
		MessageID:  msg.MessageID,
		Sender:     msg.From,
		Recipient:  optional(msg.To),
		Cc:         optional(msg.Cc),
		Subject:    optional(msg.Subject),
		Body:       msg.Body,
		ReceivedAt: msg.Date,
	}
	if email.ReceivedAt != nil {
		utc := email.ReceivedAt.UTC()
		email.ReceivedAt = &utc
	}
	return email
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

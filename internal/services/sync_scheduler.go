package services

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/luo-one/mailkeeper/internal/database/models"
	"github.com/luo-one/mailkeeper/internal/mailbox"
)

// Runner executes a single ingestion run
type Runner interface {
	RunOnce(ctx context.Context, trigger models.JobTrigger, q *mailbox.Query) (*models.JobRun, error)
}

// SchedulerState reports whether a run is in flight
type SchedulerState string

const (
	StateIdle    SchedulerState = "idle"
	StateRunning SchedulerState = "running"
)

const (
	defaultRunTimeout   = 30 * time.Minute
	defaultStartupDelay = 10 * time.Second
)

// SyncScheduler triggers ingestion runs periodically and on demand. At most
// one run executes at a time; a tick or trigger arriving during a run is rejected.
type SyncScheduler struct {
	runner       Runner
	logService   *LogService
	logger       *slog.Logger
	interval     time.Duration
	startupDelay time.Duration
	runTimeout   time.Duration

	stopChan chan struct{}
	wg       sync.WaitGroup
	running  bool
	mu       sync.Mutex

	syncing  sync.Mutex // held for the duration of a run
	inFlight atomic.Bool
}

// SchedulerConfig configures a SyncScheduler
type SchedulerConfig struct {
	Interval     time.Duration
	StartupDelay time.Duration
	// RunTimeout bounds scheduled runs; zero means the default
	RunTimeout time.Duration
}

// NewSyncScheduler creates a new sync scheduler
func NewSyncScheduler(runner Runner, logService *LogService, cfg SchedulerConfig, logger *slog.Logger) *SyncScheduler {
	if cfg.StartupDelay < 0 {
		cfg.StartupDelay = defaultStartupDelay
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = defaultRunTimeout
	}
	return &SyncScheduler{
		runner:       runner,
		logService:   logService,
		logger:       logger.With("component", "sync_scheduler"),
		interval:     cfg.Interval,
		startupDelay: cfg.StartupDelay,
		runTimeout:   cfg.RunTimeout,
	}
}

// Start begins the periodic sync loop. Calling Start on a started scheduler does nothing.
func (s *SyncScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	if s.interval <= 0 {
		s.logger.Warn("sync interval not positive, periodic sync disabled", "interval", s.interval)
		return
	}
	s.running = true
	s.stopChan = make(chan struct{})

	s.logger.Info("starting", "interval", s.interval, "startup_delay", s.startupDelay)

	s.wg.Add(1)
	go s.loop(s.stopChan)
}

func (s *SyncScheduler) loop(stop <-chan struct{}) {
	defer s.wg.Done()

	// Let the rest of the service come up before the first run
	select {
	case <-time.After(s.startupDelay):
		s.tick()
	case <-stop:
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.tick()
		case <-stop:
			s.logger.Info("stopping")
			return
		}
	}
}

// Stop stops the loop and waits for it to exit. A run in flight completes first.
func (s *SyncScheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	close(s.stopChan)
	s.running = false
	s.mu.Unlock()

	s.wg.Wait()
}

// State reports idle or running
func (s *SyncScheduler) State() SchedulerState {
	if s.inFlight.Load() {
		return StateRunning
	}
	return StateIdle
}

// tick runs a scheduled ingestion unless one is already in flight
func (s *SyncScheduler) tick() {
	if !s.syncing.TryLock() {
		skippedTicks.Inc()
		s.logger.Info("previous run still in progress, skipping this tick")
		return
	}
	defer s.syncing.Unlock()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduled run panicked", "panic", r)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), s.runTimeout)
	defer cancel()

	if _, err := s.run(ctx, models.JobTriggerScheduled, nil); err != nil {
		s.logger.Error("scheduled run could not be recorded", "error", err)
	}
}

// Trigger runs an ingestion now and returns its JobRun. It returns
// ErrRunInProgress without waiting if a run is already executing.
func (s *SyncScheduler) Trigger(ctx context.Context, trigger models.JobTrigger, q *mailbox.Query) (*models.JobRun, error) {
	if !s.syncing.TryLock() {
		rejectedTriggers.Inc()
		s.logger.Warn("trigger rejected, run in progress", "trigger", trigger)
		if s.logService != nil {
			if err := s.logService.LogTriggerRejected(trigger); err != nil {
				s.logger.Debug("failed to write activity log", "error", err)
			}
		}
		return nil, ErrRunInProgress
	}
	defer s.syncing.Unlock()

	return s.run(ctx, trigger, q)
}

func (s *SyncScheduler) run(ctx context.Context, trigger models.JobTrigger, q *mailbox.Query) (*models.JobRun, error) {
	s.inFlight.Store(true)
	defer s.inFlight.Store(false)

	return s.runner.RunOnce(ctx, trigger, q)
}

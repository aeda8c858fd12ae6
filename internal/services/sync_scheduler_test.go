package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/luo-one/mailkeeper/internal/database/models"
	"github.com/luo-one/mailkeeper/internal/logger"
	"github.com/luo-one/mailkeeper/internal/mailbox"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRunner blocks each run until release is closed and tracks overlap
type fakeRunner struct {
	started   chan models.JobTrigger
	release   chan struct{}
	panicNext atomic.Bool

	active    int32
	maxActive int32
	calls     int32
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		started: make(chan models.JobTrigger, 16),
		release: make(chan struct{}),
	}
}

func (r *fakeRunner) RunOnce(ctx context.Context, trigger models.JobTrigger, q *mailbox.Query) (*models.JobRun, error) {
	n := atomic.AddInt32(&r.active, 1)
	defer atomic.AddInt32(&r.active, -1)
	for {
		max := atomic.LoadInt32(&r.maxActive)
		if n <= max || atomic.CompareAndSwapInt32(&r.maxActive, max, n) {
			break
		}
	}
	id := atomic.AddInt32(&r.calls, 1)

	r.started <- trigger
	if r.panicNext.CompareAndSwap(true, false) {
		panic("runner exploded")
	}
	<-r.release
	return &models.JobRun{ID: uint(id), Trigger: trigger, Status: models.JobStatusSuccess}, nil
}

func newTestScheduler(runner Runner, cfg SchedulerConfig) *SyncScheduler {
	return NewSyncScheduler(runner, nil, cfg, logger.Discard())
}

func TestSyncScheduler_TriggerRejectedWhileBusy(t *testing.T) {
	runner := newFakeRunner()
	sched := newTestScheduler(runner, SchedulerConfig{})
	rejectedBefore := testutil.ToFloat64(rejectedTriggers)

	done := make(chan error, 1)
	go func() {
		_, err := sched.Trigger(context.Background(), models.JobTriggerManual, nil)
		done <- err
	}()
	<-runner.started
	assert.Equal(t, StateRunning, sched.State())

	run, err := sched.Trigger(context.Background(), models.JobTriggerCLI, nil)
	assert.Nil(t, run)
	assert.ErrorIs(t, err, ErrRunInProgress)
	assert.Equal(t, rejectedBefore+1, testutil.ToFloat64(rejectedTriggers))

	close(runner.release)
	require.NoError(t, <-done)
	assert.Equal(t, StateIdle, sched.State())

	run, err = sched.Trigger(context.Background(), models.JobTriggerCLI, nil)
	require.NoError(t, err)
	assert.Equal(t, models.JobTriggerCLI, run.Trigger)
}

func TestSyncScheduler_ConcurrentTriggersNeverOverlap(t *testing.T) {
	runner := newFakeRunner()
	close(runner.release)
	sched := newTestScheduler(runner, SchedulerConfig{})

	var wg sync.WaitGroup
	var ok, busy int32
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := sched.Trigger(context.Background(), models.JobTriggerManual, nil)
			switch {
			case err == nil:
				atomic.AddInt32(&ok, 1)
			case errors.Is(err, ErrRunInProgress):
				atomic.AddInt32(&busy, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&runner.maxActive))
	assert.Equal(t, int32(20), ok+busy)
	assert.GreaterOrEqual(t, ok, int32(1))
	assert.Equal(t, ok, atomic.LoadInt32(&runner.calls))
}

func TestSyncScheduler_TickSkippedWhileTriggerRuns(t *testing.T) {
	runner := newFakeRunner()
	sched := newTestScheduler(runner, SchedulerConfig{})
	skippedBefore := testutil.ToFloat64(skippedTicks)

	go sched.Trigger(context.Background(), models.JobTriggerManual, nil)
	<-runner.started

	sched.tick()
	assert.Equal(t, skippedBefore+1, testutil.ToFloat64(skippedTicks))
	assert.Equal(t, int32(1), atomic.LoadInt32(&runner.calls))

	close(runner.release)
}

func TestSyncScheduler_PanicReleasesLock(t *testing.T) {
	runner := newFakeRunner()
	close(runner.release)
	runner.panicNext.Store(true)
	sched := newTestScheduler(runner, SchedulerConfig{})

	assert.NotPanics(t, sched.tick)
	<-runner.started
	assert.Equal(t, StateIdle, sched.State())

	_, err := sched.Trigger(context.Background(), models.JobTriggerManual, nil)
	assert.NoError(t, err)
}

func TestSyncScheduler_StartStop(t *testing.T) {
	runner := newFakeRunner()
	close(runner.release)
	sched := newTestScheduler(runner, SchedulerConfig{Interval: 20 * time.Millisecond, StartupDelay: 0})

	sched.Start()
	sched.Start()

	for i := 0; i < 2; i++ {
		select {
		case trigger := <-runner.started:
			assert.Equal(t, models.JobTriggerScheduled, trigger)
		case <-time.After(2 * time.Second):
			t.Fatal("scheduled run did not start")
		}
	}

	sched.Stop()
	sched.Stop()
	calls := atomic.LoadInt32(&runner.calls)
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, calls, atomic.LoadInt32(&runner.calls), "no runs after Stop")
	assert.Equal(t, int32(1), atomic.LoadInt32(&runner.maxActive))

	// A stopped scheduler can be started again
	sched.Start()
	select {
	case <-runner.started:
	case <-time.After(2 * time.Second):
		t.Fatal("restarted scheduler did not run")
	}
	sched.Stop()
}

func TestSyncScheduler_NonPositiveIntervalDisablesLoop(t *testing.T) {
	runner := newFakeRunner()
	close(runner.release)
	sched := newTestScheduler(runner, SchedulerConfig{Interval: 0, StartupDelay: 0})

	sched.Start()
	time.Sleep(30 * time.Millisecond)
	sched.Stop()
	assert.Zero(t, atomic.LoadInt32(&runner.calls))
}

func TestSyncScheduler_WithIngestService(t *testing.T) {
	env := newTestEnv(t)
	env.transport.add(1, buildMessage("<s@x>", "a@x", "s", "b"))
	env.transport.block = make(chan struct{})
	env.transport.opened = make(chan struct{}, 1)
	sched := NewSyncScheduler(env.ingest, env.logs, SchedulerConfig{}, logger.Discard())

	done := make(chan *models.JobRun, 1)
	go func() {
		run, _ := sched.Trigger(context.Background(), models.JobTriggerManual, nil)
		done <- run
	}()
	<-env.transport.opened

	_, err := sched.Trigger(context.Background(), models.JobTriggerManual, nil)
	assert.ErrorIs(t, err, ErrRunInProgress)

	close(env.transport.block)
	run := <-done
	require.NotNil(t, run)
	assert.Equal(t, models.JobStatusSuccess, run.Status)
	assert.Equal(t, 1, run.MessagesSaved)

	var running int64
	env.db.Model(&models.JobRun{}).Where("status = ?", models.JobStatusRunning).Count(&running)
	assert.Zero(t, running, "the rejected trigger must not leave a run behind")

	var rejected int64
	env.db.Model(&models.Log{}).Where("module = ? AND action = ?", models.LogModuleScheduler, "trigger").Count(&rejected)
	assert.Equal(t, int64(1), rejected)
	assert.Equal(t, int32(1), atomic.LoadInt32(&env.transport.maxActive))
}

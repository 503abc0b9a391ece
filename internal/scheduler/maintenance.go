// Package scheduler runs periodic maintenance: failing trim tasks that
// stopped making progress and removing chapter contents nothing uses.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/storytrim/server/internal/logging"
)

// StaleTaskReaper fails tasks not updated for olderThan.
type StaleTaskReaper interface {
	ReapStale(ctx context.Context, olderThan time.Duration) (int, error)
}

// OrphanSweeper removes chapter contents no chapter or trim result uses.
type OrphanSweeper interface {
	SweepOrphans(ctx context.Context) error
}

// Config controls the maintenance jobs. An empty schedule disables its job.
type Config struct {
	ReapSchedule  string
	StaleTaskAge  time.Duration
	SweepSchedule string
}

// MaintenanceScheduler runs the reaper and the sweeper on cron schedules.
type MaintenanceScheduler struct {
	reaper  StaleTaskReaper
	sweeper OrphanSweeper
	config  Config

	cron       *cron.Cron
	mu         sync.RWMutex
	isRunning  bool
	reaping    bool
	sweeping   bool
	cancelFunc context.CancelFunc
	runCtx     context.Context
}

// NewMaintenanceScheduler creates a scheduler. sweeper may be nil.
func NewMaintenanceScheduler(reaper StaleTaskReaper, sweeper OrphanSweeper, cfg Config) *MaintenanceScheduler {
	return &MaintenanceScheduler{
		reaper:  reaper,
		sweeper: sweeper,
		config:  cfg,
		cron:    cron.New(cron.WithParser(newParser())),
	}
}

func newParser() cron.Parser {
	return cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
}

// ValidateCronSchedule checks a five field cron expression.
func ValidateCronSchedule(schedule string) error {
	_, err := newParser().Parse(schedule)
	return err
}

// Start registers the jobs on a fresh cron and starts it. It is a no-op
// when running.
func (s *MaintenanceScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	logger := logging.With("scheduler")
	if s.isRunning {
		return nil
	}

	c := cron.New(cron.WithParser(newParser()))
	jobs := 0
	if s.config.ReapSchedule != "" && s.reaper != nil {
		if err := ValidateCronSchedule(s.config.ReapSchedule); err != nil {
			return fmt.Errorf("invalid reap schedule '%s': %w", s.config.ReapSchedule, err)
		}
		if _, err := c.AddFunc(s.config.ReapSchedule, s.runReap); err != nil {
			return fmt.Errorf("failed to schedule reap job: %w", err)
		}
		jobs++
	}
	if s.config.SweepSchedule != "" && s.sweeper != nil {
		if err := ValidateCronSchedule(s.config.SweepSchedule); err != nil {
			return fmt.Errorf("invalid sweep schedule '%s': %w", s.config.SweepSchedule, err)
		}
		if _, err := c.AddFunc(s.config.SweepSchedule, s.runSweep); err != nil {
			return fmt.Errorf("failed to schedule sweep job: %w", err)
		}
		jobs++
	}
	if jobs == 0 {
		logger.Info().Msg("Maintenance scheduler disabled, no jobs configured")
		return nil
	}

	s.cron = c
	s.runCtx, s.cancelFunc = context.WithCancel(ctx)
	s.cron.Start()
	s.isRunning = true

	logger.Info().
		Str("reap_schedule", s.config.ReapSchedule).
		Dur("stale_task_age", s.config.StaleTaskAge).
		Str("sweep_schedule", s.config.SweepSchedule).
		Msg("Maintenance scheduler started")

	runCtx := s.runCtx
	go func() {
		<-runCtx.Done()
		s.stop(runCtx)
	}()
	return nil
}

// Stop stops cron and waits for running jobs to complete.
func (s *MaintenanceScheduler) Stop() {
	s.stop(nil)
}

// stop ends the current run. A non-nil runCtx limits it to the run that
// owns runCtx.
func (s *MaintenanceScheduler) stop(runCtx context.Context) {
	s.mu.Lock()
	if !s.isRunning || (runCtx != nil && runCtx != s.runCtx) {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	cancel := s.cancelFunc
	s.cancelFunc = nil
	c := s.cron
	s.mu.Unlock()

	cancel()
	<-c.Stop().Done()
	logging.With("scheduler").Info().Msg("Maintenance scheduler stopped")
}

// IsRunning returns whether the scheduler is active.
func (s *MaintenanceScheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// RunNow runs both jobs once, synchronously.
func (s *MaintenanceScheduler) RunNow(ctx context.Context) {
	if s.reaper != nil {
		s.reap(ctx)
	}
	if s.sweeper != nil {
		s.sweep(ctx)
	}
}

func (s *MaintenanceScheduler) jobContext() context.Context {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.runCtx == nil {
		return context.Background()
	}
	return s.runCtx
}

// begin marks a job as running and reports false when it already is.
func (s *MaintenanceScheduler) begin(flag *bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if *flag {
		return false
	}
	*flag = true
	return true
}

func (s *MaintenanceScheduler) end(flag *bool) {
	s.mu.Lock()
	*flag = false
	s.mu.Unlock()
}

func (s *MaintenanceScheduler) runReap() {
	s.reap(s.jobContext())
}

func (s *MaintenanceScheduler) runSweep() {
	s.sweep(s.jobContext())
}

func (s *MaintenanceScheduler) reap(ctx context.Context) {
	logger := logging.With("scheduler")
	if !s.begin(&s.reaping) {
		logger.Debug().Msg("Stale task reap skipped, already running")
		return
	}
	defer s.end(&s.reaping)

	reaped, err := s.reaper.ReapStale(ctx, s.config.StaleTaskAge)
	if err != nil {
		logger.Error().Err(err).Int("reaped", reaped).Msg("Stale task reap failed")
		return
	}
	if reaped > 0 {
		logger.Info().Int("reaped", reaped).Msg("Stale tasks reaped")
	}
}

func (s *MaintenanceScheduler) sweep(ctx context.Context) {
	logger := logging.With("scheduler")
	if !s.begin(&s.sweeping) {
		logger.Debug().Msg("Orphan sweep skipped, already running")
		return
	}
	defer s.end(&s.sweeping)

	if err := s.sweeper.SweepOrphans(ctx); err != nil {
		logger.Error().Err(err).Msg("Orphan content sweep failed")
	}
}

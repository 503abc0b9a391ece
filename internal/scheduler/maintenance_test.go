package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReaper struct {
	mu    sync.Mutex
	calls int
	age   time.Duration
	err   error
}

func (r *fakeReaper) ReapStale(ctx context.Context, olderThan time.Duration) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	r.age = olderThan
	return 2, r.err
}

type fakeSweeper struct {
	mu    sync.Mutex
	calls int
}

func (s *fakeSweeper) SweepOrphans(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return nil
}

func TestValidateCronSchedule(t *testing.T) {
	tests := []struct {
		schedule string
		wantErr  bool
	}{
		{"*/10 * * * *", false},
		{"30 3 * * *", false},
		{"0 0 * * 0", false},
		{"invalid", true},
		{"* * * * * *", true},
		{"", true},
	}
	for _, tt := range tests {
		t.Run(tt.schedule, func(t *testing.T) {
			err := ValidateCronSchedule(tt.schedule)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestMaintenanceScheduler_StartStop(t *testing.T) {
	s := NewMaintenanceScheduler(&fakeReaper{}, &fakeSweeper{}, Config{
		ReapSchedule:  "*/10 * * * *",
		StaleTaskAge:  3 * time.Hour,
		SweepSchedule: "30 3 * * *",
	})

	require.NoError(t, s.Start(context.Background()))
	assert.True(t, s.IsRunning())
	assert.Len(t, s.cron.Entries(), 2)

	require.NoError(t, s.Start(context.Background()), "second start is a no-op")

	s.Stop()
	assert.False(t, s.IsRunning())
	s.Stop()
}

func TestMaintenanceScheduler_Restart(t *testing.T) {
	s := NewMaintenanceScheduler(&fakeReaper{}, &fakeSweeper{}, Config{
		ReapSchedule:  "*/10 * * * *",
		SweepSchedule: "30 3 * * *",
	})

	for i := 0; i < 3; i++ {
		require.NoError(t, s.Start(context.Background()))
		time.Sleep(10 * time.Millisecond)
		assert.True(t, s.IsRunning(), "a watcher from an earlier run must not stop this one")
		assert.Len(t, s.cron.Entries(), 2)
		s.Stop()
	}
}

func TestMaintenanceScheduler_InvalidSweepAfterReap(t *testing.T) {
	s := NewMaintenanceScheduler(&fakeReaper{}, &fakeSweeper{}, Config{
		ReapSchedule:  "*/10 * * * *",
		SweepSchedule: "nightly",
	})
	require.Error(t, s.Start(context.Background()))

	s.config.SweepSchedule = "30 3 * * *"
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()
	assert.Len(t, s.cron.Entries(), 2)
}

func TestMaintenanceScheduler_StopsWithContext(t *testing.T) {
	s := NewMaintenanceScheduler(&fakeReaper{}, nil, Config{ReapSchedule: "*/10 * * * *"})
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, s.Start(ctx))
	cancel()

	assert.Eventually(t, func() bool { return !s.IsRunning() }, time.Second, 10*time.Millisecond)
}

func TestMaintenanceScheduler_InvalidSchedule(t *testing.T) {
	s := NewMaintenanceScheduler(&fakeReaper{}, nil, Config{ReapSchedule: "every minute"})
	assert.Error(t, s.Start(context.Background()))
	assert.False(t, s.IsRunning())
}

func TestMaintenanceScheduler_NoJobs(t *testing.T) {
	s := NewMaintenanceScheduler(&fakeReaper{}, &fakeSweeper{}, Config{})
	require.NoError(t, s.Start(context.Background()))
	assert.False(t, s.IsRunning())
}

func TestMaintenanceScheduler_RunNow(t *testing.T) {
	reaper := &fakeReaper{err: errors.New("db locked")}
	sweeper := &fakeSweeper{}
	s := NewMaintenanceScheduler(reaper, sweeper, Config{StaleTaskAge: time.Hour})

	s.RunNow(context.Background())

	assert.Equal(t, 1, reaper.calls)
	assert.Equal(t, time.Hour, reaper.age)
	assert.Equal(t, 1, sweeper.calls)
	assert.False(t, s.reaping)
}

func TestMaintenanceScheduler_SkipsOverlappingRuns(t *testing.T) {
	reaper := &fakeReaper{}
	s := NewMaintenanceScheduler(reaper, nil, Config{})
	s.reaping = true

	s.RunNow(context.Background())
	assert.Zero(t, reaper.calls)
}

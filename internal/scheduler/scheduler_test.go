package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedulerScheduleRejectsInvalidConfig(t *testing.T) {
	s := NewScheduler(masterGate(true), testLogger())
	noop := func(context.Context, Run) error { return nil }

	_, err := s.Schedule("daily", "00 30 2 * *", "Europe/Stockholm", noop)
	assert.ErrorIs(t, err, ErrScheduleConfig)

	_, err = s.Schedule("daily", "00 30 2 * * *", "Europe/Nowhere", noop)
	assert.ErrorIs(t, err, ErrScheduleConfig)

	assert.Empty(t, s.Entries())
}

func TestSchedulerRejectsDuplicateNames(t *testing.T) {
	s := NewScheduler(masterGate(true), testLogger())
	noop := func(context.Context, Run) error { return nil }

	_, err := s.Schedule("frequent", "0 */15 * * * *", "Europe/Stockholm", noop)
	require.NoError(t, err)

	_, err = s.Schedule("frequent", "0 */5 * * * *", "Europe/Stockholm", noop)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
	assert.Len(t, s.Entries(), 1)
}

func TestSchedulerEntries(t *testing.T) {
	s := NewScheduler(masterGate(true), testLogger())
	s.now = func() time.Time { return time.Date(2026, 7, 1, 10, 7, 0, 0, time.UTC) }
	noop := func(context.Context, Run) error { return nil }

	_, err := s.Schedule("frequent", "0 */15 * * * *", "Europe/Stockholm", noop)
	require.NoError(t, err)
	daily, err := s.Schedule("daily", "00 30 2 * * *", "Europe/Stockholm", noop)
	require.NoError(t, err)

	daily.Fire(context.Background(), TriggerManual)

	entries := s.Entries()
	require.Len(t, entries, 2)

	assert.Equal(t, "daily", entries[0].Name)
	assert.Equal(t, "Europe/Stockholm", entries[0].Timezone)
	assert.Equal(t, StateStopped, entries[0].State)
	assert.True(t, entries[0].NextRun.Equal(time.Date(2026, 7, 2, 0, 30, 0, 0, time.UTC)))
	assert.Equal(t, "succeeded", entries[0].LastResult)
	assert.NotEmpty(t, entries[0].LastRunID)

	assert.Equal(t, "frequent", entries[1].Name)
	assert.True(t, entries[1].NextRun.Equal(time.Date(2026, 7, 1, 10, 15, 0, 0, time.UTC)))
	assert.Empty(t, entries[1].LastResult)
}

func TestSchedulerStartStop(t *testing.T) {
	s := NewScheduler(masterGate(true), testLogger())
	noop := func(context.Context, Run) error { return nil }

	daily, err := s.Schedule("daily", "00 30 2 * * *", "Europe/Stockholm", noop)
	require.NoError(t, err)
	frequent, err := s.Schedule("frequent", "0 */15 * * * *", "Europe/Stockholm", noop)
	require.NoError(t, err)

	s.Start(context.Background())
	assert.Equal(t, StateRunning, daily.State())
	assert.Equal(t, StateRunning, frequent.State())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
	assert.Equal(t, StateStopped, daily.State())
	assert.Equal(t, StateStopped, frequent.State())
}

func TestSchedulerStopHonoursDeadline(t *testing.T) {
	s := NewScheduler(masterGate(true), testLogger())
	release := make(chan struct{})
	started := make(chan struct{})
	defer close(release)

	task, err := s.Schedule("daily", "00 30 2 * * *", "Europe/Stockholm", func(context.Context, Run) error {
		close(started)
		<-release
		return nil
	})
	require.NoError(t, err)
	s.Start(context.Background())

	go task.Fire(context.Background(), TriggerManual)
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	begin := time.Now()
	s.Stop(ctx)
	assert.Less(t, time.Since(begin), time.Second)
	assert.True(t, task.Busy())
}

func TestSchedulerTasksShareGate(t *testing.T) {
	gate := masterGate(false)
	s := NewScheduler(gate, testLogger())

	var calls atomic.Int32
	action := func(context.Context, Run) error {
		calls.Add(1)
		return nil
	}
	daily, err := s.Schedule("daily", "00 30 2 * * *", "Europe/Stockholm", action)
	require.NoError(t, err)
	frequent, err := s.Schedule("frequent", "0 */15 * * * *", "Europe/Stockholm", action)
	require.NoError(t, err)

	daily.Fire(context.Background(), TriggerSchedule)
	frequent.Fire(context.Background(), TriggerSchedule)
	assert.Zero(t, calls.Load())

	gate.master.Store(true)
	daily.Fire(context.Background(), TriggerSchedule)
	frequent.Fire(context.Background(), TriggerSchedule)
	assert.Equal(t, int32(2), calls.Load())

	got, ok := s.Task("frequent")
	require.True(t, ok)
	assert.Same(t, frequent, got)
	_, ok = s.Task("weekly")
	assert.False(t, ok)
}

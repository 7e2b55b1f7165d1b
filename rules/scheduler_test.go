package rules

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestSchedulerTicksUntilStopped(t *testing.T) {
	var ticks atomic.Int32
	scheduler := NewScheduler(5*time.Millisecond, func() { ticks.Add(1) }, nil)

	require.NoError(t, scheduler.Start(context.Background()))
	require.Eventually(t, func() bool { return ticks.Load() >= 3 }, time.Second, time.Millisecond)

	scheduler.Stop()
	<-scheduler.Done()
	stopped := ticks.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, stopped, ticks.Load())

	scheduler.Stop()
}

func TestSchedulerStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	scheduler := NewScheduler(time.Hour, func() {}, nil)
	require.NoError(t, scheduler.Start(ctx))

	cancel()
	scheduler.Stop()
}

func TestSchedulerIsSingleUse(t *testing.T) {
	scheduler := NewScheduler(time.Hour, func() {}, nil)
	require.NoError(t, scheduler.Start(context.Background()))
	assert.ErrorIs(t, scheduler.Start(context.Background()), ErrSchedulerStarted)
	scheduler.Stop()

	unstarted := NewScheduler(0, func() {}, nil)
	assert.Equal(t, DefaultInterval, unstarted.Interval())
	unstarted.Stop()
	assert.ErrorIs(t, unstarted.Start(context.Background()), ErrSchedulerStarted)
}

func TestSchedulerStopFromTick(t *testing.T) {
	var (
		scheduler *Scheduler
		once      sync.Once
	)
	stopped := make(chan struct{})
	scheduler = NewScheduler(time.Millisecond, func() {
		once.Do(func() {
			scheduler.Stop()
			close(stopped)
		})
	}, nil)
	require.NoError(t, scheduler.Start(context.Background()))

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop called inside a tick did not return")
	}
	select {
	case <-scheduler.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("ticker goroutine kept running after Stop")
	}
	scheduler.Stop()
}

func TestSchedulerStartedWithCancelledContextNeverTicks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var ticks atomic.Int32
	scheduler := NewScheduler(time.Millisecond, func() { ticks.Add(1) }, nil)
	require.NoError(t, scheduler.Start(ctx))

	select {
	case <-scheduler.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler kept running on a cancelled context")
	}
	assert.Zero(t, ticks.Load())
	scheduler.Stop()
}

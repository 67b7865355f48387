package schedule

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNew_InvalidSpec(t *testing.T) {
	_, err := New(context.Background(), "every now and then", func(context.Context) {}, quietLogger())
	require.Error(t, err)
}

func TestScheduler_Next(t *testing.T) {
	s, err := New(context.Background(), "@every 6h", func(context.Context) {}, quietLogger())
	require.NoError(t, err)

	assert.WithinDuration(t, time.Now().Add(6*time.Hour), s.Next(), time.Minute)
}

func TestScheduler_RunsOnSchedule(t *testing.T) {
	var runs atomic.Int32

	s, err := New(context.Background(), "@every 1s", func(context.Context) {
		runs.Add(1)
	}, quietLogger())
	require.NoError(t, err)

	s.Start()

	assert.Eventually(t, func() bool { return runs.Load() > 0 }, 5*time.Second, 50*time.Millisecond)
	require.NoError(t, s.Stop(context.Background()))
}

func TestScheduler_TriggerSkipsWhileRunning(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)

	var runs atomic.Int32

	s, err := New(context.Background(), "@every 1h", func(ctx context.Context) {
		runs.Add(1)
		started <- struct{}{}
		<-release
	}, quietLogger())
	require.NoError(t, err)

	require.True(t, s.Trigger())
	<-started

	assert.True(t, s.Running())
	assert.False(t, s.Trigger(), "second trigger must be rejected")

	s.run("schedule")
	assert.EqualValues(t, 1, runs.Load())

	close(release)
	assert.Eventually(t, func() bool { return !s.Running() }, time.Second, 10*time.Millisecond)

	require.NoError(t, s.Stop(context.Background()))
	assert.False(t, s.Trigger(), "stopped scheduler accepts no runs")
}

func TestScheduler_StopCancelsRunningCycle(t *testing.T) {
	started := make(chan struct{})

	s, err := New(context.Background(), "@every 1h", func(ctx context.Context) {
		close(started)
		<-ctx.Done()
	}, quietLogger())
	require.NoError(t, err)

	s.Start()
	require.True(t, s.Trigger())
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, s.Stop(ctx))
	assert.False(t, s.Running())
}

func TestScheduler_TriggerRacingStop(t *testing.T) {
	var runs atomic.Int32

	s, err := New(context.Background(), "@every 1h", func(ctx context.Context) {
		runs.Add(1)
	}, quietLogger())
	require.NoError(t, err)

	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			s.Trigger()
		}()
	}

	require.NoError(t, s.Stop(context.Background()))
	wg.Wait()

	settled := runs.Load()

	assert.False(t, s.Trigger())
	s.run("schedule")
	assert.Equal(t, settled, runs.Load(), "no cycle may start after Stop")
	assert.False(t, s.Running())
}

package schedule

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fyrsmithlabs/syspulse/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestScheduler_AddRejectsInvalidSpec(t *testing.T) {
	s := New(nil)
	err := s.Add("bad", "not a cron", func(context.Context) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid cron schedule")
}

func TestScheduler_EmptySpecSkipsJob(t *testing.T) {
	tl := logging.NewTestLogger()
	s := New(tl.Logger)
	require.NoError(t, s.Add("prune", "", func(context.Context) error { return nil }))

	_, ok := s.NextRun("prune")
	assert.False(t, ok)
	tl.AssertLogged(t, zapcore.InfoLevel, "Schedule not configured")
}

func TestScheduler_RunsJobs(t *testing.T) {
	s := New(nil)
	var runs atomic.Int32
	require.NoError(t, s.Add("tick", "@every 1s", func(context.Context) error {
		runs.Add(1)
		return nil
	}))

	s.Start()
	s.Start()
	assert.True(t, s.IsRunning())

	next, ok := s.NextRun("tick")
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(time.Second), next, 2*time.Second)

	assert.Eventually(t, func() bool { return runs.Load() >= 1 }, 3*time.Second, 50*time.Millisecond)

	require.NoError(t, s.Stop(context.Background()))
	require.NoError(t, s.Stop(context.Background()))
	assert.False(t, s.IsRunning())
}

func TestScheduler_StopCancelsRunningJob(t *testing.T) {
	s := New(nil)
	started := make(chan struct{})
	var canceled atomic.Bool
	require.NoError(t, s.Add("long", "@every 1s", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		canceled.Store(true)
		return ctx.Err()
	}))

	s.Start()
	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatal("job did not start")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	assert.True(t, canceled.Load())
}

func TestScheduler_RunNowLogsFailure(t *testing.T) {
	tl := logging.NewTestLogger()
	s := New(tl.Logger)

	err := s.RunNow(context.Background(), "sweep", func(context.Context) error {
		return errors.New("permission denied")
	})
	require.Error(t, err)
	tl.AssertLogged(t, zapcore.ErrorLevel, "Scheduled job failed")
	tl.AssertField(t, "Scheduled job failed", "job", "sweep")
}

func TestScheduler_PanickingJobIsRecovered(t *testing.T) {
	tl := logging.NewTestLogger()
	s := New(tl.Logger)
	done := make(chan struct{})
	require.NoError(t, s.Add("boom", "@every 1s", func(context.Context) error {
		defer close(done)
		panic("bad job")
	}))

	s.Start()
	defer s.Stop(context.Background())

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("job did not run")
	}
	assert.Eventually(t, func() bool {
		return tl.FilterMessage("Uncaught panic").Len() > 0
	}, time.Second, 10*time.Millisecond)
}

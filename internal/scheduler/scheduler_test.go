package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
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

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestCalculateNextRun(t *testing.T) {
	s := New(quietLogger())
	from := time.Date(2026, 6, 1, 10, 30, 0, 0, time.UTC)

	next, err := s.CalculateNextRun(DefaultResetSpec, from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 6, 2, 0, 0, 0, 0, time.UTC), next)

	next, err = s.CalculateNextRun("@hourly", from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 6, 1, 11, 0, 0, 0, time.UTC), next)

	_, err = s.CalculateNextRun("not a cron", from)
	assert.Error(t, err)
}

func TestAdd_Errors(t *testing.T) {
	s := New(quietLogger())
	require.NoError(t, s.Add(Job{Name: "a", Spec: "* * * * *", Run: func(context.Context) error { return nil }}))
	assert.Error(t, s.Add(Job{Name: "a", Spec: "* * * * *"}), "duplicate")
	assert.Error(t, s.Add(Job{Name: "b", Spec: "61 * * * *"}), "bad minute")
}

func TestTick_RunsDueJobs(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 6, 1, 23, 59, 0, 0, time.UTC)}
	s := New(quietLogger(), WithClock(clock.Now))

	var runs atomic.Int32
	require.NoError(t, s.Add(Job{Name: "reset", Spec: DefaultResetSpec, Run: func(context.Context) error {
		runs.Add(1)
		return nil
	}}))

	next, ok := s.NextRun("reset")
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 6, 2, 0, 0, 0, 0, time.UTC), next)

	s.Tick(context.Background())
	assert.Zero(t, runs.Load(), "not due yet")

	clock.Advance(90 * time.Second)
	s.Tick(context.Background())
	assert.Equal(t, int32(1), runs.Load())

	s.Tick(context.Background())
	assert.Equal(t, int32(1), runs.Load(), "rescheduled for the next day")

	next, _ = s.NextRun("reset")
	assert.Equal(t, time.Date(2026, 6, 3, 0, 0, 0, 0, time.UTC), next)

	_, ok = s.NextRun("missing")
	assert.False(t, ok)
}

func TestTick_FailingJobIsRescheduled(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 6, 1, 0, 0, 30, 0, time.UTC)}
	s := New(quietLogger(), WithClock(clock.Now))

	var runs atomic.Int32
	require.NoError(t, s.Add(Job{Name: "flaky", Spec: "* * * * *", Run: func(context.Context) error {
		runs.Add(1)
		return errors.New("boom")
	}}))

	clock.Advance(time.Minute)
	s.Tick(context.Background())
	clock.Advance(time.Minute)
	s.Tick(context.Background())
	assert.Equal(t, int32(2), runs.Load())
}

func TestInflightDedup(t *testing.T) {
	s := New(quietLogger())
	assert.True(t, s.tryAcquire("job"))
	assert.False(t, s.tryAcquire("job"))
	s.releaseJob("job")
	assert.True(t, s.tryAcquire("job"))
}

func TestRecoverMissed(t *testing.T) {
	now := time.Date(2026, 6, 3, 8, 0, 0, 0, time.UTC)
	s := New(quietLogger(), WithClock(func() time.Time { return now }))

	var missed, fresh, noHistory atomic.Int32
	require.NoError(t, s.Add(Job{
		Name: "missed", Spec: DefaultResetSpec,
		Run:     func(context.Context) error { missed.Add(1); return nil },
		LastRun: func(context.Context) (time.Time, error) { return now.Add(-30 * time.Hour), nil },
	}))
	require.NoError(t, s.Add(Job{
		Name: "fresh", Spec: DefaultResetSpec,
		Run:     func(context.Context) error { fresh.Add(1); return nil },
		LastRun: func(context.Context) (time.Time, error) { return now.Add(-2 * time.Hour), nil },
	}))
	require.NoError(t, s.Add(Job{
		Name: "nohistory", Spec: DefaultResetSpec,
		Run:     func(context.Context) error { noHistory.Add(1); return nil },
		LastRun: func(context.Context) (time.Time, error) { return time.Time{}, nil },
	}))

	s.RecoverMissed(context.Background())
	assert.Equal(t, int32(1), missed.Load())
	assert.Zero(t, fresh.Load())
	assert.Zero(t, noHistory.Load())
}

func TestStartStop(t *testing.T) {
	s := New(quietLogger(), WithInterval(5*time.Millisecond))

	ran := make(chan struct{}, 1)
	require.NoError(t, s.Add(Job{Name: "every-minute", Spec: "* * * * *", Run: func(context.Context) error {
		select {
		case ran <- struct{}{}:
		default:
		}
		return nil
	}}))

	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.Start(context.Background()), "double start")
	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop(), "stop is idempotent")
}

func TestRun_ReturnsOnCancel(t *testing.T) {
	s := New(quietLogger(), WithInterval(time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())

	errc := make(chan error, 1)
	go func() { errc <- s.Run(ctx) }()
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
}

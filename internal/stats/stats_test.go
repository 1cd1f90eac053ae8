package stats

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowsketch/internal/metrics"
	"github.com/rendis/flowsketch/internal/store"
	"github.com/rendis/flowsketch/internal/streaming"
	"github.com/rendis/flowsketch/pkg/schema"
)

func TestSnapshot_Empty(t *testing.T) {
	svc := NewService(store.NewMemoryStore())
	snap, err := svc.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 100, snap.SuccessRate)
	assert.Zero(t, snap.APICalls)
	assert.False(t, snap.LastReset.IsZero())
}

func TestRecord_Actions(t *testing.T) {
	svc := NewService(store.NewMemoryStore())
	ctx := context.Background()

	snap, err := svc.Record(ctx, ActionFlowchartCreated, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(1), snap.FlowchartsCreated)
	assert.Equal(t, int64(1), snap.SuccessfulGenerations)
	assert.Equal(t, int64(1), snap.APICalls)
	assert.Equal(t, 1, snap.ActiveUsers)
	assert.Equal(t, int64(1), snap.PeakUsers)
	assert.Zero(t, snap.TotalSessions, "flowchart_created does not open a session")

	snap, err = svc.Record(ctx, ActionUserActive, "alice")
	require.NoError(t, err)
	assert.Zero(t, snap.TotalSessions, "alice was already active")

	snap, err = svc.Record(ctx, ActionUserActive, "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(1), snap.TotalSessions)
	assert.Equal(t, 2, snap.ActiveUsers)
	assert.Equal(t, int64(2), snap.PeakUsers)

	snap, err = svc.Record(ctx, ActionAPICall, "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(2), snap.APICalls)

	snap, err = svc.Record(ctx, ActionGenerationError, "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(1), snap.ErrorCount)
	assert.Equal(t, int64(3), snap.APICalls)
	assert.Equal(t, 33, snap.SuccessRate)
}

func TestRecord_GeneratesUserID(t *testing.T) {
	svc := NewService(store.NewMemoryStore())
	ctx := context.Background()

	_, err := svc.Record(ctx, ActionUserActive, "")
	require.NoError(t, err)
	snap, err := svc.Record(ctx, ActionUserActive, "")
	require.NoError(t, err)
	assert.Equal(t, 2, snap.ActiveUsers, "each anonymous call is a distinct user")
	assert.Equal(t, int64(2), snap.TotalSessions)
}

func TestRecord_InvalidAction(t *testing.T) {
	svc := NewService(store.NewMemoryStore())
	_, err := svc.Record(context.Background(), "launch_rocket", "u")
	var fe *schema.FlowsketchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, schema.ErrCodeValidation, fe.Code)
	assert.Equal(t, 400, fe.HTTPStatus())
}

func TestResetActive(t *testing.T) {
	hub := streaming.NewMemoryHub()
	events, cancel, err := hub.Subscribe(context.Background(), streaming.EventFilter{Topic: streaming.TopicStats})
	require.NoError(t, err)
	defer cancel()

	svc := NewService(store.NewMemoryStore(), WithHub(hub))
	at := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return at }
	ctx := context.Background()

	_, err = svc.Record(ctx, ActionUserActive, "a")
	require.NoError(t, err)
	_, err = svc.Record(ctx, ActionUserActive, "b")
	require.NoError(t, err)

	snap, err := svc.ResetActive(ctx)
	require.NoError(t, err)
	assert.Zero(t, snap.ActiveUsers)
	assert.Equal(t, int64(2), snap.PeakUsers)
	assert.Equal(t, int64(2), snap.TotalSessions)
	assert.True(t, at.Equal(snap.LastReset))

	var types []string
	for range 3 {
		select {
		case evt := <-events:
			types = append(types, evt.EventType)
		case <-time.After(time.Second):
			t.Fatal("missing event")
		}
	}
	assert.Equal(t, []string{schema.EventStatsUpdated, schema.EventStatsUpdated, schema.EventStatsReset}, types)
}

func TestActiveUsersGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	svc := NewService(store.NewMemoryStore(), WithMetrics(m))

	_, err := svc.Record(context.Background(), ActionUserActive, "a")
	require.NoError(t, err)

	err = testutil.GatherAndCompare(reg, strings.NewReader(`
# HELP flowsketch_active_users Users seen since the last daily reset.
# TYPE flowsketch_active_users gauge
flowsketch_active_users 1
`), "flowsketch_active_users")
	require.NoError(t, err)
}

func TestSuccessRate(t *testing.T) {
	assert.Equal(t, 100, successRate(0, 0))
	assert.Equal(t, 67, successRate(2, 3))
	assert.Equal(t, 50, successRate(1, 2))
	assert.Equal(t, 100, successRate(5, 5))
}

func TestResetJob(t *testing.T) {
	st := store.NewMemoryStore()
	svc := NewService(st)
	ctx := context.Background()

	_, err := svc.Record(ctx, ActionUserActive, "a")
	require.NoError(t, err)

	job := svc.ResetJob("")
	assert.Equal(t, ResetJobName, job.Name)
	assert.Equal(t, "0 0 * * *", job.Spec)

	require.NoError(t, job.Run(ctx))
	n, err := st.ActiveUsers(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	last, err := job.LastRun(ctx)
	require.NoError(t, err)
	assert.False(t, last.IsZero())
}

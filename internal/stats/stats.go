// Package stats tracks platform usage counters: generated flowcharts, active
// users since the last reset, peak concurrency and upstream call outcomes.
package stats

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/flowsketch/internal/logging"
	"github.com/rendis/flowsketch/internal/metrics"
	"github.com/rendis/flowsketch/internal/scheduler"
	"github.com/rendis/flowsketch/internal/store"
	"github.com/rendis/flowsketch/internal/streaming"
	"github.com/rendis/flowsketch/pkg/schema"
)

// Actions accepted by Record.
const (
	ActionFlowchartCreated = "flowchart_created"
	ActionUserActive       = "user_active"
	ActionAPICall          = "api_call"
	ActionGenerationError  = "generation_error"
)

// Snapshot is the public view of the counters.
type Snapshot struct {
	FlowchartsCreated     int64     `json:"flowchartsCreated"`
	ActiveUsers           int       `json:"activeUsers"`
	TotalSessions         int64     `json:"totalSessions"`
	PeakUsers             int64     `json:"peakUsers"`
	APICalls              int64     `json:"apiCalls"`
	SuccessfulGenerations int64     `json:"successfulGenerations"`
	ErrorCount            int64     `json:"errorCount"`
	LastReset             time.Time `json:"lastReset"`
	SuccessRate           int       `json:"successRate"`
}

// Service records usage actions against a store.
type Service struct {
	store   store.Store
	hub     streaming.EventHub
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithHub publishes a stats.updated event after every change.
func WithHub(hub streaming.EventHub) Option { return func(s *Service) { s.hub = hub } }

// WithMetrics mirrors the active user gauge into Prometheus.
func WithMetrics(m *metrics.Metrics) Option { return func(s *Service) { s.metrics = m } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.logger = l } }

// NewService creates a stats service.
func NewService(st store.Store, opts ...Option) *Service {
	s := &Service{
		store:  st,
		logger: slog.Default(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Record applies action for userID and returns the updated snapshot. An
// empty userID gets a generated one.
func (s *Service) Record(ctx context.Context, action, userID string) (*Snapshot, error) {
	if userID == "" {
		userID = fmt.Sprintf("user_%d_%s", s.now().UnixMilli(), uuid.NewString()[:8])
	}
	ctx = logging.WithUserID(ctx, userID)

	var err error
	switch action {
	case ActionFlowchartCreated:
		err = s.flowchartCreated(ctx, userID)
	case ActionUserActive:
		err = s.userActive(ctx, userID)
	case ActionAPICall:
		_, err = s.store.IncrementCounter(ctx, schema.CounterAPICalls, 1)
	case ActionGenerationError:
		err = s.incr(ctx, schema.CounterErrors, schema.CounterAPICalls)
	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "Invalid action %q", action).
			WithDetails(map[string]any{"allowed": []string{
				ActionFlowchartCreated, ActionUserActive, ActionAPICall, ActionGenerationError,
			}})
	}
	if err != nil {
		return nil, err
	}

	snap, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	s.logger.DebugContext(ctx, "stats recorded", "action", action,
		"active_users", snap.ActiveUsers, "api_calls", snap.APICalls)
	s.publish(ctx, schema.EventStatsUpdated, snap)
	return snap, nil
}

func (s *Service) flowchartCreated(ctx context.Context, userID string) error {
	if err := s.incr(ctx,
		schema.CounterFlowchartsCreated,
		schema.CounterSuccessfulGenerations,
		schema.CounterAPICalls,
	); err != nil {
		return err
	}
	if _, err := s.store.MarkUserActive(ctx, userID); err != nil {
		return err
	}
	return s.updatePeak(ctx)
}

func (s *Service) userActive(ctx context.Context, userID string) error {
	isNew, err := s.store.MarkUserActive(ctx, userID)
	if err != nil {
		return err
	}
	if isNew {
		if _, err := s.store.IncrementCounter(ctx, schema.CounterTotalSessions, 1); err != nil {
			return err
		}
	}
	return s.updatePeak(ctx)
}

func (s *Service) incr(ctx context.Context, names ...string) error {
	for _, n := range names {
		if _, err := s.store.IncrementCounter(ctx, n, 1); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) updatePeak(ctx context.Context) error {
	n, err := s.store.ActiveUsers(ctx)
	if err != nil {
		return err
	}
	s.metrics.SetActiveUsers(n)
	_, err = s.store.SetPeak(ctx, int64(n))
	return err
}

// Snapshot reads the current counters.
func (s *Service) Snapshot(ctx context.Context) (*Snapshot, error) {
	c, err := s.store.Counters(ctx)
	if err != nil {
		return nil, err
	}
	active, err := s.store.ActiveUsers(ctx)
	if err != nil {
		return nil, err
	}
	lastReset, err := s.store.LastReset(ctx)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{
		FlowchartsCreated:     c[schema.CounterFlowchartsCreated],
		ActiveUsers:           active,
		TotalSessions:         c[schema.CounterTotalSessions],
		PeakUsers:             c[schema.CounterPeakUsers],
		APICalls:              c[schema.CounterAPICalls],
		SuccessfulGenerations: c[schema.CounterSuccessfulGenerations],
		ErrorCount:            c[schema.CounterErrors],
		LastReset:             lastReset,
	}
	snap.SuccessRate = successRate(snap.SuccessfulGenerations, snap.APICalls)
	return snap, nil
}

// successRate is the rounded percentage of calls that succeeded, or 100
// before any call was made.
func successRate(successful, calls int64) int {
	if calls <= 0 {
		return 100
	}
	return int(math.Round(float64(successful) / float64(calls) * 100))
}

// ResetActive clears the active user set and stamps the reset time. Peak and
// cumulative counters are kept.
func (s *Service) ResetActive(ctx context.Context) (*Snapshot, error) {
	at := s.now()
	if err := s.store.ResetActiveUsers(ctx, at); err != nil {
		return nil, err
	}
	s.metrics.SetActiveUsers(0)

	snap, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "active users reset", "at", at)
	s.publish(ctx, schema.EventStatsReset, snap)
	return snap, nil
}

func (s *Service) publish(ctx context.Context, eventType string, snap *Snapshot) {
	if s.hub == nil {
		return
	}
	_ = s.hub.Publish(ctx, streaming.StreamEvent{
		Topic:     streaming.TopicStats,
		EventType: eventType,
		Payload:   snap,
	})
}

// ResetJobName identifies the active-user reset in the scheduler.
const ResetJobName = "reset-active-users"

// ResetJob returns a scheduler job that runs ResetActive on spec and catches
// up a reset missed while the process was down.
func (s *Service) ResetJob(spec string) scheduler.Job {
	if spec == "" {
		spec = scheduler.DefaultResetSpec
	}
	return scheduler.Job{
		Name: ResetJobName,
		Spec: spec,
		Run: func(ctx context.Context) error {
			_, err := s.ResetActive(ctx)
			return err
		},
		LastRun: s.store.LastReset,
	}
}

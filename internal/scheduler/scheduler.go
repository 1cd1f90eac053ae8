// Package scheduler runs periodic maintenance jobs on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultResetSpec resets active users at midnight UTC.
const DefaultResetSpec = "0 0 * * *"

// Job is a named unit of periodic work.
type Job struct {
	Name string
	// Spec is a five-field cron expression (minute hour dom month dow).
	Spec string
	Run  func(ctx context.Context) error
	// LastRun, when set, reports when the job last completed so a run missed
	// while the process was down can be caught up on start.
	LastRun func(ctx context.Context) (time.Time, error)
}

type entry struct {
	job      Job
	schedule cron.Schedule
	next     time.Time
}

// Scheduler checks registered jobs on a fixed tick and runs those that are due.
type Scheduler struct {
	parser   cron.Parser
	logger   *slog.Logger
	interval time.Duration
	now      func() time.Time

	mu      sync.Mutex
	entries []*entry
	cancel  context.CancelFunc
	done    chan struct{}

	inflightMu sync.Mutex
	inflight   map[string]struct{} // job names currently executing (dedup)
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithInterval sets how often due jobs are checked. Default 30s.
func WithInterval(d time.Duration) Option { return func(s *Scheduler) { s.interval = d } }

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(s *Scheduler) { s.now = now } }

// New creates a Scheduler with no jobs.
func New(logger *slog.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		logger:   logger,
		interval: 30 * time.Second,
		now:      func() time.Time { return time.Now().UTC() },
		inflight: make(map[string]struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Add registers a job. It fails on an invalid spec or a duplicate name.
func (s *Scheduler) Add(job Job) error {
	sched, err := s.parser.Parse(job.Spec)
	if err != nil {
		return fmt.Errorf("parse cron expression %q for job %q: %w", job.Spec, job.Name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.job.Name == job.Name {
			return fmt.Errorf("job %q already registered", job.Name)
		}
	}
	s.entries = append(s.entries, &entry{job: job, schedule: sched, next: sched.Next(s.now())})
	return nil
}

// NextRun returns the next scheduled time for the named job.
func (s *Scheduler) NextRun(name string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.job.Name == name {
			return e.next, true
		}
	}
	return time.Time{}, false
}

// CalculateNextRun computes the next run time for a cron expression.
func (s *Scheduler) CalculateNextRun(cronExpr string, from time.Time) (time.Time, error) {
	schedule, err := s.parser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}
	return schedule.Next(from), nil
}

// Start recovers missed runs and launches the background loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}
	schedCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	s.RecoverMissed(schedCtx)
	go s.loop(schedCtx)
	s.logger.Info("scheduler started", slog.Int("jobs", len(s.snapshot())))
	return nil
}

// Run starts the scheduler and blocks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return s.Stop()
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

func (s *Scheduler) snapshot() []*entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*entry(nil), s.entries...)
}

// Tick runs every job whose next run time has passed.
func (s *Scheduler) Tick(ctx context.Context) {
	now := s.now()
	for _, e := range s.snapshot() {
		s.mu.Lock()
		due := !e.next.After(now)
		if due {
			e.next = e.schedule.Next(now)
		}
		s.mu.Unlock()
		if due {
			s.runJob(ctx, e.job)
		}
	}
}

func (s *Scheduler) runJob(ctx context.Context, job Job) {
	if !s.tryAcquire(job.Name) {
		return
	}
	defer s.releaseJob(job.Name)

	start := s.now()
	if err := job.Run(ctx); err != nil {
		s.logger.Error("scheduled job failed",
			slog.String("job", job.Name),
			slog.String("error", err.Error()),
		)
		return
	}
	s.logger.Info("scheduled job completed",
		slog.String("job", job.Name),
		slog.Duration("elapsed", s.now().Sub(start)),
	)
}

// tryAcquire returns true and marks the job as in-flight if it is not already running.
func (s *Scheduler) tryAcquire(name string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[name]; ok {
		return false
	}
	s.inflight[name] = struct{}{}
	return true
}

func (s *Scheduler) releaseJob(name string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, name)
}

// RecoverMissed runs, once, every job whose schedule fired between its last
// recorded run and now. Jobs without LastRun are skipped.
func (s *Scheduler) RecoverMissed(ctx context.Context) {
	now := s.now()
	recovered := 0
	for _, e := range s.snapshot() {
		if e.job.LastRun == nil {
			continue
		}
		last, err := e.job.LastRun(ctx)
		if err != nil {
			s.logger.Warn("cannot read last run",
				slog.String("job", e.job.Name),
				slog.String("error", err.Error()),
			)
			continue
		}
		if last.IsZero() || e.schedule.Next(last).After(now) {
			continue
		}
		s.runJob(ctx, e.job)
		recovered++
	}
	if recovered > 0 {
		s.logger.Info("recovered missed jobs", slog.Int("count", recovered))
	}
}

// Stop cancels the loop and waits for it to exit.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done

	s.logger.Info("scheduler stopped")
	return nil
}

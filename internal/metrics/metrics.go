package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "flowsketch"

// Render outcomes.
const (
	RenderOK       = "ok"
	RenderRepaired = "repaired"
	RenderFailed   = "failed"
	RenderCached   = "cached"
)

// Metrics exposes Prometheus collectors for generation, normalization,
// rendering and the HTTP surface. All methods are safe on a nil receiver so
// components can run without metrics wired.
type Metrics struct {
	generations     *prometheus.CounterVec
	droppedLines    prometheus.Counter
	renders         *prometheus.CounterVec
	renderDuration  *prometheus.HistogramVec
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	activeUsers     prometheus.Gauge
	sharesCreated   prometheus.Counter
	subscriberCount prometheus.Gauge
}

// New constructs the collectors and registers them with reg. Registration
// errors panic, mirroring promauto; pass a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		generations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generations_total",
			Help:      "Flowchart generations by outcome.",
		}, []string{"status"}),
		droppedLines: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "normalize_dropped_lines_total",
			Help:      "Unclassifiable lines removed by the normalizer.",
		}),
		renders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "render_attempts_total",
			Help:      "Render requests by format and outcome.",
		}, []string{"format", "outcome"}),
		renderDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "render_duration_seconds",
			Help:      "Time spent rendering a diagram.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"format"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		activeUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_users",
			Help:      "Users seen since the last daily reset.",
		}),
		sharesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "shares_created_total",
			Help:      "Shared flowcharts created.",
		}),
		subscriberCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "newsletter_subscribers",
			Help:      "Newsletter subscriber count.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.generations, m.droppedLines, m.renders, m.renderDuration,
			m.httpRequests, m.httpDuration, m.activeUsers, m.sharesCreated,
			m.subscriberCount,
		)
	}
	return m
}

// IncGeneration counts a generation with status "ok" or "error".
func (m *Metrics) IncGeneration(status string) {
	if m == nil {
		return
	}
	m.generations.WithLabelValues(status).Inc()
}

// AddDroppedLines counts lines the normalizer discarded.
func (m *Metrics) AddDroppedLines(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.droppedLines.Add(float64(n))
}

// ObserveRender records one render attempt.
func (m *Metrics) ObserveRender(format, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.renders.WithLabelValues(format, outcome).Inc()
	if outcome != RenderCached {
		m.renderDuration.WithLabelValues(format).Observe(d.Seconds())
	}
}

// ObserveHTTP records one served request.
func (m *Metrics) ObserveHTTP(method, route, code string, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, code).Inc()
	m.httpDuration.WithLabelValues(route).Observe(d.Seconds())
}

// SetActiveUsers publishes the current active-user count.
func (m *Metrics) SetActiveUsers(n int) {
	if m == nil {
		return
	}
	m.activeUsers.Set(float64(n))
}

// IncShares counts a created share.
func (m *Metrics) IncShares() {
	if m == nil {
		return
	}
	m.sharesCreated.Inc()
}

// SetSubscribers publishes the newsletter subscriber count.
func (m *Metrics) SetSubscribers(n int) {
	if m == nil {
		return
	}
	m.subscriberCount.Set(float64(n))
}

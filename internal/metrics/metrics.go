// Package metrics exposes the bridge's Prometheus metrics on a private
// registry. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chat_bridge"

// Request outcomes.
const (
	OutcomeOK            = "ok"
	OutcomeBadRequest    = "bad_request"
	OutcomeUpstreamError = "upstream_error"
	OutcomeStreamFailed  = "stream_failed"
	OutcomeClientGone    = "client_gone"
)

// Metrics holds every collector the bridge records into.
type Metrics struct {
	registry *prometheus.Registry

	requests         *prometheus.CounterVec
	upstreamDuration *prometheus.HistogramVec
	upstreamErrors   *prometheus.CounterVec
	streamEvents     *prometheus.CounterVec
	violations       prometheus.Counter
	profileSwitches  *prometheus.CounterVec
	activeProfile    *prometheus.GaugeVec
}

// New creates the collectors and registers them on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Inbound translation requests by endpoint, upstream wire and outcome",
			},
			[]string{"endpoint", "upstream_wire", "outcome"},
		),

		upstreamDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "upstream_request_duration_seconds",
				Help:      "Time until the upstream answered with response headers",
				Buckets:   []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0, 60.0},
			},
			[]string{"upstream_wire"},
		),

		upstreamErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "upstream_errors_total",
				Help:      "Upstream transport failures by kind",
			},
			[]string{"kind"},
		),

		streamEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stream_events_total",
				Help:      "Responses stream events emitted to callers",
			},
			[]string{"event"},
		),

		violations: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "protocol_violations_total",
				Help:      "Upstream chunks that broke the output item lifecycle",
			},
		),

		profileSwitches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "profile_switches_total",
				Help:      "Active profile switches by target profile",
			},
			[]string{"profile"},
		),

		activeProfile: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_profile",
				Help:      "1 for the active profile, 0 for the others",
			},
			[]string{"profile"},
		),
	}

	m.registry.MustRegister(
		m.requests,
		m.upstreamDuration,
		m.upstreamErrors,
		m.streamEvents,
		m.violations,
		m.profileSwitches,
		m.activeProfile,
	)
	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text or OpenMetrics format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// ObserveRequest counts one finished inbound request.
func (m *Metrics) ObserveRequest(endpoint, upstreamWire, outcome string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(endpoint, upstreamWire, outcome).Inc()
}

// ObserveUpstream records how long the upstream took to answer.
func (m *Metrics) ObserveUpstream(upstreamWire string, d time.Duration) {
	if m == nil {
		return
	}
	m.upstreamDuration.WithLabelValues(upstreamWire).Observe(d.Seconds())
}

// UpstreamError counts a transport failure.
func (m *Metrics) UpstreamError(kind string) {
	if m == nil {
		return
	}
	m.upstreamErrors.WithLabelValues(kind).Inc()
}

// StreamEvent counts one emitted Responses event.
func (m *Metrics) StreamEvent(event string) {
	if m == nil {
		return
	}
	m.streamEvents.WithLabelValues(event).Inc()
}

// ProtocolViolations adds n violations.
func (m *Metrics) ProtocolViolations(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.violations.Add(float64(n))
}

// SetActiveProfile marks active as the only active profile among names.
func (m *Metrics) SetActiveProfile(names []string, active string) {
	if m == nil {
		return
	}
	for _, name := range names {
		v := 0.0
		if name == active {
			v = 1
		}
		m.activeProfile.WithLabelValues(name).Set(v)
	}
}

// ProfileSwitched records a switch away from from to to.
func (m *Metrics) ProfileSwitched(from, to string) {
	if m == nil {
		return
	}
	m.profileSwitches.WithLabelValues(to).Inc()
	m.activeProfile.WithLabelValues(from).Set(0)
	m.activeProfile.WithLabelValues(to).Set(1)
}

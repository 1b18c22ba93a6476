package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the timeline inspector.
type Metrics struct {
	registry            *prometheus.Registry
	requestsTotal       *prometheus.CounterVec
	errorsTotal         prometheus.Counter
	derivationsStarted  *prometheus.CounterVec
	derivationsFinished *prometheus.CounterVec
	envelopeResolutions *prometheus.CounterVec
	framesDecodedTotal  prometheus.Counter
	openFrameSessions   prometheus.Gauge
	segmentsByStatus    *prometheus.GaugeVec
	derivationControl   *prometheus.CounterVec
}

// New creates and registers Prometheus metrics.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "timeline_requests_total",
		Help: "Total number of HTTP requests received, by route pattern",
	}, []string{"route"})
	errorsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "timeline_errors_total",
		Help: "Total number of HTTP responses with error status (4xx or 5xx)",
	})
	derivationsStarted := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "timeline_derivations_started_total",
		Help: "Segment derivations dispatched, by kind",
	}, []string{"kind"})
	derivationsFinished := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "timeline_derivations_finished_total",
		Help: "Segment derivations that reached a terminal state, by kind and outcome",
	}, []string{"kind", "outcome"})
	envelopeResolutions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "timeline_envelope_resolutions_total",
		Help: "Envelope resolutions attempted, by outcome",
	}, []string{"outcome"})
	framesDecodedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "timeline_frames_decoded_total",
		Help: "Preview frames decoded",
	})
	openFrameSessions := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "timeline_open_frame_sessions",
		Help: "Frame decode sessions currently holding a concurrency slot",
	})
	segmentsByStatus := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "timeline_segments",
		Help: "Tracked derivation states, by status",
	}, []string{"status"})
	derivationControl := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "timeline_derivation_control_total",
		Help: "Begin and cancel requests received over HTTP, by action",
	}, []string{"action"})

	registry.MustRegister(
		requestsTotal,
		errorsTotal,
		derivationsStarted,
		derivationsFinished,
		envelopeResolutions,
		framesDecodedTotal,
		openFrameSessions,
		segmentsByStatus,
		derivationControl,
	)

	return &Metrics{
		registry:            registry,
		requestsTotal:       requestsTotal,
		errorsTotal:         errorsTotal,
		derivationsStarted:  derivationsStarted,
		derivationsFinished: derivationsFinished,
		envelopeResolutions: envelopeResolutions,
		framesDecodedTotal:  framesDecodedTotal,
		openFrameSessions:   openFrameSessions,
		segmentsByStatus:    segmentsByStatus,
		derivationControl:   derivationControl,
	}
}

// IncRequests increments the request counter for route.
func (m *Metrics) IncRequests(route string) {
	m.requestsTotal.WithLabelValues(route).Inc()
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	m.errorsTotal.Inc()
}

// IncDerivationsStarted counts a dispatched derivation of kind.
func (m *Metrics) IncDerivationsStarted(kind string) {
	m.derivationsStarted.WithLabelValues(kind).Inc()
}

// IncDerivationsFinished counts a derivation of kind ending with outcome.
func (m *Metrics) IncDerivationsFinished(kind, outcome string) {
	m.derivationsFinished.WithLabelValues(kind, outcome).Inc()
}

// AddEnvelopeResolutions adds n resolutions with the given outcome.
func (m *Metrics) AddEnvelopeResolutions(outcome string, n int) {
	m.envelopeResolutions.WithLabelValues(outcome).Add(float64(n))
}

// IncFramesDecoded counts one decoded frame.
func (m *Metrics) IncFramesDecoded() {
	m.framesDecodedTotal.Inc()
}

// IncOpenFrameSessions marks a frame session as holding a slot.
func (m *Metrics) IncOpenFrameSessions() {
	m.openFrameSessions.Inc()
}

// DecOpenFrameSessions releases a frame session slot.
func (m *Metrics) DecOpenFrameSessions() {
	m.openFrameSessions.Dec()
}

// SetSegmentsByStatus sets the per-status gauge values. Statuses absent from
// counts are left unchanged.
func (m *Metrics) SetSegmentsByStatus(counts map[string]int) {
	for status, n := range counts {
		m.segmentsByStatus.WithLabelValues(status).Set(float64(n))
	}
}

// IncDerivationControl counts a begin or cancel request.
func (m *Metrics) IncDerivationControl(action string) {
	m.derivationControl.WithLabelValues(action).Inc()
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}

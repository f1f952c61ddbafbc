// Package metrics exposes the tracking subsystem's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mahakalaqua/visitor-tracker/internal/domain/visitor"
)

// Metrics holds the tracking collectors
type Metrics struct {
	registry *prometheus.Registry

	ConsentDecisions   *prometheus.CounterVec
	PermissionOutcomes *prometheus.CounterVec
	BackendCalls       *prometheus.CounterVec
	ContactSubmissions *prometheus.CounterVec
	FlowTransitions    *prometheus.CounterVec
}

// New creates and registers the tracking collectors
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		ConsentDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "visitor_consent_decisions_total",
			Help: "Cookie consent decisions by outcome.",
		}, []string{"decision"}),
		PermissionOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "visitor_location_permission_outcomes_total",
			Help: "Terminal location permission outcomes by status.",
		}, []string{"status"}),
		BackendCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "visitor_backend_calls_total",
			Help: "Backend submissions by call and result.",
		}, []string{"call", "result"}),
		ContactSubmissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "visitor_contact_submissions_total",
			Help: "Contact form submissions by result.",
		}, []string{"result"}),
		FlowTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "visitor_flow_transitions_total",
			Help: "Consent flow transitions by resulting step.",
		}, []string{"step"}),
	}

	registry.MustRegister(
		m.ConsentDecisions,
		m.PermissionOutcomes,
		m.BackendCalls,
		m.ContactSubmissions,
		m.FlowTransitions,
	)

	return m
}

// Handler returns the scrape endpoint handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveConsentDecision records a cookie consent decision
func (m *Metrics) ObserveConsentDecision(accepted bool) {
	decision := "declined"
	if accepted {
		decision = "accepted"
	}
	m.ConsentDecisions.WithLabelValues(decision).Inc()
}

// ObservePermissionOutcome records a terminal location permission outcome
func (m *Metrics) ObservePermissionOutcome(status visitor.PermissionStatus) {
	m.PermissionOutcomes.WithLabelValues(status.String()).Inc()
}

// ObserveBackendCall records the result of one backend submission
func (m *Metrics) ObserveBackendCall(call string, ok bool) {
	result := "error"
	if ok {
		result = "ok"
	}
	m.BackendCalls.WithLabelValues(call, result).Inc()
}

// ObserveContactSubmission records a contact submission result
func (m *Metrics) ObserveContactSubmission(ok bool) {
	result := "error"
	if ok {
		result = "ok"
	}
	m.ContactSubmissions.WithLabelValues(result).Inc()
}

// ObserveFlowTransition records a flow step transition
func (m *Metrics) ObserveFlowTransition(step string) {
	m.FlowTransitions.WithLabelValues(step).Inc()
}

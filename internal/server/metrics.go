package server

import (
	"net/http"

	"github.com/dgellow/authguard/internal/recovery"
	"github.com/ory/fosite"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service's Prometheus collectors on a private registry
type Metrics struct {
	registry         *prometheus.Registry
	recoveryOutcomes *prometheus.CounterVec
	requests         *prometheus.CounterVec
}

// knownCodes bounds the code label to RFC 6749 and RFC 6750 error codes
var knownCodes = map[string]bool{
	fosite.ErrInvalidRequest.ErrorField:         true,
	fosite.ErrInvalidClient.ErrorField:          true,
	fosite.ErrInvalidGrant.ErrorField:           true,
	fosite.ErrInvalidScope.ErrorField:           true,
	fosite.ErrUnauthorizedClient.ErrorField:     true,
	fosite.ErrUnsupportedGrantType.ErrorField:   true,
	fosite.ErrAccessDenied.ErrorField:           true,
	fosite.ErrServerError.ErrorField:            true,
	fosite.ErrTemporarilyUnavailable.ErrorField: true,
	fosite.ErrLoginRequired.ErrorField:          true,
	recovery.CodeInvalidToken:                   true,
	"insufficient_scope":                        true,
}

// NewMetrics registers authguard's collectors plus the Go and process
// collectors on a new registry
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		recoveryOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authguard_recovery_outcomes_total",
				Help: "Authorization errors seen by the rescue adapter, by outcome and provider error code",
			},
			[]string{"outcome", "code"},
		),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authguard_http_requests_total",
				Help: "HTTP requests served, by method and status code",
			},
			[]string{"method", "status"},
		),
	}
	m.registry.MustRegister(
		m.recoveryOutcomes,
		m.requests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRecovery counts one rescue adapter decision
func (m *Metrics) ObserveRecovery(outcome, code string) {
	if m == nil {
		return
	}
	m.recoveryOutcomes.WithLabelValues(outcome, codeLabel(code)).Inc()
}

func (m *Metrics) observeRequest(method string, status int) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, http.StatusText(status)).Inc()
}

func codeLabel(code string) string {
	if knownCodes[code] {
		return code
	}
	return "other"
}

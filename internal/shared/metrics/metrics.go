package metrics

import (
	"strconv"
	"time"

	"github.com/homeglow/server/internal/shared/events"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all application metrics.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Enhancement metrics
	EnhancementsTotal   *prometheus.CounterVec
	EnhancementDuration *prometheus.HistogramVec
	ProviderAttempts    *prometheus.CounterVec
	ProviderBreaker     *prometheus.GaugeVec

	// Ledger metrics
	CreditsSpentTotal   prometheus.Counter
	CreditsGrantedTotal prometheus.Counter
	LedgerAnomalies     *prometheus.CounterVec
}

// New creates a Metrics instance registered with reg.
// A nil reg registers with the default Prometheus registry.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "homeglow"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 300, 600},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_in_flight",
				Help:      "Current number of HTTP requests being processed",
			},
		),

		EnhancementsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "enhance",
				Name:      "requests_total",
				Help:      "Enhancement requests by provider, mode and outcome",
			},
			[]string{"provider", "mode", "outcome"},
		),
		EnhancementDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "enhance",
				Name:      "provider_duration_seconds",
				Help:      "Time spent waiting on the enhancement provider",
				Buckets:   []float64{1, 2.5, 5, 10, 20, 30, 60, 120, 300, 600},
			},
			[]string{"provider", "mode"},
		),
		ProviderAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "enhance",
				Name:      "provider_attempts_total",
				Help:      "Provider protocol attempts including retries",
			},
			[]string{"provider", "outcome"},
		),
		ProviderBreaker: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "enhance",
				Name:      "provider_breaker_state",
				Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open)",
			},
			[]string{"provider"},
		),

		CreditsSpentTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "credits",
				Name:      "spent_total",
				Help:      "Credits decremented for successful enhancements",
			},
		),
		CreditsGrantedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "credits",
				Name:      "granted_total",
				Help:      "Credits added by purchases and sign-up grants",
			},
		),
		LedgerAnomalies: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "credits",
				Name:      "anomalies_total",
				Help:      "Ledger anomalies by status transition",
			},
			[]string{"status"},
		),
	}
}

// RecordHTTPRequest records an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordProviderCall records how long a provider took to produce a result.
func (m *Metrics) RecordProviderCall(provider, mode string, duration time.Duration) {
	m.EnhancementDuration.WithLabelValues(provider, mode).Observe(duration.Seconds())
}

// RecordProviderAttempt records one protocol attempt.
func (m *Metrics) RecordProviderAttempt(provider string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.ProviderAttempts.WithLabelValues(provider, outcome).Inc()
}

// SetBreakerState records a circuit breaker state transition.
func (m *Metrics) SetBreakerState(provider string, state int) {
	m.ProviderBreaker.WithLabelValues(provider).Set(float64(state))
}

// RecordAnomaly records a ledger anomaly status change.
func (m *Metrics) RecordAnomaly(status string) {
	m.LedgerAnomalies.WithLabelValues(status).Inc()
}

// Subscribe registers handlers that translate domain events into metrics.
func (m *Metrics) Subscribe(bus *events.Bus) {
	bus.Register(events.NewHandlerFunc(func(e events.Event) error {
		switch ev := e.(type) {
		case *events.EnhancementCompletedEvent:
			m.EnhancementsTotal.WithLabelValues(ev.Provider, ev.Mode, "success").Inc()
		case *events.EnhancementFailedEvent:
			m.EnhancementsTotal.WithLabelValues(ev.Provider, ev.Mode, ev.Reason).Inc()
		case *events.CreditsUpdatedEvent:
			if ev.Delta < 0 {
				m.CreditsSpentTotal.Add(float64(-ev.Delta))
			} else {
				m.CreditsGrantedTotal.Add(float64(ev.Delta))
			}
		}
		return nil
	}, events.EnhancementCompletedType, events.EnhancementFailedType, events.CreditsUpdatedType))
}

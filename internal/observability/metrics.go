// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Operation status labels.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Ledger metrics
	MintsTotal        *prometheus.CounterVec
	InitsTotal        *prometheus.CounterVec
	MintedAmount      prometheus.Counter
	TotalSupply       prometheus.Gauge
	OperationDuration *prometheus.HistogramVec

	// Event metrics
	EventsPublished    *prometheus.CounterVec
	EventSubscribers   prometheus.Gauge
	EventsDroppedTotal prometheus.Counter

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// HTTP metrics
	HTTPRequestsTotal *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance registered with reg.
// A nil reg registers with the default Prometheus registry.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "token_ledger"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		// Ledger metrics
		MintsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "mints_total",
			Help:      "Total number of mint attempts by outcome",
		}, []string{"status"}),
		InitsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "inits_total",
			Help:      "Total number of initialization attempts by outcome",
		}, []string{"status"}),
		MintedAmount: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "minted_amount_total",
			Help:      "Sum of minted base units (approximate above 2^53)",
		}),
		TotalSupply: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "total_supply",
			Help:      "Current total supply in base units (approximate above 2^53)",
		}),
		OperationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "operation_duration_seconds",
			Help:      "Ledger operation duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),

		// Event metrics
		EventsPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Total number of mint events handed to sinks by outcome",
		}, []string{"sink", "status"}),
		EventSubscribers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "subscribers",
			Help:      "Current number of websocket event subscribers",
		}),
		EventsDroppedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "dropped_total",
			Help:      "Total number of events dropped for slow subscribers",
		}),

		// Database metrics
		DBQueryDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		// HTTP metrics
		HTTPRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by route and status code",
		}, []string{"route", "code"}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("", nil)

func status(err error) string {
	if err != nil {
		return StatusError
	}
	return StatusSuccess
}

// RecordMint records a mint attempt. minted is only counted on success.
func RecordMint(minted float64, seconds float64, err error) {
	DefaultMetrics.MintsTotal.WithLabelValues(status(err)).Inc()
	DefaultMetrics.OperationDuration.WithLabelValues("mint").Observe(seconds)
	if err == nil {
		DefaultMetrics.MintedAmount.Add(minted)
	}
}

// RecordInit records an initialization attempt.
func RecordInit(seconds float64, err error) {
	DefaultMetrics.InitsTotal.WithLabelValues(status(err)).Inc()
	DefaultMetrics.OperationDuration.WithLabelValues("init").Observe(seconds)
}

// RecordQuery records the duration of a read-only ledger operation.
func RecordQuery(operation string, seconds float64) {
	DefaultMetrics.OperationDuration.WithLabelValues(operation).Observe(seconds)
}

// UpdateTotalSupply updates the total supply gauge.
func UpdateTotalSupply(supply float64) {
	DefaultMetrics.TotalSupply.Set(supply)
}

// RecordEventPublished records one sink delivery.
func RecordEventPublished(sink string, err error) {
	DefaultMetrics.EventsPublished.WithLabelValues(sink, status(err)).Inc()
}

// UpdateSubscribers updates the websocket subscriber gauge.
func UpdateSubscribers(n int) {
	DefaultMetrics.EventSubscribers.Set(float64(n))
}

// RecordEventDropped counts an event not delivered to a slow subscriber.
func RecordEventDropped() {
	DefaultMetrics.EventsDroppedTotal.Inc()
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}

// RecordHTTPRequest counts one served request.
func RecordHTTPRequest(route string, code int) {
	DefaultMetrics.HTTPRequestsTotal.WithLabelValues(route, httpCode(code)).Inc()
}

func httpCode(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}

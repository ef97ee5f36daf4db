package prometheus

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ofirwie/rechnung-meister/pkg/config"
)

var (
	// Authentication metrics
	LoginCounter     prometheus.Counter
	RegisterCounter  prometheus.Counter
	AuthErrorCounter prometheus.CounterVec

	// Invoice metrics
	InvoiceOperationCounter prometheus.CounterVec
	TransitionCounter       prometheus.CounterVec
	AllocationRetryCounter  prometheus.Counter

	// Company and permission metrics
	CompanyOperationCounter prometheus.CounterVec
	PermissionDeniedCounter prometheus.CounterVec

	// Audit metrics
	CriticalAuditCounter prometheus.Counter

	// HTTP request metrics
	HTTPRequestCounter prometheus.CounterVec
	RequestDuration    prometheus.HistogramVec

	// Database operation metrics
	DBOperationDuration prometheus.HistogramVec

	// Gauges
	ActiveTokensGauge    prometheus.Gauge
	ActiveCompaniesGauge prometheus.Gauge
	InfoGauge            prometheus.GaugeVec
)

// InitMetrics initializes Prometheus metrics with configuration
func InitMetrics(cfg *config.Config) {
	// Use metric prefix from configuration
	prefix := cfg.Metrics.Prefix

	// Authentication metrics
	LoginCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: prefix + "_login_total",
			Help: "Total number of login attempts",
		},
	)

	RegisterCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: prefix + "_register_total",
			Help: "Total number of user registrations",
		},
	)

	AuthErrorCounter = *promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: prefix + "_errors_total",
			Help: "Total number of authentication and authorization errors",
		},
		[]string{"type"}, // "invalid_token", "not_member", "db_error" etc.
	)

	// Invoice metrics
	InvoiceOperationCounter = *promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: prefix + "_invoice_operations_total",
			Help: "Total number of invoice operations",
		},
		[]string{"operation"}, // "create", "transition", "delete", "list", "get", "update"
	)

	TransitionCounter = *promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: prefix + "_invoice_transitions_total",
			Help: "Total number of invoice status transitions",
		},
		[]string{"from", "to", "result"}, // result is "ok" or "rejected"
	)

	AllocationRetryCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: prefix + "_number_allocation_retries_total",
			Help: "Total number of invoice number allocation retries after a collision",
		},
	)

	// Company and permission metrics
	CompanyOperationCounter = *promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: prefix + "_company_operations_total",
			Help: "Total number of company operations",
		},
		[]string{"operation"},
	)

	PermissionDeniedCounter = *promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: prefix + "_permission_denied_total",
			Help: "Total number of rejected actions by resource and action",
		},
		[]string{"resource", "action"},
	)

	// Audit metrics
	CriticalAuditCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: prefix + "_critical_audit_entries_total",
			Help: "Total number of audit entries flagged critical for operator review",
		},
	)

	// HTTP request metrics
	HTTPRequestCounter = *promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: prefix + "_http_requests_total",
			Help: "Total number of HTTP requests by endpoint and status",
		},
		[]string{"endpoint", "method", "status"},
	)

	RequestDuration = *promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    prefix + "_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint", "method", "status"},
	)

	// Database operation metrics
	DBOperationDuration = *promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    prefix + "_db_operation_duration_seconds",
			Help:    "Duration of database operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"}, // "query", "insert", "update", "delete"
	)

	// Gauges
	ActiveTokensGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: prefix + "_active_tokens",
			Help: "Number of currently active authentication tokens",
		},
	)

	ActiveCompaniesGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: prefix + "_active_companies",
			Help: "Number of currently active companies",
		},
	)

	InfoGauge = *promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: prefix + "_info",
			Help: "Information about the invoicing service",
		},
		[]string{"version"},
	)

	// Set initial service info
	InfoGauge.With(prometheus.Labels{"version": "1.0.0"}).Set(1)
}

// GetPrometheusHandler returns an HTTP handler for the Prometheus metrics
func GetPrometheusHandler() http.Handler {
	return promhttp.Handler()
}

// TrackDBOperation measures database operation durations
func TrackDBOperation(operation string) func(time.Time) {
	startTime := time.Now()
	return func(endTime time.Time) {
		duration := time.Since(startTime).Seconds()
		DBOperationDuration.With(prometheus.Labels{
			"operation": operation,
		}).Observe(duration)
	}
}

// MetricsMiddleware creates a middleware function that captures metrics for each request
func MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			// Execute the request handler
			err := next(c)

			// Record request duration
			duration := time.Since(start).Seconds()
			status := strconv.Itoa(c.Response().Status)
			endpoint := c.Path()
			method := c.Request().Method

			// Record metrics
			RequestDuration.With(prometheus.Labels{
				"endpoint": endpoint,
				"method":   method,
				"status":   status,
			}).Observe(duration)

			HTTPRequestCounter.With(prometheus.Labels{
				"endpoint": endpoint,
				"method":   method,
				"status":   status,
			}).Inc()

			return err
		}
	}
}

// IncreaseActiveTokens increments the active tokens gauge
func IncreaseActiveTokens() {
	ActiveTokensGauge.Inc()
}

// RecordAuthError records an authentication error by type
func RecordAuthError(errorType string) {
	AuthErrorCounter.With(prometheus.Labels{"type": errorType}).Inc()
}

// RecordInvoiceOperation records an invoice operation
func RecordInvoiceOperation(operation string) {
	InvoiceOperationCounter.With(prometheus.Labels{"operation": operation}).Inc()
}

// RecordTransition records an invoice status transition attempt
func RecordTransition(from, to, result string) {
	TransitionCounter.With(prometheus.Labels{"from": from, "to": to, "result": result}).Inc()
}

// RecordCompanyOperation records a company operation
func RecordCompanyOperation(operation string) {
	CompanyOperationCounter.With(prometheus.Labels{"operation": operation}).Inc()
}

// RecordPermissionDenied records a rejected action
func RecordPermissionDenied(resource, action string) {
	PermissionDeniedCounter.With(prometheus.Labels{"resource": resource, "action": action}).Inc()
}

// UpdateActiveCompanies updates the active companies gauge
func UpdateActiveCompanies(count int) {
	ActiveCompaniesGauge.Set(float64(count))
}

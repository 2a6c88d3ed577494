package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "delivery_simulator"

// Metrics stores Prometheus collectors used by the API, scheduler and
// notification flows. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal        *prometheus.CounterVec
	httpRequestDuration      *prometheus.HistogramVec
	deliveriesCreatedTotal   *prometheus.CounterVec
	transitionsTotal         *prometheus.CounterVec
	deliveriesInflight       prometheus.Gauge
	notificationsSentTotal   prometheus.Counter
	notificationsFailedTotal *prometheus.CounterVec
	notificationAttempts     *prometheus.CounterVec
	notificationSendDuration prometheus.Histogram
	schedulerPassDuration    prometheus.Histogram
	schedulerPassErrors      prometheus.Counter
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		deliveriesCreatedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "deliveries_created_total",
				Help:      "Total number of create requests by outcome (created or replayed).",
			},
			[]string{"outcome"},
		),
		transitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "delivery_transitions_total",
				Help:      "Total number of delivery status transitions.",
			},
			[]string{"from", "to"},
		),
		deliveriesInflight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "deliveries_inflight",
				Help:      "Number of non-terminal deliveries seen by the last scheduler pass.",
			},
		),
		notificationsSentTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "notifications_sent_total",
				Help:      "Total number of status notifications delivered successfully.",
			},
		),
		notificationsFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "notifications_failed_total",
				Help:      "Total number of status notifications dropped.",
			},
			[]string{"reason"},
		),
		notificationAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "notification_attempts_total",
				Help:      "Total number of webhook attempts by outcome.",
			},
			[]string{"outcome"},
		),
		notificationSendDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "notification_send_duration_seconds",
				Help:      "Webhook attempt duration in seconds.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
		),
		schedulerPassDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "scheduler_pass_duration_seconds",
				Help:      "Duration of one lifecycle scheduler pass.",
				Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
			},
		),
		schedulerPassErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "scheduler_pass_errors_total",
				Help:      "Total number of scheduler passes that ended with an error.",
			},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.deliveriesCreatedTotal,
		m.transitionsTotal,
		m.deliveriesInflight,
		m.notificationsSentTotal,
		m.notificationsFailedTotal,
		m.notificationAttempts,
		m.notificationSendDuration,
		m.schedulerPassDuration,
		m.schedulerPassErrors,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := routePath(c)
		// Avoid self-scrape noise for request counters.
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

func (m *Metrics) IncDeliveryCreated(replayed bool) {
	if m == nil {
		return
	}
	outcome := "created"
	if replayed {
		outcome = "replayed"
	}
	m.deliveriesCreatedTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncTransition(from string, to string) {
	if m == nil {
		return
	}
	m.transitionsTotal.WithLabelValues(normalizeLabel(from), normalizeLabel(to)).Inc()
}

func (m *Metrics) SetDeliveriesInflight(n int) {
	if m == nil {
		return
	}
	m.deliveriesInflight.Set(float64(n))
}

func (m *Metrics) IncNotificationSent() {
	if m == nil {
		return
	}
	m.notificationsSentTotal.Inc()
}

func (m *Metrics) IncNotificationFailed(reason string) {
	if m == nil {
		return
	}
	m.notificationsFailedTotal.WithLabelValues(normalizeLabel(reason)).Inc()
}

func (m *Metrics) ObserveNotificationAttempt(success bool, duration time.Duration) {
	if m == nil {
		return
	}
	outcome := "failure"
	if success {
		outcome = "success"
	}
	m.notificationAttempts.WithLabelValues(outcome).Inc()

	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.notificationSendDuration.Observe(seconds)
}

func (m *Metrics) ObserveSchedulerPass(duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.schedulerPassDuration.Observe(duration.Seconds())
	if err != nil {
		m.schedulerPassErrors.Inc()
	}
}

func (m *Metrics) recordHTTPRequest(method string, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}

	methodLabel := strings.ToUpper(strings.TrimSpace(method))
	if methodLabel == "" {
		methodLabel = "UNKNOWN"
	}
	pathLabel := strings.TrimSpace(path)
	if pathLabel == "" {
		pathLabel = "unmatched"
	}

	m.httpRequestsTotal.WithLabelValues(methodLabel, pathLabel, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(methodLabel, pathLabel).Observe(duration.Seconds())
}

func routePath(c *fiber.Ctx) string {
	if c == nil {
		return "unmatched"
	}

	if route := c.Route(); route != nil {
		if path := strings.TrimSpace(route.Path); path != "" {
			return path
		}
	}
	return "unmatched"
}

func statusFromResult(c *fiber.Ctx, err error) int {
	if err != nil {
		if fiberErr, ok := err.(*fiber.Error); ok {
			return fiberErr.Code
		}
		return fiber.StatusInternalServerError
	}

	if c == nil {
		return fiber.StatusOK
	}

	status := c.Response().StatusCode()
	if status == 0 {
		return fiber.StatusOK
	}
	return status
}

func normalizeLabel(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}

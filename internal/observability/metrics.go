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

// Metrics stores Prometheus collectors used by API and worker flows.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal        *prometheus.CounterVec
	httpRequestDuration      *prometheus.HistogramVec
	jobsFinishedTotal        *prometheus.CounterVec
	recipientsRenderedTotal  *prometheus.CounterVec
	renderDuration           *prometheus.HistogramVec
	jobsInflight             prometheus.Gauge
	checkpointsWrittenTotal  prometheus.Counter
	queueRemovalsTotal       *prometheus.CounterVec
	archiveBytesWrittenTotal prometheus.Counter
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "stampede",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "stampede",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		jobsFinishedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "stampede",
				Name:      "jobs_finished_total",
				Help:      "Total number of print jobs that reached a terminal state, by outcome.",
			},
			[]string{"outcome"},
		),
		recipientsRenderedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "stampede",
				Name:      "recipients_rendered_total",
				Help:      "Total number of recipient documents processed, by result.",
			},
			[]string{"result"},
		),
		renderDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "stampede",
				Name:      "render_duration_seconds",
				Help:      "Duration of pipeline stages in seconds grouped by stage.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"stage"},
		),
		jobsInflight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "stampede",
				Name:      "jobs_inflight",
				Help:      "Current number of print jobs being executed by this process.",
			},
		),
		checkpointsWrittenTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "stampede",
				Name:      "checkpoints_written_total",
				Help:      "Total number of progress checkpoints recorded.",
			},
		),
		queueRemovalsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "stampede",
				Name:      "queue_removals_total",
				Help:      "Outcomes of best-effort queue removal attempts during cancellation.",
			},
			[]string{"outcome"},
		),
		archiveBytesWrittenTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "stampede",
				Name:      "archive_bytes_written_total",
				Help:      "Total bytes written into finished job archives.",
			},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.jobsFinishedTotal,
		m.recipientsRenderedTotal,
		m.renderDuration,
		m.jobsInflight,
		m.checkpointsWrittenTotal,
		m.queueRemovalsTotal,
		m.archiveBytesWrittenTotal,
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

func (m *Metrics) IncJobFinished(outcome string) {
	if m == nil {
		return
	}
	m.jobsFinishedTotal.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (m *Metrics) IncRecipientRendered(result string) {
	if m == nil {
		return
	}
	m.recipientsRenderedTotal.WithLabelValues(normalizeLabel(result)).Inc()
}

func (m *Metrics) ObserveStageDuration(stage string, duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.renderDuration.WithLabelValues(normalizeLabel(stage)).Observe(seconds)
}

func (m *Metrics) IncJobsInFlight() {
	if m == nil {
		return
	}
	m.jobsInflight.Inc()
}

func (m *Metrics) DecJobsInFlight() {
	if m == nil {
		return
	}
	m.jobsInflight.Dec()
}

func (m *Metrics) IncCheckpointWritten() {
	if m == nil {
		return
	}
	m.checkpointsWrittenTotal.Inc()
}

func (m *Metrics) IncQueueRemoval(outcome string) {
	if m == nil {
		return
	}
	m.queueRemovalsTotal.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (m *Metrics) AddArchiveBytes(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.archiveBytesWrittenTotal.Add(float64(n))
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

func normalizeLabel(label string) string {
	normalized := strings.ToLower(strings.TrimSpace(label))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}

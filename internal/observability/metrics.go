package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "crm_webhook"

// Delivery outcome labels.
const (
	OutcomeSuccess        = "success"
	OutcomeHTTPError      = "http_error"
	OutcomeTransportError = "transport_error"
)

// Metrics stores Prometheus collectors used by the API, dispatcher and queue.
// All methods are safe on a nil receiver.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal     *prometheus.CounterVec
	httpRequestDuration   *prometheus.HistogramVec
	deliveriesTotal       *prometheus.CounterVec
	deliveryDuration      *prometheus.HistogramVec
	dispatchesTotal       prometheus.Counter
	dispatchFanout        prometheus.Histogram
	lookupFailuresTotal   prometheus.Counter
	logWriteFailuresTotal prometheus.Counter
	counterFailuresTotal  prometheus.Counter
	queueDepth            prometheus.Gauge
	queueDroppedTotal     prometheus.Counter
	rateLimitedTotal      *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		deliveriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "deliveries_total",
				Help:      "Total number of webhook delivery attempts by outcome.",
			},
			[]string{"outcome"},
		),
		deliveryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "delivery_duration_seconds",
				Help:      "Webhook delivery attempt duration in seconds by outcome.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"outcome"},
		),
		dispatchesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatches_total",
			Help:      "Total number of events dispatched.",
		}),
		dispatchFanout: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_fanout",
			Help:      "Number of subscriptions an event was fanned out to.",
			Buckets:   []float64{0, 1, 2, 5, 10, 25, 50, 100},
		}),
		lookupFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscription_lookup_failures_total",
			Help:      "Subscription lookups that failed during dispatch.",
		}),
		logWriteFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_log_write_failures_total",
			Help:      "Delivery log rows that could not be persisted.",
		}),
		counterFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscription_counter_failures_total",
			Help:      "Subscription counter updates that could not be persisted.",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dispatch_queue_depth",
			Help:      "Events waiting in the dispatch queue.",
		}),
		queueDroppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_queue_dropped_total",
			Help:      "Events rejected because the dispatch queue was full or closed.",
		}),
		rateLimitedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limited_total",
				Help:      "Requests rejected by the rate limiter by route group.",
			},
			[]string{"group"},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.deliveriesTotal,
		m.deliveryDuration,
		m.dispatchesTotal,
		m.dispatchFanout,
		m.lookupFailuresTotal,
		m.logWriteFailuresTotal,
		m.counterFailuresTotal,
		m.queueDepth,
		m.queueDroppedTotal,
		m.rateLimitedTotal,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// HTTPMiddleware records request counts and latency per matched route.
func (m *Metrics) HTTPMiddleware(skipPath string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		// Avoid self-scrape noise for request counters.
		if path == skipPath {
			return
		}
		m.recordHTTPRequest(c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}

// ObserveDelivery records one attempt.
func (m *Metrics) ObserveDelivery(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.deliveriesTotal.WithLabelValues(outcome).Inc()
	m.deliveryDuration.WithLabelValues(outcome).Observe(seconds)
}

func (m *Metrics) ObserveDispatch(fanout int) {
	if m == nil {
		return
	}
	m.dispatchesTotal.Inc()
	m.dispatchFanout.Observe(float64(fanout))
}

func (m *Metrics) IncLookupFailure() {
	if m == nil {
		return
	}
	m.lookupFailuresTotal.Inc()
}

func (m *Metrics) IncLogWriteFailure() {
	if m == nil {
		return
	}
	m.logWriteFailuresTotal.Inc()
}

func (m *Metrics) IncCounterFailure() {
	if m == nil {
		return
	}
	m.counterFailuresTotal.Inc()
}

func (m *Metrics) SetQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(depth))
}

func (m *Metrics) IncQueueDropped() {
	if m == nil {
		return
	}
	m.queueDroppedTotal.Inc()
}

func (m *Metrics) IncRateLimited(group string) {
	if m == nil {
		return
	}
	m.rateLimitedTotal.WithLabelValues(group).Inc()
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

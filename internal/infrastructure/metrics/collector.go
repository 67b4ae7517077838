// Package metrics exposes request lifecycle and HTTP metrics to Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/interopehrate/r2d-access-gateway/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "r2da"

// Collector implements application.LifecycleObserver on its own registry.
type Collector struct {
	registry *prometheus.Registry

	requestsCreated  prometheus.Counter
	admissionsDenied prometheus.Counter
	cacheLookups     *prometheus.CounterVec
	dispatches       *prometheus.CounterVec
	dispatchDuration prometheus.Histogram
	transitions      *prometheus.CounterVec
	notifications    *prometheus.CounterVec
	reaped           prometheus.Counter

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		requestsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_created_total",
			Help:      "Total number of admitted requests",
		}),
		admissionsDenied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admissions_denied_total",
			Help:      "Total number of requests refused by admission control",
		}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Cache lookups performed on start, by result",
		}, []string{"result"}),
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatches_total",
			Help:      "Requests sent to the EHR middleware, by outcome",
		}, []string{"outcome"}),
		dispatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Duration of calls to the EHR middleware in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Persisted request status transitions",
		}, []string{"from", "to"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "EHR notifications received, by kind and outcome",
		}, []string{"kind", "outcome"}),
		reaped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_requests_failed_total",
			Help:      "Requests failed by the stale reaper",
		}),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		httpRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
	}

	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.requestsCreated,
		c.admissionsDenied,
		c.cacheLookups,
		c.dispatches,
		c.dispatchDuration,
		c.transitions,
		c.notifications,
		c.reaped,
		c.httpRequestsTotal,
		c.httpRequestDuration,
	)
	return c
}

func (c *Collector) RequestCreated() {
	c.requestsCreated.Inc()
}

func (c *Collector) AdmissionDenied() {
	c.admissionsDenied.Inc()
}

func (c *Collector) CacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	c.cacheLookups.WithLabelValues(result).Inc()
}

func (c *Collector) Dispatched(d time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	c.dispatches.WithLabelValues(outcome).Inc()
	c.dispatchDuration.Observe(d.Seconds())
}

func (c *Collector) Transitioned(from, to domain.RequestStatus) {
	if from == to {
		return
	}
	c.transitions.WithLabelValues(string(from), string(to)).Inc()
}

func (c *Collector) Notification(kind, outcome string) {
	c.notifications.WithLabelValues(kind, outcome).Inc()
}

// StaleRequestFailed is reported by the reaper.
func (c *Collector) StaleRequestFailed() {
	c.reaped.Inc()
}

// RecordHTTPRequest records one served request. endpoint is the route pattern,
// never the raw path, to keep label cardinality bounded.
func (c *Collector) RecordHTTPRequest(method, endpoint string, statusCode int, duration time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(statusCode)).Inc()
	c.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

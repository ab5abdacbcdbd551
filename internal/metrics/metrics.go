package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the gateway's Prometheus instruments.
type Collector struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	cacheRebuilds   *prometheus.CounterVec
	snapshotRoutes  prometheus.Gauge
	jwksFetches     *prometheus.CounterVec
	authDecisions   *prometheus.CounterVec
}

// NewCollector creates a collector backed by its own registry.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "requests_total",
			Help:      "Requests handled, by method and response status.",
		}, []string{"method", "status"}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "gateway",
			Name:      "request_duration_seconds",
			Help:      "End-to-end request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		cacheRebuilds: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "cache_rebuilds_total",
			Help:      "Route cache rebuild attempts, by outcome.",
		}, []string{"outcome"}),
		snapshotRoutes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "gateway",
			Name:      "snapshot_routes",
			Help:      "Routes in the active cache snapshot.",
		}),
		jwksFetches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "jwks_fetches_total",
			Help:      "JWKS document fetches, by outcome.",
		}, []string{"outcome"}),
		authDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "auth_decisions_total",
			Help:      "Authentication pipeline outcomes.",
		}, []string{"result"}),
	}
}

// Default is the process-wide collector.
var Default = NewCollector()

// RecordRequest records one completed request.
func (c *Collector) RecordRequest(method string, status int, duration time.Duration) {
	c.requestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
	c.requestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordRebuild records a cache rebuild attempt.
func (c *Collector) RecordRebuild(ok bool, routes int) {
	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	c.cacheRebuilds.WithLabelValues(outcome).Inc()
	if ok {
		c.snapshotRoutes.Set(float64(routes))
	}
}

// RecordJWKSFetch records a JWKS document fetch.
func (c *Collector) RecordJWKSFetch(ok bool) {
	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	c.jwksFetches.WithLabelValues(outcome).Inc()
}

// RecordAuth records an authentication pipeline outcome.
func (c *Collector) RecordAuth(authenticated bool) {
	result := "allowed"
	if !authenticated {
		result = "denied"
	}
	c.authDecisions.WithLabelValues(result).Inc()
}

// Handler exposes the collector in Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

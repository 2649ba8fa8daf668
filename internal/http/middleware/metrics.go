// This file exposes the HTTP-level Prometheus collectors and the Metrics
// middleware that feeds them:
//
//   - agent_http_requests_total{method,path,status}: counter per response
//   - agent_http_request_duration_seconds{method,path}: latency histogram
//   - agent_http_requests_inflight: gauge of requests being served
//   - agent_webhook_rejected_total{reason}: webhook requests refused before
//     reaching a handler (rate_limited, missing_signature, bad_signature,
//     unreadable_body)
//
// Collectors are registered with the default registry in init, so /metrics
// (promhttp.Handler) serves them together with the domain metrics of
// internal/observability.

package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// HTTP collectors. The path label is the registered route, so cardinality is
// bounded by the route table plus 404 paths.
var (
	httpReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agent",
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status.",
		},
		[]string{"method", "path", "status"},
	)

	httpLat = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "agent",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method and route.",
			// /send-now waits on the provider, so the tail goes past DefBuckets
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)

	httpInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "agent",
			Name:      "http_requests_inflight",
			Help:      "HTTP requests currently being served.",
		},
	)

	webhookRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agent",
			Name:      "webhook_rejected_total",
			Help:      "Webhook requests rejected before processing, by reason.",
		},
		[]string{"reason"},
	)
)

func init() {
	prometheus.MustRegister(httpReqs, httpLat, httpInflight, webhookRejected)
}

// Metrics records one request count and one latency sample per request, and
// tracks the in-flight gauge for the duration of the handler chain.
//
// Behavior:
//   - The path label is the registered route (c.FullPath()); unmatched
//     requests are labelled with their raw path.
//   - Status is read after c.Next(), so aborts by later middleware (429, 403)
//     are counted with their final code.
//   - Latency covers everything after this middleware, gzip included.
//
// Place it after Recovery so panics are observed as 500s.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		httpInflight.Inc()
		defer httpInflight.Dec()

		c.Next()

		path := routePath(c)
		method := c.Request.Method
		httpReqs.WithLabelValues(method, path, strconv.Itoa(c.Writer.Status())).Inc()
		httpLat.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}

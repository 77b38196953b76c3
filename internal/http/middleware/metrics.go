// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file exposes Prometheus instrumentation for HTTP traffic: request
// counts, latencies, in-flight concurrency and response sizes. Labels are
// kept bounded:
//
//   - method: HTTP verb
//   - path:   the registered Gin route (e.g. /api/v1/alerts/:id), or
//     "unmatched" when no route matched so scanners cannot blow up cardinality
//   - status: numeric status code as a string
package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// HTTPMetrics holds the HTTP collectors.
type HTTPMetrics struct {
	reqs     *prometheus.CounterVec
	lat      *prometheus.HistogramVec
	inflight prometheus.Gauge
	size     *prometheus.HistogramVec
}

// NewHTTPMetrics builds the collectors and registers them with reg. A nil
// reg skips registration.
func NewHTTPMetrics(reg prometheus.Registerer) (*HTTPMetrics, error) {
	m := &HTTPMetrics{
		reqs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests.",
			},
			[]string{"method", "path", "status"},
		),
		// status is omitted to keep histogram cardinality low.
		lat: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		inflight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_inflight",
				Help: "Current number of in-flight HTTP requests.",
			},
		),
		size: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "http_response_size_bytes",
				Help: "Size of HTTP responses in bytes.",
				Buckets: []float64{
					200, 500, 1 << 10, 2 << 10, 5 << 10,
					10 << 10, 25 << 10, 50 << 10,
					100 << 10, 250 << 10, 500 << 10, 1 << 20,
				},
			},
			[]string{"method", "path"},
		),
	}
	if reg != nil {
		for _, c := range []prometheus.Collector{m.reqs, m.lat, m.inflight, m.size} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

// Handler returns the instrumenting middleware.
func (m *HTTPMetrics) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		m.inflight.Inc()
		defer m.inflight.Dec()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		method := c.Request.Method

		m.reqs.WithLabelValues(method, path, strconv.Itoa(c.Writer.Status())).Inc()
		m.lat.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
		// Size is -1 for hijacked connections.
		if size := c.Writer.Size(); size >= 0 {
			m.size.WithLabelValues(method, path).Observe(float64(size))
		}
	}
}

// Package metrics holds the prometheus collectors for upstream fetches, the
// content cache, feed assembly and the HTTP API.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	upstreamRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "minireddit_upstream_requests_total",
		Help: "Requests sent to the reddit API by operation and outcome.",
	}, []string{"operation", "outcome"})

	upstreamRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "minireddit_upstream_request_duration_seconds",
		Help:    "Latency of reddit API requests.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "outcome"})

	cacheLookupsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "minireddit_cache_lookups_total",
		Help: "Content cache lookups by operation and result (hit or miss).",
	}, []string{"operation", "result"})

	feedChannelFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "minireddit_feed_channel_failures_total",
		Help: "Channels that contributed no posts to a feed because their fetch failed, by failure class.",
	}, []string{"reason"})

	httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "minireddit_http_requests_total",
		Help: "HTTP API requests.",
	}, []string{"method", "path", "status"})

	httpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "minireddit_http_request_duration_seconds",
		Help:    "HTTP API request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})
)

// MustRegister registers the package collectors once.
func MustRegister(registerer prometheus.Registerer) {
	registerOnce.Do(func() {
		registerer.MustRegister(
			upstreamRequestsTotal,
			upstreamRequestDuration,
			cacheLookupsTotal,
			feedChannelFailuresTotal,
			httpRequestsTotal,
			httpRequestDuration,
		)
	})
}

// ObserveUpstreamRequest records one reddit API call. outcome is "ok",
// "unavailable" or the HTTP status code.
func ObserveUpstreamRequest(operation, outcome string, duration time.Duration) {
	upstreamRequestsTotal.WithLabelValues(operation, outcome).Inc()
	upstreamRequestDuration.WithLabelValues(operation, outcome).Observe(duration.Seconds())
}

// ObserveCacheLookup records whether a fetch was served from the cache.
func ObserveCacheLookup(operation string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheLookupsTotal.WithLabelValues(operation, result).Inc()
}

// IncFeedChannelFailure counts a channel dropped from an assembled feed.
// reason is a bounded failure class such as "unavailable" or "upstream_503";
// never a channel name.
func IncFeedChannelFailure(reason string) {
	feedChannelFailuresTotal.WithLabelValues(reason).Inc()
}

// EchoMiddleware records request counts and latency per route.
func EchoMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			if status == 0 {
				status = http.StatusOK
			}
			path := c.Path()
			if path == "" {
				path = c.Request().URL.Path
			}

			labels := []string{c.Request().Method, path, strconv.Itoa(status)}
			httpRequestDuration.WithLabelValues(labels...).Observe(time.Since(start).Seconds())
			httpRequestsTotal.WithLabelValues(labels...).Inc()
			return err
		}
	}
}
